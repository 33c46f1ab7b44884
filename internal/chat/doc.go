// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat runs the full question-answering turn: admission through
// the usage governor, context retrieval, prompt assembly, the streamed
// provider call, and settlement of conversation state and cost.
//
// Results are delivered as an event stream. Token events carry answer
// text; exactly one done event ends every stream, carrying the typed
// error when the turn was refused or failed. Refusals still stream a
// polite message before the done event, so a client that only renders
// tokens shows something sensible.
//
// Turns on the same session are serialized; turns on different sessions
// run concurrently.
package chat
