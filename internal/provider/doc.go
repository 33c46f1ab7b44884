// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements the OpenAI-compatible upstream client used
// for chat completions and embeddings.
//
// Completions stream over SSE and are delivered as a channel of chunks;
// errors travel in-band through the chunk's Err field so consumers drain
// one channel. Upstream failures are classified into transient (worth a
// retry) and rejected (caller bug or policy refusal) before they leave
// this package.
package provider
