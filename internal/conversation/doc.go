// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation owns per-session chat history and language state.
//
// One conversation exists per session key, created lazily on first access
// and held for the life of the process; history is bounded with FIFO
// eviction so memory stays flat no matter how long a session runs.
// Nothing here is persisted.
package conversation
