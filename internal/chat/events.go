// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "errors"

// =============================================================================
// EVENTS
// =============================================================================

// EventKind discriminates stream events.
type EventKind string

const (
	// EventToken carries a slice of answer text.
	EventToken EventKind = "token"

	// EventDone ends the stream. Sent exactly once per turn.
	EventDone EventKind = "done"
)

// Event is one unit of a chat turn's output stream.
type Event struct {
	Kind  EventKind `json:"kind"`
	Token string    `json:"token,omitempty"`

	// Err is set on the done event when the turn was refused or failed.
	// Nil means the answer completed normally.
	Err error `json:"-"`
}

// ErrInternal masks unexpected failures (panics included) on the done
// event.
var ErrInternal = errors.New("internal error")
