// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package govern enforces the rate and cost budgets shared by all chat
// sessions.
//
// The governor is a pure state machine: it performs no I/O and owns two
// windows, a 60-second request window and a 24-hour cost window. Cost is
// reserved up front from the pre-stream estimate so that a burst of
// concurrent requests cannot overshoot the daily cap, then reconciled
// against measured usage when the stream finishes.
package govern
