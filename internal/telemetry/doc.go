// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry persists per-turn usage records to a local SQLite
// database: outcome, token counts, cost, and duration per question. The
// log survives restarts, which is what makes daily spend reviews and
// "what happened yesterday" questions answerable.
package telemetry
