// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retry implements the bounded exponential backoff policy applied
// to every call that leaves the process: vector index queries, embedding
// requests, and completion requests.
//
// Only errors explicitly marked transient are retried; a bad request or a
// missing collection fails on the first attempt. The policy is a value,
// configured once and shared, so backoff behavior is uniform across
// subsystems instead of re-implemented per call site.
package retry
