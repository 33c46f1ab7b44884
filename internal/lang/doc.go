// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package lang provides best-effort natural language detection.
//
// Detection is advisory: callers fall back to the current session language
// when a text is too short or too ambiguous to classify. Codes are
// normalized to ISO 639-1 so they can be embedded in collection names.
package lang
