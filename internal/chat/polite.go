// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "strings"

// =============================================================================
// POLITE FALLBACKS
// =============================================================================

// User-facing refusal and failure texts. These stream as ordinary tokens
// so every client renders them without special handling.
const (
	msgRateLimited = "You're sending messages a bit too quickly. Please wait a moment and try again."
	msgCostLimited = "The service has reached its usage limit for today. Please try again tomorrow."
	msgDocNotFound = "I couldn't find that document. Please upload it before asking questions about it."
	msgReupload    = "That document was indexed with an older version of the service and needs to be uploaded again."
	msgNoContext   = "I couldn't find anything in the document related to your question. Try rephrasing it."
	msgUnavailable = "The service is temporarily unavailable. Please try again in a moment."
	msgInternal    = "Something went wrong while preparing your answer. Please try again."
)

// =============================================================================
// GENERAL RESPONSES
// =============================================================================

// generalResponse answers small talk without a provider call. Returns
// false when the query is not small talk.
func generalResponse(query string) (string, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	q = strings.Trim(q, "!.?")

	switch q {
	case "hello", "hi", "hey", "good morning", "good afternoon", "good evening":
		return "Hello! Upload a document and ask me anything about it.", true
	case "thanks", "thank you", "thx":
		return "You're welcome! Anything else you'd like to know?", true
	case "bye", "goodbye", "see you":
		return "Goodbye! Come back any time.", true
	case "help", "what can you do":
		return "I answer questions about documents you upload. Name a document and ask away.", true
	}
	return "", false
}
