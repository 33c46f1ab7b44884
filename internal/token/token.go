// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package token

import "strings"

// Counter counts tokens in a piece of text. Implementations must be
// deterministic: the same input always yields the same count.
type Counter interface {
	Count(text string) int
}

// Estimator approximates provider tokenization without a vendor tokenizer.
// GPT-style: ~4 chars per token on average. A blend of word and character
// estimates tracks real tokenizers closely enough for budgeting.
type Estimator struct{}

// NewEstimator creates the default token estimator.
func NewEstimator() Estimator {
	return Estimator{}
}

// Count returns the estimated token count for text.
func (Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	chars := len(text)

	n := (words + chars/4) / 2
	if n < 1 {
		// Non-empty text is never free.
		n = 1
	}
	return n
}

// CountAll returns the summed token count of several texts.
func CountAll(c Counter, texts ...string) int {
	total := 0
	for _, t := range texts {
		total += c.Count(t)
	}
	return total
}
