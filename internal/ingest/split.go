// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingest

import "strings"

// =============================================================================
// CHUNK SPLITTING
// =============================================================================

const (
	// DefaultChunkChars is the target chunk size.
	DefaultChunkChars = 1000

	// DefaultOverlapChars is carried from the tail of one chunk into the
	// head of the next so sentences cut at a boundary stay findable.
	DefaultOverlapChars = 200
)

// PageText is the extracted text of one source page.
type PageText struct {
	Page int
	Text string
}

// Chunk is one index-ready slice of a document.
type Chunk struct {
	Text string
	Page int
}

// Split breaks page texts into overlapping chunks at word boundaries.
// Pages never share a chunk, so page attribution stays exact.
func Split(pages []PageText, chunkChars, overlapChars int) []Chunk {
	if chunkChars <= 0 {
		chunkChars = DefaultChunkChars
	}
	if overlapChars < 0 || overlapChars >= chunkChars {
		overlapChars = DefaultOverlapChars
		if overlapChars >= chunkChars {
			overlapChars = chunkChars / 4
		}
	}

	var chunks []Chunk
	for _, page := range pages {
		words := strings.Fields(page.Text)
		if len(words) == 0 {
			continue
		}

		var cur []string
		curLen := 0
		fresh := 0 // words added since the last flush
		flush := func() {
			chunks = append(chunks, Chunk{Text: strings.Join(cur, " "), Page: page.Page})

			// Seed the next chunk with the overlap tail.
			var tail []string
			tailLen := 0
			for i := len(cur) - 1; i >= 0; i-- {
				w := len(cur[i]) + 1
				if tailLen+w > overlapChars {
					break
				}
				tail = append([]string{cur[i]}, tail...)
				tailLen += w
			}
			cur = tail
			curLen = tailLen
			fresh = 0
		}

		for _, w := range words {
			if curLen+len(w)+1 > chunkChars && fresh > 0 {
				flush()
			}
			cur = append(cur, w)
			curLen += len(w) + 1
			fresh++
		}
		if fresh > 0 {
			chunks = append(chunks, Chunk{Text: strings.Join(cur, " "), Page: page.Page})
		}
	}
	return chunks
}
