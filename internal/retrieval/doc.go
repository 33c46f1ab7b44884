// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retrieval turns a user query into a bounded block of document
// context. It resolves document names to index collections (one per
// language), queries the vector index, filters hits by relevance and
// size, and renders the surviving sections with page annotations.
//
// Failures are reported through three typed markers: the document was
// never indexed, nothing relevant was found, or the stored embeddings no
// longer match the current scheme and the document must be re-uploaded.
package retrieval
