// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package vectorindex

import (
	"context"
	"errors"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrCollectionNotFound is returned when a query or delete names a
	// collection that was never written. Not retryable.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch is returned when a collection was indexed
	// with an embedding scheme incompatible with the current one. The
	// caller is expected to drop the collection and request a re-upload.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// =============================================================================
// TYPES
// =============================================================================

// Metadata carries the chunk attributes preserved through indexing.
type Metadata struct {
	// Page is the 1-based source page, 0 when unknown.
	Page int `json:"page,omitempty"`

	// Language is the ISO 639-1 code of the chunk text.
	Language string `json:"language,omitempty"`

	// Source is the raw document name the chunk came from.
	Source string `json:"source,omitempty"`
}

// Document is one chunk to be indexed.
type Document struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// Result is a single nearest-neighbor hit.
type Result struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`

	// Distance is ascending-better on the index's native scale.
	Distance float64 `json:"distance"`
}

// Client is the index contract. Implementations must return results in
// ascending distance order and must surface the typed errors above rather
// than implementation-specific ones.
type Client interface {
	// Upsert stores documents in a collection, creating it on first write.
	Upsert(ctx context.Context, collection string, docs []Document) error

	// Query returns the k nearest neighbors of queryText.
	Query(ctx context.Context, collection, queryText string, k int) ([]Result, error)

	// Delete removes an entire collection.
	Delete(ctx context.Context, collection string) error

	// ListCollections enumerates every known collection identifier.
	ListCollections(ctx context.Context) ([]string, error)
}

// Embedder turns text into the vector space a collection is indexed in.
// Defined on the consumer side; the provider package's embedding client
// satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}
