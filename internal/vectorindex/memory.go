// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// =============================================================================
// IN-MEMORY INDEX
// =============================================================================

// Memory is an in-process index keyed by collection name. It scores with
// token-set overlap (Ochiai coefficient) instead of embeddings, which is
// close enough for development and deterministic in tests. Safe for
// concurrent use.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
}

// NewMemory returns an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]Document)}
}

// Upsert stores documents, creating the collection on first write.
func (m *Memory) Upsert(ctx context.Context, collection string, docs []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]Document, len(docs))
		m.collections[collection] = coll
	}
	for _, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("upsert into %q: document without id", collection)
		}
		coll[d.ID] = d
	}
	return nil
}

// Query returns the k best-overlapping documents, ascending by distance.
func (m *Memory) Query(ctx context.Context, collection, queryText string, k int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	coll, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("query %q: %w", collection, ErrCollectionNotFound)
	}
	if k <= 0 {
		return nil, nil
	}

	queryTokens := tokenSet(queryText)
	results := make([]Result, 0, len(coll))
	for _, d := range coll {
		results = append(results, Result{
			Text:     d.Text,
			Metadata: d.Metadata,
			Distance: 1 - ochiai(queryTokens, tokenSet(d.Text)),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete removes an entire collection.
func (m *Memory) Delete(ctx context.Context, collection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[collection]; !ok {
		return fmt.Errorf("delete %q: %w", collection, ErrCollectionNotFound)
	}
	delete(m.collections, collection)
	return nil
}

// ListCollections enumerates collection names in sorted order.
func (m *Memory) ListCollections(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// =============================================================================
// SCORING
// =============================================================================

func tokenSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// ochiai is |A∩B| / sqrt(|A|*|B|), in [0,1].
func ochiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	shared := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			shared++
		}
	}
	return float64(shared) / math.Sqrt(float64(len(a))*float64(len(b)))
}
