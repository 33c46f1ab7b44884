// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jeranaias/docchat/internal/lang"
	"github.com/jeranaias/docchat/internal/retrieval"
	"github.com/jeranaias/docchat/internal/retry"
	"github.com/jeranaias/docchat/internal/vectorindex"
)

// =============================================================================
// INDEXER
// =============================================================================

// Indexer writes chunked documents into the vector index.
type Indexer struct {
	index    vectorindex.Client
	detector lang.Detector
	policy   retry.Policy
	logger   *log.Logger
}

// NewIndexer creates an indexer. logger may be nil.
func NewIndexer(index vectorindex.Client, detector lang.Detector, logger *log.Logger) *Indexer {
	if logger == nil {
		logger = log.New(log.Writer(), "[ingest] ", log.LstdFlags)
	}
	return &Indexer{
		index:    index,
		detector: detector,
		policy:   retry.DefaultPolicy(),
		logger:   logger,
	}
}

// Summary reports what an IndexDocument call wrote.
type Summary struct {
	Document    string   `json:"document"`
	Chunks      int      `json:"chunks"`
	Collections []string `json:"collections"`
}

// IndexDocument stores chunks under one collection per detected language.
// Chunks whose language cannot be detected fall back to defaultLang, or
// "en" when that is empty too.
func (x *Indexer) IndexDocument(ctx context.Context, name, defaultLang string, chunks []Chunk) (*Summary, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("index %q: no chunks", name)
	}

	fallback := defaultLang
	if fallback == "" {
		fallback = "en"
	}

	base := retrieval.SanitizeIdentifier(name)
	byLang := make(map[string][]vectorindex.Document)
	for _, chunk := range chunks {
		code := fallback
		if x.detector != nil {
			if detected, err := x.detector.Detect(chunk.Text); err == nil {
				code = detected
			}
		}
		byLang[code] = append(byLang[code], vectorindex.Document{
			ID:   uuid.New().String(),
			Text: chunk.Text,
			Metadata: vectorindex.Metadata{
				Page:     chunk.Page,
				Language: code,
				Source:   name,
			},
		})
	}

	summary := &Summary{Document: base, Chunks: len(chunks)}
	for code, docs := range byLang {
		collection := base + "_" + code
		err := x.policy.Do(ctx, func(ctx context.Context) error {
			if err := x.index.Upsert(ctx, collection, docs); err != nil {
				if errors.Is(err, vectorindex.ErrDimensionMismatch) {
					return err
				}
				return retry.Transient(err)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("upsert %q: %w", collection, err)
		}
		summary.Collections = append(summary.Collections, collection)
		x.logger.Printf("indexed %d chunks into %s", len(docs), collection)
	}
	sort.Strings(summary.Collections)
	return summary, nil
}

// DeleteDocument removes every language collection of a document. Only
// collections whose name is the document identifier plus one language
// segment are touched; another document whose sanitized name extends
// this one keeps its collections.
func (x *Indexer) DeleteDocument(ctx context.Context, name string) error {
	base := retrieval.SanitizeIdentifier(name)
	prefix := base + "_"

	all, err := x.index.ListCollections(ctx)
	if err != nil {
		return retry.Transient(fmt.Errorf("list collections: %w", err))
	}

	deleted := 0
	for _, coll := range all {
		rest, ok := strings.CutPrefix(coll, prefix)
		if !ok || rest == "" || strings.Contains(rest, "_") {
			continue
		}
		if err := x.index.Delete(ctx, coll); err != nil && !errors.Is(err, vectorindex.ErrCollectionNotFound) {
			return fmt.Errorf("delete %q: %w", coll, err)
		}
		deleted++
	}
	if deleted == 0 {
		return fmt.Errorf("document %q: %w", name, retrieval.ErrDocumentNotFound)
	}
	x.logger.Printf("deleted document %s (%d collections)", base, deleted)
	return nil
}

// DocumentInfo describes one indexed document.
type DocumentInfo struct {
	Name      string   `json:"name"`
	Languages []string `json:"languages"`
}

// ListDocuments enumerates indexed documents with their languages.
func (x *Indexer) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	all, err := x.index.ListCollections(ctx)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("list collections: %w", err))
	}

	langsByDoc := make(map[string][]string)
	for _, coll := range all {
		// Collection names are "<document>_<lang>"; the language is the
		// segment after the last underscore.
		i := strings.LastIndexByte(coll, '_')
		if i <= 0 || i == len(coll)-1 {
			continue
		}
		langsByDoc[coll[:i]] = append(langsByDoc[coll[:i]], coll[i+1:])
	}

	docs := make([]DocumentInfo, 0, len(langsByDoc))
	for name, langs := range langsByDoc {
		sort.Strings(langs)
		docs = append(docs, DocumentInfo{Name: name, Languages: langs})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}
