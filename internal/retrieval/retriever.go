// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jeranaias/docchat/internal/retry"
	"github.com/jeranaias/docchat/internal/token"
	"github.com/jeranaias/docchat/internal/vectorindex"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrDocumentNotFound means no collection exists for the document in
	// any language.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrNoRelevantContent means the index answered but nothing survived
	// the relevance and size filters.
	ErrNoRelevantContent = errors.New("no relevant content")

	// ErrReuploadRequired means the stored embeddings are incompatible
	// with the current embedding scheme. The stale collection has already
	// been dropped when this is returned.
	ErrReuploadRequired = errors.New("document must be re-uploaded")
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config tunes retrieval. The zero value is unusable; start from
// DefaultConfig.
type Config struct {
	// TopK is how many neighbors each collection query asks for.
	TopK int

	// MaxSections bounds the sections in a rendered block.
	MaxSections int

	// MaxDistance drops hits beyond this cosine distance.
	MaxDistance float64

	// MinChunkChars drops degenerate chunks below this length.
	MinChunkChars int
}

// DefaultConfig returns the retrieval tuning used in production.
func DefaultConfig() Config {
	return Config{
		TopK:          6,
		MaxSections:   4,
		MaxDistance:   0.5,
		MinChunkChars: 20,
	}
}

// =============================================================================
// TYPES
// =============================================================================

// Section is one retrieved chunk with its provenance.
type Section struct {
	Text     string  `json:"text"`
	Page     int     `json:"page,omitempty"`
	Distance float64 `json:"distance"`
	Source   string  `json:"source,omitempty"`
}

// annotated renders the section text with its page reference appended.
func (s Section) annotated() string {
	if s.Page > 0 {
		return fmt.Sprintf("%s (Page %d)", s.Text, s.Page)
	}
	return s.Text
}

// Block is the assembled context for one query.
type Block struct {
	Document string    `json:"document"`
	Sections []Section `json:"sections"`
}

// Render joins the annotated sections into the text injected into the
// prompt.
func (b *Block) Render() string {
	parts := make([]string, len(b.Sections))
	for i, s := range b.Sections {
		parts[i] = s.annotated()
	}
	return strings.Join(parts, "\n\n")
}

// =============================================================================
// RETRIEVER
// =============================================================================

// Retriever resolves documents to collections and assembles context
// blocks. Safe for concurrent use.
type Retriever struct {
	index   vectorindex.Client
	counter token.Counter
	cfg     Config
	policy  retry.Policy
}

// New creates a retriever over the given index.
func New(index vectorindex.Client, counter token.Counter, cfg Config) *Retriever {
	return &Retriever{
		index:   index,
		counter: counter,
		cfg:     cfg,
		policy:  retry.DefaultPolicy(),
	}
}

// CollectionsFor resolves a document and optional language code to the
// collections to query. With a language the single matching collection is
// returned; without one, every language collection of the document is.
func (r *Retriever) CollectionsFor(ctx context.Context, document, langCode string) ([]string, error) {
	base := SanitizeIdentifier(document)
	if langCode != "" {
		return []string{base + "_" + langCode}, nil
	}

	var all []string
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		names, lerr := r.index.ListCollections(ctx)
		if lerr != nil {
			return retry.Transient(fmt.Errorf("list collections: %w", lerr))
		}
		all = names
		return nil
	})
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, name := range all {
		if collectionBelongsTo(name, base) {
			matches = append(matches, name)
		}
	}
	return matches, nil
}

// collectionBelongsTo reports whether a collection name is one of the
// document's language partitions: the document identifier followed by a
// single language segment. A bare prefix test would also claim another
// document whose sanitized name merely extends this one ("report" must
// not match "report_v2_en").
func collectionBelongsTo(name, base string) bool {
	rest, ok := strings.CutPrefix(name, base+"_")
	return ok && rest != "" && !strings.Contains(rest, "_")
}

// Retrieve assembles the context block for a query against one document.
// tokenBudget, when positive, stops adding sections before their combined
// token count would exceed it; the returned block never goes over budget.
func (r *Retriever) Retrieve(ctx context.Context, document, query, langCode string, tokenBudget int) (*Block, error) {
	collections, err := r.CollectionsFor(ctx, document, langCode)
	if err != nil {
		return nil, err
	}
	if len(collections) == 0 {
		return nil, fmt.Errorf("document %q: %w", document, ErrDocumentNotFound)
	}

	var hits []Section
	found := false
	for _, coll := range collections {
		results, err := r.queryCollection(ctx, coll, query)
		switch {
		case errors.Is(err, vectorindex.ErrCollectionNotFound):
			continue
		case errors.Is(err, vectorindex.ErrDimensionMismatch):
			// The stored vectors are unusable; drop them so the next
			// upload starts clean.
			if delErr := r.index.Delete(ctx, coll); delErr != nil && !errors.Is(delErr, vectorindex.ErrCollectionNotFound) {
				return nil, retry.Transient(fmt.Errorf("drop stale collection %q: %w", coll, delErr))
			}
			return nil, fmt.Errorf("collection %q: %w", coll, ErrReuploadRequired)
		case err != nil:
			return nil, err
		}
		found = true
		for _, res := range results {
			hits = append(hits, Section{
				Text:     res.Text,
				Page:     res.Metadata.Page,
				Distance: res.Distance,
				Source:   res.Metadata.Source,
			})
		}
	}
	if !found {
		return nil, fmt.Errorf("document %q: %w", document, ErrDocumentNotFound)
	}

	sections := r.filter(hits, tokenBudget)
	if len(sections) == 0 {
		return nil, fmt.Errorf("document %q: %w", document, ErrNoRelevantContent)
	}
	return &Block{Document: SanitizeIdentifier(document), Sections: sections}, nil
}

func (r *Retriever) queryCollection(ctx context.Context, collection, query string) ([]vectorindex.Result, error) {
	var results []vectorindex.Result
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		res, qerr := r.index.Query(ctx, collection, query, r.cfg.TopK)
		if qerr != nil {
			if errors.Is(qerr, vectorindex.ErrCollectionNotFound) || errors.Is(qerr, vectorindex.ErrDimensionMismatch) {
				return qerr
			}
			return retry.Transient(fmt.Errorf("query %q: %w", collection, qerr))
		}
		results = res
		return nil
	})
	return results, err
}

// filter applies relevance, size, count, and token budget bounds, keeping
// the closest hits first.
func (r *Retriever) filter(hits []Section, tokenBudget int) []Section {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})

	var out []Section
	spent := 0
	for _, h := range hits {
		if h.Distance > r.cfg.MaxDistance {
			break
		}
		if len(h.Text) < r.cfg.MinChunkChars {
			continue
		}
		if tokenBudget > 0 && r.counter != nil {
			cost := r.counter.Count(h.annotated())
			if spent+cost > tokenBudget {
				break
			}
			spent += cost
		}
		out = append(out, h)
		if len(out) >= r.cfg.MaxSections {
			break
		}
	}
	return out
}
