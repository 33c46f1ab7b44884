// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// =============================================================================
// POSTGRES / PGVECTOR INDEX
// =============================================================================

// Postgres is a pgvector-backed index. Each logical collection is a row in
// the collections table pinning its embedding dimension; chunks live in a
// single table partitioned by collection name. Queries embed the incoming
// text and rank by cosine distance, so results come back ascending-better
// on the same scale the rest of the system expects.
type Postgres struct {
	db       *sql.DB
	embedder Embedder
}

// OpenPostgres connects with the pgx stdlib driver and ensures the schema
// exists. The pgvector extension must already be installed in the target
// database.
func OpenPostgres(ctx context.Context, dsn string, embedder Embedder) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := &Postgres{db: db, embedder: embedder}
	if err := p.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS collections (
			name      TEXT PRIMARY KEY,
			dimension INT  NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			collection TEXT   NOT NULL REFERENCES collections(name) ON DELETE CASCADE,
			id         TEXT   NOT NULL,
			content    TEXT   NOT NULL,
			metadata   JSONB  NOT NULL DEFAULT '{}',
			embedding  VECTOR NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS chunks_collection_idx ON chunks (collection)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Upsert embeds and stores documents, registering the collection and its
// dimension on first write. A later write whose embeddings disagree with
// the registered dimension fails with ErrDimensionMismatch.
func (p *Postgres) Upsert(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	embeddings := make([][]float64, len(docs))
	for i, d := range docs {
		vec, err := p.embedder.Embed(ctx, d.Text)
		if err != nil {
			return fmt.Errorf("embed chunk %s: %w", d.ID, err)
		}
		embeddings[i] = vec
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	dim, err := p.ensureCollection(ctx, tx, collection, len(embeddings[0]))
	if err != nil {
		return err
	}

	for i, d := range docs {
		if len(embeddings[i]) != dim {
			return fmt.Errorf("upsert into %q: got dimension %d, collection has %d: %w",
				collection, len(embeddings[i]), dim, ErrDimensionMismatch)
		}
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", d.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks (collection, id, content, metadata, embedding)
			VALUES ($1, $2, $3, $4, $5::vector)
			ON CONFLICT (collection, id) DO UPDATE
			SET content = EXCLUDED.content,
			    metadata = EXCLUDED.metadata,
			    embedding = EXCLUDED.embedding`,
			collection, d.ID, d.Text, meta, vectorLiteral(embeddings[i]))
		if err != nil {
			return fmt.Errorf("upsert chunk %s: %w", d.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func (p *Postgres) ensureCollection(ctx context.Context, tx *sql.Tx, collection string, dim int) (int, error) {
	var existing int
	err := tx.QueryRowContext(ctx,
		`SELECT dimension FROM collections WHERE name = $1`, collection).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO collections (name, dimension) VALUES ($1, $2)`, collection, dim)
		if err != nil {
			return 0, fmt.Errorf("register collection %q: %w", collection, err)
		}
		return dim, nil
	case err != nil:
		return 0, fmt.Errorf("look up collection %q: %w", collection, err)
	}
	return existing, nil
}

// Query embeds queryText and returns the k nearest chunks by cosine
// distance, ascending.
func (p *Postgres) Query(ctx context.Context, collection, queryText string, k int) ([]Result, error) {
	var dim int
	err := p.db.QueryRowContext(ctx,
		`SELECT dimension FROM collections WHERE name = $1`, collection).Scan(&dim)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("query %q: %w", collection, ErrCollectionNotFound)
	case err != nil:
		return nil, fmt.Errorf("look up collection %q: %w", collection, err)
	}

	vec, err := p.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vec) != dim {
		return nil, fmt.Errorf("query %q: got dimension %d, collection has %d: %w",
			collection, len(vec), dim, ErrDimensionMismatch)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT content, metadata, embedding <=> $2::vector AS distance
		FROM chunks
		WHERE collection = $1
		ORDER BY distance ASC
		LIMIT $3`,
		collection, vectorLiteral(vec), k)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", collection, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var meta []byte
		if err := rows.Scan(&r.Text, &meta, &r.Distance); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}

// Delete drops a collection and, via cascade, its chunks.
func (p *Postgres) Delete(ctx context.Context, collection string) error {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM collections WHERE name = $1`, collection)
	if err != nil {
		return fmt.Errorf("delete %q: %w", collection, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete %q: %w", collection, ErrCollectionNotFound)
	}
	return nil
}

// ListCollections enumerates registered collection names.
func (p *Postgres) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan collection name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// vectorLiteral renders a pgvector input literal, e.g. "[0.1,0.2]".
func vectorLiteral(vec []float64) string {
	var b strings.Builder
	b.Grow(len(vec)*10 + 2)
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}
