// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jeranaias/docchat/internal/chat"
)

// =============================================================================
// USAGE LOG
// =============================================================================

// maxQueryLen bounds how much of a user query is stored.
const maxQueryLen = 100

// Record is one persisted turn.
type Record struct {
	ID               string        `json:"id"`
	SessionKey       string        `json:"session_key"`
	Query            string        `json:"query"`
	Outcome          string        `json:"outcome"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	EmbeddingTokens  int           `json:"embedding_tokens"`
	CostUSD          float64       `json:"cost_usd"`
	Duration         time.Duration `json:"duration"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Totals aggregates the log over a period.
type Totals struct {
	Turns            int     `json:"turns"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	EmbeddingTokens  int64   `json:"embedding_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// UsageLog is a SQLite-backed usage store. Safe for concurrent use.
type UsageLog struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the usage database at path. ":memory:" works for
// tests.
func Open(path string) (*UsageLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	// SQLite serializes writers; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	l := &UsageLog{db: db, now: time.Now}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *UsageLog) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS usage (
			id                TEXT PRIMARY KEY,
			session_key       TEXT NOT NULL,
			query             TEXT NOT NULL,
			outcome           TEXT NOT NULL,
			prompt_tokens     INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			embedding_tokens  INTEGER NOT NULL,
			cost_usd          REAL NOT NULL,
			duration_ms       INTEGER NOT NULL,
			created_at        TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS usage_created_idx ON usage (created_at);
		CREATE INDEX IF NOT EXISTS usage_session_idx ON usage (session_key);`)
	if err != nil {
		return fmt.Errorf("migrate usage db: %w", err)
	}
	return nil
}

// Close releases the database.
func (l *UsageLog) Close() error {
	return l.db.Close()
}

// RecordUsage satisfies the chat orchestrator's recorder interface.
func (l *UsageLog) RecordUsage(ctx context.Context, ev chat.UsageEvent) error {
	query := ev.Query
	if len(query) > maxQueryLen {
		query = query[:maxQueryLen]
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO usage (id, session_key, query, outcome, prompt_tokens,
			completion_tokens, embedding_tokens, cost_usd, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), ev.SessionKey, query, string(ev.Outcome),
		ev.PromptTokens, ev.CompletionTokens, ev.EmbeddingTokens, ev.CostUSD,
		ev.Duration.Milliseconds(), l.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Recent returns the newest records, newest first.
func (l *UsageLog) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, session_key, query, outcome, prompt_tokens,
			completion_tokens, embedding_tokens, cost_usd, duration_ms, created_at
		FROM usage ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var durationMS int64
		var created string
		if err := rows.Scan(&r.ID, &r.SessionKey, &r.Query, &r.Outcome,
			&r.PromptTokens, &r.CompletionTokens, &r.EmbeddingTokens,
			&r.CostUSD, &durationMS, &created); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = t
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// TotalsSince aggregates records created at or after since.
func (l *UsageLog) TotalsSince(ctx context.Context, since time.Time) (Totals, error) {
	var t Totals
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0),
			COALESCE(SUM(embedding_tokens), 0),
			COALESCE(SUM(cost_usd), 0)
		FROM usage WHERE created_at >= ?`,
		since.UTC().Format(time.RFC3339Nano)).
		Scan(&t.Turns, &t.PromptTokens, &t.CompletionTokens, &t.EmbeddingTokens, &t.CostUSD)
	if err != nil {
		return Totals{}, fmt.Errorf("aggregate usage: %w", err)
	}
	return t, nil
}
