// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package govern

import (
	"errors"
	"sync"
	"time"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrRateLimited is returned when the per-minute request budget is
	// exhausted. A normal, reportable outcome, not a failure.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrCostLimited is returned when reserving a request would exceed
	// the daily cost cap.
	ErrCostLimited = errors.New("daily cost cap exceeded")
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Pricing holds per-1K-token prices in USD.
type Pricing struct {
	PromptPer1K     float64
	CompletionPer1K float64
	EmbeddingPer1K  float64
}

// Limits bounds how much work the service will accept.
type Limits struct {
	// RequestsPerMinute caps inbound requests per 60s window (0 = unlimited).
	RequestsPerMinute int

	// DailyCapUSD caps spend per 24h window (0 = unlimited).
	DailyCapUSD float64
}

const (
	rateWindow  = time.Minute
	dailyWindow = 24 * time.Hour
)

// =============================================================================
// GOVERNOR
// =============================================================================

// Governor tracks token and cost counters behind a single mutex. One
// instance is shared by every session; it is owned by the composition root
// and injected, never reached through package state.
type Governor struct {
	mu      sync.Mutex
	pricing Pricing
	limits  Limits
	now     func() time.Time

	rateCount       int
	rateWindowStart time.Time

	dailyCostUSD     float64
	dailyWindowStart time.Time

	promptTokens     int64
	completionTokens int64
	embeddingTokens  int64
}

// New creates a governor with both windows anchored at the current time.
func New(pricing Pricing, limits Limits) *Governor {
	now := time.Now()
	return &Governor{
		pricing:          pricing,
		limits:           limits,
		now:              time.Now,
		rateWindowStart:  now,
		dailyWindowStart: now,
	}
}

// CheckRate consumes one request slot. It must be called exactly once per
// inbound request, before any paid work. Requests over the limit are
// rejected, never queued.
func (g *Governor) CheckRate() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.rateWindowStart) >= rateWindow {
		g.rateCount = 0
		g.rateWindowStart = now
	}
	if g.limits.RequestsPerMinute > 0 && g.rateCount >= g.limits.RequestsPerMinute {
		return ErrRateLimited
	}
	g.rateCount++
	return nil
}

// EstimateCost prices a request from its token counts.
func (g *Governor) EstimateCost(promptTokens, completionTokens, embeddingTokens int) float64 {
	return g.price(promptTokens, completionTokens, embeddingTokens)
}

func (g *Governor) price(promptTokens, completionTokens, embeddingTokens int) float64 {
	return float64(promptTokens)/1000*g.pricing.PromptPer1K +
		float64(completionTokens)/1000*g.pricing.CompletionPer1K +
		float64(embeddingTokens)/1000*g.pricing.EmbeddingPer1K
}

// CheckAndReserve adds estimate to the daily spend before the provider is
// called. On rejection nothing is mutated. The returned reservation must
// be settled with Commit or Abandon exactly once.
func (g *Governor) CheckAndReserve(estimate float64) (*Reservation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.dailyWindowStart) >= dailyWindow {
		g.dailyCostUSD = 0
		g.dailyWindowStart = now
	}
	if g.limits.DailyCapUSD > 0 && g.dailyCostUSD+estimate > g.limits.DailyCapUSD {
		return nil, ErrCostLimited
	}
	g.dailyCostUSD += estimate
	return &Reservation{g: g, estimate: estimate}, nil
}

func (g *Governor) settle(estimate float64, promptTokens, completionTokens, embeddingTokens int, reconcile bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.promptTokens += int64(promptTokens)
	g.completionTokens += int64(completionTokens)
	g.embeddingTokens += int64(embeddingTokens)

	if reconcile {
		actual := g.price(promptTokens, completionTokens, embeddingTokens)
		g.dailyCostUSD += actual - estimate
		if g.dailyCostUSD < 0 {
			g.dailyCostUSD = 0
		}
	}
}

// =============================================================================
// RESERVATION
// =============================================================================

// Reservation is an estimate already counted against the daily cap,
// awaiting settlement with measured token counts.
type Reservation struct {
	g        *Governor
	estimate float64
	once     sync.Once
}

// Commit replaces the reserved estimate with the cost of the measured
// usage and advances the cumulative token counters.
func (r *Reservation) Commit(promptTokens, completionTokens, embeddingTokens int) {
	r.once.Do(func() {
		r.g.settle(r.estimate, promptTokens, completionTokens, embeddingTokens, true)
	})
}

// Abandon settles a stream that never completed (caller disconnected).
// Cumulative counters advance by what was measured, but the reserved cost
// stays reserved: an interrupted call still consumed provider budget.
func (r *Reservation) Abandon(promptTokens, completionTokens, embeddingTokens int) {
	r.once.Do(func() {
		r.g.settle(r.estimate, promptTokens, completionTokens, embeddingTokens, false)
	})
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Usage is a point-in-time copy of the governor's counters.
type Usage struct {
	DailyCostUSD     float64 `json:"daily_cost_usd"`
	RequestsInWindow int     `json:"requests_in_window"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	EmbeddingTokens  int64   `json:"embedding_tokens"`
}

// Snapshot returns current usage without consuming anything.
func (g *Governor) Snapshot() Usage {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Usage{
		DailyCostUSD:     g.dailyCostUSD,
		RequestsInWindow: g.rateCount,
		PromptTokens:     g.promptTokens,
		CompletionTokens: g.completionTokens,
		EmbeddingTokens:  g.embeddingTokens,
	}
}
