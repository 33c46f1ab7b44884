// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retry

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// TRANSIENT CLASSIFICATION
// =============================================================================

// transientError marks an error as retryable.
type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// Transient wraps err so the policy will retry it. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked retryable anywhere in its chain.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// =============================================================================
// POLICY
// =============================================================================

// Policy describes a bounded exponential backoff schedule.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// Base is the delay before the first retry.
	Base time.Duration

	// Multiplier scales the delay after each attempt.
	Multiplier float64

	// Cap bounds the delay between attempts (0 = uncapped).
	Cap time.Duration
}

// DefaultPolicy returns the schedule used for all external calls:
// 3 attempts, 1s base delay, doubling, capped at 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Base:        time.Second,
		Multiplier:  2,
		Cap:         10 * time.Second,
	}
}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// attempt budget is exhausted. Backoff sleeps honor context cancellation.
// The last error is returned as-is, still carrying its transient mark, so
// callers can distinguish "gave up retrying" from a permanent rejection.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.Base
	var err error
	for attempt := 1; ; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}

		err = fn(ctx)
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt >= attempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if p.Multiplier > 1 {
			delay = time.Duration(float64(delay) * p.Multiplier)
		}
		if p.Cap > 0 && delay > p.Cap {
			delay = p.Cap
		}
	}
}
