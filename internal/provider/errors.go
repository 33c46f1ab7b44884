// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

var (
	// ErrUpstreamTransient marks failures worth retrying: 429, 5xx, and
	// network-level errors.
	ErrUpstreamTransient = errors.New("upstream transient failure")

	// ErrUpstreamRejected marks failures a retry cannot fix: auth,
	// malformed request, content policy.
	ErrUpstreamRejected = errors.New("upstream rejected request")

	// ErrNotConfigured is returned when the client is missing its base
	// URL or API key.
	ErrNotConfigured = errors.New("provider not configured")
)

// StatusError carries the upstream HTTP status and response excerpt.
type StatusError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("upstream status %d", e.Status)
}

// Is maps the status onto the transient/rejected sentinels so callers can
// use errors.Is without knowing the concrete type.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUpstreamTransient:
		return e.Status == http.StatusTooManyRequests || e.Status >= 500
	case ErrUpstreamRejected:
		return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
	}
	return false
}

func classifyStatus(status int, body []byte) error {
	excerpt := string(body)
	if len(excerpt) > 200 {
		excerpt = excerpt[:200]
	}
	return &StatusError{Status: status, Body: excerpt}
}
