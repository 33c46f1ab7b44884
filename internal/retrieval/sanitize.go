// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retrieval

import (
	"path/filepath"
	"strings"
)

// =============================================================================
// IDENTIFIER SANITIZATION
// =============================================================================

const (
	maxIdentifierLen = 63
	minIdentifierLen = 3
	padPrefix        = "doc"
)

// SanitizeIdentifier maps an arbitrary document name onto a collection-safe
// identifier: lowercase ASCII letters, digits, hyphens and underscores,
// between 3 and 63 runes, starting and ending alphanumeric. The function
// is idempotent, so a stored identifier can be passed back through it
// without drifting.
func SanitizeIdentifier(name string) string {
	// Directory components and the file extension never participate.
	base := filepath.Base(name)
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}

	var b strings.Builder
	b.Grow(len(base))
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	s := collapseUnderscores(b.String())
	s = strings.Trim(s, "-_")

	// Truncate before padding: the post-truncation trim can land under the
	// minimum again, and the result must satisfy both bounds.
	if len(s) > maxIdentifierLen {
		s = strings.Trim(s[:maxIdentifierLen], "-_")
	}
	if len(s) < minIdentifierLen {
		s = padPrefix + s
	}
	return strings.ToLower(s)
}

func collapseUnderscores(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prev := false
	for _, r := range s {
		if r == '_' {
			if prev {
				continue
			}
			prev = true
		} else {
			prev = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
