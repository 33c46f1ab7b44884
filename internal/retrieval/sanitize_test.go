// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retrieval

import (
	"math/rand"
	"strings"
	"testing"
)

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple pdf", "report.pdf", "report"},
		{"uppercase", "Quarterly Report.PDF", "quarterly_report"},
		{"path stripped", "/tmp/uploads/report.pdf", "report"},
		{"spaces and symbols", "my file (final) v2!.pdf", "my_file_final_v2"},
		{"unicode replaced", "Bericht über Umsätze.pdf", "bericht_ber_ums_tze"},
		{"short name padded", "a.pdf", "doca"},
		{"dotfile keeps name", ".env", "env"},
		{"empty padded", "", "doc"},
		{"hyphens kept", "2024-q3-report.pdf", "2024-q3-report"},
		{"repeated junk collapsed", "a!!!b???c.pdf", "a_b_c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeIdentifier(tt.in); got != tt.want {
				t.Errorf("SanitizeIdentifier(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeIdentifier_LongNameTruncated(t *testing.T) {
	got := SanitizeIdentifier(strings.Repeat("a", 120) + ".pdf")
	if len(got) != 63 {
		t.Errorf("len = %d, want 63", len(got))
	}
}

func TestSanitizeIdentifier_Idempotent(t *testing.T) {
	inputs := []string{
		"report.pdf",
		"Quarterly Report.PDF",
		"/tmp/uploads/report.pdf",
		"my file (final) v2!.pdf",
		"Bericht über Umsätze.pdf",
		"日本語ドキュメント.pdf",
		"a.pdf",
		".env",
		"",
		".",
		"..",
		"---",
		"___",
		"2024-q3-report.pdf",
		strings.Repeat("x", 200),
		strings.Repeat("_", 80) + "abc",
		"ab" + strings.Repeat("_-", 50) + "z",
		"MIXED case With.Dots.In.Name.txt",
	}
	for _, in := range inputs {
		checkSanitized(t, in)
	}
}

func TestSanitizeIdentifier_RandomizedInputs(t *testing.T) {
	// Fixed seed keeps failures reproducible.
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("abcXYZ089-_ .!/()?äöü日本語€\t")

	for i := 0; i < 200; i++ {
		n := rng.Intn(140)
		runes := make([]rune, n)
		for j := range runes {
			runes[j] = alphabet[rng.Intn(len(alphabet))]
		}
		checkSanitized(t, string(runes))
	}
}

func checkSanitized(t *testing.T, in string) {
	t.Helper()
	once := SanitizeIdentifier(in)
	twice := SanitizeIdentifier(once)
	if once != twice {
		t.Errorf("not idempotent for %q: %q -> %q", in, once, twice)
	}
	if len(once) < minIdentifierLen || len(once) > maxIdentifierLen {
		t.Errorf("length out of bounds for %q: %q (%d)", in, once, len(once))
	}
	for _, r := range once {
		valid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
		if !valid {
			t.Errorf("invalid rune %q in %q", r, once)
		}
	}
}
