// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lang

import (
	"errors"
	"testing"
)

func TestDetect_English(t *testing.T) {
	d := NewDetector()
	code, err := d.Detect("The quick brown fox jumps over the lazy dog and keeps on running through the field.")
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if code != "en" {
		t.Errorf("Detect = %q, want \"en\"", code)
	}
}

func TestDetect_German(t *testing.T) {
	d := NewDetector()
	code, err := d.Detect("Der schnelle braune Fuchs springt über den faulen Hund und läuft weiter durch das Feld.")
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if code != "de" {
		t.Errorf("Detect = %q, want \"de\"", code)
	}
}

func TestDetect_EmptyInput(t *testing.T) {
	d := NewDetector()
	for _, s := range []string{"", "   ", "\n\t"} {
		if _, err := d.Detect(s); !errors.Is(err, ErrUndetectable) {
			t.Errorf("Detect(%q) error = %v, want ErrUndetectable", s, err)
		}
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"eng":   "en",
		"en":    "en",
		"deu":   "de",
		"EN-us": "en",
	}
	for in, want := range cases {
		got, err := Normalize(in)
		if err != nil {
			t.Errorf("Normalize(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalize_Garbage(t *testing.T) {
	if _, err := Normalize("!!not-a-language!!"); !errors.Is(err, ErrUndetectable) {
		t.Errorf("Normalize garbage error = %v, want ErrUndetectable", err)
	}
}
