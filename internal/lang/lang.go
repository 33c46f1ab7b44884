// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lang

import (
	"errors"
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// ErrUndetectable is returned when no language can be determined with
// usable confidence. Callers must treat it as "keep what you had", never
// propagate it to the user.
var ErrUndetectable = errors.New("language undetectable")

// Detector determines the natural language of a text.
type Detector interface {
	// Detect returns an ISO 639-1 code such as "en" or "de".
	Detect(text string) (string, error)
}

// Trigram is the default detector, built on whatlanggo's trigram
// classifier with codes normalized through x/text language tags.
type Trigram struct {
	// minConfidence rejects classifications below this score even when
	// the classifier itself considers them reliable enough.
	minConfidence float64
}

// NewDetector creates the default trigram detector.
func NewDetector() *Trigram {
	return &Trigram{minConfidence: 0.25}
}

// Detect classifies text and returns its ISO 639-1 code.
func (d *Trigram) Detect(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrUndetectable
	}

	info := whatlanggo.Detect(text)
	code := whatlanggo.LangToString(info.Lang)
	if code == "" || info.Confidence < d.minConfidence {
		return "", ErrUndetectable
	}
	return Normalize(code)
}

// Normalize canonicalizes a language code to its ISO 639-1 base form
// ("eng" -> "en", "EN-us" -> "en"). The classifier reports ISO 639-3;
// collection suffixes use the two-letter form.
func Normalize(code string) (string, error) {
	tag, err := language.Parse(code)
	if err != nil {
		return "", ErrUndetectable
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "", ErrUndetectable
	}
	return base.String(), nil
}
