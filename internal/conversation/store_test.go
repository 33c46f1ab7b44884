// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"fmt"
	"sync"
	"testing"

	"github.com/jeranaias/docchat/internal/lang"
)

// stubDetector returns a fixed code, or an error when code is empty.
type stubDetector struct {
	code string
}

func (d stubDetector) Detect(text string) (string, error) {
	if d.code == "" {
		return "", lang.ErrUndetectable
	}
	return d.code, nil
}

// seqDetector returns codes in sequence, one per call.
type seqDetector struct {
	mu    sync.Mutex
	codes []string
	i     int
}

func (d *seqDetector) Detect(text string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.i >= len(d.codes) {
		return "", lang.ErrUndetectable
	}
	code := d.codes[d.i]
	d.i++
	if code == "" {
		return "", lang.ErrUndetectable
	}
	return code, nil
}

// =============================================================================
// CAPACITY TESTS
// =============================================================================

func TestStore_FIFOEviction(t *testing.T) {
	s := NewStore(stubDetector{code: "en"})

	for i := 0; i < 25; i++ {
		s.AppendUser("doc", fmt.Sprintf("message %d", i), "")
		if got := s.Len("doc"); got > DefaultCapacity {
			t.Fatalf("after append %d: len = %d, want <= %d", i, got, DefaultCapacity)
		}
	}

	msgs := s.GetOrCreate("doc").Messages()
	if len(msgs) != DefaultCapacity {
		t.Fatalf("len = %d, want %d", len(msgs), DefaultCapacity)
	}
	// Oldest surviving message is number 15 (0..14 evicted first-in-first-out).
	if msgs[0].Content != "message 15" {
		t.Errorf("oldest = %q, want \"message 15\"", msgs[0].Content)
	}
	if msgs[len(msgs)-1].Content != "message 24" {
		t.Errorf("newest = %q, want \"message 24\"", msgs[len(msgs)-1].Content)
	}
}

func TestStore_MixedAppendsBounded(t *testing.T) {
	s := NewStoreWithCapacity(stubDetector{code: "en"}, 4)

	for i := 0; i < 10; i++ {
		s.AppendUser("doc", "question", "")
		if got := s.Len("doc"); got > 4 {
			t.Fatalf("len = %d, want <= 4", got)
		}
		s.AppendAssistant("doc", "answer")
		if got := s.Len("doc"); got > 4 {
			t.Fatalf("len = %d, want <= 4", got)
		}
	}
}

// =============================================================================
// LANGUAGE LOCK TESTS
// =============================================================================

func TestStore_LanguageLocksOnFirstUserMessage(t *testing.T) {
	s := NewStore(&seqDetector{codes: []string{"en", "de"}})

	s.AppendUser("doc", "hello there", "")
	code, locked := s.Language("doc")
	if !locked {
		t.Fatal("language should lock after first user message")
	}
	if code != "en" {
		t.Fatalf("language = %q, want \"en\"", code)
	}

	// A second message in another language must not move the lock.
	s.AppendUser("doc", "hallo du", "")
	code, locked = s.Language("doc")
	if !locked || code != "en" {
		t.Errorf("language = %q locked=%v, want locked \"en\"", code, locked)
	}
}

func TestStore_ExplicitOverrideMovesLockedLanguage(t *testing.T) {
	s := NewStore(&seqDetector{codes: []string{"en", "de"}})

	s.AppendUser("doc", "hello there", "")
	s.AppendUser("doc", "hallo du", "de")

	code, locked := s.Language("doc")
	if !locked || code != "de" {
		t.Errorf("language = %q locked=%v, want locked \"de\" after override", code, locked)
	}
}

func TestStore_DetectionFailureRetainsLanguage(t *testing.T) {
	s := NewStore(&seqDetector{codes: []string{"fr", ""}})

	s.AppendUser("doc", "bonjour tout le monde", "")
	s.AppendUser("doc", "???", "")

	code, locked := s.Language("doc")
	if !locked || code != "fr" {
		t.Errorf("language = %q locked=%v, want locked \"fr\" retained", code, locked)
	}
}

func TestStore_DetectionFailureOnFirstMessageLeavesUnlocked(t *testing.T) {
	s := NewStore(stubDetector{})

	s.AppendUser("doc", "???", "")
	if _, locked := s.Language("doc"); locked {
		t.Error("lock should wait for a successful detection or an override")
	}
}

func TestStore_AssistantAppendsDoNotTouchLanguage(t *testing.T) {
	s := NewStore(stubDetector{code: "en"})

	s.AppendUser("doc", "hello", "")
	s.AppendAssistant("doc", "Guten Tag")

	code, locked := s.Language("doc")
	if !locked || code != "en" {
		t.Errorf("language = %q locked=%v, want locked \"en\"", code, locked)
	}
}

// =============================================================================
// HISTORY TESTS
// =============================================================================

func TestStore_RecentHistoryOldestFirst(t *testing.T) {
	s := NewStore(stubDetector{code: "en"})

	for i := 0; i < 8; i++ {
		s.AppendUser("doc", fmt.Sprintf("q%d", i), "")
		s.AppendAssistant("doc", fmt.Sprintf("a%d", i))
	}

	history := s.RecentHistory("doc", 5)
	if len(history) != 5 {
		t.Fatalf("history len = %d, want 5", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].CreatedAt.Before(history[i-1].CreatedAt) {
			t.Error("history should be ordered oldest first")
		}
	}
	if history[len(history)-1].Content != "a7" {
		t.Errorf("last history entry = %q, want \"a7\"", history[len(history)-1].Content)
	}
}

func TestStore_RecentHistoryUnknownSession(t *testing.T) {
	s := NewStore(stubDetector{code: "en"})
	if got := s.RecentHistory("nope", 5); len(got) != 0 {
		t.Errorf("history for unknown session = %d entries, want 0", len(got))
	}
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestStore_ConcurrentGetOrCreateYieldsOneConversation(t *testing.T) {
	s := NewStore(stubDetector{code: "en"})

	const workers = 32
	results := make([]*Conversation, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = s.GetOrCreate("doc42")
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent GetOrCreate returned distinct conversations")
		}
	}
	if got := s.Sessions(); got != 1 {
		t.Errorf("sessions = %d, want 1", got)
	}
}

func TestStore_ConcurrentAppendsStayBounded(t *testing.T) {
	s := NewStore(stubDetector{code: "en"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.AppendUser("doc", fmt.Sprintf("m%d", i), "")
		}(i)
	}
	wg.Wait()

	if got := s.Len("doc"); got != DefaultCapacity {
		t.Errorf("len = %d, want %d", got, DefaultCapacity)
	}
}
