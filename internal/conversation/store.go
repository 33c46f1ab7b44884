// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"sync"
	"time"

	"github.com/jeranaias/docchat/internal/lang"
)

// DefaultCapacity is the number of messages kept per conversation before
// FIFO eviction starts.
const DefaultCapacity = 10

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds the bounded history and language state for one
// session. All mutation goes through the owning Store; the struct itself
// is not safe for concurrent use.
type Conversation struct {
	SessionKey string

	// CurrentLanguage is the ISO 639-1 code bound to this session.
	CurrentLanguage string

	// LanguageLocked pins CurrentLanguage after the first successful
	// detection; only an explicit caller override changes it afterwards.
	LanguageLocked bool

	capacity int
	messages []Message
}

func (c *Conversation) append(msg Message) {
	c.messages = append(c.messages, msg)
	if over := len(c.messages) - c.capacity; over > 0 {
		// Oldest out first.
		c.messages = append(c.messages[:0:0], c.messages[over:]...)
	}
}

// Len returns the number of messages currently held.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Messages returns a copy of the history, oldest first.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// =============================================================================
// STORE
// =============================================================================

// Store is the process-wide owner of all conversations.
type Store struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	detector      lang.Detector
	capacity      int
	now           func() time.Time
}

// NewStore creates a store with the default per-session capacity.
func NewStore(detector lang.Detector) *Store {
	return NewStoreWithCapacity(detector, DefaultCapacity)
}

// NewStoreWithCapacity creates a store with a custom history bound.
func NewStoreWithCapacity(detector lang.Detector, capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		conversations: make(map[string]*Conversation),
		detector:      detector,
		capacity:      capacity,
		now:           time.Now,
	}
}

// GetOrCreate returns the conversation for sessionKey, creating it on
// first access. Concurrent callers with the same key always observe the
// same conversation.
func (s *Store) GetOrCreate(sessionKey string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreate(sessionKey)
}

func (s *Store) getOrCreate(sessionKey string) *Conversation {
	if c, ok := s.conversations[sessionKey]; ok {
		return c
	}
	c := &Conversation{
		SessionKey: sessionKey,
		capacity:   s.capacity,
	}
	s.conversations[sessionKey] = c
	return c
}

// AppendUser records a user turn. Language is detected best-effort; on
// detection failure the session language is retained. overrideLanguage,
// when non-empty, replaces the session language even if it is locked.
func (s *Store) AppendUser(sessionKey, content, overrideLanguage string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.getOrCreate(sessionKey)

	detected := ""
	if s.detector != nil {
		if code, err := s.detector.Detect(content); err == nil {
			detected = code
		}
	}

	switch {
	case overrideLanguage != "":
		c.CurrentLanguage = overrideLanguage
		c.LanguageLocked = true
	case !c.LanguageLocked && detected != "":
		c.CurrentLanguage = detected
		c.LanguageLocked = true
	}

	msgLang := detected
	if msgLang == "" {
		msgLang = c.CurrentLanguage
	}

	msg := newMessage(RoleUser, content, msgLang, s.now())
	c.append(msg)
	return msg
}

// AppendAssistant records an assistant turn without touching language
// state.
func (s *Store) AppendAssistant(sessionKey, content string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.getOrCreate(sessionKey)
	msg := newMessage(RoleAssistant, content, c.CurrentLanguage, s.now())
	c.append(msg)
	return msg
}

// RecentHistory returns up to max of the most recent messages, oldest
// first, for prompt assembly. The message currently being answered is
// never in the store at this point; it is supplied to the prompt
// separately.
func (s *Store) RecentHistory(sessionKey string, max int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[sessionKey]
	if !ok || max <= 0 {
		return nil
	}
	msgs := c.messages
	if len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Language returns the session's bound language and whether it is locked.
func (s *Store) Language(sessionKey string) (code string, locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.conversations[sessionKey]; ok {
		return c.CurrentLanguage, c.LanguageLocked
	}
	return "", false
}

// Len returns the message count for a session (0 if unknown).
func (s *Store) Len(sessionKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.conversations[sessionKey]; ok {
		return len(c.messages)
	}
	return 0
}

// Sessions returns the number of live conversations.
func (s *Store) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}
