// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jeranaias/docchat/internal/conversation"
	"github.com/jeranaias/docchat/internal/govern"
	"github.com/jeranaias/docchat/internal/lang"
	"github.com/jeranaias/docchat/internal/provider"
	"github.com/jeranaias/docchat/internal/retrieval"
	"github.com/jeranaias/docchat/internal/retry"
	"github.com/jeranaias/docchat/internal/token"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config tunes the orchestrator.
type Config struct {
	// SystemPrompt opens every provider prompt.
	SystemPrompt string

	// MaxHistory is how many prior turns travel with each prompt.
	MaxHistory int

	// CompletionEstimate is the token count assumed for the answer when
	// reserving cost before the provider reports real usage.
	CompletionEstimate int

	// MaxTokens bounds the provider completion (0 = provider default).
	MaxTokens int

	// Temperature is passed through to the provider.
	Temperature float64

	// ContextTokenBudget bounds the retrieved context (0 = unbounded).
	ContextTokenBudget int

	// AnswerWithoutContext lets a turn proceed without document context
	// when retrieval finds nothing relevant, instead of refusing.
	AnswerWithoutContext bool
}

// DefaultConfig returns production tuning.
func DefaultConfig() Config {
	return Config{
		SystemPrompt:       "You are a helpful assistant that answers questions about uploaded documents. Ground every answer in the provided document excerpts and mention page references when they are given.",
		MaxHistory:         5,
		CompletionEstimate: 500,
		MaxTokens:          1024,
		Temperature:        0.2,
		ContextTokenBudget: 2048,
	}
}

// =============================================================================
// DEPENDENCIES
// =============================================================================

// CompletionStreamer is the slice of the provider client the orchestrator
// needs.
type CompletionStreamer interface {
	StreamCompletion(ctx context.Context, messages []provider.ChatMessage, maxTokens int, temperature float64) (<-chan provider.Chunk, error)
}

// Outcome labels how a turn ended, for usage records.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeGeneral    Outcome = "general"
	OutcomeRefused    Outcome = "refused"
	OutcomeFailed     Outcome = "failed"
	OutcomeDisconnect Outcome = "disconnect"
)

// UsageEvent is the per-turn record handed to telemetry.
type UsageEvent struct {
	SessionKey       string
	Query            string
	Outcome          Outcome
	PromptTokens     int
	CompletionTokens int
	EmbeddingTokens  int
	CostUSD          float64
	Duration         time.Duration
}

// UsageRecorder persists per-turn usage. Implementations must tolerate
// being called concurrently.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, ev UsageEvent) error
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Request is one inbound question.
type Request struct {
	// SessionKey identifies the conversation. Required.
	SessionKey string

	// Document names the document to answer from. Empty means no
	// document context.
	Document string

	// Query is the user's question. Required.
	Query string

	// Language, when set, overrides language detection for the session.
	Language string
}

// Orchestrator runs chat turns end to end. Safe for concurrent use.
type Orchestrator struct {
	gov       *govern.Governor
	store     *conversation.Store
	retriever *retrieval.Retriever
	streamer  CompletionStreamer
	counter   token.Counter
	detector  lang.Detector
	usage     UsageRecorder
	cfg       Config
	locks     *keyedMutex
	logger    *log.Logger
}

// New wires an orchestrator. usage and logger may be nil.
func New(gov *govern.Governor, store *conversation.Store, retriever *retrieval.Retriever,
	streamer CompletionStreamer, counter token.Counter, detector lang.Detector,
	usage UsageRecorder, cfg Config, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[chat] ", log.LstdFlags)
	}
	return &Orchestrator{
		gov:       gov,
		store:     store,
		retriever: retriever,
		streamer:  streamer,
		counter:   counter,
		detector:  detector,
		usage:     usage,
		cfg:       cfg,
		locks:     newKeyedMutex(),
		logger:    logger,
	}
}

// Ask runs one turn and returns its event stream. The channel is always
// closed after exactly one done event.
func (o *Orchestrator) Ask(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer func() {
			if r := recover(); r != nil {
				o.logger.Printf("panic in turn for session %s: %v", req.SessionKey, r)
				o.emit(ctx, events, Event{Kind: EventToken, Token: msgInternal})
				o.emit(ctx, events, Event{Kind: EventDone, Err: fmt.Errorf("%w: %v", ErrInternal, r)})
			}
		}()
		o.run(ctx, req, events)
	}()
	return events
}

// GetContext exposes retrieval without a provider call, for clients that
// want to inspect what a question would be answered from. Sessions for
// document chat are keyed by the document, so a language locked by a
// chat turn steers this lookup the same way it steers the turn itself.
func (o *Orchestrator) GetContext(ctx context.Context, document, query, language string) (*retrieval.Block, error) {
	if language == "" {
		language = o.sessionLanguage(document, query)
	}
	return o.retriever.Retrieve(ctx, document, query, language, o.cfg.ContextTokenBudget)
}

// =============================================================================
// TURN EXECUTION
// =============================================================================

func (o *Orchestrator) run(ctx context.Context, req Request, events chan<- Event) {
	started := time.Now()

	unlock := o.locks.lock(req.SessionKey)
	defer unlock()

	// Admission first; a rejected request does no paid work.
	if err := o.gov.CheckRate(); err != nil {
		o.refuse(ctx, req, events, msgRateLimited, err, started)
		return
	}

	// Small talk never reaches the provider.
	if reply, ok := generalResponse(req.Query); ok && req.Document == "" {
		o.store.AppendUser(req.SessionKey, req.Query, req.Language)
		o.store.AppendAssistant(req.SessionKey, reply)
		o.emit(ctx, events, Event{Kind: EventToken, Token: reply})
		o.record(req, OutcomeGeneral, 0, 0, 0, 0, started)
		o.emit(ctx, events, Event{Kind: EventDone})
		return
	}

	queryLang := o.sessionLanguage(req.SessionKey, req.Query)
	if req.Language != "" {
		queryLang = req.Language
	}

	// Retrieval.
	var block *retrieval.Block
	embeddingTokens := 0
	if req.Document != "" {
		embeddingTokens = o.counter.Count(req.Query)
		b, err := o.retriever.Retrieve(ctx, req.Document, req.Query, queryLang, o.cfg.ContextTokenBudget)
		switch {
		case errors.Is(err, retrieval.ErrDocumentNotFound):
			o.refuse(ctx, req, events, msgDocNotFound, err, started)
			return
		case errors.Is(err, retrieval.ErrReuploadRequired):
			o.refuse(ctx, req, events, msgReupload, err, started)
			return
		case errors.Is(err, retrieval.ErrNoRelevantContent):
			if !o.cfg.AnswerWithoutContext {
				o.refuse(ctx, req, events, msgNoContext, err, started)
				return
			}
			// Proceed without context; the model is told there is none.
		case retry.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
			o.fail(ctx, req, events, msgUnavailable, err, started)
			return
		case err != nil:
			o.fail(ctx, req, events, msgInternal, err, started)
			return
		default:
			block = b
		}
	}

	messages := o.assemblePrompt(req, block, queryLang)
	promptTokens := 0
	for _, m := range messages {
		promptTokens += o.counter.Count(m.Content)
	}

	// Reserve cost before the provider call.
	estimate := o.gov.EstimateCost(promptTokens, o.cfg.CompletionEstimate, embeddingTokens)
	res, err := o.gov.CheckAndReserve(estimate)
	if err != nil {
		o.refuse(ctx, req, events, msgCostLimited, err, started)
		return
	}

	chunks, err := o.streamer.StreamCompletion(ctx, messages, o.cfg.MaxTokens, o.cfg.Temperature)
	if err != nil {
		// Nothing streamed; settle with what was actually spent.
		res.Commit(0, 0, embeddingTokens)
		if errors.Is(err, provider.ErrUpstreamRejected) {
			o.fail(ctx, req, events, msgInternal, err, started)
		} else {
			o.fail(ctx, req, events, msgUnavailable, err, started)
		}
		return
	}

	o.drain(ctx, req, events, chunks, res, promptTokens, embeddingTokens, started)
}

// drain forwards streamed tokens and settles the turn.
func (o *Orchestrator) drain(ctx context.Context, req Request, events chan<- Event,
	chunks <-chan provider.Chunk, res *govern.Reservation,
	promptTokens, embeddingTokens int, started time.Time) {

	var answer []byte
	for chunk := range chunks {
		if chunk.Err != nil {
			completionTokens := o.counter.Count(string(answer))
			if errors.Is(chunk.Err, context.Canceled) || errors.Is(chunk.Err, context.DeadlineExceeded) {
				// Caller went away mid-stream. The reserved cost stays
				// spent and the conversation does not record the turn.
				res.Abandon(promptTokens, completionTokens, embeddingTokens)
				o.record(req, OutcomeDisconnect, promptTokens, completionTokens, embeddingTokens,
					o.gov.EstimateCost(promptTokens, completionTokens, embeddingTokens), started)
				o.emit(ctx, events, Event{Kind: EventDone, Err: chunk.Err})
				return
			}
			res.Commit(promptTokens, completionTokens, embeddingTokens)
			o.fail(ctx, req, events, msgUnavailable, chunk.Err, started)
			return
		}

		if chunk.Content != "" {
			answer = append(answer, chunk.Content...)
			if !o.emit(ctx, events, Event{Kind: EventToken, Token: chunk.Content}) {
				completionTokens := o.counter.Count(string(answer))
				res.Abandon(promptTokens, completionTokens, embeddingTokens)
				o.record(req, OutcomeDisconnect, promptTokens, completionTokens, embeddingTokens,
					o.gov.EstimateCost(promptTokens, completionTokens, embeddingTokens), started)
				return
			}
		}

		if chunk.Done {
			pt, ct := promptTokens, o.counter.Count(string(answer))
			if chunk.Usage != nil {
				pt, ct = chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens
			}
			res.Commit(pt, ct, embeddingTokens)

			o.store.AppendUser(req.SessionKey, req.Query, req.Language)
			o.store.AppendAssistant(req.SessionKey, string(answer))

			o.record(req, OutcomeOK, pt, ct, embeddingTokens,
				o.gov.EstimateCost(pt, ct, embeddingTokens), started)
			o.emit(ctx, events, Event{Kind: EventDone})
			return
		}
	}

	// Channel closed without a terminal chunk; treat as a failed stream.
	completionTokens := o.counter.Count(string(answer))
	res.Commit(promptTokens, completionTokens, embeddingTokens)
	o.fail(ctx, req, events, msgUnavailable, fmt.Errorf("stream ended without completion"), started)
}

// =============================================================================
// PROMPT ASSEMBLY
// =============================================================================

func (o *Orchestrator) assemblePrompt(req Request, block *retrieval.Block, queryLang string) []provider.ChatMessage {
	var messages []provider.ChatMessage

	system := o.cfg.SystemPrompt
	if queryLang != "" {
		system += fmt.Sprintf(" Answer in the language with ISO 639-1 code %q.", queryLang)
	}
	messages = append(messages, provider.ChatMessage{Role: "system", Content: system})

	if block != nil {
		messages = append(messages, provider.ChatMessage{
			Role:    "system",
			Content: "Document excerpts:\n\n" + block.Render(),
		})
	} else if req.Document != "" {
		messages = append(messages, provider.ChatMessage{
			Role:    "system",
			Content: "No relevant excerpts were found in the document for this question. Say so if you cannot answer from general knowledge of the conversation.",
		})
	}

	for _, m := range o.store.RecentHistory(req.SessionKey, o.cfg.MaxHistory) {
		messages = append(messages, provider.ChatMessage{Role: m.Role.String(), Content: m.Content})
	}

	messages = append(messages, provider.ChatMessage{Role: "user", Content: req.Query})
	return messages
}

// sessionLanguage returns the locked session language, falling back to
// best-effort detection of the query.
func (o *Orchestrator) sessionLanguage(sessionKey, query string) string {
	if sessionKey != "" {
		if code, locked := o.store.Language(sessionKey); locked {
			return code
		}
	}
	if o.detector != nil {
		if code, err := o.detector.Detect(query); err == nil {
			return code
		}
	}
	return ""
}

// =============================================================================
// OUTCOME HELPERS
// =============================================================================

// refuse streams a polite message for a governed or expected rejection.
func (o *Orchestrator) refuse(ctx context.Context, req Request, events chan<- Event, msg string, err error, started time.Time) {
	o.emit(ctx, events, Event{Kind: EventToken, Token: msg})
	o.record(req, OutcomeRefused, 0, 0, 0, 0, started)
	o.emit(ctx, events, Event{Kind: EventDone, Err: err})
}

// fail streams a polite message for an unexpected failure.
func (o *Orchestrator) fail(ctx context.Context, req Request, events chan<- Event, msg string, err error, started time.Time) {
	o.logger.Printf("turn failed for session %s: %v", req.SessionKey, err)
	o.emit(ctx, events, Event{Kind: EventToken, Token: msg})
	o.record(req, OutcomeFailed, 0, 0, 0, 0, started)
	o.emit(ctx, events, Event{Kind: EventDone, Err: err})
}

func (o *Orchestrator) record(req Request, outcome Outcome, promptTokens, completionTokens, embeddingTokens int, costUSD float64, started time.Time) {
	if o.usage == nil {
		return
	}
	ev := UsageEvent{
		SessionKey:       req.SessionKey,
		Query:            req.Query,
		Outcome:          outcome,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		EmbeddingTokens:  embeddingTokens,
		CostUSD:          costUSD,
		Duration:         time.Since(started),
	}
	// Recording failures must not break the turn.
	if err := o.usage.RecordUsage(context.Background(), ev); err != nil {
		o.logger.Printf("usage record failed: %v", err)
	}
}

// emit delivers an event, preferring delivery over cancellation when the
// channel has room so a terminating event still reaches a buffered
// consumer that canceled mid-turn.
func (o *Orchestrator) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	default:
	}
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
