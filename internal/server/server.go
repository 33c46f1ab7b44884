// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/docchat/internal/chat"
	"github.com/jeranaias/docchat/internal/config"
	"github.com/jeranaias/docchat/internal/govern"
	"github.com/jeranaias/docchat/internal/ingest"
	"github.com/jeranaias/docchat/internal/provider"
	"github.com/jeranaias/docchat/internal/retrieval"
	"github.com/jeranaias/docchat/internal/telemetry"
)

// =============================================================================
// DEPENDENCY CONTRACTS
// =============================================================================

// Chatter is the slice of the orchestrator the server needs.
type Chatter interface {
	Ask(ctx context.Context, req chat.Request) <-chan chat.Event
	GetContext(ctx context.Context, document, query, language string) (*retrieval.Block, error)
}

// Ingestor handles document lifecycle.
type Ingestor interface {
	IndexDocument(ctx context.Context, name, defaultLang string, chunks []ingest.Chunk) (*ingest.Summary, error)
	DeleteDocument(ctx context.Context, name string) error
	ListDocuments(ctx context.Context) ([]ingest.DocumentInfo, error)
}

// UsageSource reads the persisted usage log. May be nil.
type UsageSource interface {
	Recent(ctx context.Context, limit int) ([]telemetry.Record, error)
	TotalsSince(ctx context.Context, since time.Time) (telemetry.Totals, error)
}

// =============================================================================
// SERVER
// =============================================================================

// Server is the HTTP surface over the chat service.
type Server struct {
	chatter Chatter
	ingest  Ingestor
	gov     *govern.Governor
	usage   UsageSource
	cfg     config.ServerConfig
	logger  *log.Logger
}

// New assembles the server. usage and logger may be nil.
func New(chatter Chatter, ingestor Ingestor, gov *govern.Governor, usage UsageSource, cfg config.ServerConfig, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[server] ", log.LstdFlags)
	}
	return &Server{
		chatter: chatter,
		ingest:  ingestor,
		gov:     gov,
		usage:   usage,
		cfg:     cfg,
		logger:  logger,
	}
}

// Handler builds the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/context", s.handleContext)
	mux.HandleFunc("POST /api/documents", s.handleUpload)
	mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	mux.HandleFunc("DELETE /api/documents/{name}", s.handleDeleteDocument)
	mux.HandleFunc("GET /api/usage", s.handleUsage)
	mux.HandleFunc("GET /health", s.handleHealth)

	return Chain(
		RecoveryMiddleware(s.logger),
		LoggingMiddleware(s.logger),
		CORSMiddleware(s.cfg.AllowedOrigins),
		AuthMiddleware(s.cfg.BearerToken, s.logger),
		RateLimitMiddleware(s.cfg.RequestsPerMinute, s.logger),
	)(mux)
}

// ListenAndServe runs until ctx is canceled, then drains connections.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("listening on %s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// =============================================================================
// CHAT
// =============================================================================

type chatRequest struct {
	SessionKey string `json:"session_key"`
	Document   string `json:"document,omitempty"`
	Query      string `json:"query"`
	Language   string `json:"language,omitempty"`
}

// handleChat streams the answer as SSE: token events carrying text, then
// one done event carrying the outcome code.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionKey == "" || req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "session_key and query are required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events := s.chatter.Ask(r.Context(), chat.Request{
		SessionKey: req.SessionKey,
		Document:   req.Document,
		Query:      req.Query,
		Language:   req.Language,
	})
	for ev := range events {
		switch ev.Kind {
		case chat.EventToken:
			writeSSE(w, "token", map[string]string{"token": ev.Token})
		case chat.EventDone:
			payload := map[string]string{"outcome": "ok"}
			if ev.Err != nil {
				payload["outcome"] = outcomeCode(ev.Err)
			}
			writeSSE(w, "done", payload)
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

// outcomeCode maps turn errors to stable wire identifiers.
func outcomeCode(err error) string {
	switch {
	case errors.Is(err, govern.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, govern.ErrCostLimited):
		return "cost_limited"
	case errors.Is(err, retrieval.ErrDocumentNotFound):
		return "document_not_found"
	case errors.Is(err, retrieval.ErrReuploadRequired):
		return "reupload_required"
	case errors.Is(err, retrieval.ErrNoRelevantContent):
		return "no_relevant_content"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, provider.ErrUpstreamTransient):
		return "unavailable"
	default:
		return "internal"
	}
}

// =============================================================================
// CONTEXT
// =============================================================================

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	document, query := q.Get("document"), q.Get("query")
	if document == "" || query == "" {
		s.writeError(w, http.StatusBadRequest, "document and query are required")
		return
	}

	block, err := s.chatter.GetContext(r.Context(), document, query, q.Get("language"))
	switch {
	case errors.Is(err, retrieval.ErrDocumentNotFound):
		s.writeError(w, http.StatusNotFound, "document not found")
	case errors.Is(err, retrieval.ErrNoRelevantContent):
		s.writeError(w, http.StatusNotFound, "no relevant content")
	case errors.Is(err, retrieval.ErrReuploadRequired):
		s.writeError(w, http.StatusConflict, "document must be re-uploaded")
	case err != nil:
		s.logger.Printf("context lookup failed: %v", err)
		s.writeError(w, http.StatusServiceUnavailable, "retrieval unavailable")
	default:
		s.writeJSON(w, http.StatusOK, block)
	}
}

// =============================================================================
// DOCUMENTS
// =============================================================================

type uploadRequest struct {
	Name            string `json:"name"`
	DefaultLanguage string `json:"default_language,omitempty"`
	Pages           []struct {
		Page int    `json:"page"`
		Text string `json:"text"`
	} `json:"pages"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || len(req.Pages) == 0 {
		s.writeError(w, http.StatusBadRequest, "name and pages are required")
		return
	}

	pages := make([]ingest.PageText, len(req.Pages))
	for i, p := range req.Pages {
		pages[i] = ingest.PageText{Page: p.Page, Text: p.Text}
	}
	chunks := ingest.Split(pages, ingest.DefaultChunkChars, ingest.DefaultOverlapChars)
	if len(chunks) == 0 {
		s.writeError(w, http.StatusBadRequest, "document contains no text")
		return
	}

	summary, err := s.ingest.IndexDocument(r.Context(), req.Name, req.DefaultLanguage, chunks)
	if err != nil {
		s.logger.Printf("index %q failed: %v", req.Name, err)
		s.writeError(w, http.StatusServiceUnavailable, "indexing failed")
		return
	}
	s.writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.ingest.ListDocuments(r.Context())
	if err != nil {
		s.logger.Printf("list documents failed: %v", err)
		s.writeError(w, http.StatusServiceUnavailable, "listing failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		s.writeError(w, http.StatusBadRequest, "document name is required")
		return
	}
	err := s.ingest.DeleteDocument(r.Context(), name)
	switch {
	case errors.Is(err, retrieval.ErrDocumentNotFound):
		s.writeError(w, http.StatusNotFound, "document not found")
	case err != nil:
		s.logger.Printf("delete %q failed: %v", name, err)
		s.writeError(w, http.StatusServiceUnavailable, "delete failed")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// =============================================================================
// USAGE AND HEALTH
// =============================================================================

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"governor": s.gov.Snapshot()}
	if s.usage != nil {
		if records, err := s.usage.Recent(r.Context(), 20); err == nil {
			resp["recent"] = records
		}
		if totals, err := s.usage.TotalsSince(r.Context(), time.Now().Add(-24*time.Hour)); err == nil {
			resp["last_24h"] = totals
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
