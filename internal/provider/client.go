// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize caps how much of an error body is read back.
	MaxResponseSize = 1 * 1024 * 1024
)

var (
	// Shared pooled client for request/response calls.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// Streaming client has no whole-body timeout; lifetime is controlled
	// by the request context.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// =============================================================================
// TYPES
// =============================================================================

// ChatMessage is one prompt turn in the upstream wire format.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the token accounting the upstream reports on the final chunk.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Chunk is one unit of a streamed completion. Exactly one terminal chunk
// is sent: either Done with optional Usage, or Err set.
type Chunk struct {
	Content string
	Done    bool
	Usage   *Usage
	Err     error
}

// Client is the OpenAI-compatible upstream. Safe for concurrent use.
type Client struct {
	baseURL        string
	apiKey         string
	model          string
	embeddingModel string
	httpClient     *http.Client
	streamClient   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClients overrides the shared pooled clients, mainly for tests.
func WithHTTPClients(plain, streaming *http.Client) Option {
	return func(c *Client) {
		c.httpClient = plain
		c.streamClient = streaming
	}
}

// WithEmbeddingModel sets the model used for /embeddings calls.
func WithEmbeddingModel(model string) Option {
	return func(c *Client) { c.embeddingModel = model }
}

// NewClient creates an upstream client. baseURL is the API root without a
// trailing slash, e.g. "https://api.openai.com/v1".
func NewClient(baseURL, apiKey, model string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		model:        model,
		httpClient:   sharedHTTPClient,
		streamClient: sharedStreamingClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsConfigured reports whether the client can make requests.
func (c *Client) IsConfigured() bool {
	return c.baseURL != "" && c.apiKey != "" && c.model != ""
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

// =============================================================================
// STREAMING COMPLETION
// =============================================================================

type completionRequest struct {
	Model         string         `json:"model"`
	Messages      []ChatMessage  `json:"messages"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   float64        `json:"temperature,omitempty"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// StreamCompletion starts a streaming chat completion and returns a
// channel of chunks. The channel is always closed; an in-band Err chunk
// precedes the close on failure, a Done chunk on success. Cancel the
// context to abandon the stream.
func (c *Client) StreamCompletion(ctx context.Context, messages []ChatMessage, maxTokens int, temperature float64) (<-chan Chunk, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(completionRequest{
		Model:         c.model,
		Messages:      messages,
		MaxTokens:     maxTokens,
		Temperature:   temperature,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create completion request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w: %w", ErrUpstreamTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		resp.Body.Close()
		return nil, classifyStatus(resp.StatusCode, errBody)
	}

	chunks := make(chan Chunk, 64)
	go c.readStream(ctx, resp.Body, chunks)
	return chunks, nil
}

// readStream parses the SSE body and forwards chunks until [DONE] or an
// error. Runs in its own goroutine; always closes the channel.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, chunks chan<- Chunk) {
	defer close(chunks)
	defer body.Close()

	var usage *Usage
	scanner := newSSEScanner(body)
	for {
		select {
		case <-ctx.Done():
			c.emit(ctx, chunks, Chunk{Err: ctx.Err()})
			return
		default:
		}

		data, err := scanner.next()
		if err == io.EOF {
			// Upstream closed without [DONE]; treat the stream as
			// complete with whatever usage was reported.
			c.emit(ctx, chunks, Chunk{Done: true, Usage: usage})
			return
		}
		if err != nil {
			c.emit(ctx, chunks, Chunk{Err: fmt.Errorf("read stream: %w: %w", ErrUpstreamTransient, err)})
			return
		}

		if string(data) == "[DONE]" {
			c.emit(ctx, chunks, Chunk{Done: true, Usage: usage})
			return
		}

		var sc streamChunk
		if err := json.Unmarshal(data, &sc); err != nil {
			// Skip malformed frames rather than killing the stream.
			continue
		}
		if sc.Usage != nil {
			usage = sc.Usage
		}
		if len(sc.Choices) > 0 && sc.Choices[0].Delta.Content != "" {
			if !c.emit(ctx, chunks, Chunk{Content: sc.Choices[0].Delta.Content}) {
				return
			}
		}
	}
}

// emit delivers a chunk, preferring delivery over cancellation when the
// channel has room so the terminal chunk still reaches a consumer that
// canceled mid-stream.
func (c *Client) emit(ctx context.Context, chunks chan<- Chunk, chunk Chunk) bool {
	select {
	case chunks <- chunk:
		return true
	default:
	}
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// =============================================================================
// SSE SCANNER
// =============================================================================

// sseScanner yields the data payload of each SSE event, joining multi-line
// data fields and skipping comments and other fields.
type sseScanner struct {
	reader *bufio.Reader
}

func newSSEScanner(r io.Reader) *sseScanner {
	return &sseScanner{reader: bufio.NewReader(r)}
}

// next returns the next event's data, or io.EOF at end of stream.
func (s *sseScanner) next() ([]byte, error) {
	var dataLines [][]byte
	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Blank line ends the event.
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("data:")) {
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
		}
		// Other fields (event:, id:, retry:, comments) are ignored.
	}
}
