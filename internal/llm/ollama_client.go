package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dileep-u-k/agent-host/internal/jsonstream"
)

// ollamaRequest is the body of a call to Ollama's /api/chat endpoint.
type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float32 `json:"temperature,omitempty"`
	NumCtx      int      `json:"num_ctx,omitempty"`
}

// ollamaChunk is one unit of Ollama output. The non-streaming endpoint
// returns exactly one; the streaming endpoint returns one per token batch as
// newline-delimited JSON, the last carrying done=true.
type ollamaChunk struct {
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaClient talks to a local (or remote) Ollama server.
//
// Its streaming transport is newline-delimited JSON rather than SSE, and a
// single logical chunk can arrive split across any number of network reads,
// so the stream is drained through a jsonstream.Reconstructor.
type OllamaClient struct {
	config     *Config
	httpClient *http.Client
	throttle   throttle
}

var _ Client = (*OllamaClient)(nil)

// NewOllamaClient creates a new client for an Ollama-compatible API.
func NewOllamaClient(config *Config) (*OllamaClient, error) {
	if config == nil || config.Model == "" {
		return nil, errors.New("ollama client requires a model")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultOllamaBaseURL
	}
	return &OllamaClient{
		config:     config,
		httpClient: &http.Client{Timeout: defaultTimeout},
		throttle:   newThrottle(config.MaxRPS),
	}, nil
}

// GetResponse performs a standard, blocking request to Ollama.
func (c *OllamaClient) GetResponse(ctx context.Context, messages []Message) *Response {
	if err := c.throttle.wait(ctx); err != nil {
		return errorResponse(c.config.Model, err)
	}

	resp, err := c.post(ctx, messages, false)
	if err != nil {
		log.Error().Err(err).Str("model", c.config.Model).Msg("ollama request failed")
		return errorResponse(c.config.Model, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorResponse(c.config.Model, fmt.Errorf("failed to read response body: %w", err))
	}

	var chunk ollamaChunk
	if err := json.Unmarshal(body, &chunk); err != nil {
		return errorResponse(c.config.Model, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	return chunkToResponse(&chunk, true)
}

// GetResponseStream performs a streaming request against /api/chat.
func (c *OllamaClient) GetResponseStream(ctx context.Context, messages []Message) <-chan *Response {
	out := make(chan *Response)

	go func() {
		defer close(out)

		if err := c.throttle.wait(ctx); err != nil {
			trySend(ctx, out, errorResponse(c.config.Model, err))
			return
		}

		resp, err := c.post(ctx, messages, true)
		if err != nil {
			log.Error().Err(err).Str("model", c.config.Model).Msg("ollama stream failed")
			trySend(ctx, out, errorResponse(c.config.Model, err))
			return
		}
		defer resp.Body.Close()

		c.drainStream(ctx, resp.Body, out)
	}()

	return out
}

// drainStream feeds raw body reads through the reconstructor and forwards
// each decoded chunk. Reads are pre-split at newlines so that several
// complete chunks delivered in one read are still emitted individually; a
// chunk split mid-value is reassembled by the reconstructor.
func (c *OllamaClient) drainStream(ctx context.Context, body io.Reader, out chan<- *Response) {
	var recon jsonstream.Reconstructor
	sawFinal := false

	emit := func(unit []byte) {
		var chunk ollamaChunk
		if err := json.Unmarshal(unit, &chunk); err != nil {
			log.Warn().Err(err).Msg("skipping malformed ollama chunk")
			return
		}
		if chunk.Done {
			sawFinal = true
		}
		trySend(ctx, out, chunkToResponse(&chunk, chunk.Done))
	}

	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, part := range splitKeepingPartial(buf[:n]) {
				recon.ProcessPart(part, emit)
			}
		}
		if err != nil {
			if err != io.EOF {
				trySend(ctx, out, errorResponse(c.config.Model, fmt.Errorf("error reading stream: %w", err)))
				return
			}
			break
		}
		if ctx.Err() != nil {
			return
		}
	}

	recon.Finalize(emit)
	if !sawFinal {
		// The upstream closed without a done chunk; terminate the sequence anyway.
		trySend(ctx, out, &Response{Role: RoleAssistant, Model: c.config.Model, CreatedAt: time.Now(), Done: true})
	}
}

func (c *OllamaClient) post(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	payload := ollamaRequest{
		Model:    c.config.Model,
		Messages: messages,
		Stream:   stream,
	}
	if c.config.Temperature != nil || c.config.ContextSize > 0 {
		payload.Options = &ollamaOptions{
			Temperature: c.config.Temperature,
			NumCtx:      c.config.ContextSize,
		}
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	url := strings.TrimSuffix(c.config.BaseURL, "/") + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("ollama API error: status %d, body: %s", resp.StatusCode, string(body))
	}
	return resp, nil
}

func chunkToResponse(chunk *ollamaChunk, done bool) *Response {
	role := Role(chunk.Message.Role)
	if role == "" {
		role = RoleAssistant
	}
	created := chunk.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return &Response{
		Role:      role,
		Content:   chunk.Message.Content,
		Model:     chunk.Model,
		CreatedAt: created,
		Done:      done,
	}
}

// splitKeepingPartial cuts a read at newline boundaries, keeping each line's
// terminator with it so a trailing partial line is passed through unchanged.
func splitKeepingPartial(data []byte) [][]byte {
	var parts [][]byte
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			parts = append(parts, data)
			break
		}
		if line := bytes.TrimSpace(data[:i+1]); len(line) > 0 {
			parts = append(parts, data[:i+1])
		}
		data = data[i+1:]
	}
	return parts
}
