package llm

import (
	"bufio"
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
)

// openAIRequest defines the top-level structure for a chat-completions call.
type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float32  `json:"temperature,omitempty"`
	TopP        float32   `json:"top_p,omitempty"`
}

// openAIResponse is the structure of a successful non-streaming response.
type openAIResponse struct {
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// openAIStreamChunk is the structure of a single event in an SSE stream.
type openAIStreamChunk struct {
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

const defaultOpenAIBaseURL = "https://openrouter.ai/api/v1"

// OpenAIClient talks to any OpenAI-compatible chat-completions endpoint
// (OpenAI itself, OpenRouter, vLLM, LM Studio, ...). The endpoint is chosen
// via Config.BaseURL.
type OpenAIClient struct {
	config     *Config
	httpClient *http.Client
	throttle   throttle
	retryDelay time.Duration
}

// Statically verify that OpenAIClient implements the Client interface.
var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a new, configured client for an OpenAI-compatible API.
func NewOpenAIClient(config *Config) (*OpenAIClient, error) {
	if config == nil || config.Model == "" {
		return nil, errors.New("openai client requires a model")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultOpenAIBaseURL
	}
	return &OpenAIClient{
		config:     config,
		httpClient: &http.Client{Timeout: defaultTimeout},
		throttle:   newThrottle(config.MaxRPS),
		retryDelay: initialRetryDelay,
	}, nil
}

// GetResponse performs a standard, blocking request to the provider.
func (c *OpenAIClient) GetResponse(ctx context.Context, messages []Message) *Response {
	payload, err := c.buildRequestPayload(messages, false)
	if err != nil {
		return errorResponse(c.config.Model, err)
	}
	if err := c.throttle.wait(ctx); err != nil {
		return errorResponse(c.config.Model, err)
	}

	respBody, err := c.doRequest(ctx, payload)
	if err != nil {
		log.Error().Err(err).Str("model", c.config.Model).Msg("openai request failed")
		return errorResponse(c.config.Model, err)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return errorResponse(c.config.Model, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return errorResponse(c.config.Model, errors.New("no choices returned from provider"))
	}

	choice := parsed.Choices[0]
	role := Role(choice.Message.Role)
	if role == "" {
		role = RoleAssistant
	}
	return &Response{
		Role:      role,
		Content:   choice.Message.Content,
		Model:     parsed.Model,
		CreatedAt: time.Unix(parsed.Created, 0),
		Done:      true,
	}
}

// GetResponseStream performs a streaming request against the SSE endpoint.
func (c *OpenAIClient) GetResponseStream(ctx context.Context, messages []Message) <-chan *Response {
	out := make(chan *Response)

	payload, err := c.buildRequestPayload(messages, true)
	if err != nil {
		go func() {
			defer close(out)
			trySend(ctx, out, errorResponse(c.config.Model, err))
		}()
		return out
	}

	go func() {
		defer close(out)

		if err := c.throttle.wait(ctx); err != nil {
			trySend(ctx, out, errorResponse(c.config.Model, err))
			return
		}

		body, err := c.doRequestStream(ctx, payload)
		if err != nil {
			log.Error().Err(err).Str("model", c.config.Model).Msg("openai stream failed")
			trySend(ctx, out, errorResponse(c.config.Model, err))
			return
		}
		c.processStream(ctx, body, out)
	}()

	return out
}

// buildRequestPayload constructs the JSON body for the chat-completions call.
func (c *OpenAIClient) buildRequestPayload(messages []Message, stream bool) (*bytes.Buffer, error) {
	req := openAIRequest{
		Model:     c.config.Model,
		Messages:  messages,
		Stream:    stream,
		MaxTokens: defaultMaxTokens,
		TopP:      defaultTopP,
	}
	if c.config.Temperature != nil {
		req.Temperature = c.config.Temperature
	}

	payloadBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}
	return bytes.NewBuffer(payloadBytes), nil
}

// doRequest performs the HTTP call with retries for non-streaming requests.
func (c *OpenAIClient) doRequest(ctx context.Context, payload *bytes.Buffer) ([]byte, error) {
	var lastErr error
	delay := c.retryDelay

	for i := 0; i < maxRetries; i++ {
		// Use a bytes.Reader so the request body can be re-read on retry.
		req, err := c.createRequest(ctx, bytes.NewReader(payload.Bytes()))
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed (attempt %d/%d): %w", i+1, maxRetries, err)
			time.Sleep(delay)
			delay *= 2
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("failed to read response body: %w", readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}

		lastErr = fmt.Errorf("provider API error (attempt %d/%d): status %d, body: %s",
			i+1, maxRetries, resp.StatusCode, string(body))

		// Do not retry on client errors (e.g. 400 Bad Request).
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, lastErr
		}

		time.Sleep(delay)
		delay *= 2
	}
	return nil, lastErr
}

// doRequestStream prepares and executes the HTTP request for streaming.
func (c *OpenAIClient) doRequestStream(ctx context.Context, payload *bytes.Buffer) (io.ReadCloser, error) {
	req, err := c.createRequest(ctx, payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to start stream request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("provider API stream error: status %d, body: %s", resp.StatusCode, string(body))
	}
	return resp.Body, nil
}

// createRequest is a helper to build the common parts of an http.Request.
func (c *OpenAIClient) createRequest(ctx context.Context, body io.Reader) (*http.Request, error) {
	url := strings.TrimSuffix(c.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	return req, nil
}

// processStream reads the SSE stream and sends one Response per delta,
// followed by a single Done Response at end of stream.
func (c *OpenAIClient) processStream(ctx context.Context, body io.ReadCloser, out chan<- *Response) {
	defer body.Close()

	finish := func(model string) {
		trySend(ctx, out, &Response{
			Role:      RoleAssistant,
			Model:     model,
			CreatedAt: time.Now(),
			Done:      true,
		})
	}

	model := c.config.Model
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			finish(model)
			return
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Warn().Err(err).Msg("skipping malformed stream chunk")
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		role := Role(delta.Role)
		if role == "" {
			role = RoleAssistant
		}
		resp := &Response{
			Role:      role,
			Content:   delta.Content,
			Model:     model,
			CreatedAt: time.Unix(chunk.Created, 0),
		}
		if !trySend(ctx, out, resp) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		trySend(ctx, out, errorResponse(model, fmt.Errorf("error reading stream: %w", err)))
		return
	}
	// Stream ended without a [DONE] sentinel; still terminate the sequence.
	finish(model)
}
