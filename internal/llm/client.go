// Package llm contains the provider clients used to talk to Large Language
// Model backends, plus the shared conversation data structures they all
// consume. Every backend (OpenAI-compatible, Ollama, Gemini) implements the
// same Client interface so the session layer never cares which upstream it is
// talking to.
package llm

import (
	"context"
	"fmt"
	"time"
)

// =================================================================================
// Core Data Structures
// =================================================================================

// Role represents the originator of a message in a conversation.
// Using a defined type and constants prevents typos and improves code clarity.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents a single message in a conversation history.
// Index 0 of a session's log is always the current system prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Response is one unit of provider output. A non-streaming call produces
// exactly one Response with Done set. A streaming call produces a finite
// sequence of Responses whose Content fields are deltas (not cumulative),
// terminated by a single Response with Done set.
type Response struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_timestamp"`
	Done      bool      `json:"done"`
}

// Config holds all the parameters that control a provider client's behavior.
// The owning session may mutate it between calls, but never concurrently with
// an in-flight call on the same client instance.
type Config struct {
	// The specific model to use (e.g. "gpt-4o", "qwen2.5-coder:latest").
	Model string
	// BaseURL overrides the provider's default endpoint. This is how
	// OpenAI-compatible gateways (OpenRouter, vLLM, ...) are reached.
	BaseURL string
	// APIKey is sent as a bearer token where the provider requires one.
	APIKey string
	// Controls randomness. A pointer distinguishes "0.0" from "unset".
	Temperature *float32
	// ContextSize sets the model's context window where the provider
	// supports it (Ollama's num_ctx). Zero means provider default.
	ContextSize int
	// MaxRPS caps outbound request rate toward this upstream. Every call
	// pays a fixed delay of 1/MaxRPS before dispatch.
	MaxRPS int
}

// =================================================================================
// LLM Client Interface
// =================================================================================

// Client is the universal interface all provider clients implement.
//
// Neither method returns an error: upstream transport failures are folded
// into a Response whose Role is RoleSystem and whose Content carries a
// human-readable explanation. This keeps the conversation flowing after a
// transient provider outage instead of tearing the session down.
type Client interface {
	// GetResponse performs a standard, blocking request to the provider and
	// returns a single complete Response with Done set.
	GetResponse(ctx context.Context, messages []Message) *Response

	// GetResponseStream performs a streaming request. The returned channel
	// yields one Response per received chunk and is closed after the final
	// Done Response. The sequence is not restartable; a fresh call begins a
	// fresh sequence.
	GetResponseStream(ctx context.Context, messages []Message) <-chan *Response
}

// errorResponse wraps a transport failure into the sentinel system-role
// Response the Client contract requires.
func errorResponse(model string, err error) *Response {
	return &Response{
		Role: RoleSystem,
		Content: fmt.Sprintf(
			"I encountered an error: %v. Please try again or rephrase your request.", err),
		Model:     model,
		CreatedAt: time.Now(),
		Done:      true,
	}
}

// IsTransportError reports whether a Response is the error sentinel produced
// by errorResponse. Providers only ever answer as the assistant, so a
// system-role Response can only have come from the error path.
func IsTransportError(r *Response) bool {
	return r != nil && r.Role == RoleSystem
}

// trySend delivers resp on out unless the caller has abandoned the stream.
// A caller that cancels its context stops receiving, so every send from a
// stream goroutine must go through here or the goroutine (and its response
// body) would be pinned forever.
func trySend(ctx context.Context, out chan<- *Response, resp *Response) bool {
	select {
	case out <- resp:
		return true
	case <-ctx.Done():
		return false
	}
}
