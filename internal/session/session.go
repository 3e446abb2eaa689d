// Package session owns the conversation state machine at the heart of the
// host: one message log per session, at most one pending tool approval, and
// the orchestration tying provider clients, tool-call extraction, and tool
// servers together.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dileep-u-k/agent-host/internal/extract"
	"github.com/dileep-u-k/agent-host/internal/llm"
	"github.com/dileep-u-k/agent-host/internal/tools"
)

// Sentinel errors surfaced to callers as structured rejections. Session state
// is unchanged when either is returned.
var (
	// ErrApprovalPending rejects a submit while a tool approval is outstanding.
	ErrApprovalPending = errors.New("a tool approval is pending for this session")
	// ErrUnknownRequest rejects an approval whose request id does not match
	// the pending one (or when nothing is pending).
	ErrUnknownRequest = errors.New("invalid or expired request id")
)

// Control keywords recognized case-insensitively by Submit. Both
// short-circuit to a reset without reaching the provider.
const (
	keywordExit  = "exit"
	keywordQuit  = "quit"
	keywordClear = "/clear"
)

const systemPromptTemplate = `You are a helpful assistant with access to these tools:

%s

Choose the appropriate tool based on the user's question. If no tool is needed, reply directly.

%s

After receiving a tool's response:
1. Transform the raw data into a natural, conversational response
2. Keep responses concise but informative
3. Focus on the most relevant information
4. Use appropriate context from the user's question
5. Avoid simply repeating the raw data

Please use only the tools that are explicitly defined above.`

// Outcome is the structured result of a submit or approve operation.
type Outcome struct {
	Message          string           `json:"message"`
	RequestID        string           `json:"request_id,omitempty"`
	RequiresApproval bool             `json:"requires_approval"`
	Tool             *extract.Request `json:"tool,omitempty"`
}

// Event is one element of a streaming submit: either an intermediate
// provider delta (Done false) or the final Outcome (Done true).
type Event struct {
	Outcome
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	Model     string `json:"model,omitempty"`
	CreatedAt int64  `json:"created_timestamp,omitempty"`
	Done      bool   `json:"done"`
}

// State is a read-only snapshot of a session for the inspection endpoint.
type State struct {
	Messages         []llm.Message    `json:"messages"`
	PendingRequestID string           `json:"pending_request_id,omitempty"`
	PendingToolCall  *extract.Request `json:"pending_tool_call,omitempty"`
}

// Options configures a new Session.
type Options struct {
	WorkDir   string
	Servers   []tools.Server
	Client    llm.Client
	Extractor extract.Strategy
	Stream    bool
}

// Session orchestrates the interaction between one caller, the provider
// client, and the tool servers. All operations are serialized by a single
// mutex: a second Submit or Approve cannot interleave with one in flight.
type Session struct {
	id        string
	workDir   string
	servers   []tools.Server
	client    llm.Client
	extractor extract.Strategy
	stream    bool

	mu          sync.Mutex
	messages    []llm.Message
	catalog     [][]tools.Descriptor // parallel to servers, fetched at Init
	pendingID   string
	pendingCall *extract.Request
}

// New builds an uninitialized Session; callers must run Init before use.
func New(id string, opts Options) *Session {
	extractor := opts.Extractor
	if extractor == nil {
		extractor = extract.RawJSON{}
	}
	return &Session{
		id:        id,
		workDir:   opts.WorkDir,
		servers:   opts.Servers,
		client:    opts.Client,
		extractor: extractor,
		stream:    opts.Stream,
	}
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string { return s.id }

// Streaming reports whether submits on this session stream their responses.
func (s *Session) Streaming() bool { return s.stream }

// Init initializes every tool server, fetches and caches their catalogs, and
// resets the message log to a single system message built from the tool
// descriptions. It is idempotent and safe to call mid-conversation as a full
// reset. If any server fails to initialize, all servers are cleaned up and
// the error is returned; the session must not be used afterwards.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, server := range s.servers {
		if err := server.Initialize(ctx); err != nil {
			log.Error().Err(err).Str("server", server.Name()).Msg("failed to initialize tool server")
			s.cleanupServers(ctx)
			return fmt.Errorf("failed to initialize server %s: %w", server.Name(), err)
		}
	}

	catalog := make([][]tools.Descriptor, len(s.servers))
	for i, server := range s.servers {
		descs, err := server.ListTools(ctx)
		if err != nil {
			log.Error().Err(err).Str("server", server.Name()).Msg("failed to list tools")
			s.cleanupServers(ctx)
			return fmt.Errorf("failed to list tools on server %s: %w", server.Name(), err)
		}
		catalog[i] = descs
	}
	s.catalog = catalog

	s.resetLocked()
	return nil
}

// Cleanup releases every tool server. Individual failures are logged, not
// propagated, so one stubborn server cannot block the teardown of the rest.
func (s *Session) Cleanup(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupServers(ctx)
}

func (s *Session) cleanupServers(ctx context.Context) {
	for _, server := range s.servers {
		if err := server.Cleanup(ctx); err != nil {
			log.Warn().Err(err).Str("server", server.Name()).Msg("warning during server cleanup")
		}
	}
}

// resetLocked rebuilds the system message from the cached tool catalog and
// replaces the entire message log with it. Any pending approval is dropped.
func (s *Session) resetLocked() {
	var descriptions []string
	for _, descs := range s.catalog {
		for _, desc := range descs {
			descriptions = append(descriptions, desc.FormatForLLM())
		}
	}

	prompt := fmt.Sprintf(systemPromptTemplate,
		strings.Join(descriptions, "\n"),
		s.extractor.Instructions(),
	)
	s.messages = []llm.Message{{Role: llm.RoleSystem, Content: prompt}}
	s.pendingID = ""
	s.pendingCall = nil
}

// Submit handles one user turn. It fails with ErrApprovalPending while a
// tool approval is outstanding. The exit and reset keywords short-circuit to
// a reset without being appended as user messages; anything else is appended
// and forwarded to the provider, whose answer either becomes a plain
// assistant turn or parks the session in the awaiting-approval state.
func (s *Session) Submit(ctx context.Context, userText string) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingID != "" {
		return nil, ErrApprovalPending
	}

	switch strings.ToLower(strings.TrimSpace(userText)) {
	case keywordExit, keywordQuit, keywordClear:
		s.resetLocked()
		return &Outcome{Message: "Session was reset"}, nil
	}

	s.messages = append(s.messages, llm.Message{Role: llm.RoleUser, Content: userText})
	return s.completeTurnLocked(ctx), nil
}

// SubmitStream is Submit with incremental delivery: each provider delta is
// surfaced as an Event before the final Outcome event. The full assistant
// turn is accumulated locally and appended to the log exactly once, after
// the provider's final event. If the context is cancelled before that final
// event, nothing is appended and the log is unchanged.
//
// The session mutex is held from the synchronous portion of this call until
// the stream finishes, so a concurrent Submit or Approve observes
// ErrApprovalPending/serialization exactly as in the non-streaming path.
func (s *Session) SubmitStream(ctx context.Context, userText string) (<-chan Event, error) {
	s.mu.Lock()

	if s.pendingID != "" {
		s.mu.Unlock()
		return nil, ErrApprovalPending
	}

	out := make(chan Event, 1)

	switch strings.ToLower(strings.TrimSpace(userText)) {
	case keywordExit, keywordQuit, keywordClear:
		s.resetLocked()
		s.mu.Unlock()
		out <- Event{Outcome: Outcome{Message: "Session was reset"}, Done: true}
		close(out)
		return out, nil
	}

	s.messages = append(s.messages, llm.Message{Role: llm.RoleUser, Content: userText})
	snapshot := make([]llm.Message, len(s.messages))
	copy(snapshot, s.messages)

	go func() {
		// The lock travels into this goroutine and is released only after
		// the stream is fully resolved, keeping log mutations serialized.
		defer s.mu.Unlock()
		defer close(out)

		stream := s.client.GetResponseStream(ctx, snapshot)
		var accumulated strings.Builder
		sawFinal := false

	drain:
		for resp := range stream {
			accumulated.WriteString(resp.Content)
			if resp.Done {
				sawFinal = true
				break
			}
			event := Event{
				Role:      string(resp.Role),
				Content:   resp.Content,
				Model:     resp.Model,
				CreatedAt: resp.CreatedAt.Unix(),
			}
			select {
			case out <- event:
			case <-ctx.Done():
				break drain
			}
		}

		if !sawFinal || ctx.Err() != nil {
			// Torn down before the provider finished; the partial
			// accumulation is discarded and the user turn retracted so the
			// next call sees a consistent log.
			s.messages = s.messages[:len(s.messages)-1]
			log.Debug().Str("session", s.id).Msg("stream ended early, log left unchanged")
			return
		}

		outcome := s.handleAssistantTurnLocked(accumulated.String())
		select {
		case out <- Event{Outcome: *outcome, Done: true}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

// Approve resolves the pending tool approval. A mismatched or stale request
// id fails with ErrUnknownRequest and mutates nothing. Denial clears the
// pending approval and returns a denied outcome. Approval executes the tool
// on the first server whose catalog contains it, appends the result to the
// log as a system turn, and immediately re-enters the provider so the model
// can interpret the result; that next turn may itself request another tool.
// On every exit path the original pending approval is cleared.
//
// The continuation is always answered as one complete Outcome, even on
// sessions configured to stream submits; incremental delivery is a
// submit-path affordance only.
func (s *Session) Approve(ctx context.Context, requestID string, approve bool) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingID == "" || s.pendingID != requestID || s.pendingCall == nil {
		return nil, ErrUnknownRequest
	}

	call := *s.pendingCall
	// Clear before doing anything else: the provider re-entry below may
	// legitimately install a new pending approval, which must not be
	// clobbered afterwards.
	s.pendingID = ""
	s.pendingCall = nil

	if !approve {
		log.Info().Str("session", s.id).Str("tool", call.Tool).Msg("tool execution denied")
		return &Outcome{Message: "Tool execution denied"}, nil
	}

	server := s.findServerLocked(call.Tool)
	if server == nil {
		log.Warn().Str("session", s.id).Str("tool", call.Tool).Msg("no server advertises requested tool")
		return &Outcome{Message: fmt.Sprintf("No server found with tool: %s", call.Tool)}, nil
	}

	result, err := server.ExecuteTool(ctx, call.Tool, call.Arguments)
	if err != nil {
		log.Error().Err(err).Str("session", s.id).Str("tool", call.Tool).Msg("tool execution failed")
		return &Outcome{Message: fmt.Sprintf("Error executing tool: %v", err)}, nil
	}

	log.Info().Str("session", s.id).Str("tool", call.Tool).Str("server", server.Name()).Msg("tool executed")

	// The result lands in the log before the next provider call so the
	// model's next turn can reference it.
	s.messages = append(s.messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: fmt.Sprintf("Tool execution result: %s", result),
	})
	return s.completeTurnLocked(ctx), nil
}

// GetState returns a snapshot of the session's messages and pending approval.
func (s *Session) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]llm.Message, len(s.messages))
	copy(messages, s.messages)

	state := State{Messages: messages, PendingRequestID: s.pendingID}
	if s.pendingCall != nil {
		call := *s.pendingCall
		state.PendingToolCall = &call
	}
	return state
}

// completeTurnLocked calls the provider over the current log and resolves
// the answer into an Outcome. Approval continuations reuse it, which is how
// chained tool calls re-enter the awaiting-approval state.
func (s *Session) completeTurnLocked(ctx context.Context) *Outcome {
	snapshot := make([]llm.Message, len(s.messages))
	copy(snapshot, s.messages)
	resp := s.client.GetResponse(ctx, snapshot)
	return s.handleAssistantTurnLocked(resp.Content)
}

// handleAssistantTurnLocked runs extraction over a completed assistant turn.
// The raw text is appended as the assistant's turn in both branches: even
// when it encodes a tool call it stays in the log, invisible to the caller,
// so the model keeps its own context for the turn after execution.
func (s *Session) handleAssistantTurnLocked(content string) *Outcome {
	s.messages = append(s.messages, llm.Message{Role: llm.RoleAssistant, Content: content})

	call, found := s.extractor.Extract(content)
	if !found {
		return &Outcome{Message: content}
	}

	requestID := uuid.NewString()
	s.pendingID = requestID
	s.pendingCall = &call

	log.Info().
		Str("session", s.id).
		Str("tool", call.Tool).
		Str("request_id", requestID).
		Msg("tool call detected, awaiting approval")

	return &Outcome{
		Message:          describeToolCall(call),
		RequestID:        requestID,
		RequiresApproval: true,
		Tool:             &call,
	}
}

// findServerLocked returns the first server whose cached catalog contains
// the tool. Tool names are assumed unique across servers; first match wins.
func (s *Session) findServerLocked(tool string) tools.Server {
	for i, descs := range s.catalog {
		for _, desc := range descs {
			if desc.Name == tool {
				return s.servers[i]
			}
		}
	}
	return nil
}

func describeToolCall(call extract.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Approval required to execute tool '%s'", call.Tool)
	if len(call.Arguments) > 0 {
		b.WriteString(" with arguments:")
		for _, key := range sortedArgKeys(call.Arguments) {
			fmt.Fprintf(&b, "\n  %s: %s", key, call.Arguments[key])
		}
	}
	return b.String()
}

func sortedArgKeys(args map[string]string) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
