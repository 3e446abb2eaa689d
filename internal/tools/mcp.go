package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MCP JSON-RPC messages.
type mcpRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      any    `json:"id,omitempty"`
}

type mcpResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *mcpError       `json:"error,omitempty"`
	ID      any             `json:"id"`
}

type mcpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type mcpToolList struct {
	Tools []Descriptor `json:"tools"`
}

type mcpCallResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

const mcpCallTimeout = 30 * time.Second

// MCPServer speaks the Model Context Protocol to an external tool server
// process over stdio JSON-RPC 2.0.
type MCPServer struct {
	name    string
	command string
	args    []string

	mu      sync.Mutex
	process *exec.Cmd
	stdin   io.WriteCloser
	id      int
	pending map[int]chan *mcpResponse
}

var _ Server = (*MCPServer)(nil)

// NewMCPServer creates an adapter for an MCP server launched as
// `command args...`. The process is not spawned until Initialize.
func NewMCPServer(name, command string, args []string) *MCPServer {
	return &MCPServer{
		name:    name,
		command: command,
		args:    args,
		pending: make(map[int]chan *mcpResponse),
	}
}

// Name identifies the server.
func (s *MCPServer) Name() string { return s.name }

// Initialize spawns the server process and performs the MCP handshake.
func (s *MCPServer) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.process != nil {
		s.mu.Unlock()
		return nil
	}

	cmd := exec.Command(s.command, s.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to start %s: %w", s.command, err)
	}

	s.process = cmd
	s.stdin = stdin
	s.mu.Unlock()

	go s.listen(stdout)

	params := map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "agent-host",
			"version": "1.0.0",
		},
	}
	if _, err := s.call(ctx, "initialize", params); err != nil {
		s.shutdownProcess()
		return fmt.Errorf("initialize handshake with %s failed: %w", s.name, err)
	}

	log.Info().Str("server", s.name).Str("command", s.command).Msg("MCP server initialized")
	return nil
}

// listen routes responses from the server's stdout to their waiting callers.
func (s *MCPServer) listen(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var resp mcpResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			log.Error().Err(err).Str("server", s.name).Msg("failed to unmarshal MCP response")
			continue
		}
		id, ok := resp.ID.(float64)
		if !ok {
			continue // notification, nothing waits on it
		}
		s.mu.Lock()
		ch, exists := s.pending[int(id)]
		if exists {
			delete(s.pending, int(id))
		}
		s.mu.Unlock()
		if exists {
			ch <- &resp
		}
	}
}

// call sends one JSON-RPC request and waits for its response.
func (s *MCPServer) call(ctx context.Context, method string, params any) (*mcpResponse, error) {
	s.mu.Lock()
	if s.stdin == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("server %s not initialized", s.name)
	}
	s.id++
	id := s.id
	ch := make(chan *mcpResponse, 1)
	s.pending[id] = ch
	stdin := s.stdin
	s.mu.Unlock()

	req := mcpRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(stdin, string(data)+"\n"); err != nil {
		return nil, fmt.Errorf("failed to write to %s: %w", s.name, err)
	}

	select {
	case resp := <-ch:
		if resp == nil {
			return nil, fmt.Errorf("server %s shut down mid-call", s.name)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("MCP error (%d): %s", resp.Error.Code, resp.Error.Message)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(mcpCallTimeout):
		return nil, fmt.Errorf("MCP request %s timed out", method)
	}
}

// ListTools fetches the server's tool catalog.
func (s *MCPServer) ListTools(ctx context.Context) ([]Descriptor, error) {
	resp, err := s.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var list mcpToolList
	if err := json.Unmarshal(resp.Result, &list); err != nil {
		return nil, fmt.Errorf("failed to decode tool list from %s: %w", s.name, err)
	}
	return list.Tools, nil
}

// ExecuteTool invokes a tool on the server and flattens the MCP content
// blocks into a single text result.
func (s *MCPServer) ExecuteTool(ctx context.Context, name string, arguments map[string]string) (string, error) {
	params := map[string]any{
		"name":      name,
		"arguments": arguments,
	}
	resp, err := s.call(ctx, "tools/call", params)
	if err != nil {
		return "", err
	}

	var result mcpCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("failed to decode tool result from %s: %w", s.name, err)
	}

	var parts []string
	for _, block := range result.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if result.IsError {
		return "", fmt.Errorf("tool %s failed: %s", name, text)
	}
	return text, nil
}

// Cleanup terminates the server process.
func (s *MCPServer) Cleanup(ctx context.Context) error {
	s.shutdownProcess()
	return nil
}

func (s *MCPServer) shutdownProcess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin != nil {
		s.stdin.Close()
		s.stdin = nil
	}
	if s.process != nil {
		if s.process.Process != nil {
			_ = s.process.Process.Kill()
		}
		_ = s.process.Wait()
		s.process = nil
	}
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}
