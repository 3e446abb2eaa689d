package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Executor is the interface every in-process tool implements.
//
// By having all builtin tools implement this interface, the LocalServer can
// manage and execute them in a plug-and-play fashion without knowing the
// specifics of each tool.
type Executor interface {
	// Definition returns the tool's descriptor, which is embedded in the
	// system prompt so the model understands the tool's capabilities.
	Definition() Descriptor

	// Execute runs the tool with the uniform string-keyed argument mapping
	// and returns a text result that is fed back to the model.
	Execute(ctx context.Context, arguments map[string]string) (string, error)
}

// LocalServer is an in-process tool server: a registry of Executors behind
// the same Server interface that external MCP processes expose.
type LocalServer struct {
	name        string
	tools       map[string]Executor
	order       []string
	initialized bool
}

var _ Server = (*LocalServer)(nil)

// NewLocalServer creates an empty in-process tool server.
func NewLocalServer(name string) *LocalServer {
	return &LocalServer{
		name:  name,
		tools: make(map[string]Executor),
	}
}

// Register adds a tool to the server's registry. Registration order is
// preserved so the catalog (and the system prompt built from it) is stable.
func (s *LocalServer) Register(tool Executor) {
	name := tool.Definition().Name
	if _, exists := s.tools[name]; !exists {
		s.order = append(s.order, name)
	}
	s.tools[name] = tool
}

// Name identifies the server.
func (s *LocalServer) Name() string { return s.name }

// Initialize marks the server ready. In-process tools need no handshake, but
// the contract is honored so sessions treat all servers identically.
func (s *LocalServer) Initialize(ctx context.Context) error {
	s.initialized = true
	log.Debug().Str("server", s.name).Int("tools", len(s.tools)).Msg("local tool server initialized")
	return nil
}

// ListTools returns the registered descriptors in registration order.
func (s *LocalServer) ListTools(ctx context.Context) ([]Descriptor, error) {
	if !s.initialized {
		return nil, fmt.Errorf("server %s not initialized", s.name)
	}
	descs := make([]Descriptor, 0, len(s.tools))
	for _, name := range s.order {
		descs = append(descs, s.tools[name].Definition())
	}
	return descs, nil
}

// ExecuteTool runs a registered tool by name.
func (s *LocalServer) ExecuteTool(ctx context.Context, name string, arguments map[string]string) (string, error) {
	if !s.initialized {
		return "", fmt.Errorf("server %s not initialized", s.name)
	}
	tool, ok := s.tools[name]
	if !ok {
		return "", fmt.Errorf("tool '%s' not found", name)
	}
	log.Info().Str("server", s.name).Str("tool", name).Msg("executing tool")
	return tool.Execute(ctx, arguments)
}

// Cleanup resets the server.
func (s *LocalServer) Cleanup(ctx context.Context) error {
	s.initialized = false
	return nil
}

// ToolCount returns the number of registered tools.
func (s *LocalServer) ToolCount() int {
	return len(s.tools)
}

// objectSchema is a helper for builtin tools to declare their argument
// schema without hand-writing JSON.
func objectSchema(properties map[string]schemaProperty, required ...string) json.RawMessage {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	data, err := json.Marshal(schema)
	if err != nil {
		// The inputs are static literals; a marshal failure is a programming error.
		panic(err)
	}
	return data
}

type schemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}
