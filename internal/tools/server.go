// Package tools defines the tool-server collaborator contract and the
// concrete servers the host ships with. A tool server exposes a catalog of
// invocable tools plus execution; the session layer treats every server
// uniformly through the Server interface, whether the tools run in-process
// or behind an external MCP process.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Server is an external collaborator exposing a tool catalog and execution.
//
// Initialize failures are fatal to session startup; the session cleans up all
// already-initialized servers before reporting the failure. The catalog
// returned by ListTools is fetched once at session init and treated as
// read-only for the session's life.
type Server interface {
	// Name identifies the server in logs and the session's catalog.
	Name() string
	// Initialize prepares the server for use.
	Initialize(ctx context.Context) error
	// ListTools returns the server's tool catalog.
	ListTools(ctx context.Context) ([]Descriptor, error)
	// ExecuteTool runs the named tool with a uniform string-keyed argument
	// mapping and returns its result as text.
	ExecuteTool(ctx context.Context, name string, arguments map[string]string) (string, error)
	// Cleanup releases the server's resources.
	Cleanup(ctx context.Context) error
}

// Descriptor describes one tool: its name (unique per server), what it does,
// and a JSON Schema for its arguments.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// descriptorSchema is the subset of JSON Schema FormatForLLM renders.
type descriptorSchema struct {
	Properties map[string]struct {
		Type        string `json:"type"`
		Description string `json:"description"`
	} `json:"properties"`
	Required []string `json:"required"`
}

// FormatForLLM renders the descriptor as the human/model-readable block that
// gets embedded in the session's system prompt.
func (d Descriptor) FormatForLLM() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tool: %s\n", d.Name)
	fmt.Fprintf(&b, "Description: %s\n", d.Description)

	var schema descriptorSchema
	if len(d.InputSchema) > 0 && json.Unmarshal(d.InputSchema, &schema) == nil && len(schema.Properties) > 0 {
		required := make(map[string]bool, len(schema.Required))
		for _, name := range schema.Required {
			required[name] = true
		}
		b.WriteString("Arguments:\n")
		for _, name := range sortedKeys(schema.Properties) {
			prop := schema.Properties[name]
			fmt.Fprintf(&b, "- %s: %s", name, prop.Description)
			if required[name] {
				b.WriteString(" (required)")
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
