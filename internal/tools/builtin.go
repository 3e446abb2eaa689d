package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// NewBuiltinServer assembles the in-process server every session gets: basic
// file access rooted at the session's working directory, shell execution,
// and a calculator.
func NewBuiltinServer(root string) *LocalServer {
	if root == "" {
		root = "."
	}
	srv := NewLocalServer("builtin")
	srv.Register(&ListFilesTool{Root: root})
	srv.Register(&ReadFileTool{Root: root})
	srv.Register(&WriteFileTool{Root: root})
	srv.Register(&ExecCLITool{Dir: root})
	srv.Register(&CalculatorTool{})
	return srv
}

// resolvePath confines a user-supplied relative path to the root directory.
func resolvePath(root, path string) (string, error) {
	if path == "" {
		path = "."
	}
	full := filepath.Join(root, filepath.Clean("/"+path))
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root %q: %w", root, err)
	}
	if abs != rootAbs && !strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the working directory", path)
	}
	return abs, nil
}

// --- List Files Tool ---

// ListFilesTool lists directory entries under the working directory.
type ListFilesTool struct {
	Root string
}

var _ Executor = (*ListFilesTool)(nil)

func (t *ListFilesTool) Definition() Descriptor {
	return Descriptor{
		Name:        "list_files",
		Description: "Lists the files and directories at a path relative to the working directory.",
		InputSchema: objectSchema(map[string]schemaProperty{
			"path": {Type: "string", Description: "Directory to list, relative to the working directory. Defaults to '.'."},
		}),
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, arguments map[string]string) (string, error) {
	dir, err := resolvePath(t.Root, arguments["path"])
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to list %q: %w", arguments["path"], err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(names, "\n"), nil
}

// --- Read File Tool ---

// ReadFileTool returns a file's contents.
type ReadFileTool struct {
	Root string
}

var _ Executor = (*ReadFileTool)(nil)

func (t *ReadFileTool) Definition() Descriptor {
	return Descriptor{
		Name:        "read_file",
		Description: "Reads and returns the contents of a file relative to the working directory.",
		InputSchema: objectSchema(map[string]schemaProperty{
			"path": {Type: "string", Description: "File to read, relative to the working directory."},
		}, "path"),
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, arguments map[string]string) (string, error) {
	if arguments["path"] == "" {
		return "", fmt.Errorf("argument 'path' is required")
	}
	path, err := resolvePath(t.Root, arguments["path"])
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %q: %w", arguments["path"], err)
	}
	return string(data), nil
}

// --- Write File Tool ---

// WriteFileTool creates or overwrites a file.
type WriteFileTool struct {
	Root string
}

var _ Executor = (*WriteFileTool)(nil)

func (t *WriteFileTool) Definition() Descriptor {
	return Descriptor{
		Name:        "write_file",
		Description: "Writes content to a file relative to the working directory, creating it if needed.",
		InputSchema: objectSchema(map[string]schemaProperty{
			"path":    {Type: "string", Description: "File to write, relative to the working directory."},
			"content": {Type: "string", Description: "The full content to write."},
		}, "path", "content"),
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, arguments map[string]string) (string, error) {
	if arguments["path"] == "" {
		return "", fmt.Errorf("argument 'path' is required")
	}
	path, err := resolvePath(t.Root, arguments["path"])
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(arguments["content"]), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %q: %w", arguments["path"], err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(arguments["content"]), arguments["path"]), nil
}

// --- Exec CLI Tool ---

// ExecCLITool runs a shell command in the working directory. Execution is
// always behind the session's approval gate, so the human confirms every
// invocation before it runs.
type ExecCLITool struct {
	Dir     string
	Timeout time.Duration
}

var _ Executor = (*ExecCLITool)(nil)

func (t *ExecCLITool) Definition() Descriptor {
	return Descriptor{
		Name:        "exec_cli",
		Description: "Executes a shell command in the working directory and returns its combined output.",
		InputSchema: objectSchema(map[string]schemaProperty{
			"command": {Type: "string", Description: "The shell command line to execute."},
		}, "command"),
	}
}

func (t *ExecCLITool) Execute(ctx context.Context, arguments map[string]string) (string, error) {
	command := arguments["command"]
	if command == "" {
		return "", fmt.Errorf("argument 'command' is required")
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.Dir
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	result := strings.TrimRight(output.String(), "\n")
	if err != nil {
		if result == "" {
			return "", fmt.Errorf("command failed: %w", err)
		}
		return fmt.Sprintf("%s\n(command failed: %v)", result, err), nil
	}
	if result == "" {
		return "(no output)", nil
	}
	return result, nil
}

// --- Calculator Tool ---

// CalculatorTool performs basic arithmetic over structured operands, which
// avoids fragile expression parsing.
type CalculatorTool struct{}

var _ Executor = (*CalculatorTool)(nil)

func (ct *CalculatorTool) Definition() Descriptor {
	return Descriptor{
		Name:        "calculate",
		Description: "Performs a basic arithmetic calculation (add, subtract, multiply, divide).",
		InputSchema: objectSchema(map[string]schemaProperty{
			"operand1": {Type: "number", Description: "The first number in the calculation."},
			"operator": {Type: "string", Description: "The operator to use. Must be one of '+', '-', '*', '/'."},
			"operand2": {Type: "number", Description: "The second number in the calculation."},
		}, "operand1", "operator", "operand2"),
	}
}

func (ct *CalculatorTool) Execute(ctx context.Context, arguments map[string]string) (string, error) {
	operand1, err := strconv.ParseFloat(arguments["operand1"], 64)
	if err != nil {
		return "", fmt.Errorf("invalid operand1 %q: %w", arguments["operand1"], err)
	}
	operand2, err := strconv.ParseFloat(arguments["operand2"], 64)
	if err != nil {
		return "", fmt.Errorf("invalid operand2 %q: %w", arguments["operand2"], err)
	}

	var result float64
	switch arguments["operator"] {
	case "+":
		result = operand1 + operand2
	case "-":
		result = operand1 - operand2
	case "*":
		result = operand1 * operand2
	case "/":
		if operand2 == 0 {
			// A readable message the model can relay, not a hard error.
			return "Error: Division by zero is not allowed.", nil
		}
		result = operand1 / operand2
	default:
		return fmt.Sprintf("Error: Unsupported operator '%s'. Please use +, -, *, or /.", arguments["operator"]), nil
	}

	// %g avoids trailing zeros (e.g. "10.000000").
	return fmt.Sprintf("The result is %g.", result), nil
}
