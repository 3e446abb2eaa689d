package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinServerCatalog(t *testing.T) {
	srv := NewBuiltinServer(t.TempDir())
	require.NoError(t, srv.Initialize(context.Background()))

	descs, err := srv.ListTools(context.Background())
	require.NoError(t, err)

	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	assert.Equal(t, []string{"list_files", "read_file", "write_file", "exec_cli", "calculate"}, names)
}

func TestListFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	tool := &ListFilesTool{Root: root}
	out, err := tool.Execute(context.Background(), map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "a.txt\nb.txt\nsub/", out)

	out, err = tool.Execute(context.Background(), map[string]string{"path": "sub"})
	require.NoError(t, err)
	assert.Equal(t, "(empty directory)", out)
}

func TestReadFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello world"), 0o644))

	tool := &ReadFileTool{Root: root}
	out, err := tool.Execute(context.Background(), map[string]string{"path": "hello.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)

	_, err = tool.Execute(context.Background(), map[string]string{"path": "missing.txt"})
	assert.Error(t, err)

	_, err = tool.Execute(context.Background(), map[string]string{})
	assert.Error(t, err)
}

func TestWriteFileCreatesParents(t *testing.T) {
	root := t.TempDir()
	tool := &WriteFileTool{Root: root}

	out, err := tool.Execute(context.Background(), map[string]string{
		"path":    "nested/dir/out.txt",
		"content": "written",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "nested/dir/out.txt")

	data, err := os.ReadFile(filepath.Join(root, "nested", "dir", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "written", string(data))
}

func TestPathsConfinedToRoot(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(filepath.Dir(root), "outside.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))

	read := &ReadFileTool{Root: root}
	// filepath.Clean("/..") strips the traversal, so the read lands inside
	// the root and fails as missing rather than escaping.
	_, err := read.Execute(context.Background(), map[string]string{"path": "../outside.txt"})
	assert.Error(t, err)

	write := &WriteFileTool{Root: root}
	_, err = write.Execute(context.Background(), map[string]string{"path": "../../escape.txt", "content": "x"})
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(filepath.Dir(root), "escape.txt"))
	assert.True(t, os.IsNotExist(statErr), "write must not land outside the root")
	_, statErr = os.Stat(filepath.Join(root, "escape.txt"))
	assert.NoError(t, statErr)
}

func TestExecCLI(t *testing.T) {
	tool := &ExecCLITool{Dir: t.TempDir()}

	out, err := tool.Execute(context.Background(), map[string]string{"command": "echo hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	out, err = tool.Execute(context.Background(), map[string]string{"command": "true"})
	require.NoError(t, err)
	assert.Equal(t, "(no output)", out)

	// A failing command with output reports both rather than erroring.
	out, err = tool.Execute(context.Background(), map[string]string{"command": "echo oops; exit 3"})
	require.NoError(t, err)
	assert.Contains(t, out, "oops")
	assert.Contains(t, out, "command failed")

	_, err = tool.Execute(context.Background(), map[string]string{})
	assert.Error(t, err)
}

func TestExecCLIRunsInDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "marker.txt"), nil, 0o644))

	tool := &ExecCLITool{Dir: root}
	out, err := tool.Execute(context.Background(), map[string]string{"command": "ls"})
	require.NoError(t, err)
	assert.Equal(t, "marker.txt", out)
}

func TestCalculator(t *testing.T) {
	tool := &CalculatorTool{}
	ctx := context.Background()

	cases := []struct {
		op1, operator, op2, want string
	}{
		{"2", "+", "3", "The result is 5."},
		{"10", "-", "4.5", "The result is 5.5."},
		{"6", "*", "7", "The result is 42."},
		{"9", "/", "2", "The result is 4.5."},
		{"1", "/", "0", "Error: Division by zero is not allowed."},
		{"1", "^", "2", "Error: Unsupported operator '^'. Please use +, -, *, or /."},
	}
	for _, tc := range cases {
		out, err := tool.Execute(ctx, map[string]string{
			"operand1": tc.op1, "operator": tc.operator, "operand2": tc.op2,
		})
		require.NoError(t, err)
		assert.Equal(t, tc.want, out)
	}

	_, err := tool.Execute(ctx, map[string]string{"operand1": "x", "operator": "+", "operand2": "1"})
	assert.Error(t, err)
}
