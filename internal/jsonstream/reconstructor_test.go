package jsonstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(emitted *[]string) EmitFunc {
	return func(unit []byte) {
		*emitted = append(*emitted, string(unit))
	}
}

func TestProcessPartCompleteValue(t *testing.T) {
	var r Reconstructor
	var got []string

	r.ProcessPart([]byte(`{"a":1}`), collect(&got))

	require.Len(t, got, 1)
	assert.Equal(t, `{"a":1}`, got[0])
	assert.Empty(t, r.Buffered())
}

func TestProcessPartTwoFragments(t *testing.T) {
	var r Reconstructor
	var got []string

	r.ProcessPart([]byte(`{"a":1`), collect(&got))
	assert.Empty(t, got)
	assert.Equal(t, `{"a":1`, r.Buffered())

	r.ProcessPart([]byte(`}`), collect(&got))
	require.Len(t, got, 1)
	assert.Equal(t, `{"a":1}`, got[0])
	assert.Empty(t, r.Buffered())
}

func TestProcessPartEverySplitPoint(t *testing.T) {
	// Any split of a value must reassemble to that exact value.
	value := `{"model":"m","message":{"role":"assistant","content":"hi there"},"done":false}`
	for i := 1; i < len(value); i++ {
		var r Reconstructor
		var got []string
		r.ProcessPart([]byte(value[:i]), collect(&got))
		r.ProcessPart([]byte(value[i:]), collect(&got))
		require.Len(t, got, 1, "split at %d", i)
		assert.Equal(t, value, got[0], "split at %d", i)
		assert.Empty(t, r.Buffered(), "split at %d", i)
	}
}

func TestProcessPartManyFragments(t *testing.T) {
	var r Reconstructor
	var got []string

	for _, part := range []string{`{"con`, `tent":`, `"ab`, `c"`, `}`} {
		r.ProcessPart([]byte(part), collect(&got))
	}

	require.Len(t, got, 1)
	assert.Equal(t, `{"content":"abc"}`, got[0])
}

func TestProcessPartSequentialValues(t *testing.T) {
	var r Reconstructor
	var got []string

	r.ProcessPart([]byte(`{"n":1}`), collect(&got))
	r.ProcessPart([]byte(`{"n":`), collect(&got))
	r.ProcessPart([]byte(`2}`), collect(&got))

	require.Len(t, got, 2)
	assert.Equal(t, `{"n":1}`, got[0])
	assert.Equal(t, `{"n":2}`, got[1])
}

func TestFinalizeNoopWhenDrained(t *testing.T) {
	var r Reconstructor
	var got []string

	// A bare string fragment is not valid on its own until quoted fully.
	r.ProcessPart([]byte(`"tail`), collect(&got))
	r.ProcessPart([]byte(`"`), collect(&got))
	require.Len(t, got, 1)
	assert.Equal(t, `"tail"`, got[0])

	r.ProcessPart([]byte(`[1,`), collect(&got))
	r.ProcessPart([]byte(`2]`), collect(&got))
	require.Len(t, got, 2)
	assert.Equal(t, `[1,2]`, got[1])

	r.Finalize(collect(&got))
	assert.Len(t, got, 2, "a drained buffer must not re-emit at end of stream")
}

func TestFinalizeDiscardsUndecodableLeftover(t *testing.T) {
	var r Reconstructor
	var got []string

	r.ProcessPart([]byte(`{"never":`), collect(&got))
	r.Finalize(collect(&got))

	assert.Empty(t, got)
	assert.Empty(t, r.Buffered(), "finalize must clear the buffer either way")
}

func TestFinalizeEmitsBufferedValue(t *testing.T) {
	var r Reconstructor
	var got []string

	r.buf.WriteString(`{"done":true}`)
	r.Finalize(collect(&got))

	require.Len(t, got, 1)
	assert.Equal(t, `{"done":true}`, got[0])
	assert.Empty(t, r.Buffered())
}
