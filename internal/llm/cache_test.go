package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingClient struct {
	calls int
	resp  *Response
}

func (r *recordingClient) GetResponse(ctx context.Context, messages []Message) *Response {
	r.calls++
	return r.resp
}

func (r *recordingClient) GetResponseStream(ctx context.Context, messages []Message) <-chan *Response {
	out := make(chan *Response, 1)
	out <- r.resp
	close(out)
	return out
}

func TestNewCachingClientWithoutRedis(t *testing.T) {
	inner := &recordingClient{resp: &Response{Role: RoleAssistant, Content: "ok", Done: true}}

	// No Redis configured means no decoration at all.
	client := NewCachingClient(inner, nil, "m")
	assert.Same(t, Client(inner), client)

	resp := client.GetResponse(context.Background(), nil)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 1, inner.calls)
}

func TestCacheKeyTracksConversation(t *testing.T) {
	c := &CachingClient{model: "m"}

	keyA, ok := c.cacheKey([]Message{{Role: RoleUser, Content: "hi"}})
	require.True(t, ok)
	keyB, ok := c.cacheKey([]Message{{Role: RoleUser, Content: "hi"}})
	require.True(t, ok)
	assert.Equal(t, keyA, keyB, "identical conversations must share a key")

	keyC, ok := c.cacheKey([]Message{{Role: RoleUser, Content: "hello"}})
	require.True(t, ok)
	assert.NotEqual(t, keyA, keyC, "diverging conversations must not share a key")

	other := &CachingClient{model: "other"}
	keyD, ok := other.cacheKey([]Message{{Role: RoleUser, Content: "hi"}})
	require.True(t, ok)
	assert.NotEqual(t, keyA, keyD, "different models must not share a key")
}
