package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dileep-u-k/agent-host/internal/tools"
)

func TestManagerCreateGetRemove(t *testing.T) {
	m := NewManager()
	assert.Equal(t, 0, m.Count())

	server := weatherServer()
	sess, err := m.Create(context.Background(), Options{
		Servers: []tools.Server{server},
		Client:  &scriptedClient{},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID())
	assert.Equal(t, 1, m.Count())
	assert.True(t, server.initialized)

	got, ok := m.Get(sess.ID())
	require.True(t, ok)
	assert.Same(t, sess, got)

	_, ok = m.Get("no-such-id")
	assert.False(t, ok)

	assert.True(t, m.Remove(context.Background(), sess.ID()))
	assert.Equal(t, 0, m.Count())
	assert.True(t, server.cleanedUp)
	assert.False(t, m.Remove(context.Background(), sess.ID()), "double remove reports missing")
}

func TestManagerIsolatesSessions(t *testing.T) {
	m := NewManager()

	a, err := m.Create(context.Background(), Options{Client: &scriptedClient{replies: []string{"answer a"}}})
	require.NoError(t, err)
	b, err := m.Create(context.Background(), Options{Client: &scriptedClient{replies: []string{"answer b"}}})
	require.NoError(t, err)
	require.NotEqual(t, a.ID(), b.ID())

	_, err = a.Submit(context.Background(), "question")
	require.NoError(t, err)

	assert.Len(t, a.GetState().Messages, 3)
	assert.Len(t, b.GetState().Messages, 1, "one session's turns must not leak into another")
}

func TestManagerCreateFailureLeavesNothingBehind(t *testing.T) {
	m := NewManager()

	healthy := weatherServer()
	broken := &fakeServer{name: "broken", initErr: fmt.Errorf("no binary")}
	_, err := m.Create(context.Background(), Options{
		Servers: []tools.Server{healthy, broken},
		Client:  &scriptedClient{},
	})
	require.Error(t, err)
	assert.Equal(t, 0, m.Count())
	assert.True(t, healthy.cleanedUp)
}

func TestManagerShutdown(t *testing.T) {
	m := NewManager()

	servers := []*fakeServer{weatherServer(), weatherServer()}
	for _, srv := range servers {
		_, err := m.Create(context.Background(), Options{
			Servers: []tools.Server{srv},
			Client:  &scriptedClient{},
		})
		require.NoError(t, err)
	}
	require.Equal(t, 2, m.Count())

	m.Shutdown(context.Background())
	assert.Equal(t, 0, m.Count())
	for i, srv := range servers {
		assert.True(t, srv.cleanedUp, "server %d", i)
	}
}
