package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottleDisabled(t *testing.T) {
	th := newThrottle(0)
	start := time.Now()
	require.NoError(t, th.wait(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	assert.Zero(t, newThrottle(-1).interval)
}

func TestThrottleInterval(t *testing.T) {
	th := newThrottle(100)
	assert.Equal(t, 10*time.Millisecond, th.interval)

	start := time.Now()
	require.NoError(t, th.wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestThrottleCancellation(t *testing.T) {
	th := newThrottle(1) // one second per call
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- th.wait(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("wait did not observe cancellation")
	}
}

func TestErrorResponseSentinel(t *testing.T) {
	resp := errorResponse("m", assert.AnError)
	assert.Equal(t, RoleSystem, resp.Role)
	assert.True(t, resp.Done)
	assert.Contains(t, resp.Content, "I encountered an error")
	assert.Contains(t, resp.Content, "Please try again or rephrase your request.")
	assert.True(t, IsTransportError(resp))

	assert.False(t, IsTransportError(nil))
	assert.False(t, IsTransportError(&Response{Role: RoleAssistant}))
}
