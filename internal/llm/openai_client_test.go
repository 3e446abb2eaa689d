package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAIClient(t *testing.T, baseURL string) *OpenAIClient {
	t.Helper()
	client, err := NewOpenAIClient(&Config{Model: "test-model", BaseURL: baseURL, APIKey: "sk-test"})
	require.NoError(t, err)
	client.retryDelay = time.Millisecond
	return client
}

func TestNewOpenAIClientRequiresModel(t *testing.T) {
	_, err := NewOpenAIClient(&Config{})
	assert.Error(t, err)
	_, err = NewOpenAIClient(nil)
	assert.Error(t, err)
}

func TestOpenAIGetResponse(t *testing.T) {
	var gotReq openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		fmt.Fprint(w, `{"model":"test-model","created":1700000000,"choices":[{"message":{"role":"assistant","content":"hello"}}]}`)
	}))
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL)
	resp := client.GetResponse(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})

	require.False(t, IsTransportError(resp), "unexpected error sentinel: %s", resp.Content)
	assert.Equal(t, RoleAssistant, resp.Role)
	assert.Equal(t, "hello", resp.Content)
	assert.True(t, resp.Done)

	assert.False(t, gotReq.Stream)
	assert.Equal(t, defaultMaxTokens, gotReq.MaxTokens)
	assert.InDelta(t, defaultTopP, gotReq.TopP, 1e-6)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "hi", gotReq.Messages[0].Content)
}

func TestOpenAIGetResponseClientErrorNotRetried(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL)
	resp := client.GetResponse(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})

	assert.True(t, IsTransportError(resp))
	assert.Contains(t, resp.Content, "I encountered an error")
	assert.Equal(t, 1, calls)
}

func TestOpenAIGetResponseRetriesServerErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "upstream overloaded", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"model":"test-model","choices":[{"message":{"role":"assistant","content":"recovered"}}]}`)
	}))
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL)
	resp := client.GetResponse(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})

	require.False(t, IsTransportError(resp))
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, 3, calls)
}

func TestOpenAIGetResponseExhaustedRetries(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL)
	resp := client.GetResponse(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})

	assert.True(t, IsTransportError(resp))
	assert.Equal(t, maxRetries, calls)
}

func TestOpenAIGetResponseStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"model\":\"test-model\",\"choices\":[{\"delta\":{\"role\":\"assistant\",\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive comment\n\n")
		fmt.Fprint(w, "data: {\"model\":\"test-model\",\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL)
	var got []*Response
	for resp := range client.GetResponseStream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}) {
		got = append(got, resp)
	}

	require.Len(t, got, 3)
	assert.Equal(t, "Hel", got[0].Content)
	assert.False(t, got[0].Done)
	assert.Equal(t, "lo", got[1].Content)
	assert.True(t, got[2].Done, "sequence must end with a done response")
	assert.Empty(t, got[2].Content)
}

func TestOpenAIStreamWithoutDoneSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		// Connection closes with no [DONE].
	}))
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL)
	var got []*Response
	for resp := range client.GetResponseStream(context.Background(), nil) {
		got = append(got, resp)
	}

	require.Len(t, got, 2)
	assert.Equal(t, "partial", got[0].Content)
	assert.True(t, got[1].Done)
}

func TestOpenAIStreamUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such model", http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL)
	var got []*Response
	for resp := range client.GetResponseStream(context.Background(), nil) {
		got = append(got, resp)
	}

	require.Len(t, got, 1)
	assert.True(t, IsTransportError(got[0]))
	assert.True(t, got[0].Done)
	assert.Contains(t, got[0].Content, "Please try again or rephrase your request.")
}

func TestOpenAIStreamAbandonedByCaller(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL)
	before := runtime.NumGoroutine()

	// Start streams, never read them, and walk away. The terminal Done send
	// must not pin the stream goroutine once the context is gone.
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		client.GetResponseStream(ctx, nil)
		cancel()
	}

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, 2*time.Second, 10*time.Millisecond, "abandoned stream goroutines must exit")
}

func TestOpenAITemperatureForwarded(t *testing.T) {
	var gotReq openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer server.Close()

	temp := float32(0.2)
	client, err := NewOpenAIClient(&Config{Model: "m", BaseURL: server.URL, Temperature: &temp})
	require.NoError(t, err)
	client.GetResponse(context.Background(), nil)

	require.NotNil(t, gotReq.Temperature)
	assert.InDelta(t, 0.2, float64(*gotReq.Temperature), 1e-6)
}
