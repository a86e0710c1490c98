package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/webfetch"
	"github.com/parleyhq/parley/pkg/types"
)

func sseHandler(t *testing.T, tokens []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		for _, tok := range tokens {
			quoted, _ := json.Marshal(tok)
			fmt.Fprintf(w, `data: {"choices":[{"delta":{"content":%s}}]}`+"\n\n", quoted)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func TestCustomInvokeStreams(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, []string{"streamed ", "answer"}))
	defer server.Close()

	adapter := NewCustomAdapter("my-lab", &AdapterConfig{Endpoint: server.URL}, nil)
	sink := &collectSink{}

	resp, err := adapter.Invoke(context.Background(), &InvokeRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "q"}},
		Sink:     sink,
	})
	require.NoError(t, err)

	assert.Equal(t, "streamed answer", resp.Content)
	assert.Equal(t, []string{"streamed ", "answer"}, sink.tokens())
}

func TestCustomInvokeToleratesMalformedFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, ": keep-alive comment\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"ok"}}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	adapter := NewCustomAdapter("lab", &AdapterConfig{Endpoint: server.URL}, nil)
	resp, err := adapter.Invoke(context.Background(), &InvokeRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "q"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestCustomInvokeNoEndpoint(t *testing.T) {
	adapter := NewCustomAdapter("lab", &AdapterConfig{}, nil)
	_, err := adapter.Invoke(context.Background(), &InvokeRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "q"}},
	})
	assert.Error(t, err)
	assert.False(t, adapter.Available())
}

func TestCustomInvokeRunsSubAgent(t *testing.T) {
	// The page the sub-agent will be told to fetch.
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Release Notes</title></head><body><p>Version 2 is out.</p></body></html>`)
	}))
	defer page.Close()

	var mainPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var creq openaiChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creq))

		if !creq.Stream {
			// Decision call from the sub-agent.
			decision, _ := json.Marshal(fmt.Sprintf(`{"webUrl": 1, "url": %q}`, page.URL))
			fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%s}}]}`, decision)
			return
		}

		// Main streamed completion; capture the system prompt it was given.
		mainPrompt = creq.Messages[0].Content
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"done"}}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	adapter := NewCustomAdapter("lab", &AdapterConfig{Endpoint: server.URL}, webfetch.NewFetcher(5*time.Second))
	resp, err := adapter.Invoke(context.Background(), &InvokeRequest{
		Messages:     []types.Message{{Role: types.RoleUser, Content: "what's new?"}},
		SystemPrompt: "be helpful",
	})
	require.NoError(t, err)

	assert.Equal(t, "done", resp.Content)
	assert.Contains(t, mainPrompt, "be helpful")
	assert.Contains(t, mainPrompt, "Release Notes", "fetched page must reach the main prompt")
	assert.Contains(t, mainPrompt, "Version 2 is out.")
}

func TestCustomComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var creq openaiChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creq))
		assert.False(t, creq.Stream)
		assert.Equal(t, "system", creq.Messages[0].Role)

		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"{\"webUrl\": 0, \"url\": \"\"}"}}]}`)
	}))
	defer server.Close()

	adapter := NewCustomAdapter("lab", &AdapterConfig{Endpoint: server.URL}, nil)
	out, err := adapter.Complete(context.Background(), "decide", []types.Message{{Role: types.RoleUser, Content: "q"}})
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, `"webUrl": 0`))
}
