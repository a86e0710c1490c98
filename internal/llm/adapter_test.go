package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parleyhq/parley/pkg/types"
)

func TestSplitReasoning(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		wantAnswer    string
		wantReasoning string
	}{
		{
			name:       "no think block",
			content:    "plain answer",
			wantAnswer: "plain answer",
		},
		{
			name:          "leading think block",
			content:       "<think>weighing options</think>the answer",
			wantAnswer:    "the answer",
			wantReasoning: "weighing options",
		},
		{
			name:       "unterminated think block left intact",
			content:    "<think>never closed",
			wantAnswer: "<think>never closed",
		},
		{
			name:          "text around the block",
			content:       "before <think>hmm</think> after",
			wantAnswer:    "before  after",
			wantReasoning: "hmm",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answer, reasoning := splitReasoning(tt.content)
			assert.Equal(t, tt.wantAnswer, answer)
			assert.Equal(t, tt.wantReasoning, reasoning)
		})
	}
}

func TestSystemPrompt(t *testing.T) {
	t.Run("bare prompt", func(t *testing.T) {
		req := &InvokeRequest{SystemPrompt: "be helpful"}
		assert.Equal(t, "be helpful", systemPrompt(req))
	})

	t.Run("retrieval context folded in", func(t *testing.T) {
		req := &InvokeRequest{
			SystemPrompt: "be helpful",
			Retrieval: types.NewRetrievalResult([]types.RetrievedChunk{
				{Content: "the sky is blue", Metadata: "facts.txt"},
			}),
		}
		got := systemPrompt(req)
		assert.Contains(t, got, "be helpful")
		assert.Contains(t, got, "the sky is blue")
		assert.Contains(t, got, "facts.txt")
	})

	t.Run("empty retrieval adds nothing", func(t *testing.T) {
		req := &InvokeRequest{
			SystemPrompt: "be helpful",
			Retrieval:    types.NewRetrievalResult(nil),
		}
		assert.Equal(t, "be helpful", systemPrompt(req))
	})

	t.Run("oversized retrieval context is capped", func(t *testing.T) {
		// The second chunk exhausts the token budget; the third must not
		// be folded in.
		req := &InvokeRequest{
			SystemPrompt: "be helpful",
			Retrieval: types.NewRetrievalResult([]types.RetrievedChunk{
				{Content: "small chunk"},
				{Content: strings.Repeat("x", 4*maxRetrievalTokens)},
				{Content: "chunk past the budget"},
			}),
		}
		got := systemPrompt(req)
		assert.Contains(t, got, "small chunk")
		assert.NotContains(t, got, "chunk past the budget")
	})

	t.Run("extra context blocks appended", func(t *testing.T) {
		req := &InvokeRequest{SystemPrompt: "be helpful"}
		got := systemPrompt(req, "web context here", "")
		assert.Contains(t, got, "web context here")
	})
}

func TestFinalize(t *testing.T) {
	req := &InvokeRequest{
		Messages:       []types.Message{{Role: types.RoleUser, Content: "hi"}},
		ConversationID: 42,
		Title:          "Greetings",
	}

	resp := finalize(req, "hello there", "thought about it", false)

	assert.Equal(t, int64(42), resp.ID)
	assert.Equal(t, "Greetings", resp.Title)
	assert.False(t, resp.Aborted)

	if assert.Len(t, resp.Messages, 2) {
		last := resp.Messages[1]
		assert.Equal(t, types.RoleAssistant, last.Role)
		assert.Equal(t, "hello there", last.Content)
		assert.Equal(t, "thought about it", last.Reasoning)
		assert.False(t, last.Timestamp.IsZero())
	}

	aborted := finalize(req, "partial", "", true)
	assert.True(t, aborted.Aborted)
	assert.Equal(t, "partial", aborted.Content)
}

func TestBaseAdapterDefaults(t *testing.T) {
	b := newBaseAdapter(nil, "openai")
	assert.Equal(t, "openai", b.Name())
	assert.Equal(t, "https://api.openai.com/v1", b.config.Endpoint)
	assert.False(t, b.Available(), "no API key means unavailable")

	req := &InvokeRequest{}
	assert.Equal(t, "gpt-4o-mini", b.model(req))

	req.Settings.Model = "gpt-4o"
	req.Settings.MaxTokens = 128
	assert.Equal(t, "gpt-4o", b.model(req))
	assert.Equal(t, 128, b.maxTokens(req))
}
