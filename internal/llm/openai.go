package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/parleyhq/parley/internal/ui"
	"github.com/parleyhq/parley/pkg/types"
)

// OpenAIAdapter implements the Adapter contract for the OpenAI API.
type OpenAIAdapter struct {
	baseAdapter
}

// NewOpenAIAdapter creates a new OpenAI adapter.
func NewOpenAIAdapter(cfg *AdapterConfig) *OpenAIAdapter {
	return &OpenAIAdapter{
		baseAdapter: newBaseAdapter(cfg, "openai"),
	}
}

// Invoke runs one non-streaming chat completion.
func (a *OpenAIAdapter) Invoke(ctx context.Context, req *InvokeRequest) (*types.ProviderResponse, error) {
	if a.config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}

	oaiReq := openaiChatRequest{
		Model:       a.model(req),
		Temperature: req.Settings.Temperature,
		MaxTokens:   a.maxTokens(req),
	}

	oaiReq.Messages = append(oaiReq.Messages, openaiMessage{
		Role:    "system",
		Content: systemPrompt(req),
	})
	for _, msg := range req.Messages {
		oaiReq.Messages = append(oaiReq.Messages, openaiMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	body, err := json.Marshal(oaiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.config.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		// Caller cancelled: return what we have (nothing) as an aborted
		// turn instead of raising.
		if ctx.Err() != nil {
			return finalize(req, "", "", true), nil
		}
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return nil, fmt.Errorf("OpenAI error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var oaiResp openaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("OpenAI returned no choices")
	}

	content := oaiResp.Choices[0].Message.Content
	ui.Token(req.sink(), content)
	ui.Done(req.sink())

	return finalize(req, content, "", false), nil
}

// OpenAI API types
type openaiChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
