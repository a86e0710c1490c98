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

// AnthropicAdapter implements the Adapter contract for Anthropic Claude.
type AnthropicAdapter struct {
	baseAdapter
}

// NewAnthropicAdapter creates a new Anthropic adapter.
func NewAnthropicAdapter(cfg *AdapterConfig) *AnthropicAdapter {
	return &AnthropicAdapter{
		baseAdapter: newBaseAdapter(cfg, "anthropic"),
	}
}

// Invoke runs one non-streaming messages call.
func (a *AnthropicAdapter) Invoke(ctx context.Context, req *InvokeRequest) (*types.ProviderResponse, error) {
	if a.config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key not configured")
	}

	antReq := anthropicChatRequest{
		Model:       a.model(req),
		System:      systemPrompt(req),
		MaxTokens:   a.maxTokens(req),
		Temperature: req.Settings.Temperature,
	}

	// Anthropic rejects system-role entries in the messages array.
	for _, msg := range req.Messages {
		if msg.Role == types.RoleSystem {
			antReq.System += "\n\n" + msg.Content
			continue
		}
		antReq.Messages = append(antReq.Messages, anthropicMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	body, err := json.Marshal(antReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.config.Endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return finalize(req, "", "", true), nil
		}
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return nil, fmt.Errorf("Anthropic error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var antResp anthropicChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&antResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var content string
	for _, block := range antResp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	ui.Token(req.sink(), content)
	ui.Done(req.sink())

	return finalize(req, content, "", false), nil
}

// Anthropic API types
type anthropicChatRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicChatResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Role       string `json:"role"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
