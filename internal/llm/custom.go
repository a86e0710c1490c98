package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/parleyhq/parley/internal/subagent"
	"github.com/parleyhq/parley/internal/ui"
	"github.com/parleyhq/parley/internal/webfetch"
	"github.com/parleyhq/parley/pkg/types"
)

// CustomAdapter talks to any OpenAI-compatible custom endpoint over SSE.
// Before the main completion it consults the web-fetch sub-agent, feeding any
// fetched page into the prompt as extra context.
type CustomAdapter struct {
	baseAdapter
	router *subagent.Router
}

// NewCustomAdapter creates an adapter for a custom endpoint registered under
// key. When fetcher is non-nil the adapter runs the web-fetch sub-agent on
// every invocation.
func NewCustomAdapter(key string, cfg *AdapterConfig, fetcher *webfetch.Fetcher) *CustomAdapter {
	a := &CustomAdapter{
		baseAdapter: newBaseAdapter(cfg, normalizeKey(key)),
	}
	if fetcher != nil {
		a.router = subagent.NewRouter(a, fetcher)
	}
	return a
}

// Available reports true when an endpoint is configured; custom endpoints may
// legitimately run without an API key.
func (a *CustomAdapter) Available() bool {
	return a.config.Endpoint != ""
}

// Invoke runs the sub-agent decision, then streams the main completion.
func (a *CustomAdapter) Invoke(ctx context.Context, req *InvokeRequest) (*types.ProviderResponse, error) {
	if a.config.Endpoint == "" {
		return nil, fmt.Errorf("custom endpoint not configured for %q", a.Name())
	}

	var webContext string
	if a.router != nil {
		fetched := a.router.Route(ctx, req.Messages, req.sink())
		if fetched != subagent.NoFetchContent {
			webContext = "Information fetched from the web for this question:\n" + fetched
		}
	}

	creq := openaiChatRequest{
		Model:       a.model(req),
		Temperature: req.Settings.Temperature,
		MaxTokens:   a.maxTokens(req),
		Stream:      true,
	}
	creq.Messages = append(creq.Messages, openaiMessage{
		Role:    "system",
		Content: systemPrompt(req, webContext),
	})
	for _, msg := range req.Messages {
		creq.Messages = append(creq.Messages, openaiMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	body, err := json.Marshal(creq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.config.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if a.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	}

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
		return nil, fmt.Errorf("custom endpoint error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	return a.handleSSE(ctx, req, resp)
}

// handleSSE consumes an OpenAI-style server-sent-event stream.
func (a *CustomAdapter) handleSSE(ctx context.Context, req *InvokeRequest, resp *http.Response) (*types.ProviderResponse, error) {
	var fullContent strings.Builder
	var totalBytes int64
	sink := req.sink()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			answer, reasoning := splitReasoning(fullContent.String())
			ui.Done(sink)
			return finalize(req, answer, reasoning, true), nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk sseChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// Tolerate malformed keep-alive frames.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		token := chunk.Choices[0].Delta.Content
		if token == "" {
			continue
		}

		totalBytes += int64(len(token))
		if totalBytes > MaxStreamedResponseSize {
			return nil, fmt.Errorf("streamed response exceeded %d bytes", int64(MaxStreamedResponseSize))
		}

		fullContent.WriteString(token)
		ui.Token(sink, token)
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			answer, reasoning := splitReasoning(fullContent.String())
			ui.Done(sink)
			return finalize(req, answer, reasoning, true), nil
		}
		return nil, fmt.Errorf("read stream: %w", err)
	}

	answer, reasoning := splitReasoning(fullContent.String())
	ui.Done(sink)
	return finalize(req, answer, reasoning, false), nil
}

// Complete implements subagent.Completer: one small non-streaming call
// against the same endpoint, used for the structured fetch decision.
func (a *CustomAdapter) Complete(ctx context.Context, systemInstruction string, messages []types.Message) (string, error) {
	creq := openaiChatRequest{
		Model:     a.config.Model,
		MaxTokens: 256,
	}
	creq.Messages = append(creq.Messages, openaiMessage{Role: "system", Content: systemInstruction})
	for _, msg := range messages {
		creq.Messages = append(creq.Messages, openaiMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	body, err := json.Marshal(creq)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.config.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return "", fmt.Errorf("custom endpoint error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var cresp openaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cresp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(cresp.Choices) == 0 {
		return "", fmt.Errorf("endpoint returned no choices")
	}
	return cresp.Choices[0].Message.Content, nil
}

// sseChunk is one OpenAI-style streamed completion delta.
type sseChunk struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
}
