package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/ui"
	"github.com/parleyhq/parley/pkg/types"
)

// TimeoutConfig defines the 3-phase timeout system for the local engine.
// Phase 1 (connection): time to establish the HTTP connection.
// Phase 2 (first token): time to the first token; model loading happens here.
// Phase 3 (streaming): max gap between tokens once streaming.
type TimeoutConfig struct {
	ConnectionTimeout time.Duration
	FirstTokenTimeout time.Duration
	StreamIdleTimeout time.Duration
}

// DefaultTimeoutConfig returns timeouts tuned for local endpoints where a
// cold start (model load) can take 30-90+ seconds.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		ConnectionTimeout: 30 * time.Second,
		FirstTokenTimeout: 120 * time.Second,
		StreamIdleTimeout: 30 * time.Second,
	}
}

// RemoteTimeoutConfig returns timeouts for remote engine servers, which add
// network latency, shared queues, and longer cold starts.
func RemoteTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		ConnectionTimeout: 60 * time.Second,
		FirstTokenTimeout: 300 * time.Second,
		StreamIdleTimeout: 60 * time.Second,
	}
}

// isRemoteEndpoint checks if the engine endpoint is a remote server.
func isRemoteEndpoint(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return false
	}
	if host == "host.docker.internal" || host == "docker.for.mac.localhost" {
		return false
	}
	return true
}

// OllamaAdapter implements the Adapter contract for a local Ollama engine.
type OllamaAdapter struct {
	config        *AdapterConfig
	client        *http.Client
	timeoutConfig TimeoutConfig
}

// OllamaOption is a functional option for configuring OllamaAdapter.
type OllamaOption func(*OllamaAdapter)

// WithTimeoutConfig sets custom timeout configuration.
func WithTimeoutConfig(cfg TimeoutConfig) OllamaOption {
	return func(a *OllamaAdapter) {
		a.timeoutConfig = cfg
		if transport, ok := a.client.Transport.(*http.Transport); ok {
			transport.ResponseHeaderTimeout = cfg.FirstTokenTimeout
		}
	}
}

// NewOllamaAdapter creates a new local-engine adapter.
func NewOllamaAdapter(cfg *AdapterConfig, opts ...OllamaOption) *OllamaAdapter {
	if cfg == nil {
		cfg = DefaultAdapterConfig("ollama")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://127.0.0.1:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	cfg.Name = "ollama"

	timeoutConfig := DefaultTimeoutConfig()
	if isRemoteEndpoint(cfg.Endpoint) {
		timeoutConfig = RemoteTimeoutConfig()
	}

	a := &OllamaAdapter{
		config:        cfg,
		timeoutConfig: timeoutConfig,
		client: &http.Client{
			// No Client.Timeout: it covers the whole request including the
			// streamed body, which would kill long generations. The 3-phase
			// timeouts below handle hangs instead.
			Transport: &http.Transport{
				ResponseHeaderTimeout: timeoutConfig.FirstTokenTimeout,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
			},
		},
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Name returns the adapter's registry key.
func (a *OllamaAdapter) Name() string {
	return "ollama"
}

// model resolves the model for a request.
func (a *OllamaAdapter) model(req *InvokeRequest) string {
	if req.Settings.Model != "" {
		return req.Settings.Model
	}
	return a.config.Model
}

// maxTokens resolves the token limit for a request.
func (a *OllamaAdapter) maxTokens(req *InvokeRequest) int {
	if req.Settings.MaxTokens > 0 {
		return req.Settings.MaxTokens
	}
	return a.config.MaxTokens
}

// Available checks if the engine is running and has at least one model.
func (a *OllamaAdapter) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", a.config.Endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}

	return len(result.Models) > 0
}

// Invoke streams one chat completion from the engine, pushing each token to
// the request sink. Cancellation returns the partial content with Aborted
// set; it is not an error.
func (a *OllamaAdapter) Invoke(ctx context.Context, req *InvokeRequest) (*types.ProviderResponse, error) {
	ollamaReq := ollamaChatRequest{
		Model:  a.model(req),
		Stream: true,
	}

	ollamaReq.Messages = append(ollamaReq.Messages, ollamaMessage{
		Role:    "system",
		Content: systemPrompt(req),
	})
	for _, msg := range req.Messages {
		ollamaReq.Messages = append(ollamaReq.Messages, ollamaMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	ollamaReq.Options.Temperature = req.Settings.Temperature
	ollamaReq.Options.NumPredict = a.maxTokens(req)

	body, err := json.Marshal(ollamaReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.config.Endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	return a.handleStream(ctx, req, resp.Body)
}

// handleStream consumes the engine's NDJSON stream with first-token and idle
// timeout monitoring.
func (a *OllamaAdapter) handleStream(ctx context.Context, req *InvokeRequest, body io.Reader) (*types.ProviderResponse, error) {
	type streamChunk struct {
		chunk ollamaChatResponse
		err   error
	}

	chunkChan := make(chan streamChunk, 1)

	go func() {
		defer close(chunkChan)
		decoder := json.NewDecoder(body)
		for {
			var chunk ollamaChatResponse
			if err := decoder.Decode(&chunk); err != nil {
				if err != io.EOF {
					select {
					case <-ctx.Done():
					case chunkChan <- streamChunk{err: err}:
					}
				}
				return
			}
			select {
			case <-ctx.Done():
				return
			case chunkChan <- streamChunk{chunk: chunk}:
			}
			if chunk.Done {
				return
			}
		}
	}()

	var fullContent strings.Builder
	var totalBytes int64
	sink := req.sink()

	firstTokenReceived := false
	firstTokenTimer := time.NewTimer(a.timeoutConfig.FirstTokenTimeout)
	defer firstTokenTimer.Stop()

	var idleTimer *time.Timer
	defer func() {
		if idleTimer != nil {
			idleTimer.Stop()
		}
	}()

	abort := func() (*types.ProviderResponse, error) {
		answer, reasoning := splitReasoning(fullContent.String())
		ui.Done(sink)
		return finalize(req, answer, reasoning, true), nil
	}

	for {
		var idleC <-chan time.Time
		if idleTimer != nil {
			idleC = idleTimer.C
		}

		select {
		case <-ctx.Done():
			return abort()

		case <-firstTokenTimer.C:
			if !firstTokenReceived {
				return nil, fmt.Errorf("timed out waiting for first token after %s", a.timeoutConfig.FirstTokenTimeout)
			}

		case <-idleC:
			return nil, fmt.Errorf("stream idle for %s, giving up", a.timeoutConfig.StreamIdleTimeout)

		case sc, ok := <-chunkChan:
			if !ok {
				// Stream ended without a done marker; return what we have.
				answer, reasoning := splitReasoning(fullContent.String())
				ui.Done(sink)
				return finalize(req, answer, reasoning, false), nil
			}
			if sc.err != nil {
				if ctx.Err() != nil {
					return abort()
				}
				return nil, fmt.Errorf("decode stream: %w", sc.err)
			}

			if !firstTokenReceived {
				firstTokenReceived = true
				firstTokenTimer.Stop()
				idleTimer = time.NewTimer(a.timeoutConfig.StreamIdleTimeout)
			} else {
				idleTimer.Reset(a.timeoutConfig.StreamIdleTimeout)
			}

			token := sc.chunk.Message.Content
			totalBytes += int64(len(token))
			if totalBytes > MaxStreamedResponseSize {
				return nil, fmt.Errorf("streamed response exceeded %d bytes", int64(MaxStreamedResponseSize))
			}

			fullContent.WriteString(token)
			ui.Token(sink, token)

			if sc.chunk.Done {
				answer, reasoning := splitReasoning(fullContent.String())
				ui.Done(sink)
				return finalize(req, answer, reasoning, false), nil
			}
		}
	}
}

// Ollama API types
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  struct {
		Temperature float64 `json:"temperature,omitempty"`
		NumPredict  int     `json:"num_predict,omitempty"`
	} `json:"options"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Model     string        `json:"model"`
	Message   ollamaMessage `json:"message"`
	Done      bool          `json:"done"`
	EvalCount int           `json:"eval_count,omitempty"`
}
