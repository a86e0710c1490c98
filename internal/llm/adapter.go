// Package llm provides the backend adapters that turn a conversation into a
// model-generated reply. Each adapter hides one vendor's protocol behind the
// shared Adapter contract; the Registry maps configured provider keys to
// adapters.
package llm

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/ui"
	"github.com/parleyhq/parley/pkg/types"
)

// Security limits to prevent unbounded memory usage.
const (
	// MaxErrorBodySize limits how much error response body we read (1MB).
	MaxErrorBodySize = 1 * 1024 * 1024

	// MaxStreamedResponseSize limits total streamed response size (50MB).
	MaxStreamedResponseSize = 50 * 1024 * 1024
)

// readLimitedBody reads up to maxBytes from r, returning the bytes read.
func readLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBytes))
}

// Settings are the per-request generation parameters resolved from the
// user's stored configuration.
type Settings struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// InvokeRequest carries everything an adapter needs for one completion.
type InvokeRequest struct {
	Messages       []types.Message
	User           types.User
	Settings       Settings
	SystemPrompt   string
	ConversationID int64
	Title          string
	CollectionID   string

	// Retrieval is the knowledge-store context for this turn, if any.
	Retrieval *types.RetrievalResult

	// Sink receives incremental output. Never nil after normalization;
	// delivery is fire-and-forget.
	Sink ui.Sink
}

// sink returns the request's sink, defaulting to a no-op.
func (r *InvokeRequest) sink() ui.Sink {
	if r.Sink == nil {
		return ui.NopSink{}
	}
	return r.Sink
}

// Adapter is the uniform invocation contract over structurally different
// backends. Implementations must honor ctx cancellation by returning a
// response with Aborted set rather than an error, must push incremental
// output through the request sink, and must never perform persistence.
type Adapter interface {
	// Invoke runs one completion for the conversation.
	Invoke(ctx context.Context, req *InvokeRequest) (*types.ProviderResponse, error)

	// Name returns the adapter's registry key.
	Name() string

	// Available returns true if the adapter is configured and usable.
	Available() bool
}

// AdapterConfig contains the backend connection settings for an adapter.
type AdapterConfig struct {
	// Name identifies the backend (openai, anthropic, ollama, custom key).
	Name string

	// Endpoint is the API base URL.
	Endpoint string

	// APIKey for authentication.
	APIKey string

	// Model is the default model when the request names none.
	Model string

	// MaxTokens default for responses.
	MaxTokens int

	// Timeout for non-streaming API calls.
	Timeout time.Duration
}

// DefaultAdapterConfig returns sensible defaults for a backend.
func DefaultAdapterConfig(name string) *AdapterConfig {
	switch name {
	case "ollama":
		return &AdapterConfig{
			Name:      "ollama",
			Endpoint:  "http://127.0.0.1:11434",
			Model:     "llama3",
			MaxTokens: 4096,
			Timeout:   2 * time.Minute,
		}
	case "openai":
		return &AdapterConfig{
			Name:      "openai",
			Endpoint:  "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			MaxTokens: 4096,
			Timeout:   2 * time.Minute,
		}
	case "anthropic":
		return &AdapterConfig{
			Name:      "anthropic",
			Endpoint:  "https://api.anthropic.com",
			Model:     "claude-3-5-sonnet-20241022",
			MaxTokens: 4096,
			Timeout:   2 * time.Minute,
		}
	default:
		return &AdapterConfig{
			Name:      name,
			MaxTokens: 4096,
			Timeout:   2 * time.Minute,
		}
	}
}

// baseAdapter provides common plumbing for HTTP-based adapters.
type baseAdapter struct {
	config *AdapterConfig
	client *http.Client
}

// newBaseAdapter creates a base adapter with defaults applied.
func newBaseAdapter(cfg *AdapterConfig, name string) baseAdapter {
	if cfg == nil {
		cfg = DefaultAdapterConfig(name)
	}

	defaults := DefaultAdapterConfig(name)
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaults.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	cfg.Name = name

	return baseAdapter{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the adapter's registry key.
func (b *baseAdapter) Name() string {
	return b.config.Name
}

// Available checks if the API key is configured.
func (b *baseAdapter) Available() bool {
	return b.config.APIKey != ""
}

// model resolves the model for a request.
func (b *baseAdapter) model(req *InvokeRequest) string {
	if req.Settings.Model != "" {
		return req.Settings.Model
	}
	return b.config.Model
}

// maxTokens resolves the token limit for a request.
func (b *baseAdapter) maxTokens(req *InvokeRequest) int {
	if req.Settings.MaxTokens > 0 {
		return req.Settings.MaxTokens
	}
	return b.config.MaxTokens
}

// maxRetrievalTokens bounds the retrieved context folded into the system
// prompt, so an oversized store response cannot crowd out the conversation.
const maxRetrievalTokens = 2048

// systemPrompt folds retrieval context and any extra context blocks into the
// request's system prompt.
func systemPrompt(req *InvokeRequest, extra ...string) string {
	var sb strings.Builder
	sb.WriteString(req.SystemPrompt)

	if req.Retrieval != nil && len(req.Retrieval.Results) > 0 {
		sb.WriteString("\n\nUse the following retrieved context when it is relevant to the question:\n")
		var used int
		for _, chunk := range req.Retrieval.Results {
			if used >= maxRetrievalTokens {
				break
			}
			used += types.EstimateTokens(chunk.Content)
			sb.WriteString("\n---\n")
			sb.WriteString(chunk.Content)
			if chunk.Metadata != "" {
				sb.WriteString("\n(")
				sb.WriteString(chunk.Metadata)
				sb.WriteString(")")
			}
		}
	}

	for _, block := range extra {
		if block != "" {
			sb.WriteString("\n\n")
			sb.WriteString(block)
		}
	}

	return sb.String()
}

// finalize builds the ProviderResponse for a completed (or aborted)
// invocation: the input messages plus the new assistant turn.
func finalize(req *InvokeRequest, content, reasoning string, aborted bool) *types.ProviderResponse {
	messages := make([]types.Message, 0, len(req.Messages)+1)
	messages = append(messages, req.Messages...)
	messages = append(messages, types.Message{
		Role:      types.RoleAssistant,
		Content:   content,
		Reasoning: reasoning,
		Timestamp: time.Now().UTC(),
	})

	return &types.ProviderResponse{
		ID:        req.ConversationID,
		Messages:  messages,
		Title:     req.Title,
		Content:   content,
		Reasoning: reasoning,
		Aborted:   aborted,
	}
}

// splitReasoning separates <think>...</think> blocks (emitted by reasoning
// models) from the visible answer.
func splitReasoning(content string) (answer, reasoning string) {
	start := strings.Index(content, "<think>")
	if start < 0 {
		return content, ""
	}
	end := strings.Index(content, "</think>")
	if end < start {
		return content, ""
	}

	reasoning = strings.TrimSpace(content[start+len("<think>") : end])
	answer = strings.TrimSpace(content[:start] + content[end+len("</think>"):])
	return answer, reasoning
}
