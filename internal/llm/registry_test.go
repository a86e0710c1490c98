package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/pkg/types"
)

// stubAdapter is a minimal Adapter for registry tests.
type stubAdapter struct {
	name      string
	available bool
}

func (s *stubAdapter) Invoke(context.Context, *InvokeRequest) (*types.ProviderResponse, error) {
	return &types.ProviderResponse{}, nil
}
func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Available() bool { return s.available }

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{name: "OpenAI"})

	t.Run("case-insensitive lookup", func(t *testing.T) {
		for _, key := range []string{"openai", "OpenAI", "OPENAI", "  openai  "} {
			a, err := r.Resolve(key)
			require.NoError(t, err, "key %q", key)
			assert.Equal(t, "OpenAI", a.Name())
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := r.Resolve("mystery")
		assert.ErrorIs(t, err, ErrNoProvider)
	})

	t.Run("empty key", func(t *testing.T) {
		_, err := r.Resolve("")
		assert.ErrorIs(t, err, ErrNoProvider)
	})
}

func TestRegistryReplaceAndNames(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{name: "ollama"})
	r.Register(&stubAdapter{name: "anthropic"})
	r.Register(&stubAdapter{name: "Ollama", available: true})

	assert.Equal(t, []string{"anthropic", "ollama"}, r.Names())

	a, err := r.Resolve("ollama")
	require.NoError(t, err)
	assert.True(t, a.Available(), "later registration must replace the earlier one")
}

func TestRegistryAvailability(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{name: "up", available: true})
	r.Register(&stubAdapter{name: "down"})

	got := r.Availability()
	assert.Equal(t, map[string]bool{"up": true, "down": false}, got)
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := &config.Config{
		LLM: config.LLMConfig{
			Providers: map[string]config.ProviderConfig{
				"openai":    {APIKey: "sk-test"},
				"anthropic": {APIKey: "sk-ant"},
				"ollama":    {Endpoint: "http://127.0.0.1:11434"},
				"my-lab":    {Endpoint: "http://10.0.0.5:8000/v1"},
			},
		},
	}

	r := NewRegistryFromConfig(cfg, nil)
	assert.Equal(t, []string{"anthropic", "my-lab", "ollama", "openai"}, r.Names())

	openai, err := r.Resolve("openai")
	require.NoError(t, err)
	assert.IsType(t, &OpenAIAdapter{}, openai)

	anthropic, err := r.Resolve("anthropic")
	require.NoError(t, err)
	assert.IsType(t, &AnthropicAdapter{}, anthropic)

	ollama, err := r.Resolve("ollama")
	require.NoError(t, err)
	assert.IsType(t, &OllamaAdapter{}, ollama)

	custom, err := r.Resolve("my-lab")
	require.NoError(t, err)
	assert.IsType(t, &CustomAdapter{}, custom)
}
