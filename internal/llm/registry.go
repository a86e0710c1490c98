package llm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/webfetch"
)

// ErrNoProvider is returned when a requested provider key resolves to
// nothing. This is a caller error (bad or missing selection), not a backend
// failure.
var ErrNoProvider = errors.New("no provider selected")

// Registry maps normalized provider keys to adapters. Adding a backend means
// registering one new adapter; dispatch never changes.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its lowercased name, replacing any previous
// registration for that key.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[normalizeKey(a.Name())] = a
}

// Resolve returns the adapter for a configured provider key. Matching is
// case-insensitive.
func (r *Registry) Resolve(key string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[normalizeKey(key)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoProvider, key)
	}
	return a, nil
}

// Names returns the registered provider keys, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Availability probes each registered adapter. Local engine probes may block
// briefly; callers should treat this as a diagnostic surface, not a hot path.
func (r *Registry) Availability() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]bool, len(r.adapters))
	for name, a := range r.adapters {
		out[name] = a.Available()
	}
	return out
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// NewRegistryFromConfig builds adapters for every configured backend. Keys
// with a known vendor protocol get that vendor's adapter; any other key gets
// the generic custom-endpoint adapter, which also runs the web-fetch
// sub-agent when a fetcher is supplied.
func NewRegistryFromConfig(cfg *config.Config, fetcher *webfetch.Fetcher) *Registry {
	registry := NewRegistry()

	for key, pc := range cfg.LLM.Providers {
		adapterCfg := &AdapterConfig{
			Endpoint: pc.Endpoint,
			APIKey:   pc.APIKey,
			Model:    pc.Model,
			Timeout:  pc.Timeout(),
		}

		switch normalizeKey(key) {
		case "openai":
			registry.Register(NewOpenAIAdapter(adapterCfg))
		case "anthropic":
			registry.Register(NewAnthropicAdapter(adapterCfg))
		case "ollama":
			registry.Register(NewOllamaAdapter(adapterCfg))
		default:
			registry.Register(NewCustomAdapter(key, adapterCfg, fetcher))
		}
	}

	return registry
}
