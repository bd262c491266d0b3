package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type ProviderFactory func(ctx context.Context, model string) (Provider, error)

type registration struct {
	defaultModel string
	factory      ProviderFactory
}

// Registry routes provider names to factories. The default model lives here
// so callers asking for a provider without naming a model all fall back the
// same way.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

func (r *Registry) Register(name, defaultModel string, f ProviderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = registration{defaultModel: defaultModel, factory: f}
}

// Get builds a provider. An empty model selects the registered default.
func (r *Registry) Get(ctx context.Context, name string, model string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = e.defaultModel
	}
	return e.factory(ctx, model)
}
