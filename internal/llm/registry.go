package llm

import (
	"fmt"
	"sync"

	"github.com/mohammad-safakhou/deeres/config"
)

// Factory builds a Generator for a configured provider and role.
type Factory func(name string, p config.LLMProvider, role config.RoleConfig) (Generator, error)

// Registry resolves role configurations to cached generators.
type Registry struct {
	providers map[string]config.LLMProvider
	factory   Factory

	mu    sync.Mutex
	cache map[string]Generator
}

// NewRegistry builds a registry over the configured providers. A nil factory
// uses langchaingo models, reporting call outcomes to observe when set.
func NewRegistry(providers map[string]config.LLMProvider, factory Factory, observe ObserveFunc) *Registry {
	if factory == nil {
		factory = func(name string, p config.LLMProvider, role config.RoleConfig) (Generator, error) {
			m, err := NewModel(name, p, role)
			if err != nil {
				return nil, err
			}
			return m.WithObserver(observe), nil
		}
	}
	return &Registry{
		providers: providers,
		factory:   factory,
		cache:     make(map[string]Generator),
	}
}

// Resolve returns the generator for role, building it on first use.
func (r *Registry) Resolve(role config.RoleConfig) (Generator, error) {
	p, ok := r.providers[role.Provider]
	if !ok {
		return nil, fmt.Errorf("llm provider %q is not configured", role.Provider)
	}

	key := fmt.Sprintf("%s|%s|%g|%d", role.Provider, role.Model, role.Temperature, role.MaxTokens)
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.cache[key]; ok {
		return g, nil
	}
	g, err := r.factory(role.Provider, p, role)
	if err != nil {
		return nil, err
	}
	r.cache[key] = g
	return g, nil
}
