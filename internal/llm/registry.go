package llm

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry routes a model name to the Provider that serves it, by longest
// matching model-name prefix. Selection is configuration, not inheritance:
// wiring happens once at process start in main.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Provider)}
}

// Register binds a model-name prefix to a provider. Later registrations
// replace earlier ones for the same prefix.
func (r *Registry) Register(prefix string, p Provider) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" || p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[prefix] = p
}

// ForModel resolves the provider for a model name. Longest registered
// prefix wins so "claude-3-5" can be routed differently from "claude".
func (r *Registry) ForModel(model string) (Provider, error) {
	model = strings.ToLower(strings.TrimSpace(model))

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best string
	for prefix := range r.entries {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return nil, fmt.Errorf("%w: %q", ErrNoProvider, model)
	}
	return r.entries[best], nil
}

// Prefixes returns the registered prefixes, sorted, for diagnostics.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for prefix := range r.entries {
		out = append(out, prefix)
	}
	sort.Strings(out)
	return out
}
