package payment

import (
	"fmt"
	"sort"
)

// Registry resolves a provider name to its rail.
type Registry struct {
	rails map[string]Gateway
	def   string
}

// NewRegistry registers rails; def is used when a caller names none.
func NewRegistry(def string, rails ...Gateway) *Registry {
	r := &Registry{rails: make(map[string]Gateway, len(rails)), def: def}
	for _, g := range rails {
		r.rails[g.Provider()] = g
	}
	return r
}

// Get returns a rail ready to open intents.
func (r *Registry) Get(provider string) (Gateway, error) {
	if provider == "" {
		provider = r.def
	}
	g, ok := r.rails[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	if !g.Configured() {
		return nil, fmt.Errorf("%w: %s rail not configured", ErrGatewayUnavailable, provider)
	}
	return g, nil
}

// Lookup returns the rail for an existing intent, configured or not.
func (r *Registry) Lookup(provider string) (Gateway, bool) {
	g, ok := r.rails[provider]
	return g, ok
}

// Providers lists the registered provider names.
func (r *Registry) Providers() []string {
	out := make([]string, 0, len(r.rails))
	for p := range r.rails {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
