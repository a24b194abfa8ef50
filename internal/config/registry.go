package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxbridge/pkg/provider/realtime"
)

// ErrProviderNotRegistered is returned by [Registry.CreateUpstream] when no
// factory has been registered under the requested upstream name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// UpstreamFactory turns the upstream section into a per-session link factory.
type UpstreamFactory func(UpstreamConfig) (realtime.Factory, error)

// Registry maps upstream names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	upstream map[string]UpstreamFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{upstream: make(map[string]UpstreamFactory)}
}

// RegisterUpstream registers an upstream factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterUpstream(name string, factory UpstreamFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upstream[name] = factory
}

// CreateUpstream builds a link factory using the factory registered under
// cfg.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateUpstream(cfg UpstreamConfig) (realtime.Factory, error) {
	r.mu.RLock()
	factory, ok := r.upstream[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: upstream/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// Upstreams returns the registered upstream names, sorted.
func (r *Registry) Upstreams() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.upstream))
	for name := range r.upstream {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
