package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/voxgate/pkg/provider/inference"
	"github.com/MrWong99/voxgate/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps backend names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	inference map[string]func(ProviderEntry) (inference.Provider, error)
	vad       map[string]func(VADConfig) (vad.Classifier, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		inference: make(map[string]func(ProviderEntry) (inference.Provider, error)),
		vad:       make(map[string]func(VADConfig) (vad.Classifier, error)),
	}
}

// RegisterInference registers an inference backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterInference(name string, factory func(ProviderEntry) (inference.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inference[name] = factory
}

// RegisterVAD registers a voice activity classifier factory under name.
func (r *Registry) RegisterVAD(name string, factory func(VADConfig) (vad.Classifier, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// CreateInference instantiates the backend registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateInference(entry ProviderEntry) (inference.Provider, error) {
	r.mu.RLock()
	factory, ok := r.inference[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: inference/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates the classifier registered under cfg.Name.
func (r *Registry) CreateVAD(cfg VADConfig) (vad.Classifier, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// InferenceNames returns the registered inference backend names, sorted.
func (r *Registry) InferenceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.inference))
	for name := range r.inference {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ── ProviderEntry option helpers ─────────────────────────────────────────────

// OptString returns Options[key] as a string, or "" when absent or not a
// string.
func (e ProviderEntry) OptString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptInt returns Options[key] as an int. YAML integers decode as int;
// floats are truncated.
func (e ProviderEntry) OptInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// OptDuration returns Options[key] parsed with [time.ParseDuration].
func (e ProviderEntry) OptDuration(key string, def time.Duration) (time.Duration, error) {
	raw, ok := e.Options[key]
	if !ok {
		return def, nil
	}
	s, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("config: option %q must be a duration string, got %T", key, raw)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: option %q: %w", key, err)
	}
	return d, nil
}
