package secret

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderFactory creates a Provider from configuration.
type ProviderFactory func(cfg map[string]any) (Provider, error)

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

// NewDefaultRegistry creates a registry holding the env and file providers.
//
//	env:  {prefix: string}
//	file: {dir: string}
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("env", func(cfg map[string]any) (Provider, error) {
		prefix, err := stringOption(cfg, "prefix")
		return EnvProvider{Prefix: prefix}, err
	})
	_ = r.Register("file", func(cfg map[string]any) (Provider, error) {
		dir, err := stringOption(cfg, "dir")
		if err != nil {
			return nil, err
		}
		if dir == "" {
			return nil, errors.New("secret: file provider needs dir")
		}
		return FileProvider{Dir: dir}, nil
	})
	return r
}

// Register adds a factory.
func (r *Registry) Register(name string, factory ProviderFactory) error {
	name = strings.TrimSpace(name)
	if name == "" || factory == nil {
		return errors.New("secret: invalid provider registration")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateProvider, name)
	}
	r.factories[name] = factory
	return nil
}

// Create instantiates a provider by name.
func (r *Registry) Create(name string, cfg map[string]any) (Provider, error) {
	name = strings.TrimSpace(name)
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return factory(cfg)
}

// Open creates one provider per entry of specs. The env provider is always
// included, with defaults unless specs configures it. On error the providers
// created so far are closed.
func (r *Registry) Open(specs map[string]map[string]any) ([]Provider, error) {
	if _, ok := specs["env"]; !ok {
		specs = withEntry(specs, "env", nil)
	}
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	providers := make([]Provider, 0, len(names))
	for _, name := range names {
		p, err := r.Create(name, specs[name])
		if err != nil {
			for _, opened := range providers {
				_ = opened.Close()
			}
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func withEntry(m map[string]map[string]any, k string, v map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(m)+1)
	for key, val := range m {
		out[key] = val
	}
	out[k] = v
	return out
}

func stringOption(cfg map[string]any, key string) (string, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("secret: option %s must be a string, got %T", key, v)
	}
	return s, nil
}
