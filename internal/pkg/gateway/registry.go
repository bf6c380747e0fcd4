package gateway

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ManuelReschke/billingsync/internal/pkg/config"
)

// Factory builds an adapter from its gateway settings.
type Factory func(cfg config.Gateway) (Adapter, error)

// Registry maps gateway names to factories and caches built adapters for the
// lifetime of the process.
type Registry struct {
	cfg       config.Billing
	mu        sync.Mutex
	factories map[string]Factory
	instances map[string]Adapter
}

func NewRegistry(cfg config.Billing) *Registry {
	return &Registry{
		cfg:       cfg,
		factories: make(map[string]Factory),
		instances: make(map[string]Adapter),
	}
}

// Register binds a factory to name. Registering the same name again replaces
// the factory and drops any cached instance.
func (r *Registry) Register(name string, factory Factory) {
	key := normalizeName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key] = factory
	delete(r.instances, key)
}

// Resolve returns the adapter registered under name, or the default gateway
// when name is empty.
func (r *Registry) Resolve(name string) (Adapter, error) {
	key := normalizeName(name)
	if key == "" {
		key = normalizeName(r.cfg.DefaultGateway)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	factory, ok := r.factories[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrGatewayNotFound, key)
	}
	gw, ok := r.cfg.Gateway(key)
	if !ok || !gw.Enabled {
		return nil, fmt.Errorf("%w: %q", ErrGatewayNotEnabled, key)
	}
	if adapter, ok := r.instances[key]; ok {
		return adapter, nil
	}

	adapter, err := factory(gw)
	if err != nil {
		return nil, fmt.Errorf("gateway %q: %w", key, err)
	}
	r.instances[key] = adapter
	return adapter, nil
}

// Names lists registered gateways in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
