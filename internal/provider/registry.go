package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"persona-chat/internal/llm"
)

// ErrUnknownProvider indicates the requested provider is not registered.
var ErrUnknownProvider = errors.New("unknown provider")

// ErrDuplicateProvider indicates an attempt to register the same provider twice.
var ErrDuplicateProvider = errors.New("provider already registered")

// Registry maintains a mapping of provider names to backend connectors.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]llm.Connector
}

// NewRegistry constructs an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]llm.Connector),
	}
}

// Register adds a connector under the given provider name.
func (r *Registry) Register(name string, connect llm.Connector) error {
	if connect == nil {
		return errors.New("connector must not be nil")
	}
	key := normalizeName(name)
	if key == "" {
		return errors.New("provider name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connectors[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, key)
	}
	r.connectors[key] = connect
	return nil
}

// Lookup returns the connector registered for a provider name.
func (r *Registry) Lookup(name string) (llm.Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connect, ok := r.connectors[normalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return connect, nil
}

// Connector returns a connector that resolves the provider at dial time, so an
// unknown name only fails once a chat is attempted.
func (r *Registry) Connector(name string) llm.Connector {
	return func(ctx context.Context, apiKey string) (llm.Backend, error) {
		connect, err := r.Lookup(name)
		if err != nil {
			return nil, err
		}
		return connect(ctx, apiKey)
	}
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
