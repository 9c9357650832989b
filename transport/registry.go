package transport

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-outbound/core"
)

// Registry maps connector types to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[core.ConnectorType]core.ConnectorAdapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[core.ConnectorType]core.ConnectorAdapter{}}
}

// NewDefaultRegistry registers the built-in adapters on a shared client.
func NewDefaultRegistry() *Registry {
	return NewHTTPRegistry(NewHTTPClient(), nil)
}

func NewHTTPRegistry(client HTTPDoer, now func() time.Time) *Registry {
	registry := NewRegistry()
	_ = registry.Register(NewWebhookAdapter(client))
	_ = registry.Register(NewSlackAdapter(client))
	_ = registry.Register(NewJiraAdapter(client, now))
	_ = registry.Register(NewSQSAdapter(client, now))
	_ = registry.Register(NewDBAdapter(client, now))
	return registry
}

func (r *Registry) Register(adapter core.ConnectorAdapter) error {
	if r == nil {
		return fmt.Errorf("transport: registry is nil")
	}
	if adapter == nil {
		return fmt.Errorf("transport: adapter is nil")
	}
	connectorType := adapter.Type()
	if !connectorType.Valid() {
		return fmt.Errorf("transport: %w: %q", core.ErrInvalidConnectorType, connectorType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[connectorType]; exists {
		return fmt.Errorf("transport: adapter %q already registered", connectorType)
	}
	r.adapters[connectorType] = adapter
	return nil
}

// Replace swaps the adapter for its type, registering it when absent.
func (r *Registry) Replace(adapter core.ConnectorAdapter) error {
	if r == nil || adapter == nil {
		return fmt.Errorf("transport: registry and adapter are required")
	}
	if !adapter.Type().Valid() {
		return fmt.Errorf("transport: %w: %q", core.ErrInvalidConnectorType, adapter.Type())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Type()] = adapter
	return nil
}

func (r *Registry) Adapter(connectorType core.ConnectorType) (core.ConnectorAdapter, error) {
	if r == nil {
		return nil, fmt.Errorf("transport: registry is nil")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[connectorType]
	if !ok {
		return nil, fmt.Errorf("transport: %w: no adapter for %q", core.ErrInvalidConnectorType, connectorType)
	}
	return adapter, nil
}

func (r *Registry) Types() []core.ConnectorType {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]core.ConnectorType, 0, len(r.adapters))
	for connectorType := range r.adapters {
		types = append(types, connectorType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

var (
	_ core.AdapterResolver  = (*Registry)(nil)
	_ core.ConnectorAdapter = (*WebhookAdapter)(nil)
	_ core.ConnectorAdapter = (*SlackAdapter)(nil)
	_ core.ConnectorAdapter = (*JiraAdapter)(nil)
	_ core.ConnectorAdapter = (*SQSAdapter)(nil)
	_ core.ConnectorAdapter = (*DBAdapter)(nil)
)
