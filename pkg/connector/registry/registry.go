// Package registry is the connector broker: it turns a connection descriptor
// into a connector instance using factories registered by connector type.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ajitpratap0/integrationd/pkg/connector/core"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"github.com/ajitpratap0/integrationd/pkg/logger"
	"go.uber.org/zap"
)

// Factory constructs a connector from its connection. The returned value is
// checked for the capabilities the caller needs, so a factory may return any
// type.
type Factory func(conn core.Connection) (interface{}, error)

// Registry manages connector registration and instantiation
type Registry struct {
	factories map[string]Factory
	infos     map[string]*ConnectorInfo
	mu        sync.RWMutex
	logger    *zap.Logger
}

// ConnectorInfo provides information about a connector type
type ConnectorInfo struct {
	Name              string                 `json:"name"`
	Description       string                 `json:"description"`
	Version           string                 `json:"version"`
	UsesBlockingCalls bool                   `json:"uses_blocking_calls"`
	ConfigSchema      map[string]interface{} `json:"config_schema,omitempty"`
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new connector registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		infos:     make(map[string]*ConnectorInfo),
		logger:    logger.Get().With(zap.String("component", "connector_broker")),
	}
}

// Register registers a connector factory under info.Name
func (r *Registry) Register(info *ConnectorInfo, factory Factory) error {
	if info == nil || info.Name == "" {
		return errors.New(errors.ErrorTypeValidation, "connector type name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[info.Name]; exists {
		return errors.New(errors.ErrorTypeConflict, fmt.Sprintf("connector type %s already registered", info.Name))
	}

	r.factories[info.Name] = factory
	r.infos[info.Name] = info
	r.logger.Debug("connector type registered", zap.String("name", info.Name))
	return nil
}

// NewConnector builds a connector from conn. A connection without a connector
// type is a validation error; an unknown type or a failing factory is a config
// error.
func (r *Registry) NewConnector(conn core.Connection) (interface{}, error) {
	if conn.ConnectorType == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "connection has no connector type").
			WithDetail("connection", conn.QualifiedName)
	}

	r.mu.RLock()
	factory, exists := r.factories[conn.ConnectorType]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("connector type %s not found", conn.ConnectorType)).
			WithDetail("connector_type", conn.ConnectorType)
	}

	instance, err := factory(conn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create connector %s", conn.ConnectorType)).
			WithDetail("connector_type", conn.ConnectorType)
	}
	if instance == nil {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("factory for %s returned no connector", conn.ConnectorType))
	}

	return instance, nil
}

// List returns the registered connector types sorted by name
func (r *Registry) List() []*ConnectorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]*ConnectorInfo, 0, len(r.infos))
	for _, info := range r.infos {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Has checks if a connector type is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[name]
	return exists
}

// Global registry functions

// Register registers a connector type in the global registry. Built-in
// connectors call it from init.
func Register(info *ConnectorInfo, factory Factory) error {
	return globalRegistry.Register(info, factory)
}

// MustRegister is Register for init functions; it panics on a duplicate.
func MustRegister(info *ConnectorInfo, factory Factory) {
	if err := Register(info, factory); err != nil {
		panic(err)
	}
}

// List returns the connector types in the global registry
func List() []*ConnectorInfo {
	return globalRegistry.List()
}

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}
