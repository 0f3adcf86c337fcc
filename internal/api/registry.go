// Package api serves the operator REST API of one or more integration daemon
// servers hosted in the same process.
package api

import (
	"context"
	"sort"
	"sync"

	"github.com/ajitpratap0/integrationd/internal/audit"
	"github.com/ajitpratap0/integrationd/internal/daemon"
	"github.com/ajitpratap0/integrationd/internal/integration"
	"github.com/ajitpratap0/integrationd/pkg/connector/core"
	"github.com/ajitpratap0/integrationd/pkg/errors"
)

// Server is the daemon surface the API drives. *daemon.Daemon implements it.
type Server interface {
	ServerName() string
	Status() daemon.Status
	Summary() daemon.Summary
	ServiceSummary(name string) (daemon.ServiceSummary, error)
	GroupSummary(name string) (daemon.GroupSummary, error)
	AuditEntries() []audit.Entry

	RefreshConnector(ctx context.Context, serviceName, connectorName string) error
	RestartConnector(ctx context.Context, serviceName, connectorName string) error

	ConnectorReport(ref string) (integration.ConnectorReport, error)
	Reports(ref string) ([]integration.IntegrationReport, error)
	UpdateConfigurationProperties(ctx context.Context, ref string, props map[string]interface{}, replace bool) error
	UpdateEndpointNetworkAddress(ctx context.Context, ref, address string) error
	UpdateConnectorConnection(ctx context.Context, ref string, conn core.Connection) error

	RefreshGroupConfig(ctx context.Context, groupName string) (integration.ReconcileResult, error)
	RefreshConnectorConfig(ctx context.Context, groupName, connectorID string) (integration.ReconcileResult, error)
}

var _ Server = (*daemon.Daemon)(nil)

// ServerRegistry maps server names to running servers
type ServerRegistry struct {
	mu      sync.RWMutex
	servers map[string]Server
}

// NewServerRegistry creates an empty registry
func NewServerRegistry() *ServerRegistry {
	return &ServerRegistry{servers: make(map[string]Server)}
}

// Register adds s under its server name
func (r *ServerRegistry) Register(s Server) error {
	name := s.ServerName()
	if name == "" {
		return errors.New(errors.ErrorTypeValidation, "server name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.servers[name]; exists {
		return errors.Newf(errors.ErrorTypeConflict, "server %s is already registered", name)
	}
	r.servers[name] = s
	return nil
}

// Unregister removes the named server
func (r *ServerRegistry) Unregister(name string) {
	r.mu.Lock()
	delete(r.servers, name)
	r.mu.Unlock()
}

// Get returns the named server
func (r *ServerRegistry) Get(name string) (Server, error) {
	r.mu.RLock()
	s, ok := r.servers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "server %s is not running in this process", name).
			WithDetail("server", name)
	}
	return s, nil
}

// Names returns the registered server names in order
func (r *ServerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
