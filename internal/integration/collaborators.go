package integration

import (
	"context"

	"github.com/ajitpratap0/integrationd/pkg/config"
	"github.com/ajitpratap0/integrationd/pkg/connector/core"
)

// Broker builds connectors from connection descriptors. A descriptor that
// cannot be understood is a validation error; a connector that cannot be
// constructed is a config error. *registry.Registry satisfies it.
type Broker interface {
	NewConnector(conn core.Connection) (interface{}, error)
}

// ContextRequest carries what a context manager needs to bind a connector.
type ContextRequest struct {
	ConnectorID                 string
	ConnectorName               string
	ConnectorInstanceID         string
	UserID                      string
	Connector                   interface{}
	MetadataSourceQualifiedName string
	PermittedSynchronization    core.SyncDirection
	GenerateIntegrationReport   bool
}

// ContextManager binds a freshly built connector to an integration context.
type ContextManager interface {
	SetContext(ctx context.Context, req ContextRequest) (IntegrationContext, error)
}

// ConnectorForgetter is implemented by context managers that keep state for
// a connector beyond the life of its context. ForgetConnector is called once
// the connector has been removed from the daemon.
type ConnectorForgetter interface {
	ForgetConnector(connectorID string)
}

// IntegrationContext is the daemon side of a bound connector's context.
type IntegrationContext interface {
	// StartRecording begins a new reporting cycle
	StartRecording()
	// SetRefreshInProgress flags whether a refresh or engage call is running
	SetRefreshInProgress(inProgress bool)
	// PublishReport closes the reporting cycle
	PublishReport(ctx context.Context) error
	// Disconnect releases the context
	Disconnect(ctx context.Context) error
}

// RegistrationClient reads connector registrations for integration groups.
// Errors are typed: validation for bad parameters, permission when the
// caller is not authorized, unavailable when the store cannot be reached and
// not_found from GetRegistration when the id is unknown.
type RegistrationClient interface {
	ListRegistrations(ctx context.Context, group string, startFrom, pageSize int) ([]config.ConnectorConfig, error)
	GetRegistration(ctx context.Context, group, connectorID string) (*config.ConnectorConfig, error)
}
