package core

import (
	"context"

	"go.uber.org/zap"
)

// Connector is the capability every integration connector must provide.
// The daemon calls Start once per initialization, Refresh on every scheduled
// poll and Disconnect when the connector is stopped or replaced.
type Connector interface {
	// Start prepares the connector to do work. It is called after the
	// connector has been bound to its Context.
	Start(ctx context.Context) error

	// Refresh performs one unit of synchronization work.
	Refresh(ctx context.Context) error

	// Disconnect releases every resource the connector holds.
	Disconnect(ctx context.Context) error
}

// Engager is implemented by connectors that use blocking calls. Engage runs on
// a dedicated goroutine and may block until ctx is cancelled or an event has
// been handled; the daemon calls it repeatedly while the connector is running.
type Engager interface {
	Engage(ctx context.Context) error
}

// ContextAware is implemented by connectors that want their integration
// context. Returning an error leaves the connector in INITIALIZE_FAILED and
// the daemon retries on the next refresh.
type ContextAware interface {
	SetContext(c Context) error
}

// StatisticsReporter is implemented by connectors that publish counters.
type StatisticsReporter interface {
	Statistics() map[string]interface{}
}

// SyncDirection limits which way a connector may move metadata.
type SyncDirection string

const (
	SyncBothDirections SyncDirection = "BOTH_DIRECTIONS"
	SyncFromThirdParty SyncDirection = "FROM_THIRD_PARTY"
	SyncToThirdParty   SyncDirection = "TO_THIRD_PARTY"
)

// Valid reports whether d is a known direction. The empty value is accepted
// and treated as SyncBothDirections.
func (d SyncDirection) Valid() bool {
	switch d {
	case "", SyncBothDirections, SyncFromThirdParty, SyncToThirdParty:
		return true
	}
	return false
}

// Context is the view of the daemon a connector receives through SetContext.
type Context interface {
	ConnectorID() string
	ConnectorName() string
	UserID() string
	MetadataSourceQualifiedName() string
	PermittedSynchronization() SyncDirection

	// IsRefreshInProgress is true while Refresh or Engage is executing.
	IsRefreshInProgress() bool

	// ReportElementCreated, ReportElementUpdated and ReportElementDeleted
	// record the ids of elements touched during the current cycle. They are
	// published in the connector's integration report.
	ReportElementCreated(id string)
	ReportElementUpdated(id string)
	ReportElementDeleted(id string)

	Logger() *zap.Logger
}
