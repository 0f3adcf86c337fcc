package config

import (
	"time"

	"github.com/ajitpratap0/integrationd/pkg/connector/core"
	"github.com/ajitpratap0/integrationd/pkg/errors"
)

// ConnectorConfig is the registration record for one integration connector.
// Static services list them in the daemon config file; integration groups
// fetch them from a registration store.
type ConnectorConfig struct {
	// ConnectorID is the reconciliation key. It must be unique across the daemon.
	ConnectorID string `yaml:"connector_id" json:"connector_id" mapstructure:"connector_id"`
	// ConnectorName is the display name used by operators.
	ConnectorName string `yaml:"connector_name" json:"connector_name" mapstructure:"connector_name"`
	// ConnectorUserID is the identity the connector acts as.
	ConnectorUserID string `yaml:"user_id" json:"user_id,omitempty" mapstructure:"user_id"`

	Connection core.Connection `yaml:"connection" json:"connection" mapstructure:"connection"`

	MetadataSourceQualifiedName string             `yaml:"metadata_source" json:"metadata_source,omitempty" mapstructure:"metadata_source"`
	PermittedSynchronization    core.SyncDirection `yaml:"permitted_synchronization" json:"permitted_synchronization,omitempty" mapstructure:"permitted_synchronization"`
	GenerateIntegrationReport   bool               `yaml:"generate_integration_report" json:"generate_integration_report" mapstructure:"generate_integration_report"`

	// RefreshInterval is the minimum time between two scheduled refreshes.
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval" mapstructure:"refresh_interval"`
	// StartDate and StopDate bound the window the connector may run in.
	StartDate *time.Time `yaml:"start_date" json:"start_date,omitempty" mapstructure:"start_date"`
	StopDate  *time.Time `yaml:"stop_date" json:"stop_date,omitempty" mapstructure:"stop_date"`

	// UsesBlockingCalls selects a dedicated goroutine that calls Engage.
	UsesBlockingCalls bool `yaml:"uses_blocking_calls" json:"uses_blocking_calls" mapstructure:"uses_blocking_calls"`
}

// Window describes where a point in time sits relative to the run window
type Window int

const (
	// WindowOpen means the connector may run
	WindowOpen Window = iota
	// WindowPending means the start date has not been reached
	WindowPending
	// WindowClosed means the stop date has passed
	WindowClosed
)

// Validate checks the fields required to build a connector. Registrations
// failing it are skipped by reconciliation.
func (c *ConnectorConfig) Validate() error {
	if c.ConnectorID == "" {
		return errors.New(errors.ErrorTypeValidation, "connector_id is required").
			WithDetail("connector_name", c.ConnectorName)
	}
	if c.Connection.ConnectorType == "" {
		return errors.New(errors.ErrorTypeValidation, "connection.connector_type is required").
			WithDetail("connector_id", c.ConnectorID)
	}
	if c.RefreshInterval < 0 {
		return errors.New(errors.ErrorTypeValidation, "refresh_interval cannot be negative").
			WithDetail("connector_id", c.ConnectorID)
	}
	if !c.PermittedSynchronization.Valid() {
		return errors.New(errors.ErrorTypeValidation, "unknown permitted_synchronization "+string(c.PermittedSynchronization)).
			WithDetail("connector_id", c.ConnectorID)
	}
	if c.StartDate != nil && c.StopDate != nil && c.StopDate.Before(*c.StartDate) {
		return errors.New(errors.ErrorTypeValidation, "stop_date is before start_date").
			WithDetail("connector_id", c.ConnectorID)
	}
	return nil
}

// DisplayName returns the connector name, falling back to the id
func (c *ConnectorConfig) DisplayName() string {
	if c.ConnectorName != "" {
		return c.ConnectorName
	}
	return c.ConnectorID
}

// WindowAt reports where now falls in the start/stop window
func (c *ConnectorConfig) WindowAt(now time.Time) Window {
	if c.StartDate != nil && now.Before(*c.StartDate) {
		return WindowPending
	}
	if c.StopDate != nil && !now.Before(*c.StopDate) {
		return WindowClosed
	}
	return WindowOpen
}

// RequiresRestart reports whether moving from c to next needs the connector
// to be rebuilt. Only the connection and the threading mode count; every
// other field can be applied in place.
func (c *ConnectorConfig) RequiresRestart(next *ConnectorConfig) bool {
	return !c.Connection.Equal(next.Connection) || c.UsesBlockingCalls != next.UsesBlockingCalls
}

// Equal reports whether two registrations are identical
func (c *ConnectorConfig) Equal(other *ConnectorConfig) bool {
	if c.RequiresRestart(other) {
		return false
	}
	return c.ConnectorID == other.ConnectorID &&
		c.ConnectorName == other.ConnectorName &&
		c.ConnectorUserID == other.ConnectorUserID &&
		c.MetadataSourceQualifiedName == other.MetadataSourceQualifiedName &&
		c.PermittedSynchronization == other.PermittedSynchronization &&
		c.GenerateIntegrationReport == other.GenerateIntegrationReport &&
		c.RefreshInterval == other.RefreshInterval &&
		timesEqual(c.StartDate, other.StartDate) &&
		timesEqual(c.StopDate, other.StopDate)
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// Clone returns a deep copy
func (c ConnectorConfig) Clone() ConnectorConfig {
	out := c
	out.Connection = c.Connection.Clone()
	if c.StartDate != nil {
		t := *c.StartDate
		out.StartDate = &t
	}
	if c.StopDate != nil {
		t := *c.StopDate
		out.StopDate = &t
	}
	return out
}

// Synchronization returns the permitted direction with the default applied
func (c *ConnectorConfig) Synchronization() core.SyncDirection {
	if c.PermittedSynchronization == "" {
		return core.SyncBothDirections
	}
	return c.PermittedSynchronization
}
