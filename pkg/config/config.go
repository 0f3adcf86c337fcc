// Package config provides the configuration system for integrationd.
//
// A DaemonConfig describes one integration daemon server:
//   - Log: zap logger settings
//   - HTTP: operator API listener
//   - Metrics and Tracing: prometheus and OpenTelemetry settings
//   - Scheduler: refresh tick and concurrency bound
//   - RegistrationStore: where integration groups read their connectors from
//   - Services: static connector lists, one handler per entry
//   - Groups: dynamically reconciled connector sets
//
// Example usage:
//
//	cfg, err := config.LoadDaemonConfig("integrationd.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/integrationd/pkg/logger"
)

// Registration store types
const (
	StoreNone     = "none"
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// DaemonConfig is the root configuration of one integration daemon server.
type DaemonConfig struct {
	// ServerName identifies this daemon in API paths and logs
	ServerName string `yaml:"server_name" json:"server_name" mapstructure:"server_name"`

	Log       logger.Config   `yaml:"log" json:"log" mapstructure:"log"`
	HTTP      HTTPConfig      `yaml:"http" json:"http" mapstructure:"http"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing" json:"tracing" mapstructure:"tracing"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler" mapstructure:"scheduler"`

	RegistrationStore StoreConfig `yaml:"registration_store" json:"registration_store" mapstructure:"registration_store"`

	Services []ServiceConfig `yaml:"services" json:"services" mapstructure:"services"`
	Groups   []GroupConfig   `yaml:"groups" json:"groups" mapstructure:"groups"`

	// ShutdownTimeout bounds how long Stop waits for connectors to disconnect
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// HTTPConfig configures the operator API
type HTTPConfig struct {
	ListenAddress  string        `yaml:"listen_address" json:"listen_address" mapstructure:"listen_address"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout" mapstructure:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins" json:"allowed_origins" mapstructure:"allowed_origins"`
}

// MetricsConfig configures the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" json:"path" mapstructure:"path"`
}

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter" mapstructure:"exporter"`
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate" mapstructure:"sampling_rate"`
	Environment  string  `yaml:"environment" json:"environment" mapstructure:"environment"`
}

// SchedulerConfig configures the shared refresh scheduler
type SchedulerConfig struct {
	// TickInterval is how often due connectors are looked for
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval" mapstructure:"tick_interval"`
	// DefaultRefreshInterval applies to connectors without their own interval
	DefaultRefreshInterval time.Duration `yaml:"default_refresh_interval" json:"default_refresh_interval" mapstructure:"default_refresh_interval"`
	// MaxConcurrentRefreshes bounds refreshes running at the same time
	MaxConcurrentRefreshes int `yaml:"max_concurrent_refreshes" json:"max_concurrent_refreshes" mapstructure:"max_concurrent_refreshes"`
	// IdleBackoff is how long a dedicated goroutine waits when its connector is not running
	IdleBackoff time.Duration `yaml:"idle_backoff" json:"idle_backoff" mapstructure:"idle_backoff"`
}

// StoreConfig selects and configures the registration store
type StoreConfig struct {
	Type           string        `yaml:"type" json:"type" mapstructure:"type"`
	DSN            string        `yaml:"dsn" json:"dsn,omitempty" mapstructure:"dsn"`
	Table          string        `yaml:"table" json:"table,omitempty" mapstructure:"table"`
	RedisURL       string        `yaml:"redis_url" json:"redis_url,omitempty" mapstructure:"redis_url"`
	KeyPrefix      string        `yaml:"key_prefix" json:"key_prefix,omitempty" mapstructure:"key_prefix"`
	File           string        `yaml:"file" json:"file,omitempty" mapstructure:"file"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" mapstructure:"connect_timeout"`
}

// ServiceConfig is a static list of connectors supervised together
type ServiceConfig struct {
	Name string `yaml:"name" json:"name" mapstructure:"name"`
	// UserID is the default connector user for entries without one
	UserID string `yaml:"user_id" json:"user_id" mapstructure:"user_id"`
	// DefaultRefreshInterval applies to entries without their own interval
	DefaultRefreshInterval time.Duration     `yaml:"default_refresh_interval" json:"default_refresh_interval" mapstructure:"default_refresh_interval"`
	Connectors             []ConnectorConfig `yaml:"connectors" json:"connectors" mapstructure:"connectors"`
}

// GroupConfig is a connector set reconciled against the registration store
type GroupConfig struct {
	Name string `yaml:"name" json:"name" mapstructure:"name"`
	// ConfigRefreshInterval is how often the group re-reads its registrations
	ConfigRefreshInterval time.Duration `yaml:"config_refresh_interval" json:"config_refresh_interval" mapstructure:"config_refresh_interval"`
	// PageSize is the page size used when reading registrations
	PageSize int `yaml:"page_size" json:"page_size" mapstructure:"page_size"`
	// MaxPageSize caps PageSize
	MaxPageSize int `yaml:"max_page_size" json:"max_page_size" mapstructure:"max_page_size"`
}

// NewDaemonConfig creates a configuration with sensible defaults
func NewDaemonConfig(serverName string) *DaemonConfig {
	return &DaemonConfig{
		ServerName: serverName,
		Log: logger.Config{
			Level:    "info",
			Encoding: "json",
		},
		HTTP: HTTPConfig{
			ListenAddress: ":9443",
			ReadTimeout:   15 * time.Second,
			WriteTimeout:  60 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Exporter:     "stdout",
			SamplingRate: 0.1,
			Environment:  "production",
		},
		Scheduler: SchedulerConfig{
			TickInterval:           time.Second,
			DefaultRefreshInterval: 60 * time.Minute,
			MaxConcurrentRefreshes: 16,
			IdleBackoff:            5 * time.Second,
		},
		RegistrationStore: StoreConfig{
			Type:           StoreNone,
			Table:          "integration_connector_registrations",
			KeyPrefix:      "integrationd",
			ConnectTimeout: 10 * time.Second,
		},
		ShutdownTimeout: 30 * time.Second,
	}
}

// ApplyDefaults fills zero values that a partially written file left empty
func (c *DaemonConfig) ApplyDefaults() {
	d := NewDaemonConfig(c.ServerName)
	if c.HTTP.ListenAddress == "" {
		c.HTTP.ListenAddress = d.HTTP.ListenAddress
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = d.Metrics.Path
	}
	if c.Scheduler.TickInterval <= 0 {
		c.Scheduler.TickInterval = d.Scheduler.TickInterval
	}
	if c.Scheduler.DefaultRefreshInterval <= 0 {
		c.Scheduler.DefaultRefreshInterval = d.Scheduler.DefaultRefreshInterval
	}
	if c.Scheduler.MaxConcurrentRefreshes <= 0 {
		c.Scheduler.MaxConcurrentRefreshes = d.Scheduler.MaxConcurrentRefreshes
	}
	if c.Scheduler.IdleBackoff <= 0 {
		c.Scheduler.IdleBackoff = d.Scheduler.IdleBackoff
	}
	if c.RegistrationStore.Type == "" {
		c.RegistrationStore.Type = StoreNone
	}
	if c.RegistrationStore.Table == "" {
		c.RegistrationStore.Table = d.RegistrationStore.Table
	}
	if c.RegistrationStore.KeyPrefix == "" {
		c.RegistrationStore.KeyPrefix = d.RegistrationStore.KeyPrefix
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	for i := range c.Groups {
		if c.Groups[i].PageSize <= 0 {
			c.Groups[i].PageSize = 100
		}
		if c.Groups[i].ConfigRefreshInterval <= 0 {
			c.Groups[i].ConfigRefreshInterval = 5 * time.Minute
		}
	}
	for i := range c.Services {
		svc := &c.Services[i]
		for j := range svc.Connectors {
			conn := &svc.Connectors[j]
			if conn.ConnectorUserID == "" {
				conn.ConnectorUserID = svc.UserID
			}
			if conn.RefreshInterval == 0 {
				conn.RefreshInterval = svc.DefaultRefreshInterval
			}
		}
	}
}

// Validate validates the configuration for correctness.
// Returns an error if validation fails, nil otherwise.
func (c *DaemonConfig) Validate() error {
	if c.ServerName == "" {
		return fmt.Errorf("server_name is required")
	}
	if c.Scheduler.MaxConcurrentRefreshes <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_refreshes must be positive")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate must be between 0 and 1")
	}

	switch c.RegistrationStore.Type {
	case StoreNone:
		if len(c.Groups) > 0 {
			return fmt.Errorf("groups require a registration_store")
		}
	case StoreFile:
		if c.RegistrationStore.File == "" {
			return fmt.Errorf("registration_store.file is required for the file store")
		}
	case StorePostgres:
		if c.RegistrationStore.DSN == "" {
			return fmt.Errorf("registration_store.dsn is required for the postgres store")
		}
	case StoreRedis:
		if c.RegistrationStore.RedisURL == "" {
			return fmt.Errorf("registration_store.redis_url is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown registration_store.type %q", c.RegistrationStore.Type)
	}

	names := make(map[string]struct{})
	ids := make(map[string]string)
	for _, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("service name is required")
		}
		if _, dup := names[svc.Name]; dup {
			return fmt.Errorf("duplicate service or group name %q", svc.Name)
		}
		names[svc.Name] = struct{}{}

		for i := range svc.Connectors {
			conn := &svc.Connectors[i]
			if err := conn.Validate(); err != nil {
				return fmt.Errorf("service %s: %w", svc.Name, err)
			}
			if owner, dup := ids[conn.ConnectorID]; dup {
				return fmt.Errorf("connector_id %q is used by %s and %s", conn.ConnectorID, owner, svc.Name)
			}
			ids[conn.ConnectorID] = svc.Name
		}
	}

	for _, g := range c.Groups {
		if g.Name == "" {
			return fmt.Errorf("group name is required")
		}
		if _, dup := names[g.Name]; dup {
			return fmt.Errorf("duplicate service or group name %q", g.Name)
		}
		names[g.Name] = struct{}{}
		if g.PageSize <= 0 {
			return fmt.Errorf("group %s: page_size must be positive", g.Name)
		}
	}

	return nil
}

// EffectivePageSize returns the page size capped by MaxPageSize
func (g *GroupConfig) EffectivePageSize() int {
	size := g.PageSize
	if size <= 0 {
		size = 100
	}
	if g.MaxPageSize > 0 && size > g.MaxPageSize {
		size = g.MaxPageSize
	}
	return size
}
