// Package base provides BaseConnector, the embedding shared by the built-in
// integration connectors. It keeps the connection, the integration context
// handed over by the daemon and a statistics map that the daemon reads for
// connector summaries.
//
// # Usage
//
//	type MyConnector struct {
//	    *base.BaseConnector
//	}
//
//	func NewMyConnector(conn core.Connection) (interface{}, error) {
//	    return &MyConnector{
//	        BaseConnector: base.NewBaseConnector("my-connector", "1.0.0", conn),
//	    }, nil
//	}
//
// The embedding supplies SetContext and Statistics, so the daemon sees the
// connector as core.ContextAware and core.StatisticsReporter.
package base

import (
	"sync"
	"time"

	"github.com/ajitpratap0/integrationd/pkg/connector/core"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"github.com/ajitpratap0/integrationd/pkg/logger"
	"go.uber.org/zap"
)

// BaseConnector holds state common to every connector
type BaseConnector struct {
	name       string
	version    string
	connection core.Connection
	logger     *zap.Logger

	ctxMu sync.RWMutex
	ictx  core.Context

	statsMu sync.Mutex
	stats   map[string]interface{}
}

// NewBaseConnector creates a new base connector for the named connector type.
func NewBaseConnector(name, version string, conn core.Connection) *BaseConnector {
	return &BaseConnector{
		name:       name,
		version:    version,
		connection: conn,
		logger:     logger.Get().With(zap.String("connector_type", name)),
		stats:      make(map[string]interface{}),
	}
}

// Name returns the connector type name
func (b *BaseConnector) Name() string {
	return b.name
}

// Version returns the connector version
func (b *BaseConnector) Version() string {
	return b.version
}

// Connection returns the connection the connector was built from
func (b *BaseConnector) Connection() core.Connection {
	return b.connection
}

// SetContext implements core.ContextAware
func (b *BaseConnector) SetContext(c core.Context) error {
	if c == nil {
		return errors.New(errors.ErrorTypeInitialize, "integration context is nil")
	}

	b.ctxMu.Lock()
	b.ictx = c
	b.ctxMu.Unlock()
	return nil
}

// Context returns the integration context, or nil before SetContext
func (b *BaseConnector) Context() core.Context {
	b.ctxMu.RLock()
	defer b.ctxMu.RUnlock()
	return b.ictx
}

// RequireContext returns the integration context or an initialize error
func (b *BaseConnector) RequireContext() (core.Context, error) {
	c := b.Context()
	if c == nil {
		return nil, errors.New(errors.ErrorTypeInitialize, "connector "+b.name+" has no integration context")
	}
	return c, nil
}

// Logger returns the context logger once bound, else the type logger
func (b *BaseConnector) Logger() *zap.Logger {
	if c := b.Context(); c != nil && c.Logger() != nil {
		return c.Logger()
	}
	return b.logger
}

// AddStat adds delta to an integer statistic
func (b *BaseConnector) AddStat(key string, delta int64) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()

	current, _ := b.stats[key].(int64)
	b.stats[key] = current + delta
}

// SetStat stores a statistic value
func (b *BaseConnector) SetStat(key string, value interface{}) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	b.stats[key] = value
}

// MarkCycle records the completion time of a refresh or engage cycle
func (b *BaseConnector) MarkCycle() {
	b.AddStat("cycles", 1)
	b.SetStat("last_cycle", time.Now().UTC().Format(time.RFC3339))
}

// Statistics implements core.StatisticsReporter
func (b *BaseConnector) Statistics() map[string]interface{} {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()

	out := make(map[string]interface{}, len(b.stats))
	for k, v := range b.stats {
		out[k] = v
	}
	return out
}

// InboundPermitted reports whether the bound context allows the connector to
// pull changes from its third party. Unbound connectors are not permitted.
func (b *BaseConnector) InboundPermitted() bool {
	c := b.Context()
	if c == nil {
		return false
	}
	return c.PermittedSynchronization() != core.SyncToThirdParty
}
