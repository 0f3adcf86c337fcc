// Package integration supervises integration connectors: one
// ConnectorHandler per connector drives its lifecycle, ServiceSupervisor and
// GroupSupervisor own sets of handlers, and a shared Scheduler refreshes them.
package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/ajitpratap0/integrationd/internal/audit"
	"github.com/ajitpratap0/integrationd/pkg/config"
	"github.com/ajitpratap0/integrationd/pkg/connector/core"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"github.com/ajitpratap0/integrationd/pkg/logger"
	"github.com/ajitpratap0/integrationd/pkg/metrics"
	"github.com/ajitpratap0/integrationd/pkg/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dependencies are the collaborators shared by every handler of a daemon.
type Dependencies struct {
	Broker         Broker
	ContextManager ContextManager
	Audit          audit.Log
	Logger         *zap.Logger
	// Clock defaults to time.Now
	Clock func() time.Time
	// IdleBackoff is how long a dedicated goroutine sleeps while its
	// connector is not running
	IdleBackoff time.Duration
	// DefaultRefreshInterval applies to connectors without their own interval
	DefaultRefreshInterval time.Duration
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Logger == nil {
		d.Logger = logger.Get()
	}
	if d.Audit == nil {
		d.Audit = audit.NewZapLog(d.Logger)
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.IdleBackoff <= 0 {
		d.IdleBackoff = 5 * time.Second
	}
	if d.DefaultRefreshInterval <= 0 {
		d.DefaultRefreshInterval = 60 * time.Minute
	}
	return d
}

// ConnectorHandler drives the lifecycle of one connector. Every state
// changing method takes the handler's lock, so at most one runs at a time;
// handlers never take each other's locks.
type ConnectorHandler struct {
	id    string
	owner string
	deps  Dependencies

	lock     handlerLock
	instance *ConnectorInstance
	ictx     IntegrationContext
	thread   *engageThread

	logger *zap.Logger
}

// NewConnectorHandler creates a handler in status UNINITIALIZED. Call
// Reinitialize to build the connector.
func NewConnectorHandler(details config.ConnectorConfig, owner string, deps Dependencies) *ConnectorHandler {
	deps = deps.withDefaults()
	return &ConnectorHandler{
		id:       details.ConnectorID,
		owner:    owner,
		deps:     deps,
		lock:     newHandlerLock(),
		instance: newConnectorInstance(details, deps.Clock()),
		logger: deps.Logger.With(
			zap.String("component", "connector_handler"),
			zap.String("connector_id", details.ConnectorID),
			zap.String("owner", owner),
		),
	}
}

// ID returns the connector id the handler is keyed by
func (h *ConnectorHandler) ID() string {
	return h.id
}

// Owner returns the name of the service or group supervising the handler
func (h *ConnectorHandler) Owner() string {
	return h.owner
}

// Name returns the connector display name
func (h *ConnectorHandler) Name() string {
	d := h.instance.Details()
	return d.DisplayName()
}

// Instance exposes the runtime state for read access
func (h *ConnectorHandler) Instance() *ConnectorInstance {
	return h.instance
}

// Status returns the current status
func (h *ConnectorHandler) Status() ConnectorStatus {
	return h.instance.Status()
}

// Details returns a copy of the registration details
func (h *ConnectorHandler) Details() config.ConnectorConfig {
	return h.instance.Details()
}

// RefreshInterval returns the effective minimum refresh interval
func (h *ConnectorHandler) RefreshInterval() time.Duration {
	d := h.instance.Details()
	if d.RefreshInterval > 0 {
		return d.RefreshInterval
	}
	return h.deps.DefaultRefreshInterval
}

// Report returns the summary record of the connector
func (h *ConnectorHandler) Report() ConnectorReport {
	r := h.instance.Report(h.owner)
	r.MinRefreshIntervalSeconds = int64(h.RefreshInterval() / time.Second)
	return r
}

// Reinitialize discards the current connector and builds a new one. Build
// failures are recorded in the handler status, not returned; the only error
// is ctx ending before the handler lock was acquired.
func (h *ConnectorHandler) Reinitialize(ctx context.Context, reason string) error {
	if err := h.lock.acquire(ctx); err != nil {
		return err
	}
	defer h.lock.release()

	h.reinitializeLocked(ctx, reason)
	return nil
}

func (h *ConnectorHandler) reinitializeLocked(ctx context.Context, reason string) {
	details := h.instance.Details()
	tracer := observability.NewConnectorTracer(h.id, details.Connection.ConnectorType)
	ctx, span := tracer.StartSpan(ctx, "reinitialize")
	defer span.End()

	h.stopThreadLocked()
	if h.holdsResources() {
		if err := h.disconnectResources(ctx); err != nil {
			h.auditError("reinitialize", audit.ConnectorDisconnectFailed, err, err.Error())
		}
	}
	h.ictx = nil
	h.instance.clearConnector()

	raw, err := h.deps.Broker.NewConnector(details.Connection)
	if err != nil {
		h.configFailed(err)
		observability.EndWithError(span, err)
		return
	}

	connector, ok := raw.(core.Connector)
	if !ok {
		err = errors.New(errors.ErrorTypeCapability,
			fmt.Sprintf("connector type %s does not implement the integration connector interface", details.Connection.ConnectorType))
		h.configFailed(err)
		observability.EndWithError(span, err)
		return
	}
	if details.UsesBlockingCalls {
		if _, ok := raw.(core.Engager); !ok {
			err = errors.New(errors.ErrorTypeCapability,
				fmt.Sprintf("connector type %s uses blocking calls but does not implement Engage", details.Connection.ConnectorType))
			h.transitionFailed(StatusConfigFailed, err.Error())
			h.auditError("reinitialize", audit.ConnectorThreadFailed, err, err.Error())
			observability.EndWithError(span, err)
			return
		}
	}

	instanceID := uuid.NewString()
	h.instance.install(connector, instanceID)

	ictx, err := h.deps.ContextManager.SetContext(ctx, ContextRequest{
		ConnectorID:                 details.ConnectorID,
		ConnectorName:               details.DisplayName(),
		ConnectorInstanceID:         instanceID,
		UserID:                      details.ConnectorUserID,
		Connector:                   raw,
		MetadataSourceQualifiedName: details.MetadataSourceQualifiedName,
		PermittedSynchronization:    details.Synchronization(),
		GenerateIntegrationReport:   details.GenerateIntegrationReport,
	})
	if err != nil {
		h.transitionFailed(StatusInitializeFailed, err.Error())
		h.auditError("reinitialize", audit.ConnectorContextFailed, err, err.Error())
		observability.EndWithError(span, err)
		return
	}

	h.ictx = ictx
	h.transition(StatusInitialized)
	h.auditMessage("reinitialize", audit.ConnectorInitialized, details.Connection.ConnectorType, reason)

	if details.UsesBlockingCalls {
		h.thread = startEngageThread(h, h.deps.IdleBackoff)
	}
	observability.EndWithError(span, nil)
}

func (h *ConnectorHandler) configFailed(err error) {
	h.transitionFailed(StatusConfigFailed, err.Error())
	h.auditError("reinitialize", audit.ConnectorConfigFailed, err, err.Error())
}

// Start calls the connector's start hook and moves to target. It does
// nothing unless the handler is INITIALIZED.
func (h *ConnectorHandler) Start(ctx context.Context, target ConnectorStatus) error {
	if err := h.lock.acquire(ctx); err != nil {
		return err
	}
	defer h.lock.release()

	h.startLocked(ctx, target)
	return nil
}

func (h *ConnectorHandler) startLocked(ctx context.Context, target ConnectorStatus) {
	if h.instance.Status() != StatusInitialized {
		return
	}
	connector := h.instance.currentConnector()

	details := h.instance.Details()
	tracer := observability.NewConnectorTracer(h.id, details.Connection.ConnectorType)
	if err := tracer.Trace(ctx, "start", connector.Start); err != nil {
		h.transitionFailed(StatusFailed, err.Error())
		h.auditError("start", audit.ConnectorStartFailed, err, err.Error())
		return
	}

	h.transition(target)
	h.instance.captureStatistics()
	h.auditMessage("start", audit.ConnectorStarted, string(target))
}

// Refresh runs one refresh cycle. An INITIALIZE_FAILED connector is rebuilt
// first and a freshly initialized polled connector is started; after that
// only a WAITING connector refreshes. Every other status makes Refresh a
// no-op. The only error is ctx ending before the lock was acquired. A
// refresh cut short because ctx ended leaves the connector WAITING.
func (h *ConnectorHandler) Refresh(ctx context.Context, isFirstCall bool) error {
	if err := h.lock.acquire(ctx); err != nil {
		return err
	}
	defer h.lock.release()

	h.refreshLocked(ctx, isFirstCall)
	return nil
}

func (h *ConnectorHandler) refreshLocked(ctx context.Context, isFirstCall bool) {
	details := h.instance.Details()
	if !h.checkWindowLocked(ctx, &details) {
		return
	}

	if h.instance.Status() == StatusInitializeFailed {
		h.reinitializeLocked(ctx, "retrying after initialization failure")
	}
	if h.instance.Status() == StatusInitialized && !details.UsesBlockingCalls {
		h.startLocked(ctx, StatusWaiting)
	}
	if h.instance.Status() != StatusWaiting {
		return
	}

	if isFirstCall {
		h.logger.Info("first refresh of connector")
	}

	connector := h.instance.currentConnector()
	ictx := h.ictx

	h.instance.setCycleStatus(StatusRefreshing)
	ictx.StartRecording()
	ictx.SetRefreshInProgress(true)

	timer := metrics.NewTimer()
	tracer := observability.NewConnectorTracer(h.id, details.Connection.ConnectorType)
	err := tracer.Trace(ctx, "refresh", connector.Refresh)
	metrics.RefreshDuration.WithLabelValues(h.id, "refresh", metrics.Outcome(err)).Observe(timer.Stop().Seconds())

	ictx.SetRefreshInProgress(false)
	h.instance.recordRefresh(h.deps.Clock())
	if perr := ictx.PublishReport(ctx); perr != nil {
		h.logger.Warn("failed to publish integration report", zap.Error(perr))
	}
	h.instance.captureStatistics()

	if err != nil && ctx.Err() == nil {
		h.transitionFailed(StatusFailed, err.Error())
		h.auditError("refresh", audit.ConnectorRefreshFailed, err, "refresh", err.Error())
		return
	}
	if err != nil {
		// the caller gave up, not the connector
		h.logger.Info("refresh interrupted", zap.Error(err))
	}

	h.instance.setCycleStatus(StatusWaiting)
}

// Engage is called in a loop by the dedicated goroutine of a blocking
// connector. It starts an INITIALIZED connector into RUNNING and, while
// RUNNING, calls the connector's Engage hook once. The hook runs without the
// handler lock so operators can still reach the handler while it blocks.
// Engage reports whether the hook was called.
func (h *ConnectorHandler) Engage(ctx context.Context) bool {
	if err := h.lock.acquire(ctx); err != nil {
		return false
	}

	details := h.instance.Details()
	if !h.checkWindowLocked(ctx, &details) {
		h.lock.release()
		return false
	}
	if h.instance.Status() == StatusInitialized {
		h.startLocked(ctx, StatusRunning)
	}
	if h.instance.Status() != StatusRunning {
		h.lock.release()
		return false
	}

	engager, ok := h.instance.currentConnector().(core.Engager)
	if !ok {
		h.lock.release()
		return false
	}
	ictx := h.ictx
	instanceID := h.instance.InstanceID()
	ictx.StartRecording()
	ictx.SetRefreshInProgress(true)
	h.lock.release()

	timer := metrics.NewTimer()
	tracer := observability.NewConnectorTracer(h.id, details.Connection.ConnectorType)
	err := tracer.Trace(ctx, "engage", engager.Engage)

	if lockErr := h.lock.acquire(ctx); lockErr != nil {
		// being stopped; the connector is torn down by whoever stopped us
		return true
	}
	defer h.lock.release()

	if h.instance.InstanceID() != instanceID {
		return true
	}
	metrics.RefreshDuration.WithLabelValues(h.id, "engage", metrics.Outcome(err)).Observe(timer.Stop().Seconds())

	ictx.SetRefreshInProgress(false)
	h.instance.recordRefresh(h.deps.Clock())
	if perr := ictx.PublishReport(ctx); perr != nil {
		h.logger.Warn("failed to publish integration report", zap.Error(perr))
	}
	h.instance.captureStatistics()

	if err != nil && ctx.Err() == nil && h.instance.Status() == StatusRunning {
		h.transitionFailed(StatusFailed, err.Error())
		h.auditError("engage", audit.ConnectorRefreshFailed, err, "engage", err.Error())
	}
	return true
}

// windowClosed reports whether the connector's stop date has passed
func (h *ConnectorHandler) windowClosed() bool {
	details := h.instance.Details()
	return details.WindowAt(h.deps.Clock()) == config.WindowClosed
}

// checkWindowLocked reports whether the connector may run now. Past the
// stop date an active connector is disconnected.
func (h *ConnectorHandler) checkWindowLocked(ctx context.Context, details *config.ConnectorConfig) bool {
	switch details.WindowAt(h.deps.Clock()) {
	case config.WindowPending:
		return false
	case config.WindowClosed:
		if h.instance.Status().canDisconnect() {
			h.auditMessage("window", audit.ConnectorWindowClosed)
			h.disconnectLocked(ctx, "stop date passed")
		}
		return false
	}
	return true
}

// Disconnect stops the dedicated goroutine and disconnects the connector,
// moving to STOPPED. Statuses without live resources are left alone.
func (h *ConnectorHandler) Disconnect(ctx context.Context, reason string) error {
	if err := h.lock.acquire(ctx); err != nil {
		return err
	}
	defer h.lock.release()

	h.stopThreadLocked()
	h.disconnectLocked(ctx, reason)
	return nil
}

func (h *ConnectorHandler) disconnectLocked(ctx context.Context, reason string) {
	if !h.instance.Status().canDisconnect() || h.instance.currentConnector() == nil {
		return
	}

	if err := h.disconnectResources(ctx); err != nil {
		h.transitionFailed(StatusFailed, err.Error())
		h.auditError("disconnect", audit.ConnectorDisconnectFailed, err, err.Error())
		return
	}

	h.transition(StatusStopped)
	h.auditMessage("disconnect", audit.ConnectorDisconnected, reason)
}

// disconnectResources releases the context, then the connector. Both are
// attempted; the first error is returned.
func (h *ConnectorHandler) disconnectResources(ctx context.Context) error {
	var first error
	if h.ictx != nil {
		if err := h.ictx.Disconnect(ctx); err != nil {
			first = errors.Wrap(err, errors.ErrorTypeRuntime, "integration context disconnect failed")
		}
	}
	if c := h.instance.currentConnector(); c != nil {
		if err := c.Disconnect(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Shutdown stops the dedicated goroutine, disconnects the connector whatever
// its status and returns the handler to UNINITIALIZED.
func (h *ConnectorHandler) Shutdown(ctx context.Context, reason string) error {
	if err := h.lock.acquire(ctx); err != nil {
		return err
	}
	defer h.lock.release()

	h.stopThreadLocked()
	if h.holdsResources() {
		if err := h.disconnectResources(ctx); err != nil {
			h.auditError("shutdown", audit.ConnectorDisconnectFailed, err, err.Error())
		} else {
			h.auditMessage("shutdown", audit.ConnectorDisconnected, reason)
		}
	}
	h.ictx = nil

	prev := h.instance.reset(h.deps.Clock())
	metrics.RecordTransition(h.id, string(prev), string(StatusUninitialized))
	return nil
}

// UpdateConnectorDetails applies new registration details. A changed
// connection or threading mode rebuilds the connector; anything else is
// applied in place without a status change.
func (h *ConnectorHandler) UpdateConnectorDetails(ctx context.Context, next config.ConnectorConfig) error {
	if next.ConnectorID != h.id {
		return errors.New(errors.ErrorTypeValidation,
			fmt.Sprintf("connector id %q does not match handler %q", next.ConnectorID, h.id))
	}
	if err := h.lock.acquire(ctx); err != nil {
		return err
	}
	defer h.lock.release()

	h.updateDetailsLocked(ctx, next)
	return nil
}

func (h *ConnectorHandler) updateDetailsLocked(ctx context.Context, next config.ConnectorConfig) {
	current := h.instance.Details()
	if current.Equal(&next) {
		return
	}

	restart := current.RequiresRestart(&next)
	h.instance.setDetails(next)
	h.auditMessage("update", audit.ConnectorDetailsUpdated, restart)

	if restart {
		h.reinitializeLocked(ctx, "connection details changed")
	}
}

// UpdateConfigurationProperties changes the connection's configuration
// properties, merging into or replacing the current ones, and restarts the
// connector.
func (h *ConnectorHandler) UpdateConfigurationProperties(ctx context.Context, props map[string]interface{}, replace bool) error {
	return h.updateConnection(ctx, func(conn *core.Connection) {
		if replace || conn.ConfigurationProperties == nil {
			conn.ConfigurationProperties = make(map[string]interface{}, len(props))
		}
		for k, v := range props {
			conn.ConfigurationProperties[k] = v
		}
	})
}

// UpdateEndpointNetworkAddress points the connector at a new address and
// restarts it.
func (h *ConnectorHandler) UpdateEndpointNetworkAddress(ctx context.Context, address string) error {
	if address == "" {
		return errors.New(errors.ErrorTypeValidation, "network address is required")
	}
	return h.updateConnection(ctx, func(conn *core.Connection) {
		conn.Endpoint.NetworkAddress = address
	})
}

// UpdateConnection replaces the connection and restarts the connector.
func (h *ConnectorHandler) UpdateConnection(ctx context.Context, conn core.Connection) error {
	if conn.ConnectorType == "" {
		return errors.New(errors.ErrorTypeValidation, "connection.connector_type is required")
	}
	return h.updateConnection(ctx, func(c *core.Connection) {
		*c = conn.Clone()
	})
}

func (h *ConnectorHandler) updateConnection(ctx context.Context, mutate func(conn *core.Connection)) error {
	if err := h.lock.acquire(ctx); err != nil {
		return err
	}
	defer h.lock.release()

	next := h.instance.Details()
	mutate(&next.Connection)
	h.updateDetailsLocked(ctx, next)
	return nil
}

// holdsResources reports whether a connector is installed and has not been
// disconnected already
func (h *ConnectorHandler) holdsResources() bool {
	return h.instance.currentConnector() != nil && h.instance.Status() != StatusStopped
}

func (h *ConnectorHandler) stopThreadLocked() {
	if h.thread == nil {
		return
	}
	h.thread.stop()
	h.thread = nil
}

func (h *ConnectorHandler) transition(to ConnectorStatus) {
	prev := h.instance.setStatus(to, h.deps.Clock())
	metrics.RecordTransition(h.id, string(prev), string(to))
	h.logger.Debug("connector status changed",
		zap.String("from", string(prev)),
		zap.String("to", string(to)))
}

func (h *ConnectorHandler) transitionFailed(to ConnectorStatus, msg string) {
	prev := h.instance.fail(to, msg, h.deps.Clock())
	metrics.RecordTransition(h.id, string(prev), string(to))
	h.logger.Warn("connector failed",
		zap.String("from", string(prev)),
		zap.String("to", string(to)),
		zap.String("failing_message", msg))
}

func (h *ConnectorHandler) auditMessage(action string, def audit.Definition, args ...interface{}) {
	h.deps.Audit.LogMessage(action, def.Message(h.auditArgs(args)...),
		zap.String("connector_id", h.id), zap.String("owner", h.owner))
}

func (h *ConnectorHandler) auditError(action string, def audit.Definition, err error, args ...interface{}) {
	fields := []zap.Field{zap.String("connector_id", h.id), zap.String("owner", h.owner)}
	if details := errors.DetailsOf(err); len(details) > 0 {
		fields = append(fields, zap.Any("details", details))
	}
	h.deps.Audit.LogError(action, def.Message(h.auditArgs(args)...), err, fields...)
}

func (h *ConnectorHandler) auditArgs(args []interface{}) []interface{} {
	return append([]interface{}{h.id, h.Name()}, args...)
}
