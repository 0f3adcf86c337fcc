// Package daemon assembles one integration daemon server from its
// configuration: the integration services and groups, the shared connector
// directory, the refresh scheduler, the registration store and the report
// store. It is the surface the operator API and the CLI drive.
package daemon

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ajitpratap0/integrationd/internal/audit"
	"github.com/ajitpratap0/integrationd/internal/integration"
	"github.com/ajitpratap0/integrationd/internal/registration"
	"github.com/ajitpratap0/integrationd/pkg/config"
	"github.com/ajitpratap0/integrationd/pkg/connector/core"
	"github.com/ajitpratap0/integrationd/pkg/connector/registry"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"github.com/ajitpratap0/integrationd/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options replace the collaborators a daemon would otherwise build from its
// configuration. Zero values select the defaults.
type Options struct {
	// Broker defaults to the global connector registry
	Broker integration.Broker
	// Store defaults to the store named by the configuration. A store
	// passed here is not closed by Stop.
	Store registration.Store
	Logger *zap.Logger
	Clock  func() time.Time
	// AuditLimit is how many audit entries are kept for the API (default 500)
	AuditLimit int
}

type lifecycle int

const (
	created lifecycle = iota
	running
	stopped
)

// groupState tracks the last reconciliation of a group
type groupState struct {
	sup *integration.GroupSupervisor

	mu         sync.Mutex
	lastRun    time.Time
	lastResult integration.ReconcileResult
	lastErr    string
}

func (gs *groupState) record(now time.Time, res integration.ReconcileResult, err error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.lastRun = now
	gs.lastResult = res
	gs.lastErr = ""
	if err != nil {
		gs.lastErr = err.Error()
	}
}

// Daemon is one integration daemon server
type Daemon struct {
	cfg       config.DaemonConfig
	logger    *zap.Logger
	audit     *audit.Recorder
	clock     func() time.Time
	directory *integration.Directory
	reports   *integration.ReportStore
	scheduler *integration.Scheduler
	resources *resourceMonitor

	store     registration.Store
	ownsStore bool

	services       []*integration.ServiceSupervisor
	servicesByName map[string]*integration.ServiceSupervisor
	groups         []*groupState
	groupsByName   map[string]*groupState

	mu        sync.Mutex
	state     lifecycle
	startedAt time.Time
	cancel    context.CancelFunc
	loops     sync.WaitGroup
}

// New validates cfg and builds the daemon's supervisors. No connector is
// built until Start.
func New(ctx context.Context, cfg *config.DaemonConfig, opts Options) (*Daemon, error) {
	c := *cfg
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid daemon configuration")
	}

	l := opts.Logger
	if l == nil {
		l = logger.Get()
	}
	l = l.With(zap.String("server", c.ServerName))

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	auditLimit := opts.AuditLimit
	if auditLimit <= 0 {
		auditLimit = 500
	}
	broker := opts.Broker
	if broker == nil {
		broker = registry.GetRegistry()
	}

	d := &Daemon{
		cfg:            c,
		logger:         l.With(zap.String("component", "daemon")),
		audit:          audit.NewRecorder(auditLimit, audit.NewZapLog(l)),
		clock:          clock,
		directory:      integration.NewDirectory(),
		reports:        integration.NewReportStore(0),
		scheduler:      integration.NewScheduler(c.Scheduler.TickInterval, c.Scheduler.MaxConcurrentRefreshes, l),
		resources:      newResourceMonitor(),
		store:          opts.Store,
		servicesByName: make(map[string]*integration.ServiceSupervisor),
		groupsByName:   make(map[string]*groupState),
	}

	if d.store == nil && len(c.Groups) > 0 {
		store, err := registration.Open(ctx, c.RegistrationStore, l)
		if err != nil {
			return nil, err
		}
		d.store = store
		d.ownsStore = true
	}

	deps := integration.Dependencies{
		Broker:                 broker,
		ContextManager:         integration.NewReportingContextManager(d.reports, d.audit, l),
		Audit:                  d.audit,
		Logger:                 l,
		Clock:                  clock,
		IdleBackoff:            c.Scheduler.IdleBackoff,
		DefaultRefreshInterval: c.Scheduler.DefaultRefreshInterval,
	}

	for _, svcCfg := range c.Services {
		sup, err := integration.NewServiceSupervisor(svcCfg, d.directory, deps)
		if err != nil {
			d.abandon(ctx)
			return nil, err
		}
		d.services = append(d.services, sup)
		d.servicesByName[sup.Name()] = sup
		d.scheduler.AddSource(sup)
	}

	for _, groupCfg := range c.Groups {
		gs := &groupState{sup: integration.NewGroupSupervisor(groupCfg, d.store, d.directory, deps)}
		d.groups = append(d.groups, gs)
		d.groupsByName[groupCfg.Name] = gs
		d.scheduler.AddSource(gs.sup)
	}

	return d, nil
}

// abandon releases what a failed New already built
func (d *Daemon) abandon(ctx context.Context) {
	for _, sup := range d.services {
		_ = sup.Shutdown(ctx)
	}
	if d.ownsStore && d.store != nil {
		_ = d.store.Close()
	}
}

// ServerName returns the configured server name
func (d *Daemon) ServerName() string {
	return d.cfg.ServerName
}

// Config returns the effective configuration
func (d *Daemon) Config() config.DaemonConfig {
	return d.cfg
}

// Start initializes every service, loads every group, and starts the
// scheduler and the group configuration polling loops.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.state != created {
		d.mu.Unlock()
		return errors.New(errors.ErrorTypeConflict, "daemon "+d.cfg.ServerName+" has already been started")
	}
	d.state = running
	d.startedAt = d.clock()
	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.mu.Unlock()

	d.logger.Info("starting integration daemon",
		zap.Int("services", len(d.services)),
		zap.Int("groups", len(d.groups)))

	var g errgroup.Group
	for _, sup := range d.services {
		sup := sup
		g.Go(func() error { return sup.Initialize(ctx) })
	}
	for _, gs := range d.groups {
		gs := gs
		g.Go(func() error {
			d.reconcile(ctx, gs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.logger.Warn("daemon start interrupted", zap.Error(err))
	}

	d.scheduler.Start(runCtx)
	for _, gs := range d.groups {
		d.loops.Add(1)
		go d.pollGroup(runCtx, gs)
	}

	d.audit.LogMessage("start", audit.DaemonStarted.Message(d.cfg.ServerName, len(d.services), len(d.groups)),
		zap.String("server", d.cfg.ServerName))
	return nil
}

func (d *Daemon) pollGroup(ctx context.Context, gs *groupState) {
	defer d.loops.Done()

	ticker := time.NewTicker(gs.sup.Config().ConfigRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reconcile(ctx, gs)
		}
	}
}

func (d *Daemon) reconcile(ctx context.Context, gs *groupState) (integration.ReconcileResult, error) {
	res, err := gs.sup.RefreshAllConnectorConfig(ctx)
	gs.record(d.clock(), res, err)
	if err != nil {
		d.logger.Warn("group reconciliation failed", zap.String("group", gs.sup.Name()), zap.Error(err))
	}
	return res, err
}

// Stop ends the polling loops and the scheduler, then shuts every connector
// down. Without a deadline on ctx the configured shutdown timeout applies.
// A stopped daemon cannot be started again.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.state == stopped {
		d.mu.Unlock()
		return nil
	}
	wasRunning := d.state == running
	d.state = stopped
	cancel := d.cancel
	d.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, d.cfg.ShutdownTimeout)
		defer cancelTimeout()
	}

	var errs []error
	if wasRunning {
		cancel()
		d.loops.Wait()
		if err := d.scheduler.Stop(ctx); err != nil {
			errs = append(errs, errors.Wrap(err, errors.ErrorTypeTimeout, "refreshes still running at shutdown"))
		}
	}

	var g errgroup.Group
	for _, sup := range d.services {
		sup := sup
		g.Go(func() error { return sup.Shutdown(ctx) })
	}
	for _, gs := range d.groups {
		gs := gs
		g.Go(func() error { return gs.sup.Shutdown(ctx) })
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	if d.ownsStore && d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, errors.ErrorTypeUnavailable, "failed to close registration store"))
		}
	}

	d.audit.LogMessage("stop", audit.DaemonStopped.Message(d.cfg.ServerName), zap.String("server", d.cfg.ServerName))
	return errors.Join(errs...)
}

func (d *Daemon) service(name string) (*integration.ServiceSupervisor, error) {
	sup, ok := d.servicesByName[name]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "server %s has no integration service %s", d.cfg.ServerName, name).
			WithDetail("service", name)
	}
	return sup, nil
}

func (d *Daemon) group(name string) (*groupState, error) {
	gs, ok := d.groupsByName[name]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "server %s has no integration group %s", d.cfg.ServerName, name).
			WithDetail("group", name)
	}
	return gs, nil
}

// connector resolves a connector by id, then by display name
func (d *Daemon) connector(ref string) (*integration.ConnectorHandler, error) {
	if ref == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "connector id or name is required")
	}
	if h, ok := d.directory.Lookup(ref); ok {
		return h, nil
	}

	matches := d.directory.FindByName(ref)
	switch len(matches) {
	case 0:
		return nil, errors.Newf(errors.ErrorTypeValidation, "server %s has no connector %s", d.cfg.ServerName, ref).
			WithDetail("connector", ref)
	case 1:
		return matches[0], nil
	}

	ids := make([]string, 0, len(matches))
	for _, h := range matches {
		ids = append(ids, h.ID())
	}
	return nil, errors.Newf(errors.ErrorTypeValidation, "connector name %s is ambiguous; use the connector id", ref).
		WithDetail("connector_ids", ids)
}

// RefreshConnector refreshes connectors. With a service name it acts on
// that service (every connector when connectorName is empty); without one
// it acts on the named connector wherever it lives, or on every connector
// of the server when both are empty.
func (d *Daemon) RefreshConnector(ctx context.Context, serviceName, connectorName string) error {
	return d.forConnectors(ctx, serviceName, connectorName,
		func(ctx context.Context, sup *integration.ServiceSupervisor, name string) error {
			return sup.RefreshService(ctx, name)
		},
		func(ctx context.Context, h *integration.ConnectorHandler) error {
			return h.Refresh(ctx, false)
		})
}

// RestartConnector rebuilds connectors; it selects them like RefreshConnector
func (d *Daemon) RestartConnector(ctx context.Context, serviceName, connectorName string) error {
	return d.forConnectors(ctx, serviceName, connectorName,
		func(ctx context.Context, sup *integration.ServiceSupervisor, name string) error {
			return sup.RestartService(ctx, name)
		},
		func(ctx context.Context, h *integration.ConnectorHandler) error {
			return h.Reinitialize(ctx, "restart requested")
		})
}

func (d *Daemon) forConnectors(
	ctx context.Context,
	serviceName, connectorName string,
	onService func(context.Context, *integration.ServiceSupervisor, string) error,
	onHandler func(context.Context, *integration.ConnectorHandler) error,
) error {
	if serviceName != "" {
		sup, err := d.service(serviceName)
		if err != nil {
			return err
		}
		return onService(ctx, sup, connectorName)
	}
	if connectorName != "" {
		h, err := d.connector(connectorName)
		if err != nil {
			return err
		}
		return onHandler(ctx, h)
	}

	var g errgroup.Group
	for _, sup := range d.services {
		sup := sup
		g.Go(func() error { return onService(ctx, sup, "") })
	}
	for _, gs := range d.groups {
		for _, h := range gs.sup.Handlers() {
			h := h
			g.Go(func() error { return onHandler(ctx, h) })
		}
	}
	return g.Wait()
}

// ConnectorReport returns the summary of one connector
func (d *Daemon) ConnectorReport(ref string) (integration.ConnectorReport, error) {
	h, err := d.connector(ref)
	if err != nil {
		return integration.ConnectorReport{}, err
	}
	return h.Report(), nil
}

// UpdateConfigurationProperties merges props into the connector's
// configuration properties, or replaces them when replace is set. The
// connector is rebuilt when the connection changes.
func (d *Daemon) UpdateConfigurationProperties(ctx context.Context, ref string, props map[string]interface{}, replace bool) error {
	h, err := d.connector(ref)
	if err != nil {
		return err
	}
	return h.UpdateConfigurationProperties(ctx, props, replace)
}

// UpdateEndpointNetworkAddress changes the network address of the
// connector's endpoint
func (d *Daemon) UpdateEndpointNetworkAddress(ctx context.Context, ref, address string) error {
	h, err := d.connector(ref)
	if err != nil {
		return err
	}
	return h.UpdateEndpointNetworkAddress(ctx, address)
}

// UpdateConnectorConnection replaces the connector's connection
func (d *Daemon) UpdateConnectorConnection(ctx context.Context, ref string, conn core.Connection) error {
	h, err := d.connector(ref)
	if err != nil {
		return err
	}
	return h.UpdateConnection(ctx, conn)
}

// RefreshGroupConfig reconciles a group against the registration store now
func (d *Daemon) RefreshGroupConfig(ctx context.Context, groupName string) (integration.ReconcileResult, error) {
	gs, err := d.group(groupName)
	if err != nil {
		return integration.ReconcileResult{}, err
	}
	return d.reconcile(ctx, gs)
}

// RefreshConnectorConfig re-reads one registration of a group
func (d *Daemon) RefreshConnectorConfig(ctx context.Context, groupName, connectorID string) (integration.ReconcileResult, error) {
	gs, err := d.group(groupName)
	if err != nil {
		return integration.ReconcileResult{}, err
	}
	return gs.sup.RefreshConnectorConfig(ctx, connectorID)
}

// Reports returns the integration reports of a connector, newest first
func (d *Daemon) Reports(ref string) ([]integration.IntegrationReport, error) {
	h, err := d.connector(ref)
	if err != nil {
		return nil, err
	}
	return d.reports.Reports(h.ID()), nil
}

// AuditEntries returns the most recent audit entries, oldest first
func (d *Daemon) AuditEntries() []audit.Entry {
	return d.audit.Entries()
}

// ServiceSummary reports the connectors of one integration service
type ServiceSummary struct {
	Name       string                        `json:"name"`
	Connectors []integration.ConnectorReport `json:"connectors"`
}

// GroupSummary reports the connectors of one integration group and its last
// reconciliation
type GroupSummary struct {
	Name                  string                        `json:"name"`
	ConfigRefreshInterval string                        `json:"config_refresh_interval"`
	LastReconcile         *time.Time                    `json:"last_reconcile,omitempty"`
	LastResult            *integration.ReconcileResult  `json:"last_result,omitempty"`
	LastError             string                        `json:"last_error,omitempty"`
	Connectors            []integration.ConnectorReport `json:"connectors"`
}

// Summary reports every service and group of the server
type Summary struct {
	ServerName string           `json:"server_name"`
	Services   []ServiceSummary `json:"services"`
	Groups     []GroupSummary   `json:"groups"`
}

// ServiceSummary returns the summary of a named service
func (d *Daemon) ServiceSummary(name string) (ServiceSummary, error) {
	sup, err := d.service(name)
	if err != nil {
		return ServiceSummary{}, err
	}
	return ServiceSummary{Name: sup.Name(), Connectors: sup.Summary()}, nil
}

// GroupSummary returns the summary of a named group
func (d *Daemon) GroupSummary(name string) (GroupSummary, error) {
	gs, err := d.group(name)
	if err != nil {
		return GroupSummary{}, err
	}
	return d.groupSummary(gs), nil
}

func (d *Daemon) groupSummary(gs *groupState) GroupSummary {
	s := GroupSummary{
		Name:                  gs.sup.Name(),
		ConfigRefreshInterval: gs.sup.Config().ConfigRefreshInterval.String(),
		Connectors:            gs.sup.Summary(),
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()
	if !gs.lastRun.IsZero() {
		last, res := gs.lastRun, gs.lastResult
		s.LastReconcile = &last
		s.LastResult = &res
		s.LastError = gs.lastErr
	}
	return s
}

// Summary returns the summary of every service and group
func (d *Daemon) Summary() Summary {
	s := Summary{
		ServerName: d.cfg.ServerName,
		Services:   make([]ServiceSummary, 0, len(d.services)),
		Groups:     make([]GroupSummary, 0, len(d.groups)),
	}
	for _, sup := range d.services {
		s.Services = append(s.Services, ServiceSummary{Name: sup.Name(), Connectors: sup.Summary()})
	}
	for _, gs := range d.groups {
		s.Groups = append(s.Groups, d.groupSummary(gs))
	}
	return s
}

// Status is the health view of the server
type Status struct {
	ServerName         string         `json:"server_name"`
	Running            bool           `json:"running"`
	StartTime          *time.Time     `json:"start_time,omitempty"`
	UptimeSeconds      int64          `json:"uptime_seconds"`
	Services           []string       `json:"services"`
	Groups             []string       `json:"groups"`
	Connectors         int            `json:"connectors"`
	ConnectorsByStatus map[string]int `json:"connectors_by_status"`
	RegistrationStore  string         `json:"registration_store"`
	Resources          ResourceUsage  `json:"resources"`
}

// Status returns the current server status
func (d *Daemon) Status() Status {
	d.mu.Lock()
	state, startedAt := d.state, d.startedAt
	d.mu.Unlock()

	st := Status{
		ServerName:         d.cfg.ServerName,
		Running:            state == running,
		Services:           make([]string, 0, len(d.services)),
		Groups:             make([]string, 0, len(d.groups)),
		ConnectorsByStatus: make(map[string]int),
		RegistrationStore:  d.cfg.RegistrationStore.Type,
		Resources:          d.resources.usage(),
	}
	if !startedAt.IsZero() {
		st.StartTime = &startedAt
	}
	if st.Running {
		st.UptimeSeconds = int64(d.clock().Sub(startedAt) / time.Second)
	}
	for _, sup := range d.services {
		st.Services = append(st.Services, sup.Name())
	}
	for _, gs := range d.groups {
		st.Groups = append(st.Groups, gs.sup.Name())
	}
	sort.Strings(st.Services)
	sort.Strings(st.Groups)

	for _, h := range d.directory.Handlers() {
		st.Connectors++
		st.ConnectorsByStatus[string(h.Status())]++
	}
	return st
}
