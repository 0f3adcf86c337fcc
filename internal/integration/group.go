package integration

import (
	"context"
	"sync"

	"github.com/ajitpratap0/integrationd/internal/audit"
	"github.com/ajitpratap0/integrationd/pkg/config"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"github.com/ajitpratap0/integrationd/pkg/metrics"
	"github.com/ajitpratap0/integrationd/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ReconcileResult counts what one reconciliation changed
type ReconcileResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
	Skipped int `json:"skipped"`
}

// GroupSupervisor keeps the connectors of an integration group in line with
// the registrations the group reads from its registration store.
type GroupSupervisor struct {
	cfg       config.GroupConfig
	client    RegistrationClient
	directory *Directory
	deps      Dependencies
	logger    *zap.Logger

	// reconcileMu serializes reconciliations
	reconcileMu sync.Mutex

	mu       sync.RWMutex
	handlers map[string]*ConnectorHandler
	order    []string
}

// NewGroupSupervisor creates a group with no connectors. Call
// RefreshAllConnectorConfig to load them.
func NewGroupSupervisor(cfg config.GroupConfig, client RegistrationClient, directory *Directory, deps Dependencies) *GroupSupervisor {
	deps = deps.withDefaults()
	return &GroupSupervisor{
		cfg:       cfg,
		client:    client,
		directory: directory,
		deps:      deps,
		logger:    deps.Logger.With(zap.String("component", "group_supervisor"), zap.String("group", cfg.Name)),
		handlers:  make(map[string]*ConnectorHandler),
	}
}

// Name returns the group name
func (g *GroupSupervisor) Name() string {
	return g.cfg.Name
}

// Config returns the group configuration
func (g *GroupSupervisor) Config() config.GroupConfig {
	return g.cfg
}

// Handlers returns the group's handlers in registration order
func (g *GroupSupervisor) Handlers() []*ConnectorHandler {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*ConnectorHandler, 0, len(g.order))
	for _, id := range g.order {
		if h, ok := g.handlers[id]; ok {
			out = append(out, h)
		}
	}
	return out
}

// Handler returns the group's handler for a connector id
func (g *GroupSupervisor) Handler(id string) (*ConnectorHandler, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	h, ok := g.handlers[id]
	return h, ok
}

// Summary returns a report for every connector of the group
func (g *GroupSupervisor) Summary() []ConnectorReport {
	handlers := g.Handlers()
	out := make([]ConnectorReport, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, h.Report())
	}
	return out
}

// RefreshAllConnectorConfig reads every registration of the group and
// reconciles the running connectors against them: new registrations are
// started, changed ones updated in place and missing ones shut down. If
// reading fails nothing is changed.
func (g *GroupSupervisor) RefreshAllConnectorConfig(ctx context.Context) (ReconcileResult, error) {
	g.reconcileMu.Lock()
	defer g.reconcileMu.Unlock()

	ctx, span := observability.StartSpan(ctx, "group.reconcile", attribute.String("group", g.cfg.Name))
	defer span.End()

	var result ReconcileResult
	regs, err := g.fetchAll(ctx)
	if err != nil {
		g.deps.Audit.LogError("reconcile", audit.GroupConfigFailed.Message(g.cfg.Name, err.Error()), err,
			zap.String("group", g.cfg.Name))
		observability.EndWithError(span, err)
		return result, err
	}

	desired := make(map[string]config.ConnectorConfig, len(regs))
	var order []string
	for _, reg := range regs {
		if verr := reg.Validate(); verr != nil {
			result.Skipped++
			g.deps.Audit.LogError("reconcile", audit.RegistrationSkipped.Message(g.cfg.Name, verr.Error()), verr,
				zap.String("group", g.cfg.Name))
			continue
		}
		if _, seen := desired[reg.ConnectorID]; !seen {
			order = append(order, reg.ConnectorID)
		}
		desired[reg.ConnectorID] = reg
	}

	kept := make([]string, 0, len(order))
	for _, id := range order {
		switch g.apply(ctx, desired[id]) {
		case applyAdded:
			result.Added++
		case applyUpdated:
			result.Updated++
		case applySkipped:
			result.Skipped++
			continue
		}
		kept = append(kept, id)
	}

	for _, h := range g.Handlers() {
		if _, ok := desired[h.ID()]; ok {
			continue
		}
		g.remove(ctx, h, "registration removed")
		result.Removed++
	}

	// registration order
	g.mu.Lock()
	g.order = kept
	g.mu.Unlock()

	g.record(result)
	observability.EndWithError(span, nil)
	return result, nil
}

// RefreshConnectorConfig reconciles a single registration. A registration
// that no longer exists shuts its connector down.
func (g *GroupSupervisor) RefreshConnectorConfig(ctx context.Context, connectorID string) (ReconcileResult, error) {
	g.reconcileMu.Lock()
	defer g.reconcileMu.Unlock()

	var result ReconcileResult
	if connectorID == "" {
		return result, errors.New(errors.ErrorTypeValidation, "connector id is required")
	}

	reg, err := g.client.GetRegistration(ctx, g.cfg.Name, connectorID)
	if err != nil {
		if !errors.IsType(err, errors.ErrorTypeNotFound) {
			return result, err
		}
		if h, ok := g.Handler(connectorID); ok {
			g.remove(ctx, h, "registration removed")
			result.Removed++
		}
		g.record(result)
		return result, nil
	}
	if err := reg.Validate(); err != nil {
		return result, err
	}

	switch g.apply(ctx, *reg) {
	case applyAdded:
		result.Added++
	case applyUpdated:
		result.Updated++
	case applySkipped:
		result.Skipped++
	}
	g.record(result)
	return result, nil
}

// Shutdown shuts down every connector of the group
func (g *GroupSupervisor) Shutdown(ctx context.Context) error {
	g.reconcileMu.Lock()
	defer g.reconcileMu.Unlock()

	var errs []error
	for _, h := range g.Handlers() {
		if err := h.Shutdown(ctx, "group "+g.cfg.Name+" shut down"); err != nil {
			errs = append(errs, err)
		}
		g.directory.Remove(h)
	}

	g.mu.Lock()
	g.handlers = make(map[string]*ConnectorHandler)
	g.order = nil
	g.mu.Unlock()
	metrics.GroupConnectors.WithLabelValues(g.cfg.Name).Set(0)
	return errors.Join(errs...)
}

type applyOutcome int

const (
	applyUnchanged applyOutcome = iota
	applyAdded
	applyUpdated
	applySkipped
)

func (g *GroupSupervisor) apply(ctx context.Context, reg config.ConnectorConfig) applyOutcome {
	if h, ok := g.Handler(reg.ConnectorID); ok {
		current := h.Details()
		if current.Equal(&reg) {
			return applyUnchanged
		}
		if err := h.UpdateConnectorDetails(ctx, reg); err != nil {
			g.logger.Warn("failed to update connector", zap.String("connector_id", reg.ConnectorID), zap.Error(err))
			return applyUnchanged
		}
		return applyUpdated
	}

	if owner, taken := g.directory.Owner(reg.ConnectorID); taken {
		g.deps.Audit.LogMessage("reconcile",
			audit.RegistrationOwnedElsewhere.Message(g.cfg.Name, reg.ConnectorID, owner),
			zap.String("group", g.cfg.Name))
		return applySkipped
	}

	h := NewConnectorHandler(reg, g.cfg.Name, g.deps)
	if err := g.directory.Register(h); err != nil {
		g.deps.Audit.LogError("reconcile", audit.RegistrationSkipped.Message(g.cfg.Name, err.Error()), err,
			zap.String("group", g.cfg.Name))
		return applySkipped
	}
	g.mu.Lock()
	g.handlers[reg.ConnectorID] = h
	g.order = append(g.order, reg.ConnectorID)
	g.mu.Unlock()

	if err := h.Reinitialize(ctx, "registered in group "+g.cfg.Name); err != nil {
		g.logger.Warn("connector initialization interrupted", zap.String("connector_id", reg.ConnectorID), zap.Error(err))
	}
	return applyAdded
}

// remove unlinks h from the group, then tears it down. The directory keeps
// the id until the connector is shut down.
func (g *GroupSupervisor) remove(ctx context.Context, h *ConnectorHandler, reason string) {
	g.unlink(h.ID())

	if err := h.Disconnect(ctx, reason); err != nil {
		g.logger.Warn("disconnect interrupted", zap.String("connector_id", h.ID()), zap.Error(err))
	}
	if err := h.Shutdown(ctx, reason); err != nil {
		g.logger.Warn("shutdown interrupted", zap.String("connector_id", h.ID()), zap.Error(err))
	}

	g.directory.Remove(h)
	metrics.ForgetConnector(h.ID())
	if f, ok := g.deps.ContextManager.(ConnectorForgetter); ok {
		f.ForgetConnector(h.ID())
	}
}

func (g *GroupSupervisor) unlink(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.handlers, id)
	for i, v := range g.order {
		if v == id {
			g.order = append(g.order[:i:i], g.order[i+1:]...)
			return
		}
	}
}

// fetchAll pages through the group's registrations until a short page
func (g *GroupSupervisor) fetchAll(ctx context.Context) ([]config.ConnectorConfig, error) {
	pageSize := g.cfg.EffectivePageSize()
	var all []config.ConnectorConfig
	for start := 0; ; {
		page, err := g.client.ListRegistrations(ctx, g.cfg.Name, start, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
		start += len(page)
	}
}

func (g *GroupSupervisor) record(r ReconcileResult) {
	name := g.cfg.Name
	metrics.Reconciliations.WithLabelValues(name, "added").Add(float64(r.Added))
	metrics.Reconciliations.WithLabelValues(name, "updated").Add(float64(r.Updated))
	metrics.Reconciliations.WithLabelValues(name, "removed").Add(float64(r.Removed))
	metrics.Reconciliations.WithLabelValues(name, "skipped").Add(float64(r.Skipped))

	g.mu.RLock()
	n := len(g.handlers)
	g.mu.RUnlock()
	metrics.GroupConnectors.WithLabelValues(name).Set(float64(n))

	g.deps.Audit.LogMessage("reconcile",
		audit.GroupReconciled.Message(name, r.Added, r.Updated, r.Removed, r.Skipped),
		zap.String("group", name))
}
