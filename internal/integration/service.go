package integration

import (
	"context"

	"github.com/ajitpratap0/integrationd/internal/audit"
	"github.com/ajitpratap0/integrationd/pkg/config"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ServiceSupervisor owns the connectors an integration service lists in the
// daemon configuration. The set is fixed for the life of the supervisor.
type ServiceSupervisor struct {
	name      string
	handlers  []*ConnectorHandler
	byName    map[string]*ConnectorHandler
	directory *Directory
	deps      Dependencies
	logger    *zap.Logger
}

// NewServiceSupervisor creates one handler per configured connector and
// registers them in directory. Connector names must be unique within the
// service and connector ids unique within the directory.
func NewServiceSupervisor(cfg config.ServiceConfig, directory *Directory, deps Dependencies) (*ServiceSupervisor, error) {
	deps = deps.withDefaults()
	s := &ServiceSupervisor{
		name:      cfg.Name,
		byName:    make(map[string]*ConnectorHandler, len(cfg.Connectors)),
		directory: directory,
		deps:      deps,
		logger:    deps.Logger.With(zap.String("component", "service_supervisor"), zap.String("service", cfg.Name)),
	}

	for _, cc := range cfg.Connectors {
		if err := cc.Validate(); err != nil {
			s.unregister()
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid connector in service "+cfg.Name)
		}
		name := cc.DisplayName()
		if _, dup := s.byName[name]; dup {
			s.unregister()
			return nil, errors.Newf(errors.ErrorTypeValidation,
				"service %s lists connector name %s more than once", cfg.Name, name)
		}

		h := NewConnectorHandler(cc, cfg.Name, deps)
		if err := directory.Register(h); err != nil {
			s.unregister()
			return nil, err
		}
		s.handlers = append(s.handlers, h)
		s.byName[name] = h
	}
	return s, nil
}

func (s *ServiceSupervisor) unregister() {
	for _, h := range s.handlers {
		s.directory.Remove(h)
	}
}

// Name returns the service name
func (s *ServiceSupervisor) Name() string {
	return s.name
}

// Handlers returns the service's handlers in configuration order
func (s *ServiceSupervisor) Handlers() []*ConnectorHandler {
	return append([]*ConnectorHandler(nil), s.handlers...)
}

// Handler returns the handler of the named connector
func (s *ServiceSupervisor) Handler(name string) (*ConnectorHandler, bool) {
	h, ok := s.byName[name]
	return h, ok
}

// Initialize builds every connector of the service
func (s *ServiceSupervisor) Initialize(ctx context.Context) error {
	s.logger.Info("initializing service", zap.Int("connectors", len(s.handlers)))
	err := s.each(ctx, s.handlers, func(ctx context.Context, h *ConnectorHandler) error {
		return h.Reinitialize(ctx, "service "+s.name+" started")
	})
	s.deps.Audit.LogMessage("initialize", audit.ServiceStarted.Message(s.name, len(s.handlers)),
		zap.String("service", s.name))
	return err
}

// RefreshService refreshes the named connector, or every connector when
// name is empty.
func (s *ServiceSupervisor) RefreshService(ctx context.Context, name string) error {
	targets, err := s.pick(name)
	if err != nil {
		return err
	}
	return s.each(ctx, targets, func(ctx context.Context, h *ConnectorHandler) error {
		return h.Refresh(ctx, false)
	})
}

// RestartService rebuilds the named connector, or every connector when name
// is empty.
func (s *ServiceSupervisor) RestartService(ctx context.Context, name string) error {
	targets, err := s.pick(name)
	if err != nil {
		return err
	}
	return s.each(ctx, targets, func(ctx context.Context, h *ConnectorHandler) error {
		return h.Reinitialize(ctx, "restart requested")
	})
}

// Summary returns a report for every connector in configuration order
func (s *ServiceSupervisor) Summary() []ConnectorReport {
	out := make([]ConnectorReport, 0, len(s.handlers))
	for _, h := range s.handlers {
		out = append(out, h.Report())
	}
	return out
}

// Shutdown shuts down every connector and releases their ids
func (s *ServiceSupervisor) Shutdown(ctx context.Context) error {
	err := s.each(ctx, s.handlers, func(ctx context.Context, h *ConnectorHandler) error {
		return h.Shutdown(ctx, "service "+s.name+" shut down")
	})
	s.unregister()
	s.deps.Audit.LogMessage("shutdown", audit.ServiceShutdown.Message(s.name), zap.String("service", s.name))
	return err
}

func (s *ServiceSupervisor) pick(name string) ([]*ConnectorHandler, error) {
	if name == "" {
		return s.handlers, nil
	}
	h, ok := s.byName[name]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"service %s has no connector named %s", s.name, name).
			WithDetail("service", s.name).
			WithDetail("connector_name", name)
	}
	return []*ConnectorHandler{h}, nil
}

// each runs fn for every handler concurrently. A slow connector only delays
// its own call.
func (s *ServiceSupervisor) each(ctx context.Context, handlers []*ConnectorHandler, fn func(context.Context, *ConnectorHandler) error) error {
	var g errgroup.Group
	for _, h := range handlers {
		h := h
		g.Go(func() error { return fn(ctx, h) })
	}
	return g.Wait()
}
