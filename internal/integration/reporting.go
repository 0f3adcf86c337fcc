package integration

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/integrationd/internal/audit"
	"github.com/ajitpratap0/integrationd/pkg/connector/core"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"go.uber.org/zap"
)

// IntegrationReport lists the elements a connector touched during one
// refresh or engage cycle.
type IntegrationReport struct {
	ConnectorID         string    `json:"connector_id"`
	ConnectorName       string    `json:"connector_name"`
	ConnectorInstanceID string    `json:"connector_instance_id"`
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
	Created             []string  `json:"created_elements,omitempty"`
	Updated             []string  `json:"updated_elements,omitempty"`
	Deleted             []string  `json:"deleted_elements,omitempty"`
}

// ReportStore keeps the most recent integration reports of each connector.
type ReportStore struct {
	mu      sync.RWMutex
	limit   int
	reports map[string][]IntegrationReport
}

// NewReportStore keeps up to limit reports per connector
func NewReportStore(limit int) *ReportStore {
	if limit <= 0 {
		limit = 20
	}
	return &ReportStore{limit: limit, reports: make(map[string][]IntegrationReport)}
}

// Add stores r, evicting the oldest report of the connector when full
func (s *ReportStore) Add(r IntegrationReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.reports[r.ConnectorID], r)
	if len(list) > s.limit {
		list = append([]IntegrationReport(nil), list[len(list)-s.limit:]...)
	}
	s.reports[r.ConnectorID] = list
}

// Reports returns the stored reports of a connector, newest first
func (s *ReportStore) Reports(connectorID string) []IntegrationReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.reports[connectorID]
	out := make([]IntegrationReport, len(list))
	for i, r := range list {
		out[len(list)-1-i] = r
	}
	return out
}

// Forget drops every report of a connector
func (s *ReportStore) Forget(connectorID string) {
	s.mu.Lock()
	delete(s.reports, connectorID)
	s.mu.Unlock()
}

// ReportingContextManager is the default ContextManager. It hands each
// connector a ReportingContext that collects the elements the connector
// reports and publishes them to a ReportStore.
type ReportingContextManager struct {
	store  *ReportStore
	audit  audit.Log
	logger *zap.Logger
	clock  func() time.Time
}

// NewReportingContextManager creates a context manager publishing into store
func NewReportingContextManager(store *ReportStore, auditLog audit.Log, l *zap.Logger) *ReportingContextManager {
	if l == nil {
		l = zap.NewNop()
	}
	if auditLog == nil {
		auditLog = audit.NewZapLog(l)
	}
	return &ReportingContextManager{
		store:  store,
		audit:  auditLog,
		logger: l,
		clock:  time.Now,
	}
}

// Store returns the report store
func (m *ReportingContextManager) Store() *ReportStore {
	return m.store
}

// ForgetConnector implements ConnectorForgetter by dropping the stored
// reports of a removed connector.
func (m *ReportingContextManager) ForgetConnector(connectorID string) {
	m.store.Forget(connectorID)
}

// SetContext implements ContextManager. A connector that implements
// core.ContextAware receives the new context; its error is an
// initialization failure.
func (m *ReportingContextManager) SetContext(_ context.Context, req ContextRequest) (IntegrationContext, error) {
	rc := &ReportingContext{
		req:     req,
		manager: m,
		logger: m.logger.With(
			zap.String("connector_id", req.ConnectorID),
			zap.String("connector_instance_id", req.ConnectorInstanceID),
		),
	}
	rc.resetLocked(m.clock())

	if aware, ok := req.Connector.(core.ContextAware); ok {
		if err := aware.SetContext(rc); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInitialize, "connector rejected its integration context").
				WithDetail("connector_id", req.ConnectorID)
		}
	}
	return rc, nil
}

// ReportingContext is both the daemon's IntegrationContext and the
// core.Context a connector sees.
type ReportingContext struct {
	req     ContextRequest
	manager *ReportingContextManager
	logger  *zap.Logger

	refreshing atomic.Bool

	mu           sync.Mutex
	cycleStart   time.Time
	created      map[string]struct{}
	updated      map[string]struct{}
	deleted      map[string]struct{}
	disconnected bool
}

func (c *ReportingContext) resetLocked(now time.Time) {
	c.cycleStart = now
	c.created = make(map[string]struct{})
	c.updated = make(map[string]struct{})
	c.deleted = make(map[string]struct{})
}

// StartRecording implements IntegrationContext
func (c *ReportingContext) StartRecording() {
	c.mu.Lock()
	c.resetLocked(c.manager.clock())
	c.mu.Unlock()
}

// SetRefreshInProgress implements IntegrationContext
func (c *ReportingContext) SetRefreshInProgress(inProgress bool) {
	c.refreshing.Store(inProgress)
}

// PublishReport implements IntegrationContext. Nothing is published unless
// the connector was registered with integration reports enabled.
func (c *ReportingContext) PublishReport(_ context.Context) error {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return errors.New(errors.ErrorTypeRuntime, "integration context is disconnected")
	}
	report := IntegrationReport{
		ConnectorID:         c.req.ConnectorID,
		ConnectorName:       c.req.ConnectorName,
		ConnectorInstanceID: c.req.ConnectorInstanceID,
		StartTime:           c.cycleStart,
		EndTime:             c.manager.clock(),
		Created:             sortedKeys(c.created),
		Updated:             sortedKeys(c.updated),
		Deleted:             sortedKeys(c.deleted),
	}
	c.mu.Unlock()

	if !c.req.GenerateIntegrationReport {
		return nil
	}

	c.manager.store.Add(report)
	c.manager.audit.LogMessage("report", audit.IntegrationReport.Message(
		report.ConnectorID, report.ConnectorName,
		len(report.Created), len(report.Updated), len(report.Deleted)),
		zap.String("connector_id", report.ConnectorID))
	return nil
}

// Disconnect implements IntegrationContext
func (c *ReportingContext) Disconnect(_ context.Context) error {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
	c.refreshing.Store(false)
	return nil
}

func (c *ReportingContext) ConnectorID() string   { return c.req.ConnectorID }
func (c *ReportingContext) ConnectorName() string { return c.req.ConnectorName }
func (c *ReportingContext) UserID() string        { return c.req.UserID }

func (c *ReportingContext) MetadataSourceQualifiedName() string {
	return c.req.MetadataSourceQualifiedName
}

func (c *ReportingContext) PermittedSynchronization() core.SyncDirection {
	return c.req.PermittedSynchronization
}

// IsRefreshInProgress implements core.Context
func (c *ReportingContext) IsRefreshInProgress() bool {
	return c.refreshing.Load()
}

// ReportElementCreated implements core.Context
func (c *ReportingContext) ReportElementCreated(id string) { c.report(func() { c.created[id] = struct{}{} }) }

// ReportElementUpdated implements core.Context
func (c *ReportingContext) ReportElementUpdated(id string) { c.report(func() { c.updated[id] = struct{}{} }) }

// ReportElementDeleted implements core.Context
func (c *ReportingContext) ReportElementDeleted(id string) { c.report(func() { c.deleted[id] = struct{}{} }) }

func (c *ReportingContext) report(add func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.disconnected {
		add()
	}
}

// Logger implements core.Context
func (c *ReportingContext) Logger() *zap.Logger {
	return c.logger
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
