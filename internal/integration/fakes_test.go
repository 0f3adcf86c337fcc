package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ajitpratap0/integrationd/internal/audit"
	"github.com/ajitpratap0/integrationd/pkg/config"
	"github.com/ajitpratap0/integrationd/pkg/connector/core"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"go.uber.org/zap"
)

type fakeConnector struct {
	mu            sync.Mutex
	startErr      error
	refreshErr    error
	disconnectErr error
	starts        int
	refreshes     int
	disconnects   int
}

func (f *fakeConnector) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeConnector) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeConnector) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return f.disconnectErr
}

func (f *fakeConnector) setRefreshErr(err error) {
	f.mu.Lock()
	f.refreshErr = err
	f.mu.Unlock()
}

func (f *fakeConnector) counts() (starts, refreshes, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.refreshes, f.disconnects
}

// blockingConnector blocks in Engage until its context is cancelled
type blockingConnector struct {
	fakeConnector
	engaged chan struct{}
}

func newBlockingConnector() *blockingConnector {
	return &blockingConnector{engaged: make(chan struct{}, 16)}
}

func (b *blockingConnector) Engage(ctx context.Context) error {
	select {
	case b.engaged <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

type fakeBroker struct {
	mu     sync.Mutex
	builds int
	build  func(conn core.Connection) (interface{}, error)
	made   []interface{}
}

func (b *fakeBroker) NewConnector(conn core.Connection) (interface{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.builds++
	c, err := b.build(conn)
	if err == nil {
		b.made = append(b.made, c)
	}
	return c, err
}

func (b *fakeBroker) buildCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.builds
}

func (b *fakeBroker) last() interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.made) == 0 {
		return nil
	}
	return b.made[len(b.made)-1]
}

// polledBroker builds a new fakeConnector on every call
func polledBroker() *fakeBroker {
	return &fakeBroker{build: func(core.Connection) (interface{}, error) {
		return &fakeConnector{}, nil
	}}
}

type fakeIntegrationContext struct {
	mu          sync.Mutex
	recordings  int
	publishes   int
	disconnects int
	inProgress  []bool
}

func (f *fakeIntegrationContext) StartRecording() {
	f.mu.Lock()
	f.recordings++
	f.mu.Unlock()
}

func (f *fakeIntegrationContext) SetRefreshInProgress(v bool) {
	f.mu.Lock()
	f.inProgress = append(f.inProgress, v)
	f.mu.Unlock()
}

func (f *fakeIntegrationContext) PublishReport(context.Context) error {
	f.mu.Lock()
	f.publishes++
	f.mu.Unlock()
	return nil
}

func (f *fakeIntegrationContext) Disconnect(context.Context) error {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	return nil
}

type fakeContextManager struct {
	mu       sync.Mutex
	failures int
	calls    int
	contexts []*fakeIntegrationContext
}

func (m *fakeContextManager) SetContext(context.Context, ContextRequest) (IntegrationContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failures > 0 {
		m.failures--
		return nil, errors.New(errors.ErrorTypeInitialize, "metadata store unavailable")
	}
	c := &fakeIntegrationContext{}
	m.contexts = append(m.contexts, c)
	return c, nil
}

func (m *fakeContextManager) lastContext() *fakeIntegrationContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contexts[len(m.contexts)-1]
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	broker   *fakeBroker
	contexts *fakeContextManager
	audit    *audit.Recorder
	clock    *manualClock
}

func newTestEnv(broker *fakeBroker) *testEnv {
	return &testEnv{
		broker:   broker,
		contexts: &fakeContextManager{},
		audit:    audit.NewRecorder(0, nil),
		clock:    newManualClock(),
	}
}

func (e *testEnv) deps() Dependencies {
	return Dependencies{
		Broker:                 e.broker,
		ContextManager:         e.contexts,
		Audit:                  e.audit,
		Logger:                 zap.NewNop(),
		Clock:                  e.clock.Now,
		IdleBackoff:            10 * time.Millisecond,
		DefaultRefreshInterval: time.Hour,
	}
}

func polledConfig(id string) config.ConnectorConfig {
	return config.ConnectorConfig{
		ConnectorID:   id,
		ConnectorName: "name-" + id,
		Connection: core.Connection{
			ConnectorType: "fake",
			Endpoint:      core.Endpoint{NetworkAddress: "db.local:5432"},
		},
		RefreshInterval: time.Minute,
	}
}

func blockingConfig(id string) config.ConnectorConfig {
	cfg := polledConfig(id)
	cfg.UsesBlockingCalls = true
	return cfg
}

// staticRegistrations serves registrations from memory with paging
type staticRegistrations struct {
	mu        sync.Mutex
	regs      []config.ConnectorConfig
	listErr   error
	listCalls int
}

func (s *staticRegistrations) set(regs ...config.ConnectorConfig) {
	s.mu.Lock()
	s.regs = regs
	s.mu.Unlock()
}

func (s *staticRegistrations) ListRegistrations(_ context.Context, _ string, startFrom, pageSize int) ([]config.ConnectorConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	if startFrom >= len(s.regs) {
		return nil, nil
	}
	end := startFrom + pageSize
	if end > len(s.regs) {
		end = len(s.regs)
	}
	return append([]config.ConnectorConfig(nil), s.regs[startFrom:end]...), nil
}

func (s *staticRegistrations) GetRegistration(_ context.Context, group, id string) (*config.ConnectorConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.regs {
		if r.ConnectorID == id {
			r := r
			return &r, nil
		}
	}
	return nil, errors.New(errors.ErrorTypeNotFound, fmt.Sprintf("no registration %s in group %s", id, group))
}

func reinitialize(t *testing.T, h *ConnectorHandler) {
	t.Helper()
	if err := h.Reinitialize(context.Background(), "test"); err != nil {
		t.Fatalf("reinitialize: %v", err)
	}
}
