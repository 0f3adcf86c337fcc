package integration

import (
	"context"
	"testing"
	"time"

	"github.com/ajitpratap0/integrationd/internal/audit"
	"github.com/ajitpratap0/integrationd/pkg/config"
	"github.com/ajitpratap0/integrationd/pkg/connector/core"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGroup(env *testEnv, dir *Directory, regs *staticRegistrations) *GroupSupervisor {
	return NewGroupSupervisor(config.GroupConfig{Name: "lake", PageSize: 2}, regs, dir, env.deps())
}

func ids(handlers []*ConnectorHandler) []string {
	out := make([]string, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, h.ID())
	}
	return out
}

func TestGroup_Reconcile(t *testing.T) {
	env := newTestEnv(polledBroker())
	dir := NewDirectory()
	regs := &staticRegistrations{}
	regs.set(polledConfig("a"), polledConfig("b"), polledConfig("c"))
	g := newTestGroup(env, dir, regs)

	result, err := g.RefreshAllConnectorConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Added: 3}, result)
	assert.Equal(t, []string{"a", "b", "c"}, ids(g.Handlers()))
	assert.Equal(t, 3, dir.Len())
	// page size 2: a full page, then a short one
	assert.Equal(t, 2, regs.listCalls)
	for _, h := range g.Handlers() {
		assert.Equal(t, StatusInitialized, h.Status())
		assert.Equal(t, "lake", h.Owner())
	}

	t.Run("second identical reconcile changes nothing", func(t *testing.T) {
		before := map[string]string{}
		for _, h := range g.Handlers() {
			before[h.ID()] = h.Instance().InstanceID()
		}

		result, err := g.RefreshAllConnectorConfig(context.Background())
		require.NoError(t, err)
		assert.Equal(t, ReconcileResult{}, result)
		assert.Equal(t, 3, env.broker.buildCount())
		for _, h := range g.Handlers() {
			assert.Equal(t, before[h.ID()], h.Instance().InstanceID())
		}
	})

	t.Run("dropping one registration leaves the rest untouched", func(t *testing.T) {
		removed, _ := g.Handler("b")
		kept, _ := g.Handler("a")
		keptID := kept.Instance().InstanceID()
		_, keptSince := kept.Instance().StatusSince()

		regs.set(polledConfig("a"), polledConfig("c"))
		result, err := g.RefreshAllConnectorConfig(context.Background())
		require.NoError(t, err)
		assert.Equal(t, ReconcileResult{Removed: 1}, result)
		assert.Equal(t, []string{"a", "c"}, ids(g.Handlers()))

		assert.Equal(t, StatusUninitialized, removed.Status())
		_, ok := dir.Lookup("b")
		assert.False(t, ok)

		assert.Equal(t, keptID, kept.Instance().InstanceID())
		_, since := kept.Instance().StatusSince()
		assert.Equal(t, keptSince, since)
	})

	t.Run("changed registration is updated in place", func(t *testing.T) {
		next := polledConfig("c")
		next.RefreshInterval = 5 * time.Minute
		regs.set(polledConfig("a"), next)

		result, err := g.RefreshAllConnectorConfig(context.Background())
		require.NoError(t, err)
		assert.Equal(t, ReconcileResult{Updated: 1}, result)
		h, _ := g.Handler("c")
		assert.Equal(t, 5*time.Minute, h.RefreshInterval())
	})

	assert.Equal(t, 4, env.audit.Count(audit.GroupReconciled.ID))
}

// stallingConnector blocks in Disconnect until released
type stallingConnector struct {
	fakeConnector
	entered chan struct{}
	release chan struct{}
}

func (s *stallingConnector) Disconnect(ctx context.Context) error {
	close(s.entered)
	<-s.release
	return s.fakeConnector.Disconnect(ctx)
}

func TestGroup_ReadersDuringRemoval(t *testing.T) {
	stalled := &stallingConnector{entered: make(chan struct{}), release: make(chan struct{})}
	broker := &fakeBroker{}
	broker.build = func(core.Connection) (interface{}, error) {
		// builds is incremented under the broker lock before build runs
		if broker.builds == 3 {
			return stalled, nil
		}
		return &fakeConnector{}, nil
	}
	env := newTestEnv(broker)
	dir := NewDirectory()
	regs := &staticRegistrations{}
	regs.set(polledConfig("a"), polledConfig("b"), polledConfig("c"))
	g := newTestGroup(env, dir, regs)
	_, err := g.RefreshAllConnectorConfig(context.Background())
	require.NoError(t, err)

	regs.set(polledConfig("a"))
	results := make(chan ReconcileResult, 1)
	go func() {
		result, err := g.RefreshAllConnectorConfig(context.Background())
		assert.NoError(t, err)
		results <- result
	}()

	select {
	case <-stalled.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("connector c was never disconnected")
	}

	handlers := g.Handlers()
	for _, h := range handlers {
		require.NotNil(t, h)
	}
	assert.Equal(t, []string{"a"}, ids(handlers))
	summary := g.Summary()
	require.Len(t, summary, 1)
	assert.Equal(t, "a", summary[0].ConnectorID)
	_, owned := dir.Lookup("c")
	assert.True(t, owned, "the directory keeps c until it is shut down")

	close(stalled.release)
	select {
	case result := <-results:
		assert.Equal(t, ReconcileResult{Removed: 2}, result)
	case <-time.After(5 * time.Second):
		t.Fatal("reconcile did not finish")
	}
	assert.Equal(t, []string{"a"}, ids(g.Handlers()))
	_, owned = dir.Lookup("c")
	assert.False(t, owned)
}

func TestGroup_RemovalForgetsReports(t *testing.T) {
	env := newTestEnv(polledBroker())
	store := NewReportStore(5)
	deps := env.deps()
	deps.ContextManager = NewReportingContextManager(store, env.audit, zap.NewNop())

	regs := &staticRegistrations{}
	regs.set(polledConfig("a"), polledConfig("b"), polledConfig("c"))
	g := NewGroupSupervisor(config.GroupConfig{Name: "lake", PageSize: 2}, regs, NewDirectory(), deps)
	_, err := g.RefreshAllConnectorConfig(context.Background())
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		store.Add(IntegrationReport{ConnectorID: id})
	}

	regs.set(polledConfig("a"), polledConfig("c"))
	result, err := g.RefreshAllConnectorConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Removed: 1}, result)
	assert.Empty(t, store.Reports("b"))
	assert.Len(t, store.Reports("a"), 1)

	regs.set(polledConfig("a"))
	_, err = g.RefreshConnectorConfig(context.Background(), "c")
	require.NoError(t, err)
	assert.Empty(t, store.Reports("c"))
	assert.Len(t, store.Reports("a"), 1)
}

func TestGroup_SkipsInvalidAndForeignRegistrations(t *testing.T) {
	env := newTestEnv(polledBroker())
	dir := NewDirectory()
	service := newTestService(t, env, dir, "owned")

	noType := polledConfig("x")
	noType.Connection.ConnectorType = ""
	noID := polledConfig("")

	regs := &staticRegistrations{}
	regs.set(noType, polledConfig("owned"), noID, polledConfig("d"))
	g := newTestGroup(env, dir, regs)

	result, err := g.RefreshAllConnectorConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Added: 1, Skipped: 3}, result)
	assert.Equal(t, []string{"d"}, ids(g.Handlers()))
	assert.Equal(t, 2, env.audit.Count(audit.RegistrationSkipped.ID))
	assert.Equal(t, 1, env.audit.Count(audit.RegistrationOwnedElsewhere.ID))

	owner, _ := dir.Owner("owned")
	assert.Equal(t, service.Name(), owner)
}

func TestGroup_DuplicateIDLastWriteWins(t *testing.T) {
	env := newTestEnv(polledBroker())
	first := polledConfig("a")
	second := polledConfig("a")
	second.ConnectorName = "latest"

	regs := &staticRegistrations{}
	regs.set(first, polledConfig("b"), second)
	g := newTestGroup(env, NewDirectory(), regs)

	result, err := g.RefreshAllConnectorConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	h, ok := g.Handler("a")
	require.True(t, ok)
	assert.Equal(t, "latest", h.Name())
	assert.Equal(t, 2, env.broker.buildCount())
}

func TestGroup_ListFailureChangesNothing(t *testing.T) {
	env := newTestEnv(polledBroker())
	regs := &staticRegistrations{}
	regs.set(polledConfig("a"))
	g := newTestGroup(env, NewDirectory(), regs)
	_, err := g.RefreshAllConnectorConfig(context.Background())
	require.NoError(t, err)

	regs.listErr = errors.New(errors.ErrorTypeUnavailable, "store unreachable")
	_, err = g.RefreshAllConnectorConfig(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnavailable))
	assert.Equal(t, []string{"a"}, ids(g.Handlers()))
	assert.Equal(t, 1, env.audit.Count(audit.GroupConfigFailed.ID))
}

func TestGroup_RefreshConnectorConfig(t *testing.T) {
	env := newTestEnv(polledBroker())
	dir := NewDirectory()
	regs := &staticRegistrations{}
	g := newTestGroup(env, dir, regs)

	regs.set(polledConfig("a"))
	result, err := g.RefreshConnectorConfig(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Added: 1}, result)
	assert.Equal(t, []string{"a"}, ids(g.Handlers()))

	next := polledConfig("a")
	next.ConnectorName = "renamed"
	regs.set(next)
	result, err = g.RefreshConnectorConfig(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Updated: 1}, result)

	regs.set()
	result, err = g.RefreshConnectorConfig(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Removed: 1}, result)
	assert.Empty(t, g.Handlers())
	assert.Equal(t, 0, dir.Len())

	_, err = g.RefreshConnectorConfig(context.Background(), "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestGroup_Shutdown(t *testing.T) {
	env := newTestEnv(polledBroker())
	dir := NewDirectory()
	regs := &staticRegistrations{}
	regs.set(polledConfig("a"), polledConfig("b"))
	g := newTestGroup(env, dir, regs)
	_, err := g.RefreshAllConnectorConfig(context.Background())
	require.NoError(t, err)
	handlers := g.Handlers()

	require.NoError(t, g.Shutdown(context.Background()))
	assert.Empty(t, g.Handlers())
	assert.Equal(t, 0, dir.Len())
	for _, h := range handlers {
		assert.Equal(t, StatusUninitialized, h.Status())
	}
}
