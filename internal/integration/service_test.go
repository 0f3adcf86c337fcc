package integration

import (
	"context"
	"testing"

	"github.com/ajitpratap0/integrationd/internal/audit"
	"github.com/ajitpratap0/integrationd/pkg/config"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, env *testEnv, dir *Directory, ids ...string) *ServiceSupervisor {
	t.Helper()
	cfg := config.ServiceConfig{Name: "catalog-sync"}
	for _, id := range ids {
		cfg.Connectors = append(cfg.Connectors, polledConfig(id))
	}
	s, err := NewServiceSupervisor(cfg, dir, env.deps())
	require.NoError(t, err)
	return s
}

func TestDirectory(t *testing.T) {
	env := newTestEnv(polledBroker())
	dir := NewDirectory()

	a := NewConnectorHandler(polledConfig("a"), "svc", env.deps())
	require.NoError(t, dir.Register(a))

	dup := NewConnectorHandler(polledConfig("a"), "group", env.deps())
	err := dir.Register(dup)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

	owner, ok := dir.Owner("a")
	require.True(t, ok)
	assert.Equal(t, "svc", owner)

	// removing a handler that was never registered leaves the entry alone
	dir.Remove(dup)
	got, ok := dir.Lookup("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	b := NewConnectorHandler(polledConfig("b"), "svc", env.deps())
	require.NoError(t, dir.Register(b))
	assert.Equal(t, []*ConnectorHandler{a, b}, dir.Handlers())
	assert.Equal(t, []*ConnectorHandler{b}, dir.FindByName("name-b"))

	dir.Remove(a)
	_, ok = dir.Lookup("a")
	assert.False(t, ok)
	assert.Equal(t, 1, dir.Len())
}

func TestService_Construction(t *testing.T) {
	t.Run("duplicate connector name", func(t *testing.T) {
		env := newTestEnv(polledBroker())
		dir := NewDirectory()
		a, b := polledConfig("a"), polledConfig("b")
		b.ConnectorName = a.ConnectorName

		_, err := NewServiceSupervisor(config.ServiceConfig{Name: "s", Connectors: []config.ConnectorConfig{a, b}}, dir, env.deps())
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		assert.Equal(t, 0, dir.Len())
	})

	t.Run("id taken by another service", func(t *testing.T) {
		env := newTestEnv(polledBroker())
		dir := NewDirectory()
		newTestService(t, env, dir, "a")

		_, err := NewServiceSupervisor(config.ServiceConfig{
			Name:       "other",
			Connectors: []config.ConnectorConfig{polledConfig("b"), polledConfig("a")},
		}, dir, env.deps())
		assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
		_, ok := dir.Lookup("b")
		assert.False(t, ok)
	})

	t.Run("invalid connector", func(t *testing.T) {
		env := newTestEnv(polledBroker())
		bad := polledConfig("a")
		bad.Connection.ConnectorType = ""

		_, err := NewServiceSupervisor(config.ServiceConfig{Name: "s", Connectors: []config.ConnectorConfig{bad}}, NewDirectory(), env.deps())
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})
}

func TestService_InitializeAndRefresh(t *testing.T) {
	env := newTestEnv(polledBroker())
	s := newTestService(t, env, NewDirectory(), "a", "b", "c")

	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, 1, env.audit.Count(audit.ServiceStarted.ID))
	for _, r := range s.Summary() {
		assert.Equal(t, StatusInitialized, r.Status)
		assert.Equal(t, "catalog-sync", r.Owner)
	}

	require.NoError(t, s.RefreshService(context.Background(), "name-b"))
	b, ok := s.Handler("name-b")
	require.True(t, ok)
	assert.Equal(t, StatusWaiting, b.Status())
	a, _ := s.Handler("name-a")
	assert.Equal(t, StatusInitialized, a.Status())

	require.NoError(t, s.RefreshService(context.Background(), ""))
	summary := s.Summary()
	require.Len(t, summary, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{summary[0].ConnectorID, summary[1].ConnectorID, summary[2].ConnectorID})
	for _, r := range summary {
		assert.Equal(t, StatusWaiting, r.Status)
	}
}

func TestService_UnknownConnector(t *testing.T) {
	env := newTestEnv(polledBroker())
	s := newTestService(t, env, NewDirectory(), "a", "b")
	require.NoError(t, s.Initialize(context.Background()))

	err := s.RefreshService(context.Background(), "unknown")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	err = s.RestartService(context.Background(), "unknown")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	assert.Equal(t, 2, env.broker.buildCount())
	for _, h := range s.Handlers() {
		assert.Equal(t, StatusInitialized, h.Status())
	}
	for _, c := range env.broker.made {
		_, refreshes, _ := c.(*fakeConnector).counts()
		assert.Equal(t, 0, refreshes)
	}
}

func TestService_RestartAll(t *testing.T) {
	env := newTestEnv(polledBroker())
	s := newTestService(t, env, NewDirectory(), "a", "b", "c")
	require.NoError(t, s.Initialize(context.Background()))
	require.NoError(t, s.RefreshService(context.Background(), ""))

	before := map[string]string{}
	for _, h := range s.Handlers() {
		before[h.ID()] = h.Instance().InstanceID()
	}

	require.NoError(t, s.RestartService(context.Background(), ""))
	assert.Equal(t, 6, env.broker.buildCount())
	assert.Equal(t, 6, env.audit.Count(audit.ConnectorInitialized.ID))
	for _, h := range s.Handlers() {
		assert.Equal(t, StatusInitialized, h.Status())
		assert.NotEqual(t, before[h.ID()], h.Instance().InstanceID())
	}
}

func TestService_Shutdown(t *testing.T) {
	env := newTestEnv(polledBroker())
	dir := NewDirectory()
	s := newTestService(t, env, dir, "a", "b")
	require.NoError(t, s.Initialize(context.Background()))

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, 0, dir.Len())
	for _, h := range s.Handlers() {
		assert.Equal(t, StatusUninitialized, h.Status())
	}
	assert.Equal(t, 1, env.audit.Count(audit.ServiceShutdown.ID))
}
