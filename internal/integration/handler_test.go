package integration

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/ajitpratap0/integrationd/internal/audit"
	"github.com/ajitpratap0/integrationd/pkg/connector/core"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"github.com/ajitpratap0/integrationd/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_PolledLifecycle(t *testing.T) {
	env := newTestEnv(polledBroker())
	h := NewConnectorHandler(polledConfig("c1"), "svc", env.deps())
	assert.Equal(t, StatusUninitialized, h.Status())

	reinitialize(t, h)
	assert.Equal(t, StatusInitialized, h.Status())
	assert.NotEmpty(t, h.Instance().InstanceID())
	assert.Equal(t, 1, env.audit.Count(audit.ConnectorInitialized.ID))

	require.NoError(t, h.Refresh(context.Background(), true))
	assert.Equal(t, StatusWaiting, h.Status())

	fc := env.broker.last().(*fakeConnector)
	starts, refreshes, _ := fc.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, refreshes)

	ictx := env.contexts.lastContext()
	assert.Equal(t, 1, ictx.recordings)
	assert.Equal(t, 1, ictx.publishes)
	assert.Equal(t, []bool{true, false}, ictx.inProgress)
}

func TestHandler_RefreshKeepsStatusChangeTime(t *testing.T) {
	env := newTestEnv(polledBroker())
	h := NewConnectorHandler(polledConfig("c1"), "svc", env.deps())
	reinitialize(t, h)

	require.NoError(t, h.Refresh(context.Background(), true))
	status, since := h.Instance().StatusSince()
	require.Equal(t, StatusWaiting, status)

	env.clock.Advance(5 * time.Minute)
	require.NoError(t, h.Refresh(context.Background(), false))

	status, sinceAfter := h.Instance().StatusSince()
	assert.Equal(t, StatusWaiting, status)
	assert.Equal(t, since, sinceAfter)
	assert.Equal(t, env.clock.Now(), h.Instance().LastRefresh())
}

func TestHandler_RefreshError(t *testing.T) {
	env := newTestEnv(polledBroker())
	h := NewConnectorHandler(polledConfig("c1"), "svc", env.deps())
	reinitialize(t, h)
	require.NoError(t, h.Refresh(context.Background(), true))

	fc := env.broker.last().(*fakeConnector)
	fc.setRefreshErr(stderrors.New("source unreachable"))
	env.clock.Advance(time.Minute)

	require.NoError(t, h.Refresh(context.Background(), false))
	assert.Equal(t, StatusFailed, h.Status())
	assert.Equal(t, "source unreachable", h.Instance().FailingMessage())
	assert.Equal(t, env.clock.Now(), h.Instance().LastRefresh())
	assert.Equal(t, 1, env.audit.Count(audit.ConnectorRefreshFailed.ID))

	report := h.Report()
	assert.Equal(t, StatusFailed, report.Status)
	assert.Equal(t, "source unreachable", report.FailingMessage)
	require.NotNil(t, report.LastRefreshTime)
}

// interruptedConnector cancels its caller's context from inside Refresh
type interruptedConnector struct {
	fakeConnector
	cancel context.CancelFunc
}

func (c *interruptedConnector) Refresh(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	_ = c.fakeConnector.Refresh(ctx)
	return ctx.Err()
}

func TestHandler_RefreshCancelledByCaller(t *testing.T) {
	conn := &interruptedConnector{}
	env := newTestEnv(&fakeBroker{build: func(core.Connection) (interface{}, error) {
		return conn, nil
	}})
	h := NewConnectorHandler(polledConfig("c1"), "svc", env.deps())
	reinitialize(t, h)
	require.NoError(t, h.Refresh(context.Background(), true))
	_, since := h.Instance().StatusSince()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn.cancel = cancel
	env.clock.Advance(time.Minute)

	require.NoError(t, h.Refresh(ctx, false))
	status, sinceAfter := h.Instance().StatusSince()
	assert.Equal(t, StatusWaiting, status)
	assert.Equal(t, since, sinceAfter)
	assert.Empty(t, h.Instance().FailingMessage())
	assert.Equal(t, env.clock.Now(), h.Instance().LastRefresh())
	assert.Equal(t, 0, env.audit.Count(audit.ConnectorRefreshFailed.ID))

	conn.cancel = nil
	require.NoError(t, h.Refresh(context.Background(), false))
	assert.Equal(t, StatusWaiting, h.Status())
	_, refreshes, _ := conn.counts()
	assert.Equal(t, 3, refreshes)
}

func TestHandler_RefreshIsNoOpInTerminalStatuses(t *testing.T) {
	t.Run("failed", func(t *testing.T) {
		env := newTestEnv(polledBroker())
		h := NewConnectorHandler(polledConfig("c1"), "svc", env.deps())
		reinitialize(t, h)
		require.NoError(t, h.Refresh(context.Background(), true))

		fc := env.broker.last().(*fakeConnector)
		fc.setRefreshErr(stderrors.New("boom"))
		require.NoError(t, h.Refresh(context.Background(), false))
		require.Equal(t, StatusFailed, h.Status())

		require.NoError(t, h.Refresh(context.Background(), false))
		_, refreshes, _ := fc.counts()
		assert.Equal(t, 2, refreshes)
		assert.Equal(t, StatusFailed, h.Status())
	})

	t.Run("config failed", func(t *testing.T) {
		broker := &fakeBroker{build: func(core.Connection) (interface{}, error) {
			return nil, errors.New(errors.ErrorTypeConfig, "unknown connector type")
		}}
		env := newTestEnv(broker)
		h := NewConnectorHandler(polledConfig("c1"), "svc", env.deps())
		reinitialize(t, h)
		require.Equal(t, StatusConfigFailed, h.Status())
		assert.Contains(t, h.Instance().FailingMessage(), "unknown connector type")

		require.NoError(t, h.Refresh(context.Background(), false))
		assert.Equal(t, StatusConfigFailed, h.Status())
		assert.Equal(t, 1, broker.buildCount())
	})
}

func TestHandler_MissingCapabilities(t *testing.T) {
	t.Run("not a connector", func(t *testing.T) {
		env := newTestEnv(&fakeBroker{build: func(core.Connection) (interface{}, error) {
			return struct{}{}, nil
		}})
		h := NewConnectorHandler(polledConfig("c1"), "svc", env.deps())
		reinitialize(t, h)
		assert.Equal(t, StatusConfigFailed, h.Status())
		assert.Empty(t, h.Instance().InstanceID())
	})

	t.Run("blocking without engage", func(t *testing.T) {
		env := newTestEnv(polledBroker())
		h := NewConnectorHandler(blockingConfig("c1"), "svc", env.deps())
		reinitialize(t, h)
		assert.Equal(t, StatusConfigFailed, h.Status())
		assert.Equal(t, 1, env.audit.Count(audit.ConnectorThreadFailed.ID))
	})
}

func TestHandler_InitializeFailureIsRetried(t *testing.T) {
	env := newTestEnv(polledBroker())
	env.contexts.failures = 1
	h := NewConnectorHandler(polledConfig("c1"), "svc", env.deps())

	reinitialize(t, h)
	require.Equal(t, StatusInitializeFailed, h.Status())
	assert.Equal(t, "initialize: metadata store unavailable", h.Instance().FailingMessage())

	require.NoError(t, h.Refresh(context.Background(), false))
	assert.Equal(t, StatusWaiting, h.Status())
	assert.Empty(t, h.Instance().FailingMessage())
	assert.Equal(t, 2, env.broker.buildCount())

	fc := env.broker.last().(*fakeConnector)
	_, refreshes, _ := fc.counts()
	assert.Equal(t, 1, refreshes)
}

func TestHandler_StartFailure(t *testing.T) {
	broker := &fakeBroker{build: func(core.Connection) (interface{}, error) {
		return &fakeConnector{startErr: stderrors.New("credentials rejected")}, nil
	}}
	env := newTestEnv(broker)
	h := NewConnectorHandler(polledConfig("c1"), "svc", env.deps())
	reinitialize(t, h)

	require.NoError(t, h.Refresh(context.Background(), true))
	assert.Equal(t, StatusFailed, h.Status())
	assert.Equal(t, "credentials rejected", h.Instance().FailingMessage())
	assert.Equal(t, 1, env.audit.Count(audit.ConnectorStartFailed.ID))
}

func TestHandler_UpdateConnectorDetails(t *testing.T) {
	env := newTestEnv(polledBroker())
	h := NewConnectorHandler(polledConfig("c1"), "svc", env.deps())
	reinitialize(t, h)
	require.NoError(t, h.Refresh(context.Background(), true))
	instanceID := h.Instance().InstanceID()
	_, since := h.Instance().StatusSince()

	t.Run("unchanged details", func(t *testing.T) {
		require.NoError(t, h.UpdateConnectorDetails(context.Background(), polledConfig("c1")))
		_, sinceAfter := h.Instance().StatusSince()
		assert.Equal(t, since, sinceAfter)
		assert.Equal(t, instanceID, h.Instance().InstanceID())
		assert.Equal(t, 0, env.audit.Count(audit.ConnectorDetailsUpdated.ID))
	})

	t.Run("cosmetic change", func(t *testing.T) {
		next := polledConfig("c1")
		next.ConnectorName = "renamed"
		next.RefreshInterval = 10 * time.Minute
		require.NoError(t, h.UpdateConnectorDetails(context.Background(), next))

		assert.Equal(t, StatusWaiting, h.Status())
		assert.Equal(t, instanceID, h.Instance().InstanceID())
		assert.Equal(t, "renamed", h.Name())
		assert.Equal(t, 10*time.Minute, h.RefreshInterval())
		assert.Equal(t, 1, env.broker.buildCount())
	})

	t.Run("connection change", func(t *testing.T) {
		old := env.broker.last().(*fakeConnector)
		next := h.Details()
		next.Connection.Endpoint.NetworkAddress = "db2.local:5432"
		require.NoError(t, h.UpdateConnectorDetails(context.Background(), next))

		assert.Equal(t, StatusInitialized, h.Status())
		assert.NotEqual(t, instanceID, h.Instance().InstanceID())
		assert.Equal(t, 2, env.broker.buildCount())
		_, _, disconnects := old.counts()
		assert.Equal(t, 1, disconnects)
	})

	t.Run("different connector id", func(t *testing.T) {
		err := h.UpdateConnectorDetails(context.Background(), polledConfig("other"))
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})
}

func TestHandler_UpdateConnectionHelpers(t *testing.T) {
	env := newTestEnv(polledBroker())
	h := NewConnectorHandler(polledConfig("c1"), "svc", env.deps())
	reinitialize(t, h)

	require.NoError(t, h.UpdateConfigurationProperties(context.Background(), map[string]interface{}{"schema": "sales"}, false))
	assert.Equal(t, "sales", h.Details().Connection.ConfigurationProperties["schema"])
	assert.Equal(t, 2, env.broker.buildCount())

	require.NoError(t, h.UpdateConfigurationProperties(context.Background(), map[string]interface{}{"table": "orders"}, false))
	props := h.Details().Connection.ConfigurationProperties
	assert.Equal(t, "sales", props["schema"])
	assert.Equal(t, "orders", props["table"])

	require.NoError(t, h.UpdateConfigurationProperties(context.Background(), map[string]interface{}{"table": "items"}, true))
	assert.Equal(t, map[string]interface{}{"table": "items"}, h.Details().Connection.ConfigurationProperties)

	require.NoError(t, h.UpdateEndpointNetworkAddress(context.Background(), "db9.local:5432"))
	assert.Equal(t, "db9.local:5432", h.Details().Connection.Endpoint.NetworkAddress)

	err := h.UpdateEndpointNetworkAddress(context.Background(), "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	err = h.UpdateConnection(context.Background(), core.Connection{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestHandler_DisconnectAndShutdown(t *testing.T) {
	env := newTestEnv(polledBroker())
	h := NewConnectorHandler(polledConfig("c1"), "svc", env.deps())
	reinitialize(t, h)
	require.NoError(t, h.Refresh(context.Background(), true))
	fc := env.broker.last().(*fakeConnector)
	ictx := env.contexts.lastContext()

	require.NoError(t, h.Disconnect(context.Background(), "operator request"))
	assert.Equal(t, StatusStopped, h.Status())
	_, _, disconnects := fc.counts()
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, 1, ictx.disconnects)

	require.NoError(t, h.Refresh(context.Background(), false))
	_, refreshes, _ := fc.counts()
	assert.Equal(t, 1, refreshes)

	require.NoError(t, h.Shutdown(context.Background(), "done"))
	assert.Equal(t, StatusUninitialized, h.Status())
	assert.Empty(t, h.Instance().InstanceID())
	assert.True(t, h.Instance().LastRefresh().IsZero())
	_, _, disconnects = fc.counts()
	assert.Equal(t, 1, disconnects)
}

func TestHandler_DisconnectFailure(t *testing.T) {
	broker := &fakeBroker{build: func(core.Connection) (interface{}, error) {
		return &fakeConnector{disconnectErr: stderrors.New("socket closed")}, nil
	}}
	env := newTestEnv(broker)
	h := NewConnectorHandler(polledConfig("c1"), "svc", env.deps())
	reinitialize(t, h)

	require.NoError(t, h.Disconnect(context.Background(), "operator request"))
	assert.Equal(t, StatusFailed, h.Status())
	assert.Equal(t, "socket closed", h.Instance().FailingMessage())
}

func TestHandler_Window(t *testing.T) {
	env := newTestEnv(polledBroker())
	cfg := polledConfig("c1")
	start := env.clock.Now().Add(time.Hour)
	stop := env.clock.Now().Add(3 * time.Hour)
	cfg.StartDate = &start
	cfg.StopDate = &stop

	h := NewConnectorHandler(cfg, "svc", env.deps())
	reinitialize(t, h)

	require.NoError(t, h.Refresh(context.Background(), true))
	assert.Equal(t, StatusInitialized, h.Status())
	fc := env.broker.last().(*fakeConnector)
	starts, _, _ := fc.counts()
	assert.Equal(t, 0, starts)

	env.clock.Advance(time.Hour)
	require.NoError(t, h.Refresh(context.Background(), false))
	assert.Equal(t, StatusWaiting, h.Status())

	env.clock.Advance(2 * time.Hour)
	require.NoError(t, h.Refresh(context.Background(), false))
	assert.Equal(t, StatusStopped, h.Status())
	assert.Equal(t, 1, env.audit.Count(audit.ConnectorWindowClosed.ID))

	require.NoError(t, h.Refresh(context.Background(), false))
	_, refreshes, disconnects := fc.counts()
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, 1, env.audit.Count(audit.ConnectorWindowClosed.ID))
}

func TestHandler_BlockingConnector(t *testing.T) {
	bc := newBlockingConnector()
	env := newTestEnv(&fakeBroker{build: func(core.Connection) (interface{}, error) {
		return bc, nil
	}})
	h := NewConnectorHandler(blockingConfig("c1"), "svc", env.deps())
	reinitialize(t, h)

	select {
	case <-bc.engaged:
	case <-time.After(5 * time.Second):
		t.Fatal("connector was never engaged")
	}
	assert.Equal(t, StatusRunning, h.Status())

	// the handler stays reachable while Engage blocks
	ctx := testutil.TestContext(t)
	require.NoError(t, h.Refresh(ctx, false))
	_, refreshes, _ := bc.counts()
	assert.Equal(t, 0, refreshes)
	assert.Equal(t, StatusRunning, h.Report().Status)

	require.NoError(t, h.Shutdown(ctx, "test finished"))
	assert.Equal(t, StatusUninitialized, h.Status())
	starts, _, disconnects := bc.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, disconnects)
}

func TestHandler_WindowClosedEndsEngageGoroutine(t *testing.T) {
	bc := newBlockingConnector()
	env := newTestEnv(&fakeBroker{build: func(core.Connection) (interface{}, error) {
		return bc, nil
	}})
	cfg := blockingConfig("c1")
	stop := env.clock.Now().Add(-time.Minute)
	cfg.StopDate = &stop

	h := NewConnectorHandler(cfg, "svc", env.deps())
	reinitialize(t, h)
	thread := h.thread
	require.NotNil(t, thread)

	select {
	case <-thread.done:
	case <-time.After(5 * time.Second):
		t.Fatal("engage goroutine kept running after the stop date")
	}
	assert.Equal(t, StatusStopped, h.Status())
	assert.Empty(t, bc.engaged)
	starts, _, disconnects := bc.counts()
	assert.Equal(t, 0, starts)
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, 1, env.audit.Count(audit.ConnectorWindowClosed.ID))

	require.NoError(t, h.Shutdown(context.Background(), "test finished"))
	assert.Equal(t, StatusUninitialized, h.Status())
}

func TestHandler_ReinitializeStopsThread(t *testing.T) {
	env := newTestEnv(&fakeBroker{build: func(core.Connection) (interface{}, error) {
		return newBlockingConnector(), nil
	}})
	h := NewConnectorHandler(blockingConfig("c1"), "svc", env.deps())
	reinitialize(t, h)
	first := env.broker.last().(*blockingConnector)
	<-first.engaged

	reinitialize(t, h)
	second := env.broker.last().(*blockingConnector)
	<-second.engaged

	_, _, disconnects := first.counts()
	assert.Equal(t, 1, disconnects)
	testutil.AssertEventually(t, func() bool { return h.Status() == StatusRunning }, time.Second, "second connector running")

	require.NoError(t, h.Shutdown(context.Background(), "test finished"))
}

func TestHandler_LockHonoursContext(t *testing.T) {
	env := newTestEnv(polledBroker())
	h := NewConnectorHandler(polledConfig("c1"), "svc", env.deps())

	require.NoError(t, h.lock.acquire(context.Background()))
	defer h.lock.release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.Refresh(ctx, false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
