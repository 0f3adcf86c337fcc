package base

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ajitpratap0/integrationd/pkg/connector/core"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeContext struct {
	core.Context
	logger *zap.Logger
}

func (f *fakeContext) Logger() *zap.Logger { return f.logger }

func TestBaseConnector_Context(t *testing.T) {
	b := NewBaseConnector("test", "1.0.0", core.Connection{ConnectorType: "test"})

	_, err := b.RequireContext()
	assert.True(t, errors.IsType(err, errors.ErrorTypeInitialize))

	err = b.SetContext(nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInitialize))

	fc := &fakeContext{logger: zap.NewNop()}
	require.NoError(t, b.SetContext(fc))

	got, err := b.RequireContext()
	require.NoError(t, err)
	assert.Same(t, fc, got)
	assert.Same(t, fc.logger, b.Logger())
	assert.Equal(t, "test", b.Connection().ConnectorType)
}

func TestBaseConnector_Statistics(t *testing.T) {
	b := NewBaseConnector("test", "1.0.0", core.Connection{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.AddStat("rows", 2)
		}()
	}
	wg.Wait()
	b.SetStat("table", "orders")

	stats := b.Statistics()
	assert.Equal(t, int64(20), stats["rows"])
	assert.Equal(t, "orders", stats["table"])

	stats["rows"] = int64(0)
	assert.Equal(t, int64(20), b.Statistics()["rows"])
}

func TestRetryPolicy_Execute(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1}

	t.Run("retries retryable errors", func(t *testing.T) {
		calls := 0
		err := policy.Execute(context.Background(), func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New(errors.ErrorTypeConnection, "refused")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on non retryable errors", func(t *testing.T) {
		calls := 0
		err := policy.Execute(context.Background(), func(context.Context) error {
			calls++
			return errors.New(errors.ErrorTypeConfig, "bad dsn")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("returns last error when attempts run out", func(t *testing.T) {
		calls := 0
		err := policy.Execute(context.Background(), func(context.Context) error {
			calls++
			return errors.New(errors.ErrorTypeTimeout, "slow")
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	})
}
