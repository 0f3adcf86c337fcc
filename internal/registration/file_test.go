package registration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajitpratap0/integrationd/pkg/config"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const registrationsYAML = `
groups:
  lake:
    - connector_id: orders
      connector_name: Orders
      connection:
        connector_type: sql-poller
    - connector_id: customers
      connection:
        connector_type: sql-poller
    - connector_id: orders
      connector_name: Orders v2
      refresh_interval: 10m
      connection:
        connector_type: sql-poller
        endpoint:
          network_address: ${REG_TEST_DB}
`

func TestFileStore_Read(t *testing.T) {
	t.Setenv("REG_TEST_DB", "db.local:5432")
	path := filepath.Join(t.TempDir(), "registrations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(registrationsYAML), 0o600))

	store, err := NewFileStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	regs, err := store.ListRegistrations(ctx, "lake", 0, 10)
	require.NoError(t, err)
	require.Len(t, regs, 2)
	assert.Equal(t, "customers", regs[0].ConnectorID)
	assert.Equal(t, "orders", regs[1].ConnectorID)
	// the later duplicate wins
	assert.Equal(t, "Orders v2", regs[1].ConnectorName)
	assert.Equal(t, 10*time.Minute, regs[1].RefreshInterval)
	assert.Equal(t, "db.local:5432", regs[1].Connection.Endpoint.NetworkAddress)

	page, err := store.ListRegistrations(ctx, "lake", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "orders", page[0].ConnectorID)

	_, err = store.GetRegistration(ctx, "lake", "missing")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestFileStore_PutDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested.yaml")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	regs, err := store.ListRegistrations(ctx, "lake", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, regs)

	reg := testRegistration("a")
	require.NoError(t, store.PutRegistration(ctx, "lake", reg))
	require.NoError(t, store.PutRegistration(ctx, "lake", testRegistration("b")))

	got, err := store.GetRegistration(ctx, "lake", "a")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, got.RefreshInterval)
	assert.Equal(t, "pgx", got.Connection.StringProperty("driver", ""))

	require.NoError(t, store.DeleteRegistration(ctx, "lake", "a"))
	err = store.DeleteRegistration(ctx, "lake", "a")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	regs, err = store.ListRegistrations(ctx, "lake", 0, 10)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, "b", regs[0].ConnectorID)
}

func TestOpen(t *testing.T) {
	store, err := Open(context.Background(), config.StoreConfig{Type: config.StoreNone}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, store)

	_, err = Open(context.Background(), config.StoreConfig{Type: "cassandra"}, zap.NewNop())
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = Open(context.Background(), config.StoreConfig{Type: config.StorePostgres}, zap.NewNop())
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	store, err = Open(context.Background(), config.StoreConfig{Type: config.StoreFile, File: filepath.Join(t.TempDir(), "r.yaml")}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, store)
}
