// Package registration provides the registration stores integration groups
// read their connector registrations from. Every store pages registrations
// in connector id order and reports failures with the error types the group
// supervisor understands.
package registration

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ajitpratap0/integrationd/pkg/config"
	"github.com/ajitpratap0/integrationd/pkg/connector/base"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"go.uber.org/zap"
)

// Store reads and writes connector registrations
type Store interface {
	ListRegistrations(ctx context.Context, group string, startFrom, pageSize int) ([]config.ConnectorConfig, error)
	GetRegistration(ctx context.Context, group, connectorID string) (*config.ConnectorConfig, error)
	PutRegistration(ctx context.Context, group string, reg config.ConnectorConfig) error
	DeleteRegistration(ctx context.Context, group, connectorID string) error
	Close() error
}

// MaxPageSize is the largest page a store serves
const MaxPageSize = 1000

// Open connects to the store described by cfg. It returns nil and no error
// when no store is configured.
func Open(ctx context.Context, cfg config.StoreConfig, l *zap.Logger) (Store, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	l = l.With(zap.String("component", "registration_store"), zap.String("type", cfg.Type))

	var (
		store Store
		err   error
	)
	switch cfg.Type {
	case "", config.StoreNone:
		return nil, nil
	case config.StoreFile:
		store, err = NewFileStore(cfg.File)
	case config.StorePostgres:
		store, err = OpenPostgres(ctx, cfg.DSN, cfg.Table)
	case config.StoreRedis:
		store, err = OpenRedis(ctx, cfg.RedisURL, cfg.KeyPrefix)
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "unknown registration store type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	l.Info("registration store opened")
	return store, nil
}

// connectWithRetry pings a freshly opened store until it answers
func connectWithRetry(ctx context.Context, ping func(ctx context.Context) error) error {
	return base.DefaultRetryPolicy().Execute(ctx, func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			return errors.Wrap(err, errors.ErrorTypeUnavailable, "registration store is not reachable")
		}
		return nil
	})
}

func validatePage(group string, startFrom, pageSize int) error {
	if group == "" {
		return errors.New(errors.ErrorTypeValidation, "group name is required")
	}
	if startFrom < 0 {
		return errors.Newf(errors.ErrorTypeValidation, "startFrom %d cannot be negative", startFrom)
	}
	if pageSize <= 0 || pageSize > MaxPageSize {
		return errors.Newf(errors.ErrorTypeValidation, "pageSize %d must be between 1 and %d", pageSize, MaxPageSize)
	}
	return nil
}

func validateKey(group, connectorID string) error {
	if group == "" {
		return errors.New(errors.ErrorTypeValidation, "group name is required")
	}
	if connectorID == "" {
		return errors.New(errors.ErrorTypeValidation, "connector id is required")
	}
	return nil
}

func notFound(group, connectorID string) error {
	return errors.New(errors.ErrorTypeNotFound,
		fmt.Sprintf("no registration for connector %s in group %s", connectorID, group)).
		WithDetail("group", group).
		WithDetail("connector_id", connectorID)
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
