package registration

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ajitpratap0/integrationd/pkg/config"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"github.com/ajitpratap0/integrationd/pkg/json"
	"github.com/lib/pq"
)

// PostgresStore keeps registrations in a Postgres table, one JSON document
// per (group, connector id).
type PostgresStore struct {
	db    *sql.DB
	table string
}

// OpenPostgres connects with lib/pq and makes sure the table exists
func OpenPostgres(ctx context.Context, dsn, table string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "postgres registration store requires a dsn")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid postgres dsn")
	}
	if err := connectWithRetry(ctx, db.PingContext); err != nil {
		_ = db.Close()
		return nil, err
	}

	s, err := NewPostgresStore(db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an open database handle
func NewPostgresStore(db *sql.DB, table string) (*PostgresStore, error) {
	if table == "" {
		table = "integration_connector_registrations"
	}
	if !identifierPattern.MatchString(table) {
		return nil, errors.Newf(errors.ErrorTypeValidation, "invalid table name %q", table)
	}
	return &PostgresStore{db: db, table: pq.QuoteIdentifier(table)}, nil
}

// EnsureSchema creates the registrations table if it is missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		group_name   TEXT NOT NULL,
		connector_id TEXT NOT NULL,
		body         JSONB NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (group_name, connector_id)
	)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return mapPostgresError(err, "create registrations table")
	}
	return nil
}

// ListRegistrations implements Store
func (s *PostgresStore) ListRegistrations(ctx context.Context, group string, startFrom, pageSize int) ([]config.ConnectorConfig, error) {
	if err := validatePage(group, startFrom, pageSize); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT body FROM %s WHERE group_name = $1 ORDER BY connector_id LIMIT $2 OFFSET $3`, s.table)
	rows, err := s.db.QueryContext(ctx, query, group, pageSize, startFrom)
	if err != nil {
		return nil, mapPostgresError(err, "list registrations")
	}
	defer rows.Close()

	var regs []config.ConnectorConfig
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, mapPostgresError(err, "scan registration")
		}
		var reg config.ConnectorConfig
		if err := json.Unmarshal(body, &reg); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "decode registration").
				WithDetail("group", group)
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(err, "list registrations")
	}
	return regs, nil
}

// GetRegistration implements Store
func (s *PostgresStore) GetRegistration(ctx context.Context, group, connectorID string) (*config.ConnectorConfig, error) {
	if err := validateKey(group, connectorID); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT body FROM %s WHERE group_name = $1 AND connector_id = $2`, s.table)
	var body []byte
	err := s.db.QueryRowContext(ctx, query, group, connectorID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(group, connectorID)
	}
	if err != nil {
		return nil, mapPostgresError(err, "get registration")
	}

	var reg config.ConnectorConfig
	if err := json.Unmarshal(body, &reg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "decode registration").
			WithDetail("connector_id", connectorID)
	}
	return &reg, nil
}

// PutRegistration implements Store
func (s *PostgresStore) PutRegistration(ctx context.Context, group string, reg config.ConnectorConfig) error {
	if err := validateKey(group, reg.ConnectorID); err != nil {
		return err
	}
	body, err := json.Marshal(reg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "encode registration")
	}

	query := fmt.Sprintf(`INSERT INTO %s (group_name, connector_id, body, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (group_name, connector_id) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`, s.table)
	if _, err := s.db.ExecContext(ctx, query, group, reg.ConnectorID, body); err != nil {
		return mapPostgresError(err, "put registration")
	}
	return nil
}

// DeleteRegistration implements Store
func (s *PostgresStore) DeleteRegistration(ctx context.Context, group, connectorID string) error {
	if err := validateKey(group, connectorID); err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE group_name = $1 AND connector_id = $2`, s.table)
	result, err := s.db.ExecContext(ctx, query, group, connectorID)
	if err != nil {
		return mapPostgresError(err, "delete registration")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return notFound(group, connectorID)
	}
	return nil
}

// Close implements Store
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// mapPostgresError classifies a database error by its SQLSTATE class
func mapPostgresError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, op)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		errType := errors.ErrorTypeInternal
		switch {
		case pqErr.Code == "42501" || pqErr.Code.Class() == "28":
			errType = errors.ErrorTypePermission
		case pqErr.Code.Class() == "08" || pqErr.Code.Class() == "53" || pqErr.Code.Class() == "57":
			errType = errors.ErrorTypeUnavailable
		case pqErr.Code == "42P01":
			errType = errors.ErrorTypeConfig
		}
		return errors.Wrap(err, errType, op).WithDetail("sqlstate", string(pqErr.Code))
	}

	// driver.ErrBadConn, sql.ErrConnDone, dial failures
	return errors.Wrap(err, errors.ErrorTypeUnavailable, op)
}
