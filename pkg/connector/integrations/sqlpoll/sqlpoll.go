// Package sqlpoll implements a polled connector that runs a catalogue query
// against a PostgreSQL or MySQL database on every refresh and reports the
// rows that appeared, changed or disappeared since the previous refresh.
//
// The query must return two columns: a stable element id and a version
// value (an updated-at timestamp, a row hash, ...). Rows with a NULL id are
// ignored.
package sqlpoll

import (
	"context"
	"database/sql"
	"net/url"
	"sync"
	"time"

	"github.com/ajitpratap0/integrationd/pkg/connector/base"
	"github.com/ajitpratap0/integrationd/pkg/connector/core"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"go.uber.org/zap"
)

const (
	// ConnectorType is the connection type this package registers
	ConnectorType = "sql-poller"
	version       = "1.0.0"

	driverPostgres = "pgx"
	driverMySQL    = "mysql"
)

type options struct {
	driver       string
	dsn          string
	query        string
	queryTimeout time.Duration
	maxOpenConns int
}

func parseOptions(conn core.Connection) (options, error) {
	opts := options{
		driver: conn.StringProperty("driver", driverPostgres),
		dsn:    conn.StringProperty("dsn", ""),
		query:  conn.StringProperty("query", ""),
	}
	if opts.driver == "postgres" || opts.driver == "postgresql" {
		opts.driver = driverPostgres
	}
	if opts.driver != driverPostgres && opts.driver != driverMySQL {
		return opts, errors.Newf(errors.ErrorTypeConfig, "unsupported sql driver %q", opts.driver)
	}
	if opts.query == "" {
		return opts, errors.New(errors.ErrorTypeConfig, "sql-poller requires the query property")
	}

	var err error
	if opts.queryTimeout, err = conn.DurationProperty("query_timeout", 30*time.Second); err != nil {
		return opts, errors.Wrap(err, errors.ErrorTypeConfig, "invalid query_timeout")
	}
	if opts.maxOpenConns, err = conn.IntProperty("max_open_conns", 2); err != nil {
		return opts, errors.Wrap(err, errors.ErrorTypeConfig, "invalid max_open_conns")
	}

	if opts.dsn == "" {
		if conn.Endpoint.NetworkAddress == "" {
			return opts, errors.New(errors.ErrorTypeConfig, "sql-poller requires a dsn or an endpoint network address")
		}
		opts.dsn = buildDSN(opts.driver, conn)
	}
	return opts, nil
}

func buildDSN(driver string, conn core.Connection) string {
	database := conn.StringProperty("database", "")

	if driver == driverMySQL {
		cfg := mysql.NewConfig()
		cfg.User = conn.UserID
		cfg.Passwd = conn.ClearPassword
		cfg.Net = "tcp"
		cfg.Addr = conn.Endpoint.NetworkAddress
		cfg.DBName = database
		cfg.ParseTime = true
		return cfg.FormatDSN()
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   conn.Endpoint.NetworkAddress,
		Path:   "/" + database,
	}
	if conn.UserID != "" {
		u.User = url.UserPassword(conn.UserID, conn.ClearPassword)
	}
	if mode := conn.StringProperty("sslmode", ""); mode != "" {
		u.RawQuery = url.Values{"sslmode": []string{mode}}.Encode()
	}
	return u.String()
}

// Connector polls a SQL catalogue query
type Connector struct {
	*base.BaseConnector

	opts     options
	open     func(driver, dsn string) (*sql.DB, error)
	snapshot *base.Snapshot

	mu sync.Mutex
	db *sql.DB
}

// New is the registry factory for sql-poller connections
func New(conn core.Connection) (interface{}, error) {
	opts, err := parseOptions(conn)
	if err != nil {
		return nil, err
	}
	return &Connector{
		BaseConnector: base.NewBaseConnector(ConnectorType, version, conn),
		opts:          opts,
		open:          sql.Open,
		snapshot:      base.NewSnapshot(),
	}, nil
}

// Start opens the database pool and verifies it answers
func (c *Connector) Start(ctx context.Context) error {
	db, err := c.open(c.opts.driver, c.opts.dsn)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to open database")
	}
	db.SetMaxOpenConns(c.opts.maxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	err = base.DefaultRetryPolicy().Execute(ctx, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return errors.Wrap(err, errors.ErrorTypeUnavailable, "database ping failed")
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return err
	}

	c.mu.Lock()
	c.db = db
	c.mu.Unlock()

	c.SetStat("driver", c.opts.driver)
	c.Logger().Info("sql catalogue connected", zap.String("driver", c.opts.driver))
	return nil
}

// Refresh runs the catalogue query and reports the differences
func (c *Connector) Refresh(ctx context.Context) error {
	ictx, err := c.RequireContext()
	if err != nil {
		return err
	}
	if !c.InboundPermitted() {
		c.Logger().Debug("inbound synchronization not permitted, skipping refresh")
		return nil
	}

	c.mu.Lock()
	db := c.db
	c.mu.Unlock()
	if db == nil {
		return errors.New(errors.ErrorTypeRuntime, "sql-poller is not started")
	}

	current, err := c.readCatalogue(ctx, db)
	if err != nil {
		return err
	}

	changes := c.snapshot.Apply(current)
	changes.Report(ictx)

	c.AddStat("rows_created", int64(len(changes.Created)))
	c.AddStat("rows_updated", int64(len(changes.Updated)))
	c.AddStat("rows_deleted", int64(len(changes.Deleted)))
	c.SetStat("rows", len(current))
	c.MarkCycle()
	return nil
}

func (c *Connector) readCatalogue(ctx context.Context, db *sql.DB) (map[string]string, error) {
	qctx, cancel := context.WithTimeout(ctx, c.opts.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(qctx, c.opts.query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeRuntime, "catalogue query failed")
	}
	defer rows.Close()

	current := make(map[string]string)
	for rows.Next() {
		var id, ver sql.NullString
		if err := rows.Scan(&id, &ver); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeRuntime, "catalogue query must return an id and a version column")
		}
		if !id.Valid {
			continue
		}
		current[id.String] = ver.String
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeRuntime, "catalogue query failed")
	}
	return current, nil
}

// Disconnect closes the pool. The next Start establishes a new baseline.
func (c *Connector) Disconnect(_ context.Context) error {
	c.mu.Lock()
	db := c.db
	c.db = nil
	c.mu.Unlock()

	c.snapshot.Reset()
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeRuntime, "failed to close database")
	}
	return nil
}
