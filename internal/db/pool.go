package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"
)

type Options struct {
	// Pool sizing
	MaxOpenConns int
	MaxIdleConns int

	// Lifetime/idle tuning
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// database/sql keeps two idle connections unless told otherwise.
const sqlDefaultMaxIdle = 2

func (o Options) validate() error {
	if o.MaxOpenConns < 0 || o.MaxIdleConns < 0 {
		return errors.New("db: negative pool sizing")
	}
	// Guardrail: idle should not exceed max (when both set).
	if o.MaxOpenConns > 0 && o.MaxIdleConns > o.MaxOpenConns {
		return fmt.Errorf("db: invalid pool sizing: MaxIdleConns(%d) > MaxOpenConns(%d)", o.MaxIdleConns, o.MaxOpenConns)
	}
	return nil
}

// sqlDialect is what differs between the database/sql based drivers.
type sqlDialect struct {
	name string

	open     func(dsn string) (*sql.DB, error)
	classify func(err error) (Kind, string, bool)

	serverVersionQuery string
	versionQuery       string
	databaseQuery      string
}

type sqlDriver struct {
	dialect sqlDialect
}

func (d *sqlDriver) Name() string         { return d.dialect.name }
func (d *sqlDriver) VersionQuery() string { return d.dialect.versionQuery }

func (d *sqlDriver) Classify(err error) (Kind, string, bool) {
	return d.dialect.classify(err)
}

func (d *sqlDriver) Open(ctx context.Context, desc Descriptor, opts Options) (Pool, error) {
	if ctx == nil {
		return nil, errors.New("db: nil context")
	}
	if desc.DSN == "" {
		return nil, errors.New("db: empty DSN")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	sdb, err := d.dialect.open(desc.DSN)
	if err != nil {
		return nil, fmt.Errorf("db: %s: %w", d.dialect.name, err)
	}

	// Zero means "keep database/sql defaults".
	if opts.MaxOpenConns > 0 {
		sdb.SetMaxOpenConns(opts.MaxOpenConns)
	}
	idle := sqlDefaultMaxIdle
	if opts.MaxIdleConns > 0 {
		idle = opts.MaxIdleConns
		sdb.SetMaxIdleConns(idle)
	}
	if opts.ConnMaxLifetime > 0 {
		sdb.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if opts.ConnMaxIdleTime > 0 {
		sdb.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}

	return &sqlPool{db: sdb, dialect: &d.dialect, idle: idle}, nil
}

type sqlPool struct {
	db      *sql.DB
	dialect *sqlDialect
	idle    int
}

func (p *sqlPool) Conn(ctx context.Context) (Conn, error) {
	c, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &sqlConn{conn: c, dialect: p.dialect}, nil
}

// Clear closes every idle connection by shrinking the idle set to nothing,
// then restores the configured size.
func (p *sqlPool) Clear() error {
	p.db.SetMaxIdleConns(0)
	p.db.SetMaxIdleConns(p.idle)
	return nil
}

func (p *sqlPool) Close() error { return p.db.Close() }

type sqlConn struct {
	conn    *sql.Conn
	dialect *sqlDialect
	closed  bool
}

func (c *sqlConn) Driver() string { return c.dialect.name }

func (c *sqlConn) Alive() bool {
	if c.closed {
		return false
	}
	// Raw fails with sql.ErrConnDone once the conn is gone. Returning
	// ErrBadConn from the callback makes database/sql drop it.
	err := c.conn.Raw(func(dc any) error {
		if v, ok := dc.(driver.Validator); ok && !v.IsValid() {
			return driver.ErrBadConn
		}
		return nil
	})
	return err == nil
}

func (c *sqlConn) ServerVersion(ctx context.Context) (string, error) {
	return c.QueryScalar(ctx, c.dialect.serverVersionQuery)
}

func (c *sqlConn) Database(ctx context.Context) (string, error) {
	return c.QueryScalar(ctx, c.dialect.databaseQuery)
}

func (c *sqlConn) QueryScalar(ctx context.Context, query string) (string, error) {
	if c.closed {
		return "", sql.ErrConnDone
	}
	var v any
	if err := c.conn.QueryRowContext(ctx, query).Scan(&v); err != nil {
		return "", err
	}
	return scalarString(v), nil
}

func (c *sqlConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
