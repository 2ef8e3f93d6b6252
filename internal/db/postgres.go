package db

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLSTATE values with a dedicated category.
const (
	pgInvalidPassword      = "28P01"
	pgInvalidAuthorization = "28000"
	pgInvalidCatalogName   = "3D000"
)

// Postgres is the PostgreSQL driver (pgx pool).
func Postgres() Driver { return postgresDriver{} }

type postgresDriver struct{}

func (postgresDriver) Name() string         { return "postgres" }
func (postgresDriver) VersionQuery() string { return "select version()" }

func (postgresDriver) Open(ctx context.Context, desc Descriptor, opts Options) (Pool, error) {
	if ctx == nil {
		return nil, errors.New("db: nil context")
	}
	if desc.DSN == "" {
		return nil, errors.New("db: empty DSN")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(desc.DSN)
	if err != nil {
		return nil, fmt.Errorf("db: parse config: %w", err)
	}

	// Apply pool tuning if set (zero means "keep pgx defaults").
	// pgx has no idle cap; MinConns stays at its default of zero so the pool
	// does not dial in the background.
	if opts.MaxOpenConns > 0 {
		cfg.MaxConns = int32(min(opts.MaxOpenConns, math.MaxInt32))
	}
	if opts.ConnMaxLifetime > 0 {
		cfg.MaxConnLifetime = opts.ConnMaxLifetime
	}
	if opts.ConnMaxIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.ConnMaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db: create pool: %w", err)
	}
	return &pgPool{pool: pool}, nil
}

func (postgresDriver) Classify(err error) (Kind, string, bool) {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case pgInvalidPassword, pgInvalidAuthorization:
			return KindAuthentication, pe.Code, true
		case pgInvalidCatalogName:
			return KindDatabaseNotFound, pe.Code, true
		default:
			return KindDatabaseLayer, pe.Code, true
		}
	}
	var ce *pgconn.ConnectError
	if errors.As(err, &ce) {
		return KindDatabaseLayer, "", true
	}
	return KindGeneral, "", false
}

var errReleased = errors.New("db: connection released")

type pgPool struct {
	pool *pgxpool.Pool
}

func (p *pgPool) Conn(ctx context.Context) (Conn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgConn{conn: c}, nil
}

// Clear closes every idle connection; checked out ones are closed on release.
func (p *pgPool) Clear() error {
	p.pool.Reset()
	return nil
}

func (p *pgPool) Close() error {
	p.pool.Close()
	return nil
}

type pgConn struct {
	conn     *pgxpool.Conn
	released bool
}

func (c *pgConn) Driver() string { return "postgres" }

func (c *pgConn) Alive() bool {
	return !c.released && !c.conn.Conn().IsClosed()
}

// ServerVersion comes from the startup parameters, no query needed.
func (c *pgConn) ServerVersion(context.Context) (string, error) {
	if c.released {
		return "", errReleased
	}
	return c.conn.Conn().PgConn().ParameterStatus("server_version"), nil
}

func (c *pgConn) Database(context.Context) (string, error) {
	if c.released {
		return "", errReleased
	}
	return c.conn.Conn().Config().Database, nil
}

func (c *pgConn) QueryScalar(ctx context.Context, query string) (string, error) {
	if c.released {
		return "", errReleased
	}
	var v any
	if err := c.conn.QueryRow(ctx, query).Scan(&v); err != nil {
		return "", err
	}
	return scalarString(v), nil
}

func (c *pgConn) Close() error {
	if c.released {
		return nil
	}
	c.released = true
	c.conn.Release()
	return nil
}
