// Package dbtest provides an in-memory db.Driver for tests. It never touches
// the network and records every pool and connection it hands out.
package dbtest

import (
	"context"
	"database/sql"
	"errors"

	"dbprobe/internal/db"
)

// CodeError is a simulated driver error carrying a structured code.
type CodeError struct {
	Kind db.Kind
	Code string
	Msg  string
}

func (e *CodeError) Error() string { return e.Msg }

// Driver is not safe for concurrent use.
type Driver struct {
	DriverName string

	OpenErr      error
	ConnErr      error
	VersionErr   error
	QueryErr     error
	PanicOnQuery bool

	Pools []*Pool
	Conns []*Conn
}

func (d *Driver) Name() string {
	if d.DriverName == "" {
		return "fake"
	}
	return d.DriverName
}

func (d *Driver) VersionQuery() string { return "select fake_version()" }

func (d *Driver) Classify(err error) (db.Kind, string, bool) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Kind, ce.Code, true
	}
	return db.KindGeneral, "", false
}

func (d *Driver) Open(_ context.Context, desc db.Descriptor, opts db.Options) (db.Pool, error) {
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	p := &Pool{driver: d, Descriptor: desc, Options: opts}
	d.Pools = append(d.Pools, p)
	return p, nil
}

// Dials returns the DSN of every connection attempt, in order.
func (d *Driver) Dials() []string {
	var out []string
	for _, p := range d.Pools {
		out = append(out, p.dials...)
	}
	return out
}

type Pool struct {
	driver *Driver
	dials  []string

	Descriptor db.Descriptor
	Options    db.Options
	Cleared    int
	Closed     bool
}

func (p *Pool) Conn(context.Context) (db.Conn, error) {
	p.dials = append(p.dials, p.Descriptor.DSN)
	if p.Closed {
		return nil, errors.New("dbtest: pool closed")
	}
	if p.driver.ConnErr != nil {
		return nil, p.driver.ConnErr
	}
	c := &Conn{pool: p, DSN: p.Descriptor.DSN}
	p.driver.Conns = append(p.driver.Conns, c)
	return c, nil
}

func (p *Pool) Clear() error {
	p.Cleared++
	return nil
}

func (p *Pool) Close() error {
	p.Closed = true
	return nil
}

type Conn struct {
	pool   *Pool
	closed bool
	dead   bool

	DSN    string
	Closes int
}

// Kill simulates the server dropping the session.
func (c *Conn) Kill() { c.dead = true }

func (c *Conn) IsClosed() bool { return c.closed }

func (c *Conn) Driver() string { return c.pool.driver.Name() }

func (c *Conn) Alive() bool { return !c.closed && !c.dead }

func (c *Conn) ServerVersion(context.Context) (string, error) {
	if c.pool.driver.VersionErr != nil {
		return "", c.pool.driver.VersionErr
	}
	return "1.0.0", nil
}

func (c *Conn) Database(context.Context) (string, error) {
	if c.closed {
		return "", sql.ErrConnDone
	}
	return c.DSN, nil
}

func (c *Conn) QueryScalar(_ context.Context, query string) (string, error) {
	if c.closed {
		return "", sql.ErrConnDone
	}
	if c.pool.driver.PanicOnQuery {
		panic("dbtest: query panic")
	}
	if c.pool.driver.QueryErr != nil {
		return "", c.pool.driver.QueryErr
	}
	if query == c.pool.driver.VersionQuery() {
		return "Fake Server 1.0.0", nil
	}
	return "1", nil
}

func (c *Conn) Close() error {
	c.Closes++
	c.closed = true
	return nil
}
