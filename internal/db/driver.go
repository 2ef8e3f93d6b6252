package db

import (
	"context"
	"fmt"
	"sort"
)

// Session is a borrowed view of a live connection. It has no Close: whoever
// owns the Conn behind it decides when it ends.
type Session interface {
	Driver() string

	// Alive reports the driver's view of the connection state without a
	// round trip to the server.
	Alive() bool

	ServerVersion(ctx context.Context) (string, error)
	Database(ctx context.Context) (string, error)
	QueryScalar(ctx context.Context, query string) (string, error)
}

// Conn is an owned connection handle. Close hands the physical connection
// back to the driver pool and is idempotent.
type Conn interface {
	Session
	Close() error
}

// Pool is the driver-level pool bound to a single descriptor.
type Pool interface {
	Conn(ctx context.Context) (Conn, error)

	// Clear drops idle physical connections. The pool stays usable and
	// connections currently checked out are discarded when returned.
	Clear() error

	Close() error
}

type Driver interface {
	Name() string

	// Open prepares a pool for d. It does not talk to the server.
	Open(ctx context.Context, d Descriptor, opts Options) (Pool, error)

	// VersionQuery is the read-only statement returning the full version text.
	VersionQuery() string

	// Classify looks up the driver's structured error code. ok is false when
	// err did not originate in this driver.
	Classify(err error) (kind Kind, code string, ok bool)
}

type Registry struct {
	drivers map[string]Driver
}

func NewRegistry(drivers ...Driver) *Registry {
	r := &Registry{drivers: make(map[string]Driver, len(drivers))}
	for _, d := range drivers {
		r.Register(d)
	}
	return r
}

// DefaultRegistry knows every built-in driver.
func DefaultRegistry() *Registry {
	return NewRegistry(SQLServer(), Postgres(), MySQL(), SQLite())
}

// Register adds d, replacing any driver with the same name.
func (r *Registry) Register(d Driver) {
	if d == nil {
		return
	}
	r.drivers[d.Name()] = d
}

func (r *Registry) Lookup(name string) (Driver, error) {
	if name == "" {
		name = DefaultDriver
	}
	d, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("db: %w %q", ErrUnknownDriver, name)
	}
	return d, nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
