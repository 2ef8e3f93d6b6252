// Package connmgr keeps at most one open connection per named environment.
//
// A Manager is not safe for concurrent use. Callers sharing one across
// goroutines must guard it themselves.
package connmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"dbprobe/internal/db"
	"dbprobe/internal/platform/logging"
	"dbprobe/internal/platform/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrClosed is returned by Conn after Close.
var ErrClosed = errors.New("connmgr: manager closed")

// Manager owns a descriptor per environment and, lazily, one driver pool and
// one handle per environment. Each environment holds its handle checked out,
// so pools are never shared even between equal descriptors.
type Manager struct {
	registry *db.Registry
	poolOpts db.Options
	log      *zap.Logger
	metrics  *metrics.ConnMetrics
	tracer   trace.Tracer

	descriptors map[db.Environment]db.Descriptor
	handles     map[db.Environment]handle
	pools       map[db.Environment]pool
	closed      bool
}

type handle struct {
	conn db.Conn
	desc db.Descriptor
}

type pool struct {
	db.Pool
	desc db.Descriptor
}

type Option func(*Manager)

func WithRegistry(r *db.Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func WithPoolOptions(o db.Options) Option {
	return func(m *Manager) { m.poolOpts = o }
}

func WithMetrics(c *metrics.ConnMetrics) Option {
	return func(m *Manager) { m.metrics = c }
}

// New returns a manager configured with descriptors. The map is copied.
func New(descriptors map[db.Environment]db.Descriptor, opts ...Option) *Manager {
	m := &Manager{
		registry:    db.DefaultRegistry(),
		log:         zap.NewNop(),
		tracer:      otel.Tracer("dbprobe/connmgr"),
		descriptors: make(map[db.Environment]db.Descriptor, len(descriptors)),
		handles:     make(map[db.Environment]handle),
		pools:       make(map[db.Environment]pool),
	}
	for env, d := range descriptors {
		m.descriptors[env] = d
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetDescriptor registers or replaces the descriptor for env. A handle that
// is already open keeps its old descriptor until it is reopened.
func (m *Manager) SetDescriptor(env db.Environment, d db.Descriptor) {
	m.descriptors[env] = d
}

func (m *Manager) Descriptor(env db.Environment) (db.Descriptor, bool) {
	d, ok := m.descriptors[env]
	return d, ok
}

// Environments returns every environment with a descriptor, sorted.
func (m *Manager) Environments() []db.Environment {
	out := make([]db.Environment, 0, len(m.descriptors))
	for env := range m.descriptors {
		out = append(out, env)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Open returns the number of handles currently cached.
func (m *Manager) Open() int { return len(m.handles) }

// Conn returns the environment's cached handle while the driver reports it
// live, otherwise opens a new one and caches it. Open failures are returned
// as the driver reported them.
//
// The returned session stays owned by the manager; it is closed by CloseAll
// or Close.
func (m *Manager) Conn(ctx context.Context, env db.Environment) (db.Session, error) {
	if m.closed {
		return nil, ErrClosed
	}
	d, ok := m.descriptors[env]
	if !ok {
		return nil, fmt.Errorf("connmgr: environment %q: %w", env, db.ErrNoDescriptor)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	log := logging.From(ctx, m.log).With(
		zap.String("environment", string(env)),
		zap.String("target", d.String()),
	)

	if h, ok := m.handles[env]; ok {
		if h.conn.Alive() {
			m.metrics.Reused(ctx, string(env), h.conn.Driver())
			log.Debug("reusing connection")
			return h.conn, nil
		}
		log.Info("cached connection is no longer open; reopening")
		m.drop(ctx, env, h)
	}

	ctx, span := m.tracer.Start(ctx, "connmgr.Conn", trace.WithAttributes(
		attribute.String("environment", string(env)),
		attribute.String("db.system", d.DriverName()),
	))
	defer span.End()

	conn, err := m.open(ctx, env, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		log.Warn("open connection failed", zap.Error(err))
		return nil, err
	}
	m.handles[env] = handle{conn: conn, desc: d}
	m.metrics.Opened(ctx, string(env), conn.Driver())
	log.Info("connection opened")
	return conn, nil
}

// open takes a connection from env's pool. A pool opened for a descriptor
// that has since been replaced is closed first.
func (m *Manager) open(ctx context.Context, env db.Environment, d db.Descriptor) (db.Conn, error) {
	p, ok := m.pools[env]
	if ok && p.desc != d {
		if err := p.Close(); err != nil {
			m.log.Debug("closing replaced pool", zap.String("environment", string(env)), zap.Error(err))
		}
		delete(m.pools, env)
		ok = false
	}
	if !ok {
		drv, err := m.registry.Lookup(d.DriverName())
		if err != nil {
			return nil, err
		}
		dp, err := drv.Open(ctx, d, m.poolOpts)
		if err != nil {
			return nil, err
		}
		p = pool{Pool: dp, desc: d}
		m.pools[env] = p
	}
	return p.Conn(ctx)
}

// Database checks env's connection with a round trip and returns the name of
// the database it is attached to.
func (m *Manager) Database(ctx context.Context, env db.Environment) (string, error) {
	s, err := m.Conn(ctx, env)
	if err != nil {
		return "", err
	}
	if err := db.Check(ctx, s); err != nil {
		return "", err
	}
	return s.Database(ctx)
}

func (m *Manager) drop(ctx context.Context, env db.Environment, h handle) {
	if err := h.conn.Close(); err != nil {
		m.log.Debug("closing stale connection", zap.String("environment", string(env)), zap.Error(err))
	}
	delete(m.handles, env)
	m.metrics.Closed(ctx, string(env), h.conn.Driver())
}

// CloseAll closes every open handle and forgets them. Descriptors and driver
// pools are kept.
func (m *Manager) CloseAll() error {
	ctx := context.Background()
	var errs []error
	for env, h := range m.handles {
		// Handles the driver already reports dead still get Close; it is
		// idempotent and returns the physical connection to the pool.
		if err := h.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("connmgr: close %q: %w", env, err))
		}
		m.metrics.Closed(ctx, string(env), h.conn.Driver())
	}
	clear(m.handles)
	if len(errs) > 0 {
		m.log.Warn("close all connections", zap.Error(errors.Join(errs...)))
	}
	return errors.Join(errs...)
}

// ClearPool asks the driver to drop idle physical connections in env's pool.
// It does not touch the manager's own handle.
func (m *Manager) ClearPool(env db.Environment) error {
	if _, ok := m.descriptors[env]; !ok {
		return fmt.Errorf("connmgr: environment %q: %w", env, db.ErrNoDescriptor)
	}
	p, ok := m.pools[env]
	if !ok {
		return nil
	}
	if err := p.Clear(); err != nil {
		return fmt.Errorf("connmgr: clear pool %q: %w", env, err)
	}
	return nil
}

// Close disposes of the manager: CloseAll, ClearPool for every environment,
// then every driver pool is closed. Calling it again is a no-op.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	if err := m.CloseAll(); err != nil {
		errs = append(errs, err)
	}
	for _, env := range m.Environments() {
		if err := m.ClearPool(env); err != nil {
			errs = append(errs, err)
		}
	}
	for env, p := range m.pools {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("connmgr: close pool %q: %w", env, err))
		}
	}
	clear(m.pools)

	m.log.Debug("connection manager closed")
	return errors.Join(errs...)
}
