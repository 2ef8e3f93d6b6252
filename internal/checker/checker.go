// Package checker probes a database server once and reports what happened.
//
// A check never fails to its caller: every error is classified, written to
// the report sink and returned inside the Report.
package checker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"dbprobe/internal/db"
	"dbprobe/internal/platform/logging"
	"dbprobe/internal/platform/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Report lines. Operator tooling greps for these; keep the wording stable.
const (
	LineConnecting    = "Connecting to %s server..."
	LineConnected     = "Connection successful!"
	LineServerVersion = "Server version: %s"
	LineFullVersion   = "Full version: %s"
	LineSQLError      = "SQL error: %s"
	LineError         = "Error: %s"
	LineBadLogin      = "Invalid login or password"
	LineNoDatabase    = "Database not found"
	LineUnavailable   = "Server unavailable"
)

const OutcomeOK = "ok"

// Report is the result of one check.
type Report struct {
	ID            string        `json:"id"`
	Target        string        `json:"target"`
	Driver        string        `json:"driver"`
	Open          bool          `json:"open"`
	ServerVersion string        `json:"server_version,omitempty"`
	FullVersion   string        `json:"full_version,omitempty"`
	Outcome       string        `json:"outcome"`
	Code          string        `json:"code,omitempty"`
	Message       string        `json:"message,omitempty"`
	Duration      time.Duration `json:"duration"`

	Err *db.Error `json:"-"`
}

func (r Report) OK() bool { return r.Err == nil }

// Failure returns the classified error, or nil for a successful check.
func (r Report) Failure() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}

// Checker is safe for concurrent use as long as its sink is. Each report is
// written to the sink in a single call.
type Checker struct {
	out      io.Writer
	log      *zap.Logger
	registry *db.Registry
	metrics  *metrics.ProbeMetrics
	tracer   trace.Tracer
}

type Option func(*Checker)

func WithLogger(l *zap.Logger) Option {
	return func(c *Checker) {
		if l != nil {
			c.log = l
		}
	}
}

func WithRegistry(r *db.Registry) Option {
	return func(c *Checker) {
		if r != nil {
			c.registry = r
		}
	}
}

func WithMetrics(m *metrics.ProbeMetrics) Option {
	return func(c *Checker) { c.metrics = m }
}

// New returns a Checker writing its report lines to out (discarded when nil).
func New(out io.Writer, opts ...Option) *Checker {
	if out == nil {
		out = io.Discard
	}
	c := &Checker{
		out:      out,
		log:      zap.NewNop(),
		registry: db.DefaultRegistry(),
		tracer:   otel.Tracer("dbprobe/checker"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check opens one connection with d, reads the server version, runs the
// driver's version statement and releases everything before returning.
func (c *Checker) Check(ctx context.Context, d db.Descriptor) Report {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	rep := Report{
		ID:     uuid.NewString(),
		Target: d.String(),
		Driver: d.DriverName(),
	}

	ctx, span := c.tracer.Start(ctx, "checker.Check", trace.WithAttributes(
		attribute.String("db.system", rep.Driver),
		attribute.String("check.id", rep.ID),
	))
	defer span.End()

	var buf bytes.Buffer
	linef(&buf, LineConnecting, rep.Driver)

	drv, err := c.registry.Lookup(rep.Driver)
	if err == nil {
		err = c.probe(ctx, &buf, drv, d, &rep)
	}
	if err != nil {
		rep.Err = db.Classify(drv, err)
		rep.Code = rep.Err.Code
		rep.Message = rep.Err.Message()
		reportFailure(&buf, rep.Err)
	}
	_, _ = c.out.Write(buf.Bytes())

	rep.Duration = time.Since(start)
	rep.Outcome = OutcomeOK
	if rep.Err != nil {
		rep.Outcome = rep.Err.Kind.String()
	}
	c.metrics.Record(ctx, rep.Driver, rep.Outcome, rep.Duration)

	log := logging.WithTrace(ctx, logging.From(ctx, c.log)).With(
		zap.String("check_id", rep.ID),
		zap.String("target", rep.Target),
		zap.String("outcome", rep.Outcome),
		zap.Duration("duration", rep.Duration),
	)
	if rep.Err != nil {
		span.RecordError(rep.Err)
		span.SetStatus(codes.Error, rep.Outcome)
		log.Warn("availability check failed", zap.String("code", rep.Code), zap.Error(rep.Err))
	} else {
		span.SetStatus(codes.Ok, "")
		log.Info("availability check passed", zap.String("server_version", rep.ServerVersion))
	}
	return rep
}

func (c *Checker) probe(ctx context.Context, w io.Writer, drv db.Driver, d db.Descriptor, rep *Report) (err error) {
	// Deferred closes below still run while a panic unwinds.
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("checker: driver panic: %v", p)
		}
	}()

	pool, err := drv.Open(ctx, d, db.Options{MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		return err
	}
	defer func() { _ = pool.Close() }()

	conn, err := pool.Conn(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if !conn.Alive() {
		return fmt.Errorf("checker: %s connection is not open after connect", drv.Name())
	}
	rep.Open = true
	linef(w, LineConnected)

	rep.ServerVersion, err = conn.ServerVersion(ctx)
	if err != nil {
		return err
	}
	linef(w, LineServerVersion, rep.ServerVersion)

	rep.FullVersion, err = conn.QueryScalar(ctx, drv.VersionQuery())
	if err != nil {
		return err
	}
	linef(w, LineFullVersion, rep.FullVersion)
	return nil
}

func reportFailure(w io.Writer, e *db.Error) {
	if e.Kind == db.KindGeneral {
		linef(w, LineError, e.Message())
		return
	}
	linef(w, LineSQLError, e.Message())
	switch e.Kind {
	case db.KindAuthentication:
		linef(w, LineBadLogin)
	case db.KindDatabaseNotFound:
		linef(w, LineNoDatabase)
	case db.KindServerUnreachable:
		linef(w, LineUnavailable)
	}
}

func linef(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format+"\n", args...)
}
