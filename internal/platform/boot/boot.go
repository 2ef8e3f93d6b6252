// Package boot runs a long-lived dbprobe process: logger, telemetry, the
// admin listener and readiness graph around one main loop.
package boot

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"dbprobe/internal/platform/admin"
	"dbprobe/internal/platform/health"
	"dbprobe/internal/platform/logging"
	"dbprobe/internal/platform/metrics"
	"dbprobe/internal/platform/otel"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Main is the process's primary work. Serve blocks until the work ends or
// Shutdown is called.
type Main struct {
	Serve    func() error
	Shutdown func(context.Context) error

	// Routes are added to the admin listener.
	Routes map[string]http.Handler
}

// Deps are the platform pieces handed to build.
type Deps struct {
	Log       *zap.Logger
	ReadyRoot *health.Node
	Serving   *atomic.Bool
}

type Options struct {
	ServiceName string
	LogLevel    string
	AdminAddr   string

	// AdminWriteTimeout must cover the slowest admin route.
	AdminWriteTimeout time.Duration

	// TraceOut receives pretty-printed spans when no OTLP endpoint is set.
	// Nil disables local span output.
	TraceOut io.Writer

	// OTELExtraAttrs are added to both tracing and metrics resources.
	OTELExtraAttrs []attribute.KeyValue

	ShutdownTimeout time.Duration
}

// Run boots the platform, calls build, serves the admin listener with the
// routes build returned and blocks until Main.Serve exits, ctx is canceled or
// SIGINT/SIGTERM arrives. Teardown errors are joined.
func Run(ctx context.Context, opts Options, build func(ctx context.Context, deps Deps) (Main, error)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.ServiceName == "" {
		return errors.New("boot: ServiceName is required")
	}
	if opts.AdminAddr == "" {
		opts.AdminAddr = ":8081"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	log, err := logging.New(opts.ServiceName, opts.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	shutdownTrace, err := otel.Init(runCtx, opts.ServiceName, opts.TraceOut, opts.OTELExtraAttrs...)
	if err != nil {
		return err
	}
	metricsH, shutdownMetrics, err := otel.InitMetricsPrometheus(runCtx, opts.ServiceName, opts.OTELExtraAttrs...)
	if err != nil {
		_ = shutdownTrace(context.Background())
		return err
	}
	teardownTelemetry := func(ctx context.Context) error {
		return errors.Join(shutdownMetrics(ctx), shutdownTrace(ctx))
	}

	ready := health.NewReadyGraph()
	var serving atomic.Bool

	main, err := build(logging.With(runCtx, log), Deps{
		Log:       log,
		ReadyRoot: ready,
		Serving:   &serving,
	})
	if err == nil && (main.Serve == nil || main.Shutdown == nil) {
		err = errors.New("boot: Main.Serve and Main.Shutdown are required")
	}
	if err != nil {
		_ = teardownTelemetry(context.Background())
		return err
	}

	adminOpts := admin.Options{
		Addr:         opts.AdminAddr,
		Metrics:      metricsH,
		ReadyRoot:    ready,
		ServingFn:    serving.Load,
		Routes:       main.Routes,
		WriteTimeout: opts.AdminWriteTimeout,
	}
	adminMetrics, err := metrics.NewAdminMetrics(admin.Paths(adminOpts)...)
	if err != nil {
		_ = teardownTelemetry(context.Background())
		return err
	}
	adminOpts.Middleware = adminMetrics.Middleware

	adminSrv, err := admin.Start(log, adminOpts)
	if err != nil {
		_ = teardownTelemetry(context.Background())
		return err
	}

	serving.Store(true)
	errCh := make(chan error, 1)
	go func() { errCh <- main.Serve() }()

	var serveErr error
	select {
	case <-runCtx.Done():
	case sig := <-sigc:
		log.Info("shutdown signal", zap.String("signal", sig.String()))
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error("main loop exited", zap.Error(serveErr))
		}
	}
	cancel()

	// Stop advertising readiness before shutdown.
	serving.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer shutdownCancel()

	errs := []error{serveErr}
	if err := main.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := teardownTelemetry(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
