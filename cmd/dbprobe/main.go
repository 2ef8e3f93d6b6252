// Command dbprobe checks database availability and manages per-environment
// connections.
//
//	dbprobe [-config file] check [-driver name] [-dsn dsn]
//	dbprobe [-config file] connect [env ...]
//	dbprobe [-config file] serve
//
// Report lines go to stdout, logs to stderr.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"dbprobe/internal/checker"
	"dbprobe/internal/connmgr"
	"dbprobe/internal/db"
	"dbprobe/internal/monitor"
	"dbprobe/internal/platform/boot"
	"dbprobe/internal/platform/config"
	"dbprobe/internal/platform/httpmw"
	"dbprobe/internal/platform/logging"
	"dbprobe/internal/platform/metrics"
	"dbprobe/internal/platform/otel"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const serviceName = "dbprobe"

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", config.Getenv(config.EnvPrefix+"CONFIG", ""), "YAML config file")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: %s [-config file] <check|connect|serve> [args]\n", serviceName)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "check":
		return runCheck(ctx, *cfgPath, rest, stdout, stderr)
	case "connect":
		return runConnect(ctx, *cfgPath, rest, stdout, stderr)
	case "serve":
		return runServe(ctx, *cfgPath, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "%s: unknown command %q\n", serviceName, cmd)
		fs.Usage()
		return exitUsage
	}
}

// runCheck probes one server. A failed check is reported on stdout and still
// exits 0; only usage and configuration problems exit non-zero.
func runCheck(ctx context.Context, cfgPath string, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	driver := fs.String("driver", "", "driver name (default from config, else "+db.DefaultDriver+")")
	dsn := fs.String("dsn", "", "connection string (default from config check target)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, log, shutdown, code := setup(ctx, cfgPath, stderr)
	if code != exitOK {
		return code
	}
	defer shutdown()

	target := cfg.Check
	if *driver != "" {
		target.Driver = *driver
	}
	if *dsn != "" {
		target.DSN = *dsn
	}
	d := target.Descriptor()
	if d.DSN == "" {
		fmt.Fprintf(stderr, "%s: check needs -dsn, check.dsn or %sCHECK_DSN\n", serviceName, config.EnvPrefix)
		return exitUsage
	}

	checker.New(stdout, checker.WithLogger(log)).Check(ctx, d)
	return exitOK
}

// runConnect obtains a connection per environment through the manager and
// prints the database each one is attached to.
func runConnect(ctx context.Context, cfgPath string, envs []string, stdout, stderr io.Writer) int {
	cfg, log, shutdown, code := setup(ctx, cfgPath, stderr)
	if code != exitOK {
		return code
	}
	defer shutdown()

	if len(envs) == 0 {
		envs = cfg.EnvironmentNames()
	}
	if len(envs) == 0 {
		fmt.Fprintf(stderr, "%s: no environments configured\n", serviceName)
		return exitUsage
	}

	mgr := connmgr.New(cfg.Descriptors(),
		connmgr.WithLogger(log),
		connmgr.WithPoolOptions(cfg.PoolOptions()),
	)
	defer func() {
		if err := mgr.Close(); err != nil {
			log.Warn("dispose connection manager", zap.Error(err))
		}
	}()

	for _, name := range envs {
		env := db.Environment(name)
		database, err := mgr.Database(ctx, env)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %s: %v\n", serviceName, env, err)
			return exitFailure
		}
		fmt.Fprintf(stdout, "%s database: %s\n", env, database)
	}
	return exitOK
}

func runServe(ctx context.Context, cfgPath string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", serviceName, err)
		return exitUsage
	}
	if len(cfg.Environments) == 0 {
		fmt.Fprintf(stderr, "%s: serve needs at least one environment\n", serviceName)
		return exitUsage
	}

	opts := boot.Options{
		ServiceName:       serviceName,
		LogLevel:          cfg.LogLevel,
		AdminAddr:         cfg.Serve.AdminAddr,
		AdminWriteTimeout: adminWriteTimeout(cfg.Serve.ProbeTimeout),
	}
	if cfg.Telemetry.TraceStdout {
		opts.TraceOut = stderr
	}

	err = boot.Run(ctx, opts, func(ctx context.Context, deps boot.Deps) (boot.Main, error) {
		probeMetrics, err := metrics.NewProbeMetrics()
		if err != nil {
			return boot.Main{}, err
		}
		connMetrics, err := metrics.NewConnMetrics()
		if err != nil {
			return boot.Main{}, err
		}
		chk := checker.New(&lockedWriter{w: stdout},
			checker.WithLogger(deps.Log),
			checker.WithMetrics(probeMetrics),
		)
		mon := monitor.New(chk, cfg.Descriptors(),
			monitor.WithInterval(cfg.Serve.Interval),
			monitor.WithTimeout(cfg.Serve.ProbeTimeout),
			monitor.WithLogger(deps.Log),
		)
		mon.RegisterReadiness(deps.ReadyRoot)

		conns := connmgr.NewShared(connmgr.New(cfg.Descriptors(),
			connmgr.WithLogger(deps.Log),
			connmgr.WithPoolOptions(cfg.PoolOptions()),
			connmgr.WithMetrics(connMetrics),
		), cfg.Serve.ProbeTimeout)

		policy := routePolicy("probe", cfg)
		dbPolicy := routePolicy("database", cfg)

		loopCtx, stop := context.WithCancel(ctx)
		done := make(chan struct{})
		return boot.Main{
			Serve: func() error {
				defer close(done)
				return mon.Run(loopCtx)
			},
			Shutdown: func(ctx context.Context) error {
				stop()
				select {
				case <-done:
				case <-ctx.Done():
					return ctx.Err()
				}
				return conns.Close()
			},
			Routes: map[string]http.Handler{
				"/probe":    policy.Handler(deps.Log, mon.ProbeHandler()),
				"/database": dbPolicy.Handler(deps.Log, conns.DatabaseHandler()),
			},
		}, nil
	})
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", serviceName, err)
		return exitFailure
	}
	return exitOK
}

// probeHTTPTimeout leaves the per-check deadline room to expire first, so a
// slow check still answers with its JSON report.
func probeHTTPTimeout(check time.Duration) time.Duration {
	return check + check/4
}

func adminWriteTimeout(check time.Duration) time.Duration {
	return check + check/2
}

// routePolicy guards one on-demand admin route. Each route gets its own
// limiter and in-flight budget.
func routePolicy(operation string, cfg *config.Config) httpmw.ProbePolicy {
	p := httpmw.ProbePolicy{
		Operation:   operation,
		Timeout:     probeHTTPTimeout(cfg.Serve.ProbeTimeout),
		MaxInFlight: cfg.Serve.MaxInFlight,
	}
	if cfg.Serve.ProbeRate > 0 {
		p.Limiter = httpmw.NewIPLimiter(rate.Limit(cfg.Serve.ProbeRate), cfg.Serve.ProbeBurst, 0)
	}
	return p
}

// setup loads configuration and starts logging and tracing for the one-shot
// commands.
func setup(ctx context.Context, cfgPath string, stderr io.Writer) (*config.Config, *zap.Logger, func(), int) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", serviceName, err)
		return nil, nil, nil, exitUsage
	}
	log, err := logging.NewWithWriter(stderr, serviceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", serviceName, err)
		return nil, nil, nil, exitUsage
	}

	var traceOut io.Writer
	if cfg.Telemetry.TraceStdout {
		traceOut = stderr
	}
	shutdownTrace, err := otel.Init(ctx, serviceName, traceOut)
	if err != nil {
		log.Warn("tracing disabled", zap.Error(err))
		shutdownTrace = func(context.Context) error { return nil }
	}

	return cfg, log, func() {
		if err := shutdownTrace(context.Background()); err != nil {
			log.Debug("trace shutdown", zap.Error(err))
		}
		_ = log.Sync()
	}, exitOK
}

// lockedWriter serializes writes from concurrent checks. The checker writes
// each report in one call, so reports never interleave.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
