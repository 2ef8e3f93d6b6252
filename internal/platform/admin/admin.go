// Package admin serves the operational endpoints of a long-running dbprobe:
// /livez, /readyz, /metrics and any extra routes the command registers.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"time"

	"dbprobe/internal/platform/health"

	"go.uber.org/zap"
)

type Server struct {
	http *http.Server
	ln   net.Listener
}

type Options struct {
	Addr      string
	Metrics   http.Handler // optional
	ReadyRoot *health.Node // optional
	ServingFn func() bool  // optional NOT_SERVING gate for /readyz

	// Routes are mounted next to the built-in endpoints.
	Routes map[string]http.Handler

	// Middleware wraps the whole mux, e.g. request metrics.
	Middleware func(http.Handler) http.Handler

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Paths lists every path the handler built from opts answers on, sorted.
func Paths(opts Options) []string {
	paths := []string{"/livez"}
	if opts.ReadyRoot != nil {
		paths = append(paths, "/readyz")
	}
	if opts.Metrics != nil {
		paths = append(paths, "/metrics")
	}
	for p := range opts.Routes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func NewHandler(opts Options) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/livez", health.Livez())
	if opts.ReadyRoot != nil {
		mux.Handle("/readyz", health.Handler(opts.ReadyRoot, opts.ServingFn))
	}
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	for path, h := range opts.Routes {
		mux.Handle(path, h)
	}
	if opts.Middleware != nil {
		return opts.Middleware(mux)
	}
	return mux
}

// Start listens on opts.Addr and serves in the background.
func Start(log *zap.Logger, opts Options) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           NewHandler(opts),
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       orDur(opts.ReadTimeout, 5*time.Second),
		WriteTimeout:      orDur(opts.WriteTimeout, 10*time.Second),
		IdleTimeout:       orDur(opts.IdleTimeout, 60*time.Second),
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, err
	}

	s := &Server{http: srv, ln: ln}
	go func() {
		log.Info("admin server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin server error", zap.Error(err))
		}
	}()
	return s, nil
}

// Addr is the bound listener address, useful with port 0.
func (s *Server) Addr() string {
	if s == nil || s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func orDur(v, d time.Duration) time.Duration {
	if v <= 0 {
		return d
	}
	return v
}
