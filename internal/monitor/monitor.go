// Package monitor runs the availability checker against every configured
// environment on a schedule and keeps the latest report per environment.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"dbprobe/internal/checker"
	"dbprobe/internal/db"
	"dbprobe/internal/platform/health"
	"dbprobe/internal/platform/logging"

	"go.uber.org/zap"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 15 * time.Second
)

// Monitor is safe for concurrent use.
type Monitor struct {
	checker  *checker.Checker
	targets  map[db.Environment]db.Descriptor
	envs     []db.Environment
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger

	mu   sync.RWMutex
	last map[db.Environment]checker.Report
}

type Option func(*Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithTimeout bounds each individual check.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

func New(c *checker.Checker, targets map[db.Environment]db.Descriptor, opts ...Option) *Monitor {
	m := &Monitor{
		checker:  c,
		targets:  make(map[db.Environment]db.Descriptor, len(targets)),
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		log:      zap.NewNop(),
		last:     make(map[db.Environment]checker.Report, len(targets)),
	}
	for env, d := range targets {
		m.targets[env] = d
		m.envs = append(m.envs, env)
	}
	sort.Slice(m.envs, func(i, j int) bool { return m.envs[i] < m.envs[j] })
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) Environments() []db.Environment {
	return append([]db.Environment(nil), m.envs...)
}

// Check runs one check for env and records the report.
func (m *Monitor) Check(ctx context.Context, env db.Environment) (checker.Report, bool) {
	d, ok := m.targets[env]
	if !ok {
		return checker.Report{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	rep := m.checker.Check(ctx, d)
	m.mu.Lock()
	m.last[env] = rep
	m.mu.Unlock()
	return rep, true
}

// CheckAll checks every environment in name order and returns the number
// of failures.
func (m *Monitor) CheckAll(ctx context.Context) int {
	failed := 0
	for _, env := range m.envs {
		if ctx.Err() != nil {
			break
		}
		if rep, _ := m.Check(ctx, env); !rep.OK() {
			failed++
		}
	}
	return failed
}

// Run checks immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.interval)
	defer t.Stop()

	for {
		failed := m.CheckAll(ctx)
		m.log.Debug("probe cycle complete",
			zap.Int("environments", len(m.envs)),
			zap.Int("failed", failed),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Last returns the most recent report for env.
func (m *Monitor) Last(env db.Environment) (checker.Report, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rep, ok := m.last[env]
	return rep, ok
}

// RegisterReadiness adds one node per environment under root. A node is
// healthy while its latest report is.
func (m *Monitor) RegisterReadiness(root *health.Node) {
	for _, env := range m.envs {
		root.Add(string(env), health.Latest(func() (bool, error) {
			rep, ok := m.Last(env)
			if !ok {
				return false, nil
			}
			return true, rep.Failure()
		}))
	}
}

type probeResponse struct {
	Environment string `json:"environment"`
	checker.Report
}

type errorResponse struct {
	Error string `json:"error"`
}

var (
	errMissingEnv = errors.New("missing env parameter")
	errUnknownEnv = errors.New("unknown environment")
)

// ProbeHandler serves GET /probe?env=<name>: an on-demand check whose report
// is returned as JSON. The status is 200 when the check passed and 503
// otherwise.
func (m *Monitor) ProbeHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: http.StatusText(http.StatusMethodNotAllowed)})
			return
		}
		name := r.URL.Query().Get("env")
		if name == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: errMissingEnv.Error()})
			return
		}
		env := db.Environment(name)

		rep, ok := m.Check(r.Context(), env)
		if !ok {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: errUnknownEnv.Error()})
			return
		}
		logging.From(r.Context(), m.log).Info("on-demand probe",
			zap.String("environment", name),
			zap.String("check_id", rep.ID),
			zap.String("outcome", rep.Outcome),
		)

		status := http.StatusOK
		if !rep.OK() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, probeResponse{Environment: name, Report: rep})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
