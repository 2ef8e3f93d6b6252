package connmgr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"dbprobe/internal/db"
	"dbprobe/internal/platform/logging"

	"go.uber.org/zap"
)

// Shared serializes access to a Manager so HTTP handlers can use it.
type Shared struct {
	mu      sync.Mutex
	m       *Manager
	timeout time.Duration
}

// NewShared guards m. Each call is bounded by timeout when it is positive.
func NewShared(m *Manager, timeout time.Duration) *Shared {
	return &Shared{m: m, timeout: timeout}
}

// Database is Manager.Database under the lock.
func (s *Shared) Database(ctx context.Context, env db.Environment) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Database(ctx, env)
}

func (s *Shared) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Close()
}

type databaseResponse struct {
	Environment string `json:"environment"`
	Database    string `json:"database,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Error       string `json:"error,omitempty"`
}

// DatabaseHandler serves GET /database?env=<name> with the name of the
// database the environment's cached connection is attached to. Failures are
// answered with 503 and the classified error.
func (s *Shared) DatabaseHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeJSON(w, http.StatusMethodNotAllowed, databaseResponse{Error: http.StatusText(http.StatusMethodNotAllowed)})
			return
		}
		name := r.URL.Query().Get("env")
		if name == "" {
			writeJSON(w, http.StatusBadRequest, databaseResponse{Error: "missing env parameter"})
			return
		}
		env := db.Environment(name)

		database, err := s.Database(r.Context(), env)
		switch {
		case errors.Is(err, db.ErrNoDescriptor):
			writeJSON(w, http.StatusNotFound, databaseResponse{Environment: name, Error: "unknown environment"})
		case err != nil:
			e := s.classify(env, err)
			logging.From(r.Context(), s.m.log).Warn("database lookup failed",
				zap.String("environment", name),
				zap.Error(e),
			)
			writeJSON(w, http.StatusServiceUnavailable, databaseResponse{
				Environment: name,
				Kind:        e.Kind.String(),
				Error:       e.Message(),
			})
		default:
			writeJSON(w, http.StatusOK, databaseResponse{Environment: name, Database: database})
		}
	})
}

func (s *Shared) classify(env db.Environment, err error) *db.Error {
	s.mu.Lock()
	d, ok := s.m.descriptors[env]
	s.mu.Unlock()
	var drv db.Driver
	if ok {
		drv, _ = s.m.registry.Lookup(d.DriverName())
	}
	return db.Classify(drv, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
