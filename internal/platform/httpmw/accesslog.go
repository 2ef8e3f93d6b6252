package httpmw

import (
	"net/http"
	"time"

	"dbprobe/internal/platform/logging"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// AccessLog opens an otel server span named operation and logs one line
// per request once the handler returns. The request logger is stored in the
// context so handlers can add to it with logging.From.
func AccessLog(operation string, log *zap.Logger, next http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lg := logging.WithTrace(r.Context(), log)
		if rid := r.Header.Get(RequestIDHeader); rid != "" {
			lg = lg.With(zap.String("request_id", rid))
		}

		sw := &respWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(logging.With(r.Context(), lg)))

		lg = lg.With(
			zap.String("http.method", r.Method),
			zap.String("http.path", r.URL.Path),
			zap.Int("http.status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
		if r.RemoteAddr != "" {
			lg = lg.With(zap.String("client.addr", r.RemoteAddr))
		}
		if sw.status >= http.StatusInternalServerError {
			lg.Warn("http")
			return
		}
		lg.Info("http")
	})

	return otelhttp.NewHandler(inner, operation)
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
