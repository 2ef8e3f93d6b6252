package metrics

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AdminMetrics instruments the admin listener. Routes outside the known set
// are reported as "other" to keep label cardinality fixed.
type AdminMetrics struct {
	routes map[string]struct{}

	inflight metric.Int64UpDownCounter
	rejected metric.Int64Counter
	latency  metric.Float64Histogram
}

func NewAdminMetrics(routes ...string) (*AdminMetrics, error) {
	m := otel.Meter(meterPrefix + "admin")

	inflight, err := m.Int64UpDownCounter(
		"http.server.inflight",
		metric.WithDescription("In-flight admin requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	rejected, err := m.Int64Counter(
		"http.server.rejected",
		metric.WithDescription("Admin requests answered 429 or 5xx"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := m.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("Admin request duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		known[r] = struct{}{}
	}
	return &AdminMetrics{
		routes:   known,
		inflight: inflight,
		rejected: rejected,
		latency:  latency,
	}, nil
}

func (a *AdminMetrics) route(path string) string {
	if _, ok := a.routes[path]; ok {
		return path
	}
	return "other"
}

func (a *AdminMetrics) Middleware(next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		base := []attribute.KeyValue{
			attribute.String("http.method", r.Method),
			attribute.String("http.route", a.route(r.URL.Path)),
		}
		a.inflight.Add(r.Context(), 1, metric.WithAttributes(base...))
		defer a.inflight.Add(r.Context(), -1, metric.WithAttributes(base...))

		next.ServeHTTP(sw, r)

		attrs := append(base, attribute.String("http.status_code", strconv.Itoa(sw.status)))
		a.latency.Record(r.Context(), time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		if sw.status == http.StatusTooManyRequests || sw.status >= 500 {
			a.rejected.Add(r.Context(), 1, metric.WithAttributes(attrs...))
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

var _ http.ResponseWriter = (*statusRecorder)(nil)
