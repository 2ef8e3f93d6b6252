package httpmw

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ProbePolicy describes the middleware stack for endpoints that open
// database connections on request.
type ProbePolicy struct {
	// Operation names the otel span and access log entries.
	Operation string

	// Timeout bounds the whole request, including the database round trips.
	Timeout time.Duration

	// MaxInFlight bounds concurrent probes.
	MaxInFlight int

	// Limiter is optional.
	Limiter *IPLimiter
}

// Chain returns the stack, outermost first:
//
//	AccessLog, RequestID, Recover, NoStore, Timeout, InFlightLimit, rate limit
func (p ProbePolicy) Chain(log *zap.Logger) Chain {
	op := p.Operation
	if op == "" {
		op = "probe"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxInFlight := p.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 4
	}

	c := Chain{
		WithAccessLog(op, log),
		RequestID,
		WithRecover(log),
		NoStore,
		WithTimeout(timeout),
		WithInFlightLimit(maxInFlight),
	}
	if p.Limiter != nil {
		c = c.Append(p.Limiter.Middleware)
	}
	return c
}

func (p ProbePolicy) Handler(log *zap.Logger, next http.Handler) http.Handler {
	return p.Chain(log).Then(next)
}
