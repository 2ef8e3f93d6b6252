package httpmw

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

type Middleware func(http.Handler) http.Handler

// Chain is an ordered list of middleware. The first element is the
// outermost wrapper.
type Chain []Middleware

func (c Chain) Then(h http.Handler) http.Handler {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i] == nil {
			continue
		}
		h = c[i](h)
	}
	return h
}

// Append returns a new chain with mw added as the innermost entries.
func (c Chain) Append(mw ...Middleware) Chain {
	out := make(Chain, 0, len(c)+len(mw))
	out = append(out, c...)
	return append(out, mw...)
}

func WithAccessLog(operation string, log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return AccessLog(operation, log, next)
	}
}

func WithRecover(log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return Recover(log, next)
	}
}

func WithTimeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return Timeout(d, next)
	}
}

func WithInFlightLimit(max int) Middleware {
	return func(next http.Handler) http.Handler {
		return InFlightLimit(max, next)
	}
}
