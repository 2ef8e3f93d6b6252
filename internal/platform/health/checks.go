package health

import (
	"context"
	"errors"
)

// ErrPending is reported by Latest before the first result is known.
var ErrPending = errors.New("health: no result yet")

// Latest adapts a cached outcome into a Check. last reports whether any result
// exists yet and the most recent error (nil when healthy).
func Latest(last func() (bool, error)) Check {
	return func(context.Context) error {
		ok, err := last()
		if !ok {
			return ErrPending
		}
		return err
	}
}
