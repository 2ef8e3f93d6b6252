package db

import (
	"context"
	"errors"
)

// Check verifies s with a real round trip. Alive only asks the driver.
func Check(ctx context.Context, s Session) error {
	if ctx == nil {
		return errors.New("db: nil context")
	}
	if s == nil {
		return errors.New("db: nil session")
	}

	// SELECT 1 is intentionally trivial:
	// - hits the wire
	// - validates auth + routing
	// - exercises a real connection
	_, err := s.QueryScalar(ctx, "select 1")
	return err
}
