package registry

import (
	"fmt"
	"time"
)

// CircuitOpenError is returned when a call is rejected because the breaker
// for the target service is open. It preserves the error that tripped the
// breaker so callers can distinguish outage causes.
type CircuitOpenError struct {
	Service  string
	LastErr  error
	OpenedAt time.Time
	Failures uint32
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s (failures=%d, opened_at=%s): %v",
		e.Service, e.Failures, e.OpenedAt.UTC().Format(time.RFC3339), e.LastErr)
}

func (e *CircuitOpenError) Unwrap() error {
	return e.LastErr
}

// RateLimitedError is returned when a token cannot be obtained within the
// caller's deadline.
type RateLimitedError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Service, e.RetryAfter)
}

// PoolExhaustedError is returned when a connection cannot be acquired from
// the bounded pool within the acquire timeout. The pool never creates
// connections beyond its bound.
type PoolExhaustedError struct {
	Service string
	Size    int64
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("connection pool exhausted for %s (size=%d)", e.Service, e.Size)
}
