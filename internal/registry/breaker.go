package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerSettings configures a single circuit breaker.
type BreakerSettings struct {
	FailureThreshold uint32        // consecutive failures before opening
	RecoveryTimeout  time.Duration // time in open state before a probe is admitted
}

// DefaultBreakerSettings returns the standard breaker configuration.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 3,
		RecoveryTimeout:  60 * time.Second,
	}
}

// Breaker wraps a gobreaker circuit breaker and decorates open-state
// rejections with the last observed error, the open timestamp, and the
// failure count. Half-open admits exactly one probe; concurrent probes are
// rejected the same way as open-state calls.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker

	mu       sync.Mutex
	lastErr  error
	openedAt time.Time
	failures uint32
}

func newBreaker(name string, settings BreakerSettings) *Breaker {
	b := &Breaker{name: name}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // single probe in half-open
		Timeout:     settings.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.FailureThreshold
		},
		OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				b.mu.Lock()
				b.openedAt = time.Now()
				b.mu.Unlock()
			}
			breakerStateGauge().WithLabelValues(name).Set(stateValue(to))
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	breakerStateGauge().WithLabelValues(name).Set(stateValue(b.cb.State()))
	return b
}

// Execute runs fn through the breaker. Open-state and concurrent half-open
// probes return a CircuitOpenError carrying the original failure.
func (b *Breaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := b.cb.Execute(fn)
	if err == nil {
		b.mu.Lock()
		b.failures = 0
		b.mu.Unlock()
		breakerRequests().WithLabelValues(b.name, "success").Inc()
		return result, nil
	}

	breakerRequests().WithLabelValues(b.name, "failure").Inc()

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.mu.Lock()
		open := &CircuitOpenError{
			Service:  b.name,
			LastErr:  b.lastErr,
			OpenedAt: b.openedAt,
			Failures: b.failures,
		}
		b.mu.Unlock()
		return nil, open
	}

	b.mu.Lock()
	b.lastErr = err
	b.failures++
	b.mu.Unlock()
	return nil, err
}

// State reports the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	}
	return 0
}
