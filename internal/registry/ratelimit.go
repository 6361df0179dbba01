package registry

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// LimiterSettings configures a token-bucket rate limiter.
type LimiterSettings struct {
	Rate  float64 // tokens per second
	Burst int     // bucket capacity
}

// FreeTierLimiter returns the limiter defaults for unauthenticated or
// free-tier service access.
func FreeTierLimiter() LimiterSettings {
	return LimiterSettings{Rate: 0.5, Burst: 5}
}

// PaidTierLimiter returns the limiter defaults for paid or authenticated
// service access.
func PaidTierLimiter() LimiterSettings {
	return LimiterSettings{Rate: 10, Burst: 20}
}

// Limiter is a token bucket in front of one external service.
type Limiter struct {
	service string
	lim     *rate.Limiter
}

func newLimiter(service string, settings LimiterSettings) *Limiter {
	return &Limiter{
		service: service,
		lim:     rate.NewLimiter(rate.Limit(settings.Rate), settings.Burst),
	}
}

// Wait blocks until a token is available or the context is done. A context
// expiry while waiting is reported as a RateLimitedError with the time a
// token would have become available.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.lim.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			res := l.lim.Reserve()
			retry := res.Delay()
			res.Cancel()
			return &RateLimitedError{Service: l.service, RetryAfter: retry}
		}
		return err
	}
	return nil
}

// Allow reports whether a token is immediately available.
func (l *Limiter) Allow() bool {
	return l.lim.Allow()
}

// RetryAfter returns how long a caller should wait before the next token.
func (l *Limiter) RetryAfter() time.Duration {
	res := l.lim.Reserve()
	d := res.Delay()
	res.Cancel()
	return d
}
