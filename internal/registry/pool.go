package registry

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// PoolSettings configures a bounded connection pool.
type PoolSettings struct {
	Size           int64
	AcquireTimeout time.Duration
}

// DefaultPoolSettings returns the standard pool configuration.
func DefaultPoolSettings() PoolSettings {
	return PoolSettings{Size: 5, AcquireTimeout: 10 * time.Second}
}

// ConnPool bounds concurrent use of one external service's connections.
// Acquire blocks up to the configured timeout; on exhaustion it fails with
// PoolExhaustedError rather than growing the pool.
type ConnPool struct {
	service string
	size    int64
	timeout time.Duration
	sem     *semaphore.Weighted
}

func newConnPool(service string, settings PoolSettings) *ConnPool {
	return &ConnPool{
		service: service,
		size:    settings.Size,
		timeout: settings.AcquireTimeout,
		sem:     semaphore.NewWeighted(settings.Size),
	}
}

// Acquire obtains a connection slot. The caller must Release it.
func (p *ConnPool) Acquire(ctx context.Context) error {
	acquireCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &PoolExhaustedError{Service: p.service, Size: p.size}
	}
	return nil
}

// Release returns a connection slot to the pool.
func (p *ConnPool) Release() {
	p.sem.Release(1)
}

// Size returns the pool bound.
func (p *ConnPool) Size() int64 {
	return p.size
}
