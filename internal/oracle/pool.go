package oracle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/helmsman-trade/helmsman/internal/registry"
)

// PoolConfig bounds one fan-out.
type PoolConfig struct {
	CallTimeout    time.Duration // per-oracle query budget
	GlobalDeadline time.Duration // wall clock for the whole fan-out
	MaxConcurrent  int           // in-flight oracle queries
	Credential     string        // registry credential shared by the oracle set
}

// DefaultPoolConfig returns the standard fan-out bounds.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		CallTimeout:    30 * time.Second,
		GlobalDeadline: 90 * time.Second,
		MaxConcurrent:  4,
		Credential:     "default",
	}
}

// Results splits a fan-out into validated recommendations and classified
// failures. Every configured oracle appears in exactly one of the two maps.
type Results struct {
	OK     map[string]Recommendation
	Failed map[string]Failure
}

// Active returns the ids present in OK.
func (r Results) Active() []string {
	ids := make([]string, 0, len(r.OK))
	for id := range r.OK {
		ids = append(ids, id)
	}
	return ids
}

// Pool fans a prompt out to the active oracle set in parallel. Each oracle
// call passes through its resource registry triple, so a provider whose
// circuit is open is excluded immediately instead of burning the deadline.
type Pool struct {
	providers []Provider
	reg       *registry.Registry
	cfg       PoolConfig
	logger    zerolog.Logger
}

// NewPool creates a fan-out pool over the given providers.
func NewPool(providers []Provider, reg *registry.Registry, cfg PoolConfig) *Pool {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultPoolConfig().MaxConcurrent
	}
	if cfg.Credential == "" {
		cfg.Credential = "default"
	}
	return &Pool{
		providers: providers,
		reg:       reg,
		cfg:       cfg,
		logger:    log.With().Str("component", "oracle_pool").Logger(),
	}
}

// ProviderIDs returns the configured oracle ids in declaration order.
func (p *Pool) ProviderIDs() []string {
	ids := make([]string, len(p.providers))
	for i, prov := range p.providers {
		ids[i] = prov.ID()
	}
	return ids
}

// FanOut queries every provider and collects results within the global
// deadline. Stragglers are cancelled; a cancelled or timed-out query is
// recorded as a timeout failure, never dropped.
func (p *Pool) FanOut(ctx context.Context, prompt Prompt) Results {
	res := Results{
		OK:     make(map[string]Recommendation, len(p.providers)),
		Failed: make(map[string]Failure),
	}

	fanCtx := ctx
	if p.cfg.GlobalDeadline > 0 {
		var cancel context.CancelFunc
		fanCtx, cancel = context.WithTimeout(ctx, p.cfg.GlobalDeadline)
		defer cancel()
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(fanCtx)
	g.SetLimit(p.cfg.MaxConcurrent)

	for _, prov := range p.providers {
		prov := prov
		g.Go(func() error {
			rec, err := p.queryOne(gctx, prov, prompt)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fail := classify(prov.ID(), err)
				p.logger.Warn().
					Str("oracle", prov.ID()).
					Str("reason", string(fail.Reason)).
					Err(err).
					Msg("Oracle excluded from cycle")
				res.Failed[prov.ID()] = fail
				return nil
			}
			res.OK[prov.ID()] = rec
			return nil
		})
	}

	g.Wait()

	p.logger.Debug().
		Str("instrument", prompt.Instrument.Key()).
		Int("ok", len(res.OK)).
		Int("failed", len(res.Failed)).
		Msg("Fan-out complete")
	return res
}

func (p *Pool) queryOne(ctx context.Context, prov Provider, prompt Prompt) (Recommendation, error) {
	callCtx := ctx
	if p.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()
	}

	triple := p.reg.Get(prov.ID(), p.cfg.Credential)
	if err := triple.Limiter.Wait(callCtx); err != nil {
		return Recommendation{}, err
	}

	result, err := triple.Breaker.Execute(callCtx, func() (interface{}, error) {
		return prov.Query(callCtx, prompt)
	})
	if err != nil {
		return Recommendation{}, err
	}

	rec := result.(Recommendation)
	rec.OracleID = prov.ID()
	if rec.ProducedAt.IsZero() {
		rec.ProducedAt = time.Now().UTC()
	}
	if err := Validate(rec); err != nil {
		return Recommendation{}, invalidError{err}
	}
	return rec, nil
}

type invalidError struct{ err error }

func (e invalidError) Error() string { return "invalid oracle output: " + e.err.Error() }
func (e invalidError) Unwrap() error { return e.err }

func classify(oracleID string, err error) Failure {
	var (
		open    *registry.CircuitOpenError
		limited *registry.RateLimitedError
		invalid invalidError
	)
	switch {
	case errors.As(err, &open):
		return Failure{OracleID: oracleID, Reason: FailCircuitOpen, Err: err}
	case errors.As(err, &limited):
		return Failure{OracleID: oracleID, Reason: FailRateLimited, Err: err}
	case errors.As(err, &invalid):
		return Failure{OracleID: oracleID, Reason: FailInvalid, Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Failure{OracleID: oracleID, Reason: FailTimeout, Err: err}
	default:
		return Failure{OracleID: oracleID, Reason: FailTransport, Err: err}
	}
}
