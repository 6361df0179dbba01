// Package executor dispatches approved decisions to the venue with
// at-most-once semantics: a decision id is executed once, and replays
// return the recorded result without touching the venue.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/helmsman-trade/helmsman/internal/approval"
	"github.com/helmsman-trade/helmsman/internal/ensemble"
	"github.com/helmsman-trade/helmsman/internal/market"
	"github.com/helmsman-trade/helmsman/internal/oracle"
	"github.com/helmsman-trade/helmsman/internal/platform"
	"github.com/helmsman-trade/helmsman/internal/registry"
	"github.com/helmsman-trade/helmsman/internal/risk"
)

// Status of an execution attempt.
type Status string

const (
	StatusFilled           Status = "filled"
	StatusRejected         Status = "rejected"
	StatusFailed           Status = "failed"
	StatusAwaitingApproval Status = "awaiting_approval"
)

// Failure reasons surfaced on Result.Reason.
const (
	ReasonCircuitOpen       = "circuit_open"
	ReasonNoDeliveryChannel = "no_delivery_channel"
	ReasonRetriesExhausted  = "retries_exhausted"
)

// Result is the single, permanent answer for one decision id.
type Result struct {
	DecisionID uuid.UUID          `json:"decision_id"`
	Status     Status             `json:"status"`
	Reason     string             `json:"reason,omitempty"`
	Ack        *platform.OrderAck `json:"ack,omitempty"`
	Partial    bool               `json:"partial,omitempty"`
	At         time.Time          `json:"at"`
}

// PositionHinter receives the post-dispatch hint so detection is instant.
type PositionHinter interface {
	ExpectPosition(inst market.Instrument, side platform.Side, decisionID string, stopLoss, takeProfit float64, oracleIDs []string)
}

// RiskContextFunc assembles a fresh risk context at dispatch time.
type RiskContextFunc func(ctx context.Context, d *ensemble.Decision) (risk.Context, error)

// Config tunes the coordinator.
type Config struct {
	Venue      string
	Credential string
	MaxRetries int
	RetryBase  time.Duration
}

// DefaultConfig returns standard execution settings.
func DefaultConfig() Config {
	return Config{
		Venue:      "venue",
		Credential: "default",
		MaxRetries: 3,
		RetryBase:  500 * time.Millisecond,
	}
}

// Coordinator owns order dispatch. Per-instrument dispatch is serialized
// through a mutex; different instruments dispatch in parallel.
type Coordinator struct {
	port        platform.Port
	reg         *registry.Registry
	gate        *risk.Gatekeeper
	sizer       *risk.Sizer
	hinter      PositionHinter
	transports  []approval.Transport
	riskContext RiskContextFunc
	cfg         Config
	logger      zerolog.Logger

	mu      sync.Mutex
	results map[uuid.UUID]Result
	locks   map[string]*sync.Mutex // per instrument key

	countersMu  sync.Mutex
	dailyTrades int
}

// New creates a coordinator.
func New(port platform.Port, reg *registry.Registry, gate *risk.Gatekeeper, sizer *risk.Sizer,
	hinter PositionHinter, transports []approval.Transport, riskContext RiskContextFunc, cfg Config) *Coordinator {
	if cfg.Venue == "" {
		cfg.Venue = "venue"
	}
	if cfg.Credential == "" {
		cfg.Credential = "default"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultConfig().RetryBase
	}
	return &Coordinator{
		port:        port,
		reg:         reg,
		gate:        gate,
		sizer:       sizer,
		hinter:      hinter,
		transports:  transports,
		riskContext: riskContext,
		cfg:         cfg,
		logger:      log.With().Str("component", "execution_coordinator").Logger(),
		results:     make(map[uuid.UUID]Result),
		locks:       make(map[string]*sync.Mutex),
	}
}

// DailyTrades returns today's executed-trade count.
func (c *Coordinator) DailyTrades() int {
	c.countersMu.Lock()
	defer c.countersMu.Unlock()
	return c.dailyTrades
}

// ResetDailyCounters zeroes the per-day counters at UTC midnight.
func (c *Coordinator) ResetDailyCounters() {
	c.countersMu.Lock()
	defer c.countersMu.Unlock()
	c.dailyTrades = 0
}

// Execute runs one decision to its single Result. Calling again with the
// same decision id returns the recorded Result without side effects.
func (c *Coordinator) Execute(ctx context.Context, d *ensemble.Decision) Result {
	if r, ok := c.cached(d.ID); ok {
		c.logger.Debug().Str("decision_id", d.ID.String()).Msg("Replay returned cached result")
		return r
	}

	lock := c.instrumentLock(d.Instrument.Key())
	lock.Lock()
	defer lock.Unlock()

	// The first holder may have recorded a result while we waited.
	if r, ok := c.cached(d.ID); ok {
		return r
	}

	result := c.dispatch(ctx, d)
	c.record(result)

	c.logger.Info().
		Str("decision_id", d.ID.String()).
		Str("instrument", d.Instrument.Key()).
		Str("status", string(result.Status)).
		Str("reason", result.Reason).
		Msg("Execution complete")
	return result
}

func (c *Coordinator) dispatch(ctx context.Context, d *ensemble.Decision) Result {
	if d.SignalOnly || d.RecommendedSize == nil {
		return c.publishForApproval(ctx, d)
	}

	// Balances move between analysis and dispatch; re-size with current
	// equity and re-run the gatekeeper once if the sizing changed shape.
	sized := *d
	if c.riskContext != nil {
		rctx, err := c.riskContext(ctx, d)
		if err != nil {
			return Result{DecisionID: d.ID, Status: StatusFailed, Reason: err.Error(), At: time.Now().UTC()}
		}

		size := c.sizer.Compute(rctx.Equity, d.Entry, d.StopLoss)
		if size.SignalOnly {
			sized.RecommendedSize = nil
			sized.SignalOnly = true
		} else {
			sized.RecommendedSize = size.Units
			sized.StopLoss = size.StopLoss
		}

		if sizingChanged(d, &sized) {
			if err := c.gate.Check(&sized, rctx); err != nil {
				return Result{DecisionID: d.ID, Status: StatusRejected, Reason: err.Error(), At: time.Now().UTC()}
			}
		}
		if sized.SignalOnly {
			return c.publishForApproval(ctx, &sized)
		}
	}

	ack, err := c.openWithRetry(ctx, &sized)
	if err != nil {
		var open *registry.CircuitOpenError
		switch {
		case errors.As(err, &open):
			return Result{DecisionID: d.ID, Status: StatusFailed, Reason: ReasonCircuitOpen, At: time.Now().UTC()}
		case platform.IsPermanent(err):
			return Result{DecisionID: d.ID, Status: StatusRejected, Reason: err.Error(), At: time.Now().UTC()}
		default:
			return Result{DecisionID: d.ID, Status: StatusFailed, Reason: ReasonRetriesExhausted + ": " + err.Error(), At: time.Now().UTC()}
		}
	}

	if c.hinter != nil {
		c.hinter.ExpectPosition(sized.Instrument, sideOf(sized.Action), d.ID.String(),
			sized.StopLoss, sized.TakeProfit, providerIDs(&sized))
	}

	c.countersMu.Lock()
	c.dailyTrades++
	c.countersMu.Unlock()

	return Result{
		DecisionID: d.ID,
		Status:     StatusFilled,
		Ack:        &ack,
		Partial:    ack.Partial,
		At:         time.Now().UTC(),
	}
}

// publishForApproval delivers a signal-only decision. At least one
// transport must acknowledge; silence is a loud failure, never a drop.
func (c *Coordinator) publishForApproval(ctx context.Context, d *ensemble.Decision) Result {
	var lastErr error
	delivered := 0
	for _, t := range c.transports {
		if err := t.Publish(ctx, d); err != nil {
			c.logger.Error().Err(err).
				Str("transport", t.Name()).
				Str("decision_id", d.ID.String()).
				Msg("Approval publish failed")
			lastErr = err
			continue
		}
		delivered++
	}

	if delivered == 0 {
		derr := &approval.DeliveryError{DecisionID: d.ID.String(), Attempted: len(c.transports), LastErr: lastErr}
		c.logger.Error().Err(derr).Str("decision_id", d.ID.String()).Msg("No delivery channel acknowledged")
		return Result{DecisionID: d.ID, Status: StatusFailed, Reason: ReasonNoDeliveryChannel, At: time.Now().UTC()}
	}

	return Result{DecisionID: d.ID, Status: StatusAwaitingApproval, At: time.Now().UTC()}
}

// openWithRetry wraps the venue call in the breaker and retries transient
// failures with exponential backoff and full jitter. Permanent errors and
// open circuits abort immediately.
func (c *Coordinator) openWithRetry(ctx context.Context, d *ensemble.Decision) (platform.OrderAck, error) {
	triple := c.reg.Get(c.cfg.Venue, c.cfg.Credential)

	req := platform.OrderRequest{
		Instrument:    d.Instrument,
		Side:          sideOf(d.Action),
		Size:          *d.RecommendedSize,
		StopLoss:      d.StopLoss,
		TakeProfit:    d.TakeProfit,
		ClientOrderID: d.ID.String(),
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.RetryBase << (attempt - 1)
			sleep := time.Duration(rand.Int63n(int64(backoff) + 1)) // full jitter
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return platform.OrderAck{}, ctx.Err()
			}
		}

		if err := triple.Limiter.Wait(ctx); err != nil {
			return platform.OrderAck{}, err
		}
		result, err := triple.Breaker.Execute(ctx, func() (interface{}, error) {
			return c.port.Open(ctx, req)
		})
		if err == nil {
			return result.(platform.OrderAck), nil
		}

		var open *registry.CircuitOpenError
		if errors.As(err, &open) || platform.IsPermanent(err) {
			return platform.OrderAck{}, err
		}
		lastErr = err
		c.logger.Warn().Err(err).
			Str("decision_id", d.ID.String()).
			Int("attempt", attempt+1).
			Msg("Transient venue error")
	}
	return platform.OrderAck{}, fmt.Errorf("venue open: %w", lastErr)
}

func (c *Coordinator) cached(id uuid.UUID) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[id]
	return r, ok
}

func (c *Coordinator) record(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[r.DecisionID] = r
}

func (c *Coordinator) instrumentLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	c.locks[key] = l
	return l
}

// sizingChanged reports whether dispatch-time sizing differs materially
// from the analysed decision.
func sizingChanged(before, after *ensemble.Decision) bool {
	if before.SignalOnly != after.SignalOnly {
		return true
	}
	if (before.RecommendedSize == nil) != (after.RecommendedSize == nil) {
		return true
	}
	if before.RecommendedSize != nil && after.RecommendedSize != nil {
		return *before.RecommendedSize != *after.RecommendedSize
	}
	return false
}

func sideOf(action oracle.Action) platform.Side {
	if action == oracle.ActionSell {
		return platform.SideShort
	}
	return platform.SideLong
}

func providerIDs(d *ensemble.Decision) []string {
	return append([]string(nil), d.Meta.ProvidersUsed...)
}
