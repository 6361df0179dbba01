// Package agent runs the observe-decide-act loop: it drains learning
// signals, perceives the portfolio, fans analysis out per instrument,
// gates the results through risk, and hands approved decisions to the
// executor. The loop is a strict state machine; execution is never entered
// twice without learning and perception in between.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/helmsman-trade/helmsman/internal/ensemble"
	"github.com/helmsman-trade/helmsman/internal/events"
	"github.com/helmsman-trade/helmsman/internal/executor"
	"github.com/helmsman-trade/helmsman/internal/market"
	"github.com/helmsman-trade/helmsman/internal/memory"
	"github.com/helmsman-trade/helmsman/internal/metrics"
	"github.com/helmsman-trade/helmsman/internal/monitor"
	"github.com/helmsman-trade/helmsman/internal/oracle"
	"github.com/helmsman-trade/helmsman/internal/platform"
	"github.com/helmsman-trade/helmsman/internal/registry"
	"github.com/helmsman-trade/helmsman/internal/risk"
)

// ErrHalted signals an orderly stop: the kill switch tripped or an
// emergency stop was requested. Callers treat it as a clean exit.
var ErrHalted = errors.New("agent halted")

// Config tunes the loop.
type Config struct {
	Instruments         []market.Instrument
	CycleInterval       time.Duration
	LearningBatch       int
	MaxConcurrentAssets int
	AnalysisDeadline    time.Duration
	Timeframe           string
	CandleCount         int
	Cooldown            time.Duration
	RecoveryMaxAttempts int
	RecoveryBackoff     time.Duration
	Ensemble            ensemble.Config
	Correlations        map[string]map[string]float64
	FaultBase           time.Duration
	FaultMax            time.Duration
	FaultDecay          time.Duration
}

// DefaultConfig returns the standard loop settings for the given universe.
func DefaultConfig(instruments []market.Instrument) Config {
	return Config{
		Instruments:         instruments,
		CycleInterval:       time.Minute,
		LearningBatch:       32,
		MaxConcurrentAssets: 4,
		AnalysisDeadline:    90 * time.Second,
		Timeframe:           "1h",
		CandleCount:         100,
		Cooldown:            5 * time.Minute,
		RecoveryMaxAttempts: 5,
		RecoveryBackoff:     5 * time.Second,
		Ensemble:            ensemble.DefaultConfig(nil),
	}
}

// Deps are the collaborators the agent drives.
type Deps struct {
	Data     market.DataProvider
	Gate     *market.Gate
	Pool     *oracle.Pool
	Memory   *memory.Engine
	RiskGate *risk.Gatekeeper
	Sizer    *risk.Sizer
	Executor *executor.Coordinator
	Monitor  *monitor.Monitor
	Port     platform.Port
	Bus      *events.Bus
}

// Agent is the trading loop.
type Agent struct {
	cfg    Config
	deps   Deps
	faults *FaultTracker
	logger zerolog.Logger

	mu               sync.Mutex
	state            State
	paused           bool
	cycle            uint64
	traceID          string
	lastCycleAt      time.Time
	killSwitch       bool
	equity           float64
	peakEquity       float64
	dayPnL           float64
	lastDailyReset   time.Time
	cooldowns        map[string]time.Time
	recoveryAttempts int
	resumePerception bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the agent.
func New(deps Deps, cfg Config) *Agent {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = time.Minute
	}
	if cfg.LearningBatch <= 0 {
		cfg.LearningBatch = 32
	}
	if cfg.MaxConcurrentAssets <= 0 {
		cfg.MaxConcurrentAssets = 4
	}
	if cfg.AnalysisDeadline <= 0 {
		cfg.AnalysisDeadline = 90 * time.Second
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1h"
	}
	if cfg.CandleCount <= 0 {
		cfg.CandleCount = 100
	}
	if cfg.RecoveryMaxAttempts <= 0 {
		cfg.RecoveryMaxAttempts = 5
	}
	if cfg.RecoveryBackoff <= 0 {
		cfg.RecoveryBackoff = 5 * time.Second
	}
	return &Agent{
		cfg:       cfg,
		deps:      deps,
		faults:    NewFaultTracker(cfg.FaultBase, cfg.FaultMax, cfg.FaultDecay),
		logger:    log.With().Str("component", "agent").Logger(),
		state:     StateStartup,
		cooldowns: make(map[string]time.Time),
	}
}

// Start launches the loop in the background. It errors when already running.
func (a *Agent) Start() error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.cancel != nil {
		return errors.New("agent already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	done := make(chan struct{})
	a.done = done

	go func() {
		defer close(done)
		err := a.Run(ctx)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case errors.Is(err, ErrHalted):
			a.logger.Info().Msg("Agent loop halted")
		default:
			a.logger.Error().Err(err).Msg("Agent loop exited with error")
		}
	}()
	return nil
}

// Stop cancels the loop and waits for it to drain.
func (a *Agent) Stop() error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.cancel == nil {
		return errors.New("agent not running")
	}
	a.cancel()
	<-a.done
	a.cancel = nil
	a.done = nil
	return nil
}

// Pause suspends new cycles. In-flight cycles finish.
func (a *Agent) Pause() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.paused {
		return errors.New("agent already paused")
	}
	a.paused = true
	a.logger.Info().Msg("Agent paused")
	return nil
}

// Resume lifts a pause.
func (a *Agent) Resume() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.paused {
		return errors.New("agent not paused")
	}
	a.paused = false
	a.logger.Info().Msg("Agent resumed")
	return nil
}

// EmergencyStop trips the kill switch and halts the loop.
func (a *Agent) EmergencyStop() error {
	a.mu.Lock()
	a.killSwitch = true
	a.mu.Unlock()
	metrics.KillSwitchActive.Set(1)
	a.setState(StateHalt)
	a.logger.Warn().Msg("Emergency stop triggered")

	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.cancel != nil {
		a.cancel()
		<-a.done
		a.cancel = nil
		a.done = nil
	}
	return nil
}

// Status returns the coalesced external view.
func (a *Agent) Status() interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()

	open := 0
	if a.deps.Monitor != nil {
		open = len(a.deps.Monitor.Tracked())
	}
	drawdown := 0.0
	if a.peakEquity > 0 {
		drawdown = (a.peakEquity - a.equity) / a.peakEquity
	}
	daily := 0
	if a.deps.Executor != nil {
		daily = a.deps.Executor.DailyTrades()
	}
	return Status{
		State:              a.state,
		Paused:             a.paused,
		Cycle:              a.cycle,
		TraceID:            a.traceID,
		LastCycleAt:        a.lastCycleAt,
		OpenPositionsCount: open,
		KillSwitch:         a.killSwitch,
		FaultedAssets:      a.faults.FaultedKeys(time.Now().UTC()),
		DailyTrades:        daily,
		Equity:             a.equity,
		Drawdown:           drawdown,
	}
}

// State returns the current loop state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Run drives the loop until ctx is cancelled or the agent halts. The
// position monitor runs alongside so opens and outcomes flow while the
// loop thinks.
func (a *Agent) Run(ctx context.Context) error {
	a.setState(StateStartup)

	a.setState(StatePositionRecovery)
	recovered, err := a.deps.Monitor.Recover(ctx, 3)
	if err != nil {
		a.setState(StateHalt)
		return fmt.Errorf("position recovery: %w", err)
	}
	for _, p := range recovered {
		a.deps.Memory.RegisterOpen(p)
	}
	a.logger.Info().Int("recovered", len(recovered)).Msg("Position recovery complete")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.deps.Monitor.Run(gctx) })
	g.Go(func() error { return a.loop(gctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *Agent) loop(ctx context.Context) error {
	a.setState(StateIdle)
	ticker := time.NewTicker(a.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		a.mu.Lock()
		paused := a.paused
		halted := a.killSwitch || a.state == StateHalt
		a.mu.Unlock()
		if halted {
			return ErrHalted
		}
		if paused {
			continue
		}

		if err := a.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !a.recoverFrom(ctx, err) {
				return err
			}
		}
	}
}

// recoverFrom backs off after a transient cycle failure. The next cycle
// resumes at perception. Returns false once the attempt budget is spent.
func (a *Agent) recoverFrom(ctx context.Context, cause error) bool {
	a.setState(StateRecovering)
	metrics.RecoveryAttempts.Inc()

	a.mu.Lock()
	a.recoveryAttempts++
	attempt := a.recoveryAttempts
	a.resumePerception = true
	a.mu.Unlock()

	if attempt > a.cfg.RecoveryMaxAttempts {
		a.logger.Error().Err(cause).Int("attempts", attempt).Msg("Recovery budget exhausted, halting")
		a.setState(StateHalt)
		return false
	}

	backoff := a.cfg.RecoveryBackoff << uint(attempt-1)
	a.logger.Warn().Err(cause).Int("attempt", attempt).Dur("backoff", backoff).Msg("Transient failure, backing off")
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
	}
	return true
}

// RunCycle executes one full pass of the loop. Exported so tests can drive
// cycles synchronously without the ticker.
func (a *Agent) RunCycle(ctx context.Context) error {
	start := time.Now()

	a.mu.Lock()
	a.cycle++
	a.traceID = uuid.NewString()
	cycleN := a.cycle
	traceID := a.traceID
	skipLearning := a.resumePerception
	a.resumePerception = false
	a.mu.Unlock()

	logger := a.logger.With().Uint64("cycle", cycleN).Str("trace_id", traceID).Logger()

	if !skipLearning {
		a.setState(StateLearning)
		a.learn(ctx, logger)
	}

	a.setState(StatePerception)
	view, err := a.perceive(ctx, logger)
	if err != nil {
		return fmt.Errorf("perception: %w", err)
	}
	if view.killSwitch {
		a.haltOnKillSwitch(logger, view)
		return nil
	}

	a.setState(StateReasoning)
	results := a.reason(ctx, logger, view)

	a.setState(StateRiskCheck)
	approved := a.riskCheck(logger, view, results)

	a.setState(StateExecution)
	a.execute(ctx, logger, approved)

	a.mu.Lock()
	a.lastCycleAt = time.Now().UTC()
	a.recoveryAttempts = 0
	a.mu.Unlock()

	a.setState(StateIdle)
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	metrics.CyclesTotal.Inc()
	return nil
}

// learn drains position opens and trade outcomes into memory. At most
// LearningBatch outcomes per cycle so one backlog cannot starve trading.
func (a *Agent) learn(ctx context.Context, logger zerolog.Logger) {
	drained := 0
	for drained < a.cfg.LearningBatch {
		select {
		case p := <-a.deps.Monitor.Opens():
			a.deps.Memory.RegisterOpen(p)
			a.publish(events.SubjectPositions, "position_open", p)
		case o := <-a.deps.Monitor.Outcomes():
			if err := a.deps.Memory.RecordOutcome(o); err != nil {
				logger.Error().Err(err).Str("position_id", o.PositionID).Msg("Outcome record failed")
				continue
			}
			metrics.OutcomesTotal.WithLabelValues(string(o.ExitReason)).Inc()
			a.publish(events.SubjectOutcomes, "trade_outcome", o)
			drained++
		case <-ctx.Done():
			return
		default:
			return
		}
	}
}

// portfolioView is the perception snapshot one cycle runs against.
type portfolioView struct {
	equity     float64
	dayPnL     float64
	drawdown   float64
	killSwitch bool
	now        time.Time
}

func (a *Agent) perceive(ctx context.Context, logger zerolog.Logger) (portfolioView, error) {
	bd, err := a.deps.Port.PortfolioBreakdown(ctx)
	if err != nil {
		return portfolioView{}, fmt.Errorf("portfolio breakdown: %w", err)
	}
	now := time.Now().UTC()

	a.mu.Lock()
	a.equity = bd.Balance.Equity
	a.dayPnL = bd.DayPnL
	if bd.Balance.Equity > a.peakEquity {
		a.peakEquity = bd.Balance.Equity
	}
	peak := a.peakEquity
	if !sameUTCDay(a.lastDailyReset, now) {
		a.lastDailyReset = now
		a.deps.Executor.ResetDailyCounters()
		logger.Info().Msg("Daily counters reset")
	}
	a.mu.Unlock()

	drawdown := 0.0
	if peak > 0 {
		drawdown = (peak - bd.Balance.Equity) / peak
	}

	view := portfolioView{
		equity:   bd.Balance.Equity,
		dayPnL:   bd.DayPnL,
		drawdown: drawdown,
		now:      now,
	}

	limits := a.deps.RiskGate.Limits()
	if bd.Balance.Equity > 0 && bd.DayPnL <= -limits.KillSwitchPct*bd.Balance.Equity {
		view.killSwitch = true
	}

	metrics.PortfolioEquity.Set(bd.Balance.Equity)
	metrics.CurrentDrawdown.Set(drawdown)
	metrics.OpenPositions.Set(float64(len(a.deps.Monitor.Tracked())))
	metrics.DailyTrades.Set(float64(a.deps.Executor.DailyTrades()))
	metrics.FaultedAssets.Set(float64(len(a.faults.FaultedKeys(now))))
	return view, nil
}

func (a *Agent) haltOnKillSwitch(logger zerolog.Logger, view portfolioView) {
	a.mu.Lock()
	a.killSwitch = true
	a.mu.Unlock()
	metrics.KillSwitchActive.Set(1)
	a.setState(StateHalt)
	logger.Error().
		Float64("day_pnl", view.dayPnL).
		Float64("equity", view.equity).
		Msg("Kill switch tripped, trading halted")
}

// assetResult carries one instrument's reasoning output into risk check.
type assetResult struct {
	inst      market.Instrument
	quote     market.Quote
	freshness market.Freshness
	returns   []float64
	outcome   ensemble.Outcome
}

// reason analyses every tradable instrument in parallel under a shared
// deadline. A faulted or cooling-down instrument is skipped; a data
// failure quarantines the instrument instead of failing the cycle.
func (a *Agent) reason(ctx context.Context, logger zerolog.Logger, view portfolioView) []assetResult {
	rctx, cancel := context.WithTimeout(ctx, a.cfg.AnalysisDeadline)
	defer cancel()

	var (
		mu      sync.Mutex
		results []assetResult
	)

	g, gctx := errgroup.WithContext(rctx)
	g.SetLimit(a.cfg.MaxConcurrentAssets)

	for _, inst := range a.cfg.Instruments {
		inst := inst
		if a.faults.Faulted(inst.Key(), view.now) {
			logger.Debug().Str("instrument", inst.Key()).Msg("Instrument faulted, skipping")
			continue
		}
		if a.coolingDown(inst, view.now) {
			logger.Debug().Str("instrument", inst.Key()).Msg("Instrument cooling down, skipping")
			continue
		}

		g.Go(func() error {
			res, err := a.analyseOne(gctx, inst, view)
			if err != nil {
				a.faults.RecordFailure(inst.Key(), time.Now().UTC())
				logger.Warn().Err(err).Str("instrument", inst.Key()).Msg("Analysis failed, instrument quarantined")
				return nil
			}
			a.faults.RecordSuccess(inst.Key())
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	for _, r := range results {
		if !r.outcome.Actionable() {
			logger.Info().
				Str("instrument", r.inst.Key()).
				Str("reason", r.outcome.Reason).
				Msg("No decision")
			continue
		}
		d := r.outcome.Decision
		metrics.DecisionsTotal.WithLabelValues(string(d.Action)).Inc()
		metrics.DecisionConfidence.Observe(float64(d.Confidence))
		metrics.EnsembleFallbacks.WithLabelValues(string(d.Meta.FallbackTier)).Inc()
		for id, reason := range d.Meta.ProvidersFailed {
			metrics.OracleFailures.WithLabelValues(id, string(reason)).Inc()
		}
		if err := a.deps.Memory.RecordDecision(d); err != nil {
			logger.Error().Err(err).Str("decision_id", d.ID.String()).Msg("Decision record failed")
		}
		a.publish(events.SubjectDecisions, "decision", d)
	}
	return results
}

func (a *Agent) analyseOne(ctx context.Context, inst market.Instrument, view portfolioView) (assetResult, error) {
	quote, err := a.deps.Data.Quote(ctx, inst)
	if err != nil {
		if isCircuitOpen(err) {
			return assetResult{inst: inst, outcome: ensemble.NoDecision(ensemble.ReasonCircuitOpen)}, nil
		}
		return assetResult{}, fmt.Errorf("quote %s: %w", inst.Key(), err)
	}
	if quote.Session == "" {
		quote.Session = market.SessionFor(inst.Class, view.now)
	}

	fresh := a.deps.Gate.Check(quote, view.now)
	if !fresh.Fresh {
		return assetResult{
			inst:      inst,
			quote:     quote,
			freshness: fresh,
			outcome:   ensemble.NoDecision(ensemble.ReasonStaleQuote),
		}, nil
	}

	candles, err := a.deps.Data.Candles(ctx, inst, a.cfg.Timeframe, a.cfg.CandleCount)
	if err != nil {
		if isCircuitOpen(err) {
			return assetResult{inst: inst, outcome: ensemble.NoDecision(ensemble.ReasonCircuitOpen)}, nil
		}
		return assetResult{}, fmt.Errorf("candles %s: %w", inst.Key(), err)
	}

	memCtx := a.deps.Memory.ContextFor(inst, view.now, a.deps.Pool.ProviderIDs())
	res := a.deps.Pool.FanOut(ctx, oracle.Prompt{
		Instrument: inst,
		Quote:      quote,
		Candles:    candles,
		Memory:     memorySummary(memCtx),
	})

	// Learned weights supersede the configured base only once the memory
	// store has recorded outcomes; until then provider_weights stand.
	aggCfg := a.cfg.Ensemble
	if w := memCtx.OracleWeights; len(w) > 0 {
		aggCfg.BaseWeights = w
	}
	outcome := ensemble.New(aggCfg).Aggregate(inst, quote, res)

	return assetResult{
		inst:      inst,
		quote:     quote,
		freshness: fresh,
		returns:   closeReturns(candles),
		outcome:   outcome,
	}, nil
}

// isCircuitOpen reports whether the error is a fail-fast rejection from
// the shared market-data breaker. An open circuit is not an asset fault:
// the breaker times its own recovery, so the instrument is skipped this
// cycle without quarantine.
func isCircuitOpen(err error) bool {
	var open *registry.CircuitOpenError
	return errors.As(err, &open)
}

// riskCheck sizes each actionable decision against current equity and runs
// the gatekeeper. Rejections are counted and dropped, never coerced.
func (a *Agent) riskCheck(logger zerolog.Logger, view portfolioView, results []assetResult) []*ensemble.Decision {
	var approved []*ensemble.Decision
	for _, r := range results {
		if !r.outcome.Actionable() {
			continue
		}
		d := r.outcome.Decision
		if d.Action == oracle.ActionHold {
			continue
		}

		size := a.deps.Sizer.Compute(view.equity, d.Entry, d.StopLoss)
		if size.SignalOnly {
			d.SignalOnly = true
			d.RecommendedSize = nil
		} else {
			d.RecommendedSize = size.Units
			d.StopLoss = size.StopLoss
		}

		rctx := a.riskContextFor(view, r.freshness, r.quote.Session, r.returns)
		if err := a.deps.RiskGate.Check(d, rctx); err != nil {
			metrics.GateRejections.WithLabelValues(metrics.NormalizeGateReason(err.Error())).Inc()
			logger.Info().
				Str("decision_id", d.ID.String()).
				Str("instrument", d.Instrument.Key()).
				Err(err).
				Msg("Decision rejected by risk gate")
			continue
		}
		approved = append(approved, d)
	}
	return approved
}

func (a *Agent) execute(ctx context.Context, logger zerolog.Logger, approved []*ensemble.Decision) {
	for _, d := range approved {
		res := a.deps.Executor.Execute(ctx, d)
		metrics.ExecutionsTotal.WithLabelValues(string(res.Status)).Inc()
		a.publish(events.SubjectDecisions, "execution_result", res)

		if res.Status == executor.StatusFilled {
			a.mu.Lock()
			a.cooldowns[d.Instrument.Key()] = time.Now().UTC().Add(a.cfg.Cooldown)
			a.mu.Unlock()
			metrics.DailyTrades.Set(float64(a.deps.Executor.DailyTrades()))
		}
		logger.Info().
			Str("decision_id", d.ID.String()).
			Str("status", string(res.Status)).
			Msg("Execution dispatched")
	}
}

// RiskContext assembles a fresh risk context at dispatch time for the
// executor's pre-dispatch re-check.
func (a *Agent) RiskContext(ctx context.Context, d *ensemble.Decision) (risk.Context, error) {
	bd, err := a.deps.Port.PortfolioBreakdown(ctx)
	if err != nil {
		return risk.Context{}, fmt.Errorf("portfolio breakdown: %w", err)
	}
	now := time.Now().UTC()

	quote, err := a.deps.Data.Quote(ctx, d.Instrument)
	if err != nil {
		return risk.Context{}, fmt.Errorf("quote %s: %w", d.Instrument.Key(), err)
	}
	if quote.Session == "" {
		quote.Session = market.SessionFor(d.Instrument.Class, now)
	}

	a.mu.Lock()
	peak := a.peakEquity
	a.mu.Unlock()
	drawdown := 0.0
	if peak > 0 {
		drawdown = (peak - bd.Balance.Equity) / peak
	}

	return risk.Context{
		Equity:       bd.Balance.Equity,
		DayPnL:       bd.DayPnL,
		Drawdown:     drawdown,
		DailyTrades:  a.deps.Executor.DailyTrades(),
		Holdings:     a.holdings(),
		Correlations: a.cfg.Correlations,
		Freshness:    a.deps.Gate.Check(quote, now),
		Session:      quote.Session,
		Now:          now,
	}, nil
}

func (a *Agent) riskContextFor(view portfolioView, fresh market.Freshness, session market.SessionState, returns []float64) risk.Context {
	return risk.Context{
		Equity:       view.equity,
		DayPnL:       view.dayPnL,
		Drawdown:     view.drawdown,
		DailyTrades:  a.deps.Executor.DailyTrades(),
		Holdings:     a.holdings(),
		Correlations: a.cfg.Correlations,
		Returns:      returns,
		Freshness:    fresh,
		Session:      session,
		Now:          view.now,
	}
}

func (a *Agent) holdings() []risk.Holding {
	tracked := a.deps.Monitor.Tracked()
	out := make([]risk.Holding, 0, len(tracked))
	for _, p := range tracked {
		out = append(out, risk.Holding{
			Instrument: p.Instrument,
			Side:       string(p.Side),
			Exposure:   p.EntryPrice * p.Size,
		})
	}
	return out
}

func (a *Agent) coolingDown(inst market.Instrument, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	until, ok := a.cooldowns[inst.Key()]
	return ok && now.Before(until)
}

// setState transitions the machine. Halt is terminal: only a restart
// through startup leaves it.
func (a *Agent) setState(s State) {
	a.mu.Lock()
	if a.state == StateHalt && s != StateStartup {
		a.mu.Unlock()
		return
	}
	changed := a.state != s
	a.state = s
	a.mu.Unlock()
	if !changed {
		return
	}
	metrics.SetAgentState(string(s), allStateNames())
	a.publish(events.SubjectAgentState, "state_change", map[string]string{"state": string(s)})
}

func (a *Agent) publish(subject, kind string, payload interface{}) {
	if a.deps.Bus == nil {
		return
	}
	if err := a.deps.Bus.Publish(subject, kind, payload); err != nil {
		a.logger.Debug().Err(err).Str("subject", subject).Msg("Event publish failed")
	}
}

// memorySummary renders the memory context into the prompt's memory slot.
func memorySummary(c memory.Context) string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(data)
}

// closeReturns computes simple close-to-close returns for VaR.
func closeReturns(candles []market.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev == 0 {
			continue
		}
		out = append(out, (candles[i].Close-prev)/prev)
	}
	return out
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
