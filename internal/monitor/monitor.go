package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/helmsman-trade/helmsman/internal/market"
	"github.com/helmsman-trade/helmsman/internal/platform"
	"github.com/helmsman-trade/helmsman/internal/registry"
)

// Config tunes the monitor.
type Config struct {
	PollInterval  time.Duration // venue snapshot period
	TrackInterval time.Duration // quote poll period for full-fidelity trackers
	MaxTrackers   int           // K concurrent trackers; overflow queue holds 2K
	MaxAge        time.Duration // close positions older than this; 0 disables
	StatePath     string        // known-id set persistence
	Venue         string        // registry service name for venue polls
	Credential    string
	OutcomeBuffer int
}

// DefaultConfig returns the standard monitor settings.
func DefaultConfig() Config {
	return Config{
		PollInterval:  30 * time.Second,
		TrackInterval: 10 * time.Second,
		MaxTrackers:   2,
		Venue:         "venue",
		Credential:    "default",
		OutcomeBuffer: 64,
	}
}

// expectation is an executor hint about a position that should appear.
type expectation struct {
	decisionID string
	stopLoss   float64
	takeProfit float64
	oracleIDs  []string
}

// Monitor reconciles the venue's position snapshot against its own tracked
// set. It is the single writer of Position records; closures are emitted
// exactly once as TradeOutcomes on a bounded channel.
type Monitor struct {
	port   platform.Port
	data   market.DataProvider
	reg    *registry.Registry
	cfg    Config
	logger zerolog.Logger

	known *knownStore

	mu       sync.Mutex
	tracked  map[string]*Position
	expected map[string]expectation // instrument key + side
	explicit map[string]struct{}    // position ids closed via NotifyClose
	closed   map[string]struct{}    // outcome already emitted

	opens      chan Position
	outcomes   chan TradeOutcome
	trackQueue chan string

	startupComplete bool
}

// New creates a monitor. The known-id set is loaded from cfg.StatePath.
func New(port platform.Port, data market.DataProvider, reg *registry.Registry, cfg Config) (*Monitor, error) {
	if cfg.MaxTrackers <= 0 {
		cfg.MaxTrackers = DefaultConfig().MaxTrackers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.TrackInterval <= 0 {
		cfg.TrackInterval = DefaultConfig().TrackInterval
	}
	if cfg.OutcomeBuffer <= 0 {
		cfg.OutcomeBuffer = DefaultConfig().OutcomeBuffer
	}
	if cfg.Venue == "" {
		cfg.Venue = "venue"
	}
	if cfg.Credential == "" {
		cfg.Credential = "default"
	}

	known, err := newKnownStore(cfg.StatePath)
	if err != nil {
		return nil, err
	}

	return &Monitor{
		port:       port,
		data:       data,
		reg:        reg,
		cfg:        cfg,
		logger:     log.With().Str("component", "position_monitor").Logger(),
		known:      known,
		tracked:    make(map[string]*Position),
		expected:   make(map[string]expectation),
		explicit:   make(map[string]struct{}),
		closed:     make(map[string]struct{}),
		opens:      make(chan Position, 16),
		outcomes:   make(chan TradeOutcome, cfg.OutcomeBuffer),
		trackQueue: make(chan string, 2*cfg.MaxTrackers),
	}, nil
}

// Opens streams newly detected positions.
func (m *Monitor) Opens() <-chan Position {
	return m.opens
}

// Outcomes streams closed-position records. Delivery is at-least-once; the
// consumer deduplicates by position id.
func (m *Monitor) Outcomes() <-chan TradeOutcome {
	return m.outcomes
}

// StartupComplete reports whether recovery has finished.
func (m *Monitor) StartupComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startupComplete
}

// Tracked returns a copy of the currently tracked positions.
func (m *Monitor) Tracked() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, 0, len(m.tracked))
	for _, p := range m.tracked {
		out = append(out, *p)
	}
	return out
}

// ExpectPosition registers an executor hint so the next snapshot attributes
// the position to its decision instead of treating it as foreign.
func (m *Monitor) ExpectPosition(inst market.Instrument, side platform.Side, decisionID string, stopLoss, takeProfit float64, oracleIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expected[expectKey(inst, side)] = expectation{
		decisionID: decisionID,
		stopLoss:   stopLoss,
		takeProfit: takeProfit,
		oracleIDs:  oracleIDs,
	}
}

// NotifyClose records an explicit close so the disappearance is attributed
// to it. Explicit closes take precedence over every inferred exit reason.
func (m *Monitor) NotifyClose(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.explicit[positionID] = struct{}{}
}

func expectKey(inst market.Instrument, side platform.Side) string {
	return inst.Key() + "|" + string(side)
}

// Recover adopts the venue's open positions at startup. Positions without
// an expectation are attributed to the recovery marker. The portfolio fetch
// retries with exponential backoff.
func (m *Monitor) Recover(ctx context.Context, maxRetries int) ([]Position, error) {
	var breakdown platform.Breakdown
	var err error

	backoff := time.Second
	for attempt := 0; ; attempt++ {
		breakdown, err = m.fetchBreakdown(ctx)
		if err == nil {
			break
		}
		if attempt >= maxRetries {
			return nil, fmt.Errorf("portfolio recovery failed after %d attempts: %w", attempt+1, err)
		}
		m.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Recovery fetch failed, backing off")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}

	adopted := make([]Position, 0, len(breakdown.Positions))
	for _, vp := range breakdown.Positions {
		pos := m.adopt(vp)
		adopted = append(adopted, *pos)
	}

	m.mu.Lock()
	m.startupComplete = true
	m.mu.Unlock()

	m.logger.Info().Int("positions", len(adopted)).Msg("Position recovery complete")
	return adopted, nil
}

// adopt registers a venue position under its stable key.
func (m *Monitor) adopt(vp platform.VenuePosition) *Position {
	id := StableKey(vp.Instrument.Venue, vp.Instrument.Symbol, vp.Side, vp.EntryPrice)

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.tracked[id]; ok {
		return p
	}

	pos := &Position{
		ID:         id,
		VenueID:    vp.VenueID,
		DecisionID: RecoveryDecisionID,
		Instrument: vp.Instrument,
		Side:       vp.Side,
		EntryPrice: vp.EntryPrice,
		Size:       vp.Size,
		OpenedAt:   vp.OpenedAt,
		State:      StateOpen,
	}
	if exp, ok := m.expected[expectKey(vp.Instrument, vp.Side)]; ok {
		pos.DecisionID = exp.decisionID
		pos.StopLoss = exp.stopLoss
		pos.TakeProfit = exp.takeProfit
		pos.OracleIDs = exp.oracleIDs
		delete(m.expected, expectKey(vp.Instrument, vp.Side))
	}

	m.tracked[id] = pos
	if err := m.known.add(id); err != nil {
		m.logger.Error().Err(err).Str("position_id", id).Msg("Failed to persist known-id set")
	}
	return pos
}

// Run drives the poll loop and the tracker workers until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < m.cfg.MaxTrackers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.trackWorker(ctx)
		}()
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			if err := m.poll(ctx); err != nil {
				m.logger.Warn().Err(err).Msg("Poll failed")
			}
		}
	}
}

// Poll runs one reconciliation pass. Exported for deterministic tests; Run
// calls it on the configured interval.
func (m *Monitor) Poll(ctx context.Context) error {
	return m.poll(ctx)
}

func (m *Monitor) poll(ctx context.Context) error {
	snapshot, err := m.fetchPositions(ctx)
	if err != nil {
		return err
	}

	present := make(map[string]platform.VenuePosition, len(snapshot))
	for _, vp := range snapshot {
		id := StableKey(vp.Instrument.Venue, vp.Instrument.Symbol, vp.Side, vp.EntryPrice)
		present[id] = vp
	}

	// New positions: in the snapshot, never seen before.
	for id, vp := range present {
		if m.known.has(id) {
			m.refresh(id, vp)
			continue
		}
		pos := m.adopt(vp)
		m.logger.Info().
			Str("position_id", id).
			Str("instrument", vp.Instrument.Key()).
			Str("decision_id", pos.DecisionID).
			Msg("New position detected")

		select {
		case m.opens <- *pos:
		case <-ctx.Done():
			return ctx.Err()
		}
		// Back-pressure: block when all tracker slots and the overflow
		// queue are busy rather than dropping the position.
		select {
		case m.trackQueue <- id:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Disappeared positions: tracked here, gone from the venue.
	m.mu.Lock()
	var gone []*Position
	for id, pos := range m.tracked {
		if _, ok := present[id]; !ok && pos.State != StateClosed {
			gone = append(gone, pos)
		}
	}
	m.mu.Unlock()

	for _, pos := range gone {
		m.closePosition(ctx, pos, m.disappearReason(pos), pos.EntryPrice+lastMarkDelta(pos))
	}

	// Age out stale positions.
	if m.cfg.MaxAge > 0 {
		m.mu.Lock()
		var aged []*Position
		now := time.Now().UTC()
		for _, pos := range m.tracked {
			if pos.State == StateOpen && now.Sub(pos.OpenedAt) > m.cfg.MaxAge {
				aged = append(aged, pos)
			}
		}
		m.mu.Unlock()
		for _, pos := range aged {
			if err := m.port.Close(ctx, pos.VenueID); err != nil {
				m.logger.Warn().Err(err).Str("position_id", pos.ID).Msg("Timeout close failed")
				continue
			}
			m.closePosition(ctx, pos, ExitTimeout, pos.EntryPrice+lastMarkDelta(pos))
		}
	}

	return nil
}

// refresh updates mark data for a position present in the snapshot.
func (m *Monitor) refresh(id string, vp platform.VenuePosition) {
	m.mu.Lock()
	pos, tracked := m.tracked[id]
	if tracked {
		if vp.UnrealizedPnL > pos.PeakUnrealized {
			pos.PeakUnrealized = vp.UnrealizedPnL
		}
		if vp.UnrealizedPnL < pos.TroughUnrealized {
			pos.TroughUnrealized = vp.UnrealizedPnL
		}
	}
	m.mu.Unlock()

	if !tracked {
		// Known from a previous run but not yet tracked: re-adopt without
		// emitting an open.
		m.adopt(vp)
		select {
		case m.trackQueue <- id:
		default:
			// Queue full; the position keeps snapshot fidelity only.
		}
	}
}

// disappearReason resolves the exit reason for a vanished position by
// precedence: explicit close, then TP or SL cross, then manual.
func (m *Monitor) disappearReason(pos *Position) ExitReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.explicit[pos.ID]; ok {
		delete(m.explicit, pos.ID)
		return ExitManual
	}
	if pos.TakeProfit > 0 && crossedTP(pos, pos.EntryPrice+lastMarkDelta(pos)) {
		return ExitTakeProfit
	}
	if pos.StopLoss > 0 && crossedSL(pos, pos.EntryPrice+lastMarkDelta(pos)) {
		return ExitStopLoss
	}
	return ExitManual
}

// closePosition freezes the record and emits its outcome exactly once.
func (m *Monitor) closePosition(ctx context.Context, pos *Position, reason ExitReason, exitPrice float64) {
	m.mu.Lock()
	if _, done := m.closed[pos.ID]; done {
		m.mu.Unlock()
		return
	}
	m.closed[pos.ID] = struct{}{}
	pos.State = StateClosed
	delete(m.tracked, pos.ID)
	m.mu.Unlock()

	if err := m.known.remove(pos.ID); err != nil {
		m.logger.Error().Err(err).Str("position_id", pos.ID).Msg("Failed to persist known-id set")
	}

	pnl := signedPnL(pos, exitPrice)
	var pnlPct float64
	if notional := pos.EntryPrice * pos.Size; notional > 0 {
		pnlPct = pnl / notional
	}

	outcome := TradeOutcome{
		PositionID: pos.ID,
		DecisionID: pos.DecisionID,
		PnL:        pnl,
		PnLPct:     pnlPct,
		Duration:   time.Since(pos.OpenedAt),
		ExitReason: reason,
		OracleIDs:  pos.OracleIDs,
		ClosedAt:   time.Now().UTC(),
	}

	m.logger.Info().
		Str("position_id", pos.ID).
		Str("exit_reason", string(reason)).
		Float64("pnl", pnl).
		Msg("Position closed")

	select {
	case m.outcomes <- outcome:
	case <-ctx.Done():
	}
}

// trackWorker owns one position at a time: it polls quotes, maintains
// peak/trough, and closes on a confirmed stop or take-profit cross. Two
// consecutive crossing observations are required before acting.
func (m *Monitor) trackWorker(ctx context.Context) {
	for {
		var id string
		select {
		case <-ctx.Done():
			return
		case id = <-m.trackQueue:
		}
		m.trackOne(ctx, id)
	}
}

func (m *Monitor) trackOne(ctx context.Context, id string) {
	ticker := time.NewTicker(m.cfg.TrackInterval)
	defer ticker.Stop()

	var tpStreak, slStreak int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		pos, ok := m.tracked[id]
		m.mu.Unlock()
		if !ok {
			return // closed elsewhere
		}

		quote, err := m.data.Quote(ctx, pos.Instrument)
		if err != nil {
			m.logger.Debug().Err(err).Str("position_id", id).Msg("Tracker quote failed")
			continue
		}
		price := quote.Mid()

		m.mu.Lock()
		unrealized := signedPnL(pos, price)
		if unrealized > pos.PeakUnrealized {
			pos.PeakUnrealized = unrealized
		}
		if unrealized < pos.TroughUnrealized {
			pos.TroughUnrealized = unrealized
		}
		m.mu.Unlock()

		if pos.TakeProfit > 0 && crossedTP(pos, price) {
			tpStreak++
		} else {
			tpStreak = 0
		}
		if pos.StopLoss > 0 && crossedSL(pos, price) {
			slStreak++
		} else {
			slStreak = 0
		}

		// TP checked before SL so a gap through both levels books as a win.
		if tpStreak >= 2 {
			m.closeAtVenue(ctx, pos, ExitTakeProfit, price)
			return
		}
		if slStreak >= 2 {
			m.closeAtVenue(ctx, pos, ExitStopLoss, price)
			return
		}
	}
}

func (m *Monitor) closeAtVenue(ctx context.Context, pos *Position, reason ExitReason, price float64) {
	if err := m.port.Close(ctx, pos.VenueID); err != nil {
		m.logger.Warn().Err(err).Str("position_id", pos.ID).Msg("Venue close failed")
		return
	}
	m.closePosition(ctx, pos, reason, price)
}

func (m *Monitor) fetchPositions(ctx context.Context) ([]platform.VenuePosition, error) {
	triple := m.reg.Get(m.cfg.Venue, m.cfg.Credential)
	if err := triple.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	result, err := triple.Breaker.Execute(ctx, func() (interface{}, error) {
		return m.port.Positions(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]platform.VenuePosition), nil
}

func (m *Monitor) fetchBreakdown(ctx context.Context) (platform.Breakdown, error) {
	triple := m.reg.Get(m.cfg.Venue, m.cfg.Credential)
	if err := triple.Limiter.Wait(ctx); err != nil {
		return platform.Breakdown{}, err
	}
	result, err := triple.Breaker.Execute(ctx, func() (interface{}, error) {
		return m.port.PortfolioBreakdown(ctx)
	})
	if err != nil {
		return platform.Breakdown{}, err
	}
	return result.(platform.Breakdown), nil
}

func crossedTP(pos *Position, price float64) bool {
	if pos.Side == platform.SideLong {
		return price >= pos.TakeProfit
	}
	return price <= pos.TakeProfit
}

func crossedSL(pos *Position, price float64) bool {
	if pos.Side == platform.SideLong {
		return price <= pos.StopLoss
	}
	return price >= pos.StopLoss
}

func signedPnL(pos *Position, exitPrice float64) float64 {
	if pos.Side == platform.SideLong {
		return (exitPrice - pos.EntryPrice) * pos.Size
	}
	return (pos.EntryPrice - exitPrice) * pos.Size
}

// lastMarkDelta converts the recorded peak/trough into a best-effort exit
// mark when the venue no longer reports the position.
func lastMarkDelta(pos *Position) float64 {
	if pos.Size <= 0 {
		return 0
	}
	// Prefer the most recent extreme as the closest known mark.
	delta := pos.PeakUnrealized
	if -pos.TroughUnrealized > pos.PeakUnrealized {
		delta = pos.TroughUnrealized
	}
	perUnit := delta / pos.Size
	if pos.Side == platform.SideShort {
		perUnit = -perUnit
	}
	return perUnit
}
