// Package memory persists trade outcomes, per-oracle performance stats,
// and a similarity index of past contexts. All writes are atomic and
// multi-file updates are guarded by a commit lock, so a crash never leaves
// the store half-updated. Reads run lock-free against an immutable
// snapshot swapped in after each write.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/helmsman-trade/helmsman/internal/ensemble"
	"github.com/helmsman-trade/helmsman/internal/market"
	"github.com/helmsman-trade/helmsman/internal/monitor"
)

// Config locates and tunes the store.
type Config struct {
	Root string
	// Isolation redirects all writes to a root derived from the config
	// fingerprint, keeping simulation runs out of the live store.
	Isolation   bool
	Fingerprint uint64
	Alpha       float64 // EMA smoothing for win rates
	ClampFloor  float64 // minimum weight an oracle can decay to
	TopK        int     // similar contexts returned per lookup
}

// DefaultConfig returns the standard memory settings rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Root:       dir,
		Alpha:      0.1,
		ClampFloor: 0.05,
		TopK:       5,
	}
}

// Context is what REASONING reads before querying oracles.
type Context struct {
	SimilarPast   []Similar          `json:"similar_past"`
	OracleWeights map[string]float64 `json:"oracle_weights"`
	RegimeTag     string             `json:"regime_tag"`
}

// snapshot is the immutable read view.
type snapshot struct {
	stats   map[string]OracleStats
	index   []indexEntry
	regime  string
	openPos map[string]monitor.Position
}

// outcomeRecord is the on-disk outcome file; the instrument is carried so
// the index can be rebuilt from the log alone.
type outcomeRecord struct {
	Outcome    monitor.TradeOutcome `json:"outcome"`
	Instrument market.Instrument    `json:"instrument"`
}

// Engine is the single writer of the memory store.
type Engine struct {
	cfg    Config
	root   string
	lock   commitLock
	logger zerolog.Logger

	mu   sync.Mutex // serialises writes
	snap atomic.Pointer[snapshot]
}

// NewEngine opens or creates the store. A stale commit lock from a crashed
// run triggers a rebuild of stats and index from the outcome log.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = 0.1
	}
	if cfg.ClampFloor <= 0 {
		cfg.ClampFloor = 0.05
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}

	root := cfg.Root
	if cfg.Isolation {
		root = filepath.Join(cfg.Root, fmt.Sprintf("sim-%016x", cfg.Fingerprint))
	}
	for _, sub := range []string{"outcomes", "decisions"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create store root: %w", err)
		}
	}

	e := &Engine{
		cfg:    cfg,
		root:   root,
		lock:   commitLock{path: filepath.Join(root, "commit.lock")},
		logger: log.With().Str("component", "memory_engine").Str("root", root).Logger(),
	}

	if e.lock.stale() {
		e.logger.Warn().Msg("Stale commit lock found, rebuilding derived state from outcome log")
		if err := e.rebuild(); err != nil {
			return nil, err
		}
		if err := e.lock.release(); err != nil {
			return nil, err
		}
	}

	stats, err := loadStats(e.statsPath())
	if err != nil {
		return nil, err
	}
	index, err := e.loadIndex()
	if err != nil {
		return nil, err
	}

	e.snap.Store(&snapshot{
		stats:   stats,
		index:   index,
		regime:  regimeOf(index),
		openPos: make(map[string]monitor.Position),
	})
	return e, nil
}

// Root returns the effective storage root.
func (e *Engine) Root() string {
	return e.root
}

func (e *Engine) statsPath() string {
	return filepath.Join(e.root, "stats.json")
}

func (e *Engine) indexPath() string {
	return filepath.Join(e.root, "index.json")
}

func (e *Engine) outcomePath(positionID string) string {
	return filepath.Join(e.root, "outcomes", positionID+".json")
}

// RecordDecision persists one decision record keyed by its id.
func (e *Engine) RecordDecision(d *ensemble.Decision) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(e.root, "decisions", d.ID.String()+".json"), data)
}

// RegisterOpen records a live position in the read snapshot.
func (e *Engine) RegisterOpen(p monitor.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.cloneSnapshot()
	next.openPos[p.ID] = p
	e.snap.Store(next)
}

// OpenPositions returns the registered live positions.
func (e *Engine) OpenPositions() []monitor.Position {
	snap := e.snap.Load()
	out := make([]monitor.Position, 0, len(snap.openPos))
	for _, p := range snap.openPos {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RecordOutcome appends one closed-trade record and updates the derived
// stats and index under a commit lock. Delivery is at-least-once upstream;
// duplicates by position id are dropped here.
func (e *Engine) RecordOutcome(o monitor.TradeOutcome) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := os.Stat(e.outcomePath(o.PositionID)); err == nil {
		e.logger.Debug().Str("position_id", o.PositionID).Msg("Duplicate outcome dropped")
		return nil
	}

	snap := e.snap.Load()
	inst := snap.openPos[o.PositionID].Instrument

	rec := outcomeRecord{Outcome: o, Instrument: inst}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	// The outcome file lands first; stats and index follow under the
	// commit lock so a crash between them is recoverable from the log.
	if err := writeFileAtomic(e.outcomePath(o.PositionID), data); err != nil {
		return err
	}

	next := e.cloneSnapshot()
	delete(next.openPos, o.PositionID)
	applyOutcome(next.stats, o, e.cfg.Alpha)
	next.index = append(next.index, indexEntry{
		PositionID: o.PositionID,
		DecisionID: o.DecisionID,
		Instrument: inst.Key(),
		RegimeTag:  o.RegimeTag,
		PnLPct:     o.PnLPct,
		ExitReason: string(o.ExitReason),
		Vector:     embedOutcome(o, inst),
		ClosedAt:   o.ClosedAt,
	})
	next.regime = regimeOf(next.index)

	if err := e.commitDerived(next); err != nil {
		return err
	}

	e.snap.Store(next)
	e.logger.Info().
		Str("position_id", o.PositionID).
		Str("exit_reason", string(o.ExitReason)).
		Float64("pnl", o.PnL).
		Msg("Outcome recorded")
	return nil
}

func (e *Engine) commitDerived(next *snapshot) error {
	if err := e.lock.acquire(); err != nil {
		return err
	}
	defer e.lock.release()

	statsData, err := encodeStats(next.stats)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(e.statsPath(), statsData); err != nil {
		return err
	}

	indexData, err := json.MarshalIndent(next.index, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(e.indexPath(), indexData)
}

// Stats returns a copy of the per-oracle stats.
func (e *Engine) Stats() map[string]OracleStats {
	snap := e.snap.Load()
	out := make(map[string]OracleStats, len(snap.stats))
	for k, v := range snap.stats {
		out[k] = v
	}
	return out
}

// Weights derives ensemble weights from EMA win rates over the given
// oracle set, clamped at the floor so one losing streak cannot fully
// deprecate a provider. Oracles without history get the neutral 0.5. A
// cold store abstains and returns nil, leaving the caller's configured
// base weighting in force.
func (e *Engine) Weights(oracleIDs []string) map[string]float64 {
	if len(oracleIDs) == 0 {
		return nil
	}
	snap := e.snap.Load()

	learned := false
	for _, id := range oracleIDs {
		if s, ok := snap.stats[id]; ok && s.Total > 0 {
			learned = true
			break
		}
	}
	if !learned {
		return nil
	}

	raw := make(map[string]float64, len(oracleIDs))
	var sum float64
	for _, id := range oracleIDs {
		ema := 0.5
		if s, ok := snap.stats[id]; ok && s.Total > 0 {
			ema = s.EMAWinRate
		}
		if ema < e.cfg.ClampFloor {
			ema = e.cfg.ClampFloor
		}
		raw[id] = ema
		sum += ema
	}
	for id := range raw {
		raw[id] /= sum
	}
	return raw
}

// ContextFor returns the similar-past lookup, current oracle weights, and
// regime tag for one instrument.
func (e *Engine) ContextFor(inst market.Instrument, now time.Time, oracleIDs []string) Context {
	snap := e.snap.Load()
	return Context{
		SimilarPast:   topK(snap.index, embedQuery(inst, now), e.cfg.TopK),
		OracleWeights: e.Weights(oracleIDs),
		RegimeTag:     snap.regime,
	}
}

func (e *Engine) cloneSnapshot() *snapshot {
	old := e.snap.Load()
	next := &snapshot{
		stats:   make(map[string]OracleStats, len(old.stats)),
		index:   append([]indexEntry(nil), old.index...),
		regime:  old.regime,
		openPos: make(map[string]monitor.Position, len(old.openPos)),
	}
	for k, v := range old.stats {
		next.stats[k] = v
	}
	for k, v := range old.openPos {
		next.openPos[k] = v
	}
	return next
}

func (e *Engine) loadIndex() ([]indexEntry, error) {
	data, err := os.ReadFile(e.indexPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var entries []indexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return entries, nil
}

// rebuild recomputes stats and index from the append-only outcome log.
func (e *Engine) rebuild() error {
	dir := filepath.Join(e.root, "outcomes")
	names, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var records []outcomeRecord
	for _, entry := range names {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		var rec outcomeRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			e.logger.Warn().Str("file", entry.Name()).Err(err).Msg("Skipping unreadable outcome record")
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Outcome.ClosedAt.Before(records[j].Outcome.ClosedAt)
	})

	stats := make(map[string]OracleStats)
	var index []indexEntry
	for _, rec := range records {
		applyOutcome(stats, rec.Outcome, e.cfg.Alpha)
		index = append(index, indexEntry{
			PositionID: rec.Outcome.PositionID,
			DecisionID: rec.Outcome.DecisionID,
			Instrument: rec.Instrument.Key(),
			RegimeTag:  rec.Outcome.RegimeTag,
			PnLPct:     rec.Outcome.PnLPct,
			ExitReason: string(rec.Outcome.ExitReason),
			Vector:     embedOutcome(rec.Outcome, rec.Instrument),
			ClosedAt:   rec.Outcome.ClosedAt,
		})
	}

	statsData, err := encodeStats(stats)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(e.statsPath(), statsData); err != nil {
		return err
	}
	indexData, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(e.indexPath(), indexData)
}

// applyOutcome folds one outcome into each contributing oracle's record.
func applyOutcome(stats map[string]OracleStats, o monitor.TradeOutcome, alpha float64) {
	win := 0.0
	if o.PnL > 0 {
		win = 1.0
	}
	for _, id := range o.OracleIDs {
		s := stats[id]
		if s.Total == 0 {
			s.EMAWinRate = 0.5
		}
		s.Total++
		if win == 1.0 {
			s.Wins++
		} else {
			s.Losses++
		}
		s.AvgPnL += (o.PnL - s.AvgPnL) / float64(s.Total)
		s.EMAWinRate = alpha*win + (1-alpha)*s.EMAWinRate
		stats[id] = s
	}
}

// regimeOf tags the current market regime from the last ten outcomes.
func regimeOf(index []indexEntry) string {
	if len(index) == 0 {
		return "unknown"
	}
	recent := index
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	var sum float64
	for _, e := range recent {
		sum += e.PnLPct
	}
	mean := sum / float64(len(recent))
	switch {
	case mean > 0.005:
		return "favourable"
	case mean < -0.005:
		return "adverse"
	default:
		return "choppy"
	}
}
