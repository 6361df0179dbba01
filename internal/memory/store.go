package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
)

// statsSchemaVersion is bumped on incompatible stats-record changes. Loads
// refuse records from a newer major version instead of misreading them.
const statsSchemaVersion = "1.0.0"

// OracleStats is the per-provider performance record. The EMA win rate is
// the basis for adaptive ensemble weights.
type OracleStats struct {
	Total      int     `json:"total"`
	Wins       int     `json:"wins"`
	Losses     int     `json:"losses"`
	AvgPnL     float64 `json:"avg_pnl"`
	EMAWinRate float64 `json:"ema_win_rate"`
}

// statsRecord is the on-disk stats file.
type statsRecord struct {
	Version string                 `json:"version"`
	Oracles map[string]OracleStats `json:"oracles"`
}

func loadStats(path string) (map[string]OracleStats, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]OracleStats), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}

	var rec statsRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}

	recVer, err := semver.NewVersion(rec.Version)
	if err != nil {
		return nil, fmt.Errorf("stats version %q: %w", rec.Version, err)
	}
	supported := semver.MustParse(statsSchemaVersion)
	if recVer.Major() > supported.Major() {
		return nil, fmt.Errorf("stats schema %s newer than supported %s", rec.Version, statsSchemaVersion)
	}

	if rec.Oracles == nil {
		rec.Oracles = make(map[string]OracleStats)
	}
	return rec.Oracles, nil
}

func encodeStats(stats map[string]OracleStats) ([]byte, error) {
	return json.MarshalIndent(statsRecord{Version: statsSchemaVersion, Oracles: stats}, "", "  ")
}

// writeFileAtomic writes via temp+fsync+rename; a crash mid-write never
// leaves a torn file at path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// commitLock guards multi-file updates. While the lock file exists the
// store is mid-commit; a restart that finds it discards the derived files
// and rebuilds them from the append-only outcome log.
type commitLock struct {
	path string
}

func (l commitLock) acquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("acquire commit lock: %w", err)
	}
	return f.Close()
}

func (l commitLock) release() error {
	return os.Remove(l.path)
}

func (l commitLock) stale() bool {
	_, err := os.Stat(l.path)
	return err == nil
}
