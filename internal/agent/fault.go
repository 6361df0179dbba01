package agent

import (
	"sort"
	"sync"
	"time"
)

// FaultTracker quarantines instruments that keep failing analysis. Each
// consecutive failure doubles the backoff up to a cap; a quiet period
// decays the count so an instrument is not punished forever for an old
// outage.
type FaultTracker struct {
	mu      sync.Mutex
	base    time.Duration
	max     time.Duration
	decay   time.Duration
	entries map[string]*faultEntry
}

type faultEntry struct {
	failures int
	until    time.Time
	lastFail time.Time
}

// NewFaultTracker creates a tracker with the given backoff schedule.
func NewFaultTracker(base, max, decay time.Duration) *FaultTracker {
	if base <= 0 {
		base = 30 * time.Second
	}
	if max <= 0 {
		max = 30 * time.Minute
	}
	if decay <= 0 {
		decay = time.Hour
	}
	return &FaultTracker{
		base:    base,
		max:     max,
		decay:   decay,
		entries: make(map[string]*faultEntry),
	}
}

// RecordFailure extends the instrument's quarantine.
func (t *FaultTracker) RecordFailure(key string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entries[key]
	if e == nil {
		e = &faultEntry{}
		t.entries[key] = e
	}
	if now.Sub(e.lastFail) > t.decay {
		e.failures = 0
	}

	backoff := t.base << uint(min(e.failures, 6))
	if backoff > t.max {
		backoff = t.max
	}
	e.failures++
	e.lastFail = now
	e.until = now.Add(backoff)
}

// RecordSuccess clears the instrument's fault history.
func (t *FaultTracker) RecordSuccess(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// Faulted reports whether the instrument is still quarantined.
func (t *FaultTracker) Faulted(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	return ok && now.Before(e.until)
}

// FaultedKeys returns the quarantined instruments, sorted.
func (t *FaultTracker) FaultedKeys(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var keys []string
	for k, e := range t.entries {
		if now.Before(e.until) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
