package traffic

import (
	"sync"
	"time"
)

// defaultRetention bounds how long outcomes are kept when NewTracker is given no retention.
const defaultRetention = 5 * time.Minute

type outcome struct {
	at     time.Time
	failed bool
}

// Tracker keeps a sliding window of fetch outcomes. The health endpoint reads the error
// rate from it; the query controller feeds it through RecordSuccess and RecordError.
type Tracker struct {
	mu        sync.Mutex
	outcomes  []outcome
	retention time.Duration
	now       func() time.Time
}

// NewTracker returns a tracker that forgets outcomes older than retention.
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Tracker{retention: retention, now: time.Now}
}

// RecordSuccess records a fetch that published Success.
func (t *Tracker) RecordSuccess() {
	t.record(false)
}

// RecordError records a fetch that published an error.
func (t *Tracker) RecordError() {
	t.record(true)
}

func (t *Tracker) record(failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.outcomes = append(t.outcomes, outcome{at: now, failed: failed})
	t.pruneLocked(now)
}

// ErrorRate returns (errorCount, totalCount) for outcomes within the window ending now.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.pruneLocked(now)
	cutoff := now.Add(-window)
	for _, o := range t.outcomes {
		if o.at.Before(cutoff) {
			continue
		}
		total++
		if o.failed {
			errors++
		}
	}
	return errors, total
}

// Degraded reports whether at least thresholdPct percent of the fetches in the window failed.
// An empty window is never degraded.
func (t *Tracker) Degraded(window time.Duration, thresholdPct int) bool {
	if window <= 0 || thresholdPct <= 0 {
		return false
	}
	errors, total := t.ErrorRate(window)
	if total == 0 {
		return false
	}
	return float64(errors)*100/float64(total) >= float64(thresholdPct)
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes = nil
}

// pruneLocked drops outcomes older than the retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	i := 0
	for ; i < len(t.outcomes) && t.outcomes[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.outcomes = append(t.outcomes[:0], t.outcomes[i:]...)
	}
}
