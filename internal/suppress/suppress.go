// Package suppress implements sliding time-window alert suppression and
// deduplication. Alerts that share a fingerprint and fall inside the
// window opened by the most recent surviving alert for that fingerprint
// are discarded; everything else passes through in order.
package suppress

import (
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/quell/internal/alert"
)

// Sentinel errors for input validation. Callers match with errors.Is;
// the wrapped error carries the offending index.
var (
	// ErrUnsortedInput means an alert's timestamp precedes its predecessor's.
	ErrUnsortedInput = errors.New("input not sorted by timestamp")

	// ErrInvalidTimestamp means an alert has a zero timestamp.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// Stats accounts for every alert an engine has seen. Suppressed alerts
// are counted, never silently dropped.
type Stats struct {
	Observed   int `json:"observed"`
	Survived   int `json:"survived"`
	Suppressed int `json:"suppressed"`
}

// Reduction returns the percentage of observed alerts that were
// suppressed, in [0, 100]. Zero observed alerts yield zero.
func (s Stats) Reduction() float64 {
	if s.Observed == 0 {
		return 0
	}
	return float64(s.Suppressed) / float64(s.Observed) * 100
}

// Engine holds per-fingerprint suppression state. An Engine is not safe
// for concurrent use; give each stream its own instance. State is never
// evicted, so long-lived streaming callers should recycle engines
// periodically.
type Engine struct {
	window    time.Duration
	windowEnd map[string]time.Time
	stats     Stats
}

// New creates an engine with the given suppression window. A window of
// zero or less disables suppression entirely: every alert survives.
// This no-op policy (rather than an error) keeps the engine total over
// all window values.
func New(window time.Duration) *Engine {
	return &Engine{
		window:    window,
		windowEnd: make(map[string]time.Time),
	}
}

// Window returns the configured suppression window.
func (e *Engine) Window() time.Duration { return e.window }

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats { return e.stats }

// Process runs the full pass over alerts, which must be sorted ascending
// by timestamp, and returns the surviving subsequence in input order.
// Input is validated before any suppression decision: either the full
// output is produced or an error is returned with nothing consumed into
// the engine's state. Input alerts are never mutated.
func (e *Engine) Process(alerts []alert.Alert) ([]alert.Alert, error) {
	for i := range alerts {
		if alerts[i].Timestamp.IsZero() {
			return nil, fmt.Errorf("alert %d (id %s): %w", i, alerts[i].ID, ErrInvalidTimestamp)
		}
		if i > 0 && alerts[i].Timestamp.Before(alerts[i-1].Timestamp) {
			return nil, fmt.Errorf("alert %d (id %s) at %s precedes alert %d: %w",
				i, alerts[i].ID, alerts[i].Timestamp.Format(time.RFC3339), i-1, ErrUnsortedInput)
		}
	}

	survivors := make([]alert.Alert, 0, len(alerts))
	for i := range alerts {
		if e.Observe(&alerts[i]) {
			survivors = append(survivors, alerts[i])
		}
	}
	return survivors, nil
}

// Observe applies the suppression rule to a single alert and reports
// whether it survives. It is the streaming variant of Process: the
// caller is responsible for feeding alerts in timestamp order. A
// surviving alert opens (or re-opens) the window for its fingerprint.
func (e *Engine) Observe(a *alert.Alert) bool {
	e.stats.Observed++

	if e.window <= 0 {
		e.stats.Survived++
		return true
	}

	key := a.Fingerprint()

	// Boundary is inclusive: an alert exactly at the window end is
	// still suppressed.
	if end, ok := e.windowEnd[key]; ok && !a.Timestamp.After(end) {
		e.stats.Suppressed++
		return false
	}

	e.windowEnd[key] = a.Timestamp.Add(e.window)
	e.stats.Survived++
	return true
}
