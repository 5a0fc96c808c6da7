package suppress

import (
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/quell/internal/alert"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mk(id, service, typ string, sev alert.Severity, at time.Duration) alert.Alert {
	return alert.Alert{
		ID:        id,
		Service:   service,
		Type:      typ,
		Severity:  sev,
		Timestamp: t0.Add(at),
	}
}

func ids(alerts []alert.Alert) []string {
	out := make([]string, len(alerts))
	for i, a := range alerts {
		out[i] = a.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestProcess_WindowReopensAfterExpiry(t *testing.T) {
	t.Parallel()

	// Three same-key alerts at t=0, t=5m, t=20m with a 15m window:
	// the first survives and opens a window ending at 15m, the second
	// is inside it, the third is past it and survives.
	in := []alert.Alert{
		mk("a", "checkout", "cpu", alert.SeverityHigh, 0),
		mk("b", "checkout", "cpu", alert.SeverityHigh, 5*time.Minute),
		mk("c", "checkout", "cpu", alert.SeverityHigh, 20*time.Minute),
	}

	out, err := New(15 * time.Minute).Process(in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !equalIDs(ids(out), []string{"a", "c"}) {
		t.Errorf("survivors = %v, want [a c]", ids(out))
	}
}

func TestProcess_DistinctKeysIndependent(t *testing.T) {
	t.Parallel()

	in := []alert.Alert{
		mk("a", "checkout", "cpu", alert.SeverityHigh, 0),
		mk("b", "payments", "cpu", alert.SeverityHigh, time.Minute),
	}

	out, err := New(15 * time.Minute).Process(in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("survivors = %v, want both alerts (independent windows)", ids(out))
	}
}

func TestProcess_EmptyInput(t *testing.T) {
	t.Parallel()

	out, err := New(15 * time.Minute).Process(nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("survivors = %v, want empty", ids(out))
	}
}

func TestProcess_ZeroWindowIsNoOp(t *testing.T) {
	t.Parallel()

	in := []alert.Alert{
		mk("a", "checkout", "cpu", alert.SeverityHigh, 0),
		mk("b", "checkout", "cpu", alert.SeverityHigh, time.Second),
	}

	for _, w := range []time.Duration{0, -time.Minute} {
		out, err := New(w).Process(in)
		if err != nil {
			t.Fatalf("Process(window=%v): %v", w, err)
		}
		if !equalIDs(ids(out), []string{"a", "b"}) {
			t.Errorf("window %v: survivors = %v, want all alerts unchanged", w, ids(out))
		}
	}
}

func TestProcess_BoundaryIsInclusive(t *testing.T) {
	t.Parallel()

	// Second alert lands exactly on the window end: suppressed.
	in := []alert.Alert{
		mk("a", "checkout", "cpu", alert.SeverityHigh, 0),
		mk("b", "checkout", "cpu", alert.SeverityHigh, 15*time.Minute),
	}

	out, err := New(15 * time.Minute).Process(in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !equalIDs(ids(out), []string{"a"}) {
		t.Errorf("survivors = %v, want [a] (boundary inclusive)", ids(out))
	}
}

func TestProcess_JustPastBoundarySurvives(t *testing.T) {
	t.Parallel()

	in := []alert.Alert{
		mk("a", "checkout", "cpu", alert.SeverityHigh, 0),
		mk("b", "checkout", "cpu", alert.SeverityHigh, 15*time.Minute+time.Nanosecond),
	}

	out, err := New(15 * time.Minute).Process(in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !equalIDs(ids(out), []string{"a", "b"}) {
		t.Errorf("survivors = %v, want [a b]", ids(out))
	}
}

func TestProcess_TieBreakFirstWins(t *testing.T) {
	t.Parallel()

	// Identical timestamp and key: input order decides, first survives.
	in := []alert.Alert{
		mk("a", "checkout", "cpu", alert.SeverityHigh, 0),
		mk("b", "checkout", "cpu", alert.SeverityHigh, 0),
	}

	out, err := New(15 * time.Minute).Process(in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !equalIDs(ids(out), []string{"a"}) {
		t.Errorf("survivors = %v, want [a]", ids(out))
	}
}

func TestProcess_SeverityChangeIsNewKey(t *testing.T) {
	t.Parallel()

	// Same service and type at a different severity is a distinct
	// fingerprint and is not suppressed.
	in := []alert.Alert{
		mk("a", "checkout", "cpu", alert.SeverityHigh, 0),
		mk("b", "checkout", "cpu", alert.SeverityCritical, time.Minute),
	}

	out, err := New(15 * time.Minute).Process(in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("survivors = %v, want both severities", ids(out))
	}
}

func TestProcess_Idempotent(t *testing.T) {
	t.Parallel()

	in := []alert.Alert{
		mk("a", "checkout", "cpu", alert.SeverityHigh, 0),
		mk("b", "checkout", "cpu", alert.SeverityHigh, 5*time.Minute),
		mk("c", "payments", "disk", alert.SeverityLow, 6*time.Minute),
		mk("d", "checkout", "cpu", alert.SeverityHigh, 20*time.Minute),
		mk("e", "payments", "disk", alert.SeverityLow, 30*time.Minute),
	}

	w := 15 * time.Minute
	once, err := New(w).Process(in)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	twice, err := New(w).Process(once)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if !equalIDs(ids(once), ids(twice)) {
		t.Errorf("re-processing survivors changed output: %v -> %v", ids(once), ids(twice))
	}
	if len(once) > len(in) {
		t.Errorf("output longer than input: %d > %d", len(once), len(in))
	}
}

func TestProcess_UnsortedInput(t *testing.T) {
	t.Parallel()

	in := []alert.Alert{
		mk("a", "checkout", "cpu", alert.SeverityHigh, 10*time.Minute),
		mk("b", "checkout", "cpu", alert.SeverityHigh, 0),
	}

	_, err := New(15 * time.Minute).Process(in)
	if !errors.Is(err, ErrUnsortedInput) {
		t.Fatalf("err = %v, want ErrUnsortedInput", err)
	}
}

func TestProcess_ZeroTimestamp(t *testing.T) {
	t.Parallel()

	in := []alert.Alert{
		{ID: "a", Service: "checkout", Type: "cpu"},
	}

	_, err := New(15 * time.Minute).Process(in)
	if !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("err = %v, want ErrInvalidTimestamp", err)
	}
}

func TestProcess_ValidationBeforeOutput(t *testing.T) {
	t.Parallel()

	// A late validation failure must not leave partial state behind.
	e := New(15 * time.Minute)
	in := []alert.Alert{
		mk("a", "checkout", "cpu", alert.SeverityHigh, 10*time.Minute),
		mk("b", "checkout", "cpu", alert.SeverityHigh, 0), // out of order
	}

	if _, err := e.Process(in); err == nil {
		t.Fatal("expected error")
	}
	if got := e.Stats(); got.Observed != 0 {
		t.Errorf("Observed = %d after failed Process, want 0", got.Observed)
	}

	// The engine is still usable with valid input.
	out, err := e.Process([]alert.Alert{mk("c", "checkout", "cpu", alert.SeverityHigh, 0)})
	if err != nil {
		t.Fatalf("Process after failure: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("survivors = %v, want [c]", ids(out))
	}
}

func TestObserve_Streaming(t *testing.T) {
	t.Parallel()

	e := New(15 * time.Minute)

	a := mk("a", "checkout", "cpu", alert.SeverityHigh, 0)
	b := mk("b", "checkout", "cpu", alert.SeverityHigh, 5*time.Minute)
	c := mk("c", "checkout", "cpu", alert.SeverityHigh, 20*time.Minute)

	if !e.Observe(&a) {
		t.Error("first alert should survive (cold start)")
	}
	if e.Observe(&b) {
		t.Error("alert inside window should be suppressed")
	}
	if !e.Observe(&c) {
		t.Error("alert past window should survive")
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	e := New(15 * time.Minute)
	in := []alert.Alert{
		mk("a", "checkout", "cpu", alert.SeverityHigh, 0),
		mk("b", "checkout", "cpu", alert.SeverityHigh, time.Minute),
		mk("c", "checkout", "cpu", alert.SeverityHigh, 2*time.Minute),
		mk("d", "payments", "disk", alert.SeverityLow, 3*time.Minute),
	}
	if _, err := e.Process(in); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got := e.Stats()
	if got.Observed != 4 || got.Survived != 2 || got.Suppressed != 2 {
		t.Errorf("Stats = %+v, want observed=4 survived=2 suppressed=2", got)
	}
	if r := got.Reduction(); r != 50 {
		t.Errorf("Reduction = %v, want 50", r)
	}
}

func TestStats_ReductionEmpty(t *testing.T) {
	t.Parallel()

	if r := (Stats{}).Reduction(); r != 0 {
		t.Errorf("Reduction of empty stats = %v, want 0", r)
	}
}

func TestProcess_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	in := []alert.Alert{
		mk("a", "checkout", "cpu", alert.SeverityHigh, 0),
		mk("b", "checkout", "cpu", alert.SeverityHigh, time.Minute),
	}
	before := make([]alert.Alert, len(in))
	copy(before, in)

	if _, err := New(15 * time.Minute).Process(in); err != nil {
		t.Fatalf("Process: %v", err)
	}
	for i := range in {
		if in[i] != before[i] {
			t.Errorf("input alert %d mutated: %+v -> %+v", i, before[i], in[i])
		}
	}
}
