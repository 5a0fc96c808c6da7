package anomaly

import (
	"testing"
	"time"

	"github.com/linnemanlabs/quell/internal/alert"
)

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

// burst appends n alerts for service in the hour starting at start.
func burst(alerts []alert.Alert, service string, start time.Time, n int) []alert.Alert {
	for i := 0; i < n; i++ {
		alerts = append(alerts, alert.Alert{
			ID:        service + start.Format(time.RFC3339),
			Service:   service,
			Type:      "cpu",
			Severity:  alert.SeverityHigh,
			Timestamp: start.Add(time.Duration(i) * time.Second),
		})
	}
	return alerts
}

func TestDetect_FlagsSpike(t *testing.T) {
	t.Parallel()

	var alerts []alert.Alert
	// steady baseline of 2 per hour, then a 40-alert spike
	for h := 0; h < 6; h++ {
		alerts = burst(alerts, "checkout", t0.Add(time.Duration(h)*time.Hour), 2)
	}
	alerts = burst(alerts, "checkout", t0.Add(6*time.Hour), 40)

	got := Detect(alerts, Config{})
	if len(got) != 1 {
		t.Fatalf("anomalies = %+v, want exactly one", got)
	}
	if got[0].Service != "checkout" {
		t.Errorf("Service = %q, want checkout", got[0].Service)
	}
	if !got[0].Start.Equal(t0.Add(6 * time.Hour)) {
		t.Errorf("Start = %v, want %v", got[0].Start, t0.Add(6*time.Hour))
	}
	if got[0].Count != 40 {
		t.Errorf("Count = %d, want 40", got[0].Count)
	}
	if got[0].Score < 3.5 {
		t.Errorf("Score = %v, want >= 3.5", got[0].Score)
	}
}

func TestDetect_SteadyTrafficIsQuiet(t *testing.T) {
	t.Parallel()

	var alerts []alert.Alert
	for h := 0; h < 8; h++ {
		alerts = burst(alerts, "payments", t0.Add(time.Duration(h)*time.Hour), 3)
	}

	if got := Detect(alerts, Config{}); len(got) != 0 {
		t.Errorf("anomalies = %+v, want none for flat traffic", got)
	}
}

func TestDetect_TooLittleHistory(t *testing.T) {
	t.Parallel()

	var alerts []alert.Alert
	alerts = burst(alerts, "new-svc", t0, 1)
	alerts = burst(alerts, "new-svc", t0.Add(time.Hour), 50)

	if got := Detect(alerts, Config{}); len(got) != 0 {
		t.Errorf("anomalies = %+v, want none below MinBuckets", got)
	}
}

func TestDetect_ServicesIsolated(t *testing.T) {
	t.Parallel()

	var alerts []alert.Alert
	// payments is noisy but steady; checkout spikes
	for h := 0; h < 6; h++ {
		alerts = burst(alerts, "payments", t0.Add(time.Duration(h)*time.Hour), 30)
		alerts = burst(alerts, "checkout", t0.Add(time.Duration(h)*time.Hour), 1)
	}
	alerts = burst(alerts, "checkout", t0.Add(6*time.Hour), 25)

	got := Detect(alerts, Config{})
	for _, a := range got {
		if a.Service != "checkout" {
			t.Errorf("flagged %q, want only checkout", a.Service)
		}
	}
	if len(got) != 1 {
		t.Errorf("anomalies = %+v, want exactly one", got)
	}
}

func TestDetect_QuietGapsLowerBaseline(t *testing.T) {
	t.Parallel()

	// bursts of 5 every fourth hour, silence between, then a spike of 20.
	// counting only busy hours would put the median at 5 and let the
	// spike slide under the cutoff; with the quiet hours as zeros the
	// median is 0 and the spike stands out
	var alerts []alert.Alert
	for _, h := range []int{0, 4, 8} {
		alerts = burst(alerts, "batch-jobs", t0.Add(time.Duration(h)*time.Hour), 5)
	}
	alerts = burst(alerts, "batch-jobs", t0.Add(12*time.Hour), 20)

	got := Detect(alerts, Config{})
	if len(got) != 1 {
		t.Fatalf("anomalies = %+v, want exactly one", got)
	}
	if !got[0].Start.Equal(t0.Add(12 * time.Hour)) {
		t.Errorf("Start = %v, want %v", got[0].Start, t0.Add(12*time.Hour))
	}
	if got[0].Count != 20 {
		t.Errorf("Count = %d, want 20", got[0].Count)
	}
}

func TestDetect_Empty(t *testing.T) {
	t.Parallel()

	if got := Detect(nil, Config{}); got != nil {
		t.Errorf("anomalies = %+v, want nil", got)
	}
}

func TestDetect_CustomThreshold(t *testing.T) {
	t.Parallel()

	var alerts []alert.Alert
	for h, n := range []int{1, 2, 3, 2, 1} {
		alerts = burst(alerts, "api", t0.Add(time.Duration(h)*time.Hour), n)
	}
	alerts = burst(alerts, "api", t0.Add(5*time.Hour), 6)

	// modest bump: silent at the default cutoff, flagged at a low one
	if got := Detect(alerts, Config{}); len(got) != 0 {
		t.Errorf("default threshold flagged %+v", got)
	}
	if got := Detect(alerts, Config{Threshold: 1}); len(got) != 1 {
		t.Errorf("low threshold anomalies = %+v, want one", got)
	}
}
