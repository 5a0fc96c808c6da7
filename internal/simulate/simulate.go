// Package simulate generates synthetic alert streams for exercising the
// suppression and correlation pipeline without a live alert source.
package simulate

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/linnemanlabs/quell/internal/alert"
)

// DefaultAlertTypes is the set of alert types generated when none are
// configured.
var DefaultAlertTypes = []string{"cpu", "memory", "disk", "network", "application"}

// severity draw weights: most alerts are low, few are critical.
var severityWeights = []struct {
	sev    alert.Severity
	weight float64
}{
	{alert.SeverityLow, 0.4},
	{alert.SeverityMedium, 0.3},
	{alert.SeverityHigh, 0.2},
	{alert.SeverityCritical, 0.1},
}

// Config controls a simulation run.
type Config struct {
	// Services is the number of distinct services emitting alerts.
	Services int

	// AlertTypes to draw from; defaults to DefaultAlertTypes.
	AlertTypes []string

	// TimeRange spreads alert timestamps over [now-TimeRange, now].
	TimeRange time.Duration

	// DuplicationRate in [0,1] is the probability that an alert is a
	// near-duplicate of an earlier one: same service, type, and
	// severity, offset 1..300 seconds after the original.
	DuplicationRate float64

	// Seed makes runs reproducible. Zero seeds from the current time.
	Seed uint64
}

// Validate checks config bounds.
func (c *Config) Validate() error {
	if c.Services <= 0 {
		return fmt.Errorf("simulate: services must be positive, got %d", c.Services)
	}
	if c.TimeRange <= 0 {
		return fmt.Errorf("simulate: time range must be positive, got %s", c.TimeRange)
	}
	if c.DuplicationRate < 0 || c.DuplicationRate > 1 {
		return fmt.Errorf("simulate: duplication rate must be in [0,1], got %f", c.DuplicationRate)
	}
	return nil
}

// Generator produces synthetic alerts.
type Generator struct {
	cfg Config
	rng *rand.Rand
	now time.Time
}

// New creates a generator. Call Validate on the config first if it
// comes from user input.
func New(cfg Config) *Generator {
	if len(cfg.AlertTypes) == 0 {
		cfg.AlertTypes = DefaultAlertTypes
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now: time.Now().UTC(),
	}
}

// Generate produces n alerts sorted ascending by timestamp. Each alert
// gets a fresh UUID; duplicated alerts copy the identity fields of an
// earlier alert but keep their own ID and a shifted timestamp.
func (g *Generator) Generate(n int) []alert.Alert {
	alerts := make([]alert.Alert, 0, n)

	for i := 0; i < n; i++ {
		a := alert.Alert{
			ID:        uuid.NewString(),
			Service:   fmt.Sprintf("service-%d", g.rng.IntN(g.cfg.Services)),
			Type:      g.cfg.AlertTypes[g.rng.IntN(len(g.cfg.AlertTypes))],
			Severity:  g.drawSeverity(),
			Value:     50 + g.rng.Float64()*50,
			Timestamp: g.now.Add(-time.Duration(g.rng.Float64() * float64(g.cfg.TimeRange))),
		}

		if i > 0 && g.rng.Float64() < g.cfg.DuplicationRate {
			orig := alerts[g.rng.IntN(len(alerts))]
			a.Service = orig.Service
			a.Type = orig.Type
			a.Severity = orig.Severity
			a.Timestamp = orig.Timestamp.Add(time.Duration(1+g.rng.IntN(299)) * time.Second)
		}

		a.Message = fmt.Sprintf("%s alert on %s: %.0f%%", a.Type, a.Service, a.Value)
		alerts = append(alerts, a)
	}

	sortByTimestamp(alerts)
	return alerts
}

func (g *Generator) drawSeverity() alert.Severity {
	r := g.rng.Float64()
	for _, sw := range severityWeights {
		if r < sw.weight {
			return sw.sev
		}
		r -= sw.weight
	}
	return alert.SeverityCritical
}

// sortByTimestamp sorts stably so input order is preserved for equal
// timestamps, which the suppression tie-break depends on.
func sortByTimestamp(alerts []alert.Alert) {
	slices.SortStableFunc(alerts, func(a, b alert.Alert) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}
