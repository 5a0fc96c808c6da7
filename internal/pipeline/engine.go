package pipeline

import (
	"context"
	"slices"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/quell/internal/alert"
	"github.com/linnemanlabs/quell/internal/anomaly"
	"github.com/linnemanlabs/quell/internal/correlate"
	"github.com/linnemanlabs/quell/internal/priority"
	"github.com/linnemanlabs/quell/internal/suppress"
)

const (
	// DefaultCorrBucket is the counting interval for the correlation matrix.
	DefaultCorrBucket = time.Hour

	// DefaultCorrWindow is the rolling correlation window in buckets.
	DefaultCorrWindow = 6

	// maxPathReports caps path analysis at the highest-ranked services.
	maxPathReports = 5
)

// RuleSource supplies the current correlation rules. correlate.Loader
// satisfies it, so rules can hot-reload between runs.
type RuleSource interface {
	Rules() []correlate.Rule
}

// TopologySource optionally supplies a service dependency graph. A
// RuleSource that also implements it enables path analysis from the
// suspected root cause. correlate.Loader satisfies it.
type TopologySource interface {
	Topology() *correlate.Topology
}

type staticRules []correlate.Rule

func (r staticRules) Rules() []correlate.Rule { return r }

// StaticRules wraps a fixed rule set as a RuleSource.
func StaticRules(rules []correlate.Rule) RuleSource { return staticRules(rules) }

// EngineConfig tunes the analysis stages.
type EngineConfig struct {
	// Window is the suppression window. Zero or negative disables
	// suppression entirely.
	Window time.Duration

	// CorrBucket and CorrWindow shape the time-correlation matrix.
	CorrBucket time.Duration
	CorrWindow int

	Cluster correlate.ClusterConfig
	Anomaly anomaly.Config
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.CorrBucket <= 0 {
		c.CorrBucket = DefaultCorrBucket
	}
	if c.CorrWindow <= 0 {
		c.CorrWindow = DefaultCorrWindow
	}
	if c.Cluster.Eps <= 0 || c.Cluster.MinPoints <= 0 {
		c.Cluster = correlate.DefaultClusterConfig
	}
	return c
}

// CompleteEvent describes a finished run for hook consumers.
type CompleteEvent struct {
	Status     Status
	Duration   float64
	Observed   int
	Survived   int
	Suppressed int
	Reduction  float64
	Groups     int
	Anomalies  int
}

// EngineHooks lets callers observe run completion without coupling the
// engine to a metrics backend.
type EngineHooks struct {
	OnComplete func(e *CompleteEvent)
}

// Engine runs the analysis stages over a batch of alerts. It holds no
// per-run state, so a single Engine serves all runs.
type Engine struct {
	cfg    EngineConfig
	rules  RuleSource
	hooks  EngineHooks
	logger log.Logger
}

// NewEngine creates an analysis engine with the given dependencies.
func NewEngine(cfg EngineConfig, rules RuleSource, hooks EngineHooks, logger log.Logger) *Engine {
	if rules == nil {
		rules = StaticRules(nil)
	}
	return &Engine{
		cfg:    cfg.withDefaults(),
		rules:  rules,
		hooks:  hooks,
		logger: logger,
	}
}

// Run executes the analysis for a batch of alerts, filling in the run as
// it goes. The batch is sorted by timestamp before suppression, so
// callers may pass alerts in any order. On a validation failure the run
// is marked failed and no partial analysis is recorded.
func (e *Engine) Run(ctx context.Context, run *Run, alerts []alert.Alert) {
	start := time.Now()

	L := e.logger.With("run_id", run.ID, "alerts", len(alerts))

	batch := slices.Clone(alerts)
	slices.SortStableFunc(batch, func(a, b alert.Alert) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	sup := suppress.New(e.cfg.Window)
	survivors, err := sup.Process(batch)
	if err != nil {
		L.Error(ctx, err, "suppression failed")
		run.Status = StatusFailed
		run.Error = err.Error()
		e.finish(run, start)
		return
	}

	stats := sup.Stats()
	run.Observed = stats.Observed
	run.Survived = stats.Survived
	run.Suppressed = stats.Suppressed
	run.Reduction = stats.Reduction()
	run.Survivors = survivors

	run.Groups = correlate.ApplyRules(e.rules.Rules(), survivors)

	series := correlate.BucketCounts(survivors, e.cfg.CorrBucket)
	run.Matrix = correlate.CorrelationMatrix(series, e.cfg.CorrWindow)

	labels := correlate.ClusterAlerts(survivors, e.cfg.Cluster)
	run.RCA = correlate.RootCause(survivors, labels)

	run.Heatmap = priority.Build(survivors)
	run.Ranking = priority.Rank(survivors)

	run.Paths = e.pathReports(run.RCA, run.Ranking, survivors)

	run.Anomalies = anomaly.Detect(survivors, e.cfg.Anomaly)

	run.Status = StatusComplete
	e.finish(run, start)

	L.Info(ctx, "analysis complete",
		"observed", run.Observed,
		"survived", run.Survived,
		"suppressed", run.Suppressed,
		"reduction", run.Reduction,
		"groups", len(run.Groups),
		"anomalies", len(run.Anomalies),
		"duration", run.Duration,
	)
}

// pathReports traces how a fault may have propagated from the suspected
// root cause to the highest-ranked services. It returns nil when no
// topology is configured, no root cause was found, or no paths exist.
func (e *Engine) pathReports(rca *correlate.RCAResult, ranking []priority.ServiceScore, survivors []alert.Alert) []correlate.PathReport {
	ts, ok := e.rules.(TopologySource)
	if !ok {
		return nil
	}
	topo := ts.Topology()
	if topo == nil || rca == nil || rca.RootCause == "" {
		return nil
	}

	var reports []correlate.PathReport
	for _, score := range ranking {
		if score.Service == rca.RootCause {
			continue
		}
		if len(reports) >= maxPathReports {
			break
		}
		report, err := topo.AlertsOnPath(rca.RootCause, score.Service, survivors)
		if err != nil {
			// services missing from the graph or unreachable are expected
			continue
		}
		reports = append(reports, *report)
	}
	return reports
}

func (e *Engine) finish(run *Run, start time.Time) {
	run.CompletedAt = time.Now()
	run.Duration = time.Since(start).Seconds()

	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(&CompleteEvent{
			Status:     run.Status,
			Duration:   run.Duration,
			Observed:   run.Observed,
			Survived:   run.Survived,
			Suppressed: run.Suppressed,
			Reduction:  run.Reduction,
			Groups:     len(run.Groups),
			Anomalies:  len(run.Anomalies),
		})
	}
}
