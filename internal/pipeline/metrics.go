package pipeline

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the analysis subsystem.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	AlertsObserved   prometheus.Counter
	AlertsSuppressed prometheus.Counter
	Reduction        prometheus.Histogram
	GroupsPerRun     prometheus.Histogram
	AnomaliesPerRun  prometheus.Histogram
	SubmitsTotal     *prometheus.CounterVec
	GateDropsTotal   prometheus.Counter
}

// NewMetrics registers and returns analysis metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quell_runs_total",
			Help: "Total analysis runs by final status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quell_run_duration_seconds",
			Help:    "Duration of analysis runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~40s
		}, []string{"status"}),
		AlertsObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quell_alerts_observed_total",
			Help: "Total alerts fed into suppression.",
		}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quell_alerts_suppressed_total",
			Help: "Total alerts dropped by suppression.",
		}),
		Reduction: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quell_run_reduction_percent",
			Help:    "Noise reduction percentage per run.",
			Buckets: prometheus.LinearBuckets(0, 10, 11), // 0 .. 100
		}),
		GroupsPerRun: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quell_run_groups",
			Help:    "Correlation groups found per run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 .. 128
		}),
		AnomaliesPerRun: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quell_run_anomalies",
			Help:    "Anomalies flagged per run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 .. 128
		}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quell_submits_total",
			Help: "Total batch submissions by result.",
		}, []string{"result"}),
		GateDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quell_gate_drops_total",
			Help: "Total alerts dropped by the distributed gate.",
		}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.AlertsObserved,
		m.AlertsSuppressed,
		m.Reduction,
		m.GroupsPerRun,
		m.AnomaliesPerRun,
		m.SubmitsTotal,
		m.GateDropsTotal,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnComplete: func(e *CompleteEvent) {
			m.RunsTotal.WithLabelValues(string(e.Status)).Inc()
			m.RunDuration.WithLabelValues(string(e.Status)).Observe(e.Duration)
			m.AlertsObserved.Add(float64(e.Observed))
			m.AlertsSuppressed.Add(float64(e.Suppressed))
			if e.Status == StatusComplete {
				m.Reduction.Observe(e.Reduction)
				m.GroupsPerRun.Observe(float64(e.Groups))
				m.AnomaliesPerRun.Observe(float64(e.Anomalies))
			}
		},
	}
}
