package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/quell/internal/alert"
	"github.com/oklog/ulid/v2"
)

// Gate decides whether an alert fingerprint may pass. A distributed
// implementation lets multiple instances share suppression state; a nil
// gate passes everything to the in-process engine.
type Gate interface {
	Allow(ctx context.Context, fingerprint string, window time.Duration) (bool, error)
}

// Notifier is told when a run finishes. Implementations must tolerate
// being called from a background goroutine.
type Notifier interface {
	RunComplete(ctx context.Context, run *Run) error
}

// Summarizer produces a human-readable summary of a completed run.
type Summarizer interface {
	Summarize(ctx context.Context, run *Run) (string, error)
}

// SubmitResult is the outcome of submitting a batch for analysis.
type SubmitResult struct {
	ID string
}

// Service is the business boundary for analysis runs.
type Service struct {
	store      Store
	engine     *Engine
	gate       Gate
	notifier   Notifier
	summarizer Summarizer
	metrics    *Metrics
	logger     log.Logger
}

// ServiceOption configures optional Service collaborators.
type ServiceOption func(*Service)

// WithGate installs a distributed suppression gate.
func WithGate(g Gate) ServiceOption {
	return func(s *Service) { s.gate = g }
}

// WithNotifier installs a completion notifier.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithSummarizer installs a run summarizer.
func WithSummarizer(sum Summarizer) ServiceOption {
	return func(s *Service) { s.summarizer = sum }
}

// WithMetrics installs submission and gate metrics.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a new analysis service.
func NewService(store Store, engine *Engine, logger log.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		engine: engine,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates a batch of alerts, records a pending run, and kicks
// off analysis in the background. The returned ID can be polled via Get.
func (s *Service) Submit(ctx context.Context, alerts []alert.Alert) (*SubmitResult, error) {
	if len(alerts) == 0 {
		s.countSubmit("invalid")
		return nil, fmt.Errorf("submit: empty batch")
	}
	for i := range alerts {
		if err := alerts[i].Validate(); err != nil {
			s.countSubmit("invalid")
			return nil, fmt.Errorf("submit: alert %d: %w", i, err)
		}
	}

	batch, dropped := s.applyGate(ctx, alerts)

	id := ulid.Make().String()
	run := &Run{
		ID:          id,
		Status:      StatusPending,
		Window:      s.engine.cfg.Window.String(),
		GateDropped: dropped,
		CreatedAt:   time.Now(),
	}

	if err := s.store.Put(ctx, run); err != nil {
		s.countSubmit("error")
		return nil, err
	}
	s.countSubmit("accepted")

	// kick off async analysis - pass only the ID to avoid sharing the Run pointer.
	go s.runAnalysis(context.WithoutCancel(ctx), id, batch)

	return &SubmitResult{ID: id}, nil
}

func (s *Service) countSubmit(result string) {
	if s.metrics != nil {
		s.metrics.SubmitsTotal.WithLabelValues(result).Inc()
	}
}

// Get retrieves a run by ID.
func (s *Service) Get(ctx context.Context, id string) (*Run, bool, error) {
	return s.store.Get(ctx, id)
}

// List retrieves the most recent runs, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]*Run, error) {
	return s.store.List(ctx, limit)
}

// applyGate filters the batch through the distributed gate, failing open
// on gate errors so a Redis outage never drops alerts.
func (s *Service) applyGate(ctx context.Context, alerts []alert.Alert) ([]alert.Alert, int) {
	if s.gate == nil {
		return alerts, 0
	}

	kept := make([]alert.Alert, 0, len(alerts))
	dropped := 0
	for i := range alerts {
		ok, err := s.gate.Allow(ctx, alerts[i].Fingerprint(), s.engine.cfg.Window)
		if err != nil {
			s.logger.Warn(ctx, "suppression gate unavailable, passing alert through",
				"error", err.Error(), "alert_id", alerts[i].ID)
			ok = true
		}
		if ok {
			kept = append(kept, alerts[i])
		} else {
			dropped++
			if s.metrics != nil {
				s.metrics.GateDropsTotal.Inc()
			}
		}
	}
	return kept, dropped
}

func (s *Service) runAnalysis(ctx context.Context, id string, alerts []alert.Alert) {
	L := s.logger.With("run_id", id)

	run, ok, err := s.store.Get(ctx, id)
	if err != nil || !ok {
		L.Error(ctx, err, "failed to fetch run for analysis")
		return
	}

	run.Status = StatusInProgress
	if err := s.store.Put(ctx, run); err != nil {
		L.Error(ctx, err, "failed to update status to in_progress")
		return
	}

	s.engine.Run(ctx, run, alerts)

	// gate drops are suppression too; fold them into the totals
	if run.Status == StatusComplete && run.GateDropped > 0 {
		run.Observed += run.GateDropped
		run.Suppressed += run.GateDropped
		if run.Observed > 0 {
			run.Reduction = float64(run.Suppressed) / float64(run.Observed) * 100
		}
	}

	if s.summarizer != nil && run.Status == StatusComplete {
		summary, err := s.summarizer.Summarize(ctx, run)
		if err != nil {
			L.Warn(ctx, "summarization failed", "error", err.Error())
		} else {
			run.Summary = summary
		}
	}

	if err := s.store.Put(ctx, run); err != nil {
		L.Error(ctx, err, "failed to persist run")
		return
	}

	// failed runs notify too, so operators hear about broken analyses
	if s.notifier != nil {
		if err := s.notifier.RunComplete(ctx, run); err != nil {
			L.Warn(ctx, "notification failed", "error", err.Error())
		}
	}

	L.Info(ctx, "run finished",
		"status", run.Status,
		"duration", run.Duration,
		"reduction", run.Reduction,
	)
}
