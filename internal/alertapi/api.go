// Package alertapi exposes the HTTP API: alert batch ingestion, run
// retrieval, and synthetic alert simulation.
package alertapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/quell/internal/alert"
	"github.com/linnemanlabs/quell/internal/pipeline"
	"github.com/linnemanlabs/quell/internal/simulate"
)

// RunService defines the business operations alertapi needs.
type RunService interface {
	Submit(ctx context.Context, alerts []alert.Alert) (*pipeline.SubmitResult, error)
	Get(ctx context.Context, id string) (*pipeline.Run, bool, error)
	List(ctx context.Context, limit int) ([]*pipeline.Run, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    RunService
}

// New creates a new API handler.
func New(logger log.Logger, svc RunService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("run service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/alerts", a.handleIngestAlerts)
		r.Get("/runs", a.handleListRuns)
		r.Get("/runs/{id}", a.handleGetRun)
		r.Post("/simulate", a.handleSimulate)
	})
}

// ingestRequest is the alert submission payload.
type ingestRequest struct {
	Alerts []alert.Alert `json:"alerts"`
}

func (a *API) handleIngestAlerts(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	sr, err := a.svc.Submit(r.Context(), req.Alerts)
	if err != nil {
		a.logger.Warn(r.Context(), "rejected alert batch", "error", err.Error(), "alerts", len(req.Alerts))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("quell.run.id", sr.ID),
		attribute.Int("quell.alerts.count", len(req.Alerts)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"run_id":   sr.ID,
		"accepted": len(req.Alerts),
	})
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("quell.run.id", id))

	run, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get run", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("quell.run.status", string(run.Status)))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(run)
}

const defaultListLimit = 20

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := a.svc.List(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list runs")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*pipeline.Run{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"runs": runs})
}

// simulateRequest shapes a synthetic alert batch.
type simulateRequest struct {
	Count           int      `json:"count"`
	Services        int      `json:"services"`
	AlertTypes      []string `json:"alert_types,omitempty"`
	TimeRange       string   `json:"time_range,omitempty"`
	DuplicationRate float64  `json:"duplication_rate"`
	Seed            uint64   `json:"seed,omitempty"`
}

const maxSimulatedAlerts = 10000

func (a *API) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if req.Count <= 0 || req.Count > maxSimulatedAlerts {
		http.Error(w, `{"error":"count must be in [1,10000]"}`, http.StatusBadRequest)
		return
	}

	timeRange := 24 * time.Hour
	if req.TimeRange != "" {
		d, err := time.ParseDuration(req.TimeRange)
		if err != nil {
			http.Error(w, `{"error":"invalid time_range"}`, http.StatusBadRequest)
			return
		}
		timeRange = d
	}

	cfg := simulate.Config{
		Services:        req.Services,
		AlertTypes:      req.AlertTypes,
		TimeRange:       timeRange,
		DuplicationRate: req.DuplicationRate,
		Seed:            req.Seed,
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	alerts := simulate.New(cfg).Generate(req.Count)

	sr, err := a.svc.Submit(r.Context(), alerts)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to submit simulated batch")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	a.logger.Info(r.Context(), "simulated batch submitted",
		"run_id", sr.ID, "alerts", len(alerts), "services", req.Services)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"run_id":    sr.ID,
		"generated": len(alerts),
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
