// Package pgstore provides a PostgreSQL implementation of pipeline.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/quell/internal/alert"
	"github.com/linnemanlabs/quell/internal/anomaly"
	"github.com/linnemanlabs/quell/internal/correlate"
	"github.com/linnemanlabs/quell/internal/pipeline"
	"github.com/linnemanlabs/quell/internal/priority"
)

var tracer = otel.Tracer("github.com/linnemanlabs/quell/internal/pipeline/pgstore")

//go:embed schema.sql
var schema string

// analysisPayload holds the structured analysis output, stored as one
// JSONB column rather than a table per stage.
type analysisPayload struct {
	Survivors []alert.Alert           `json:"survivors,omitempty"`
	Groups    []correlate.Group       `json:"groups,omitempty"`
	Matrix    *correlate.Matrix       `json:"matrix,omitempty"`
	RCA       *correlate.RCAResult    `json:"rca,omitempty"`
	Paths     []correlate.PathReport  `json:"paths,omitempty"`
	Heatmap   *priority.Heatmap       `json:"heatmap,omitempty"`
	Ranking   []priority.ServiceScore `json:"ranking,omitempty"`
	Anomalies []anomaly.Anomaly       `json:"anomalies,omitempty"`
}

// Store persists analysis runs in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL, applies the schema, and returns a ready Store.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool, applying the schema.
func NewWithPool(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const runColumns = `id, status, suppression_window, observed, survived, suppressed,
	gate_dropped, reduction, summary, error, analysis, created_at, completed_at, duration_s`

// Get retrieves a run by ID.
func (s *Store) Get(ctx context.Context, id string) (*pipeline.Run, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + runColumns + ` FROM analysis_runs WHERE id = $1`
	r, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if r == nil {
		return nil, false, nil
	}
	return r, true, nil
}

// Put inserts or updates a run.
func (s *Store) Put(ctx context.Context, r *pipeline.Run) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	payload, err := json.Marshal(analysisPayload{
		Survivors: r.Survivors,
		Groups:    r.Groups,
		Matrix:    r.Matrix,
		RCA:       r.RCA,
		Paths:     r.Paths,
		Heatmap:   r.Heatmap,
		Ranking:   r.Ranking,
		Anomalies: r.Anomalies,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("marshal analysis: %w", err)
	}

	var completedAt *time.Time
	if !r.CompletedAt.IsZero() {
		completedAt = &r.CompletedAt
	}

	query := `
		INSERT INTO analysis_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			observed = EXCLUDED.observed,
			survived = EXCLUDED.survived,
			suppressed = EXCLUDED.suppressed,
			gate_dropped = EXCLUDED.gate_dropped,
			reduction = EXCLUDED.reduction,
			summary = EXCLUDED.summary,
			error = EXCLUDED.error,
			analysis = EXCLUDED.analysis,
			completed_at = EXCLUDED.completed_at,
			duration_s = EXCLUDED.duration_s`

	_, err = s.pool.Exec(ctx, query,
		r.ID, string(r.Status), r.Window, r.Observed, r.Survived, r.Suppressed,
		r.GateDropped, r.Reduction, r.Summary, r.Error, payload, r.CreatedAt,
		completedAt, r.Duration,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// List retrieves the most recent runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*pipeline.Run, error) {
	ctx, span := tracer.Start(ctx, "pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + runColumns + ` FROM analysis_runs ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []*pipeline.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (*pipeline.Run, error) {
	var (
		r           pipeline.Run
		status      string
		payload     []byte
		completedAt *time.Time
	)
	err := row.Scan(
		&r.ID, &status, &r.Window, &r.Observed, &r.Survived, &r.Suppressed,
		&r.GateDropped, &r.Reduction, &r.Summary, &r.Error, &payload,
		&r.CreatedAt, &completedAt, &r.Duration,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	r.Status = pipeline.Status(status)
	if completedAt != nil {
		r.CompletedAt = *completedAt
	}
	if len(payload) > 0 {
		var p analysisPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal analysis: %w", err)
		}
		r.Survivors = p.Survivors
		r.Groups = p.Groups
		r.Matrix = p.Matrix
		r.RCA = p.RCA
		r.Paths = p.Paths
		r.Heatmap = p.Heatmap
		r.Ranking = p.Ranking
		r.Anomalies = p.Anomalies
	}
	return &r, nil
}
