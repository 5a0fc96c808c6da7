package pipeline

import (
	"time"

	"github.com/linnemanlabs/quell/internal/alert"
	"github.com/linnemanlabs/quell/internal/anomaly"
	"github.com/linnemanlabs/quell/internal/correlate"
	"github.com/linnemanlabs/quell/internal/priority"
)

// Status tracks where a run is in its lifecycle.
type Status string

const (
	// StatusPending means accepted, not yet started
	StatusPending Status = "pending"

	// StatusInProgress means currently being analyzed
	StatusInProgress Status = "in_progress"

	// StatusComplete means finished successfully
	StatusComplete Status = "complete"

	// StatusFailed means finished with errors
	StatusFailed Status = "failed"
)

// Run is the outcome of one analysis pass over a batch of alerts.
type Run struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Window    string    `json:"window"`
	CreatedAt time.Time `json:"created_at"`

	// suppression outcome
	Observed    int     `json:"observed"`
	Survived    int     `json:"survived"`
	Suppressed  int     `json:"suppressed"`
	GateDropped int     `json:"gate_dropped,omitempty"`
	Reduction   float64 `json:"reduction_percent"`

	Survivors []alert.Alert `json:"survivors,omitempty"`

	// correlation and analysis output
	Groups    []correlate.Group       `json:"groups,omitempty"`
	Matrix    *correlate.Matrix       `json:"matrix,omitempty"`
	RCA       *correlate.RCAResult    `json:"rca,omitempty"`
	Paths     []correlate.PathReport  `json:"paths,omitempty"`
	Heatmap   *priority.Heatmap       `json:"heatmap,omitempty"`
	Ranking   []priority.ServiceScore `json:"ranking,omitempty"`
	Anomalies []anomaly.Anomaly       `json:"anomalies,omitempty"`

	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`

	CompletedAt time.Time `json:"completed_at,omitempty"`
	Duration    float64   `json:"duration_seconds,omitempty"`
}
