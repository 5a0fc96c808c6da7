package pipeline

import "context"

// Store is the persistence interface for analysis runs.
type Store interface {
	Get(ctx context.Context, id string) (*Run, bool, error)
	Put(ctx context.Context, run *Run) error
	List(ctx context.Context, limit int) ([]*Run, error)
}
