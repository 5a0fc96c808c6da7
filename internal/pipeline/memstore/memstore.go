// Package memstore provides an in-memory implementation of pipeline.Store.
package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/linnemanlabs/quell/internal/pipeline"
)

// Store holds analysis runs in memory. Suitable for dev/testing.
type Store struct {
	mu    sync.RWMutex
	runs  map[string]*pipeline.Run
	order []string // insertion order, newest last
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{runs: make(map[string]*pipeline.Run)}
}

// Get retrieves a run by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*pipeline.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

// Put stores a copy of the run.
func (s *Store) Put(_ context.Context, r *pipeline.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[r.ID]; !exists {
		s.order = append(s.order, r.ID)
	}
	cp := *r
	s.runs[r.ID] = &cp
	return nil
}

// List returns up to limit runs, newest first. A non-positive limit
// returns everything.
func (s *Store) List(_ context.Context, limit int) ([]*pipeline.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := slices.Clone(s.order)
	slices.Reverse(ids)
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	out := make([]*pipeline.Run, 0, len(ids))
	for _, id := range ids {
		cp := *s.runs[id]
		out = append(out, &cp)
	}
	return out, nil
}
