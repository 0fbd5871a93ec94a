package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/order-intake/internal/jobs"
)

// Store is an in-memory implementation of RunStore.
// It is safe for concurrent use. History is lost on restart.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*jobs.Run
	max  int
}

// NewStore creates a run store keeping at most max runs (0 = unbounded).
// The oldest runs are evicted first.
func NewStore(max int) *Store {
	return &Store{
		runs: make(map[string]*jobs.Run),
		max:  max,
	}
}

// SaveRun implements the RunStore interface.
func (s *Store) SaveRun(ctx context.Context, run *jobs.Run) error {
	if run.RunID == "" {
		return fmt.Errorf("SaveRun: run ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external modifications
	runCopy := *run
	s.runs[run.RunID] = &runCopy

	if s.max > 0 && len(s.runs) > s.max {
		s.evictOldest()
	}
	return nil
}

// GetRun implements the RunStore interface.
func (s *Store) GetRun(ctx context.Context, runID string) (*jobs.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return nil, fmt.Errorf("GetRun: %s: %w", runID, jobs.ErrRunNotFound)
	}

	runCopy := *run
	return &runCopy, nil
}

// ListRuns implements the RunStore interface.
func (s *Store) ListRuns(ctx context.Context, filter jobs.RunFilter) ([]*jobs.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*jobs.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		runCopy := *run
		result = append(result, &runCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	// Apply limit and offset
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.Run{}, nil
		}
		result = result[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

func (s *Store) evictOldest() {
	var oldest *jobs.Run
	for _, run := range s.runs {
		if oldest == nil || run.CreatedAt.Before(oldest.CreatedAt) {
			oldest = run
		}
	}
	if oldest != nil {
		delete(s.runs, oldest.RunID)
	}
}

// Ensure Store implements RunStore interface.
var _ jobs.RunStore = (*Store)(nil)
