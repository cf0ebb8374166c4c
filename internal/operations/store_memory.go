package operations

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "sitehazard/internal/errors"
)

// MemoryRunStore is an in-memory implementation of RunStore
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemoryRunStore creates a new in-memory run store
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*Run)}
}

// CreateRun stores a new run
func (s *MemoryRunStore) CreateRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return apperrors.NewAppValidationError(fmt.Sprintf("run %s already exists", run.ID))
	}

	s.runs[run.ID] = run.Clone()
	return nil
}

// GetRun retrieves a run by ID
func (s *MemoryRunStore) GetRun(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, apperrors.NewNotFoundError("run " + id)
	}
	return run.Clone(), nil
}

// UpdateRun replaces an existing run
func (s *MemoryRunStore) UpdateRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; !exists {
		return apperrors.NewNotFoundError("run " + run.ID)
	}

	s.runs[run.ID] = run.Clone()
	return nil
}

// ListRuns returns runs matching the filter, newest first
func (s *MemoryRunStore) ListRuns(_ context.Context, filter RunFilter) ([]*Run, error) {
	s.mu.RLock()
	result := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.matches(run) {
			result = append(result, run.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// DeleteRun removes a run from the store
func (s *MemoryRunStore) DeleteRun(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[id]; !exists {
		return apperrors.NewNotFoundError("run " + id)
	}

	delete(s.runs, id)
	return nil
}

// CleanupOldRuns removes terminal runs older than the specified duration
func (s *MemoryRunStore) CleanupOldRuns(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	deleted := 0

	for id, run := range s.runs {
		if run.Status.Terminal() && run.CreatedAt.Before(cutoff) {
			delete(s.runs, id)
			deleted++
		}
	}

	return deleted, nil
}

// GetStats returns run counts by status
func (s *MemoryRunStore) GetStats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]int{
		"total_runs":               len(s.runs),
		string(RunStatusPending):   0,
		string(RunStatusRunning):   0,
		string(RunStatusCompleted): 0,
		string(RunStatusFailed):    0,
		string(RunStatusCancelled): 0,
	}
	for _, run := range s.runs {
		stats[string(run.Status)]++
	}
	return stats
}
