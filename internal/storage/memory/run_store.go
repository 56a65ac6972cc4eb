package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/crawl-console/internal/store"
)

// RunStore provides an in-memory store.RunRepository for development/testing.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]store.Run
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]store.Run)}
}

// UpsertRunStart stores a new run in running status.
func (s *RunStore) UpsertRunStart(_ context.Context, run store.Run) error {
	if run.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.runs[run.SessionID]; ok {
		if existing.Status == store.RunRunning {
			existing.JobID = run.JobID
			s.runs[run.SessionID] = existing
		}
		return nil
	}
	run.Status = store.RunRunning
	run.FinishedAt = nil
	s.runs[run.SessionID] = run
	return nil
}

// CompleteRun records the first terminal outcome of a run.
func (s *RunStore) CompleteRun(
	_ context.Context,
	sessionID string,
	finishedAt time.Time,
	status store.RunStatus,
	errorCount int,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[sessionID]
	if !ok || run.FinishedAt != nil {
		return nil
	}
	run.Status = status
	run.FinishedAt = pointerTime(finishedAt)
	run.ErrorCount = errorCount
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[sessionID] = run
	return nil
}

// MarkActivated stamps the activation time.
func (s *RunStore) MarkActivated(_ context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[sessionID]
	if !ok {
		return fmt.Errorf("mark run %s activated: %w", sessionID, store.ErrNotFound)
	}
	run.ActivatedAt = pointerTime(at)
	s.runs[sessionID] = run
	return nil
}

// AbandonRun closes out a run that is still running.
func (s *RunStore) AbandonRun(_ context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[sessionID]
	if !ok || run.Status != store.RunRunning {
		return nil
	}
	run.Status = store.RunAbandoned
	run.FinishedAt = pointerTime(at)
	s.runs[sessionID] = run
	return nil
}

// GetRun fetches a run by session id.
func (s *RunStore) GetRun(_ context.Context, sessionID string) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[sessionID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns matching runs newest first.
func (s *RunStore) ListRuns(_ context.Context, filter store.RunFilter, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.ConfigCode != "" && run.ConfigCode != filter.ConfigCode {
			continue
		}
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SessionID > out[j].SessionID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if offset >= len(out) {
		return []store.Run{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
