// Package memory provides an in-process stand-in for the crawl backend, used for
// local development (backend.mode=memory) and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/crawl-console/internal/jobs"
)

// Backend implements jobs.Gateway and jobs.ConfigStore in memory.
//
// With AutoAdvance enabled every GetJob call moves a job one step along
// Created -> Running -> Finished; configurations without a start URL fail instead
// of finishing, which mirrors what a real test run reports for a broken config.
type Backend struct {
	mu          sync.RWMutex
	nextID      int64
	jobs        map[int64]jobs.Job
	errors      map[int64][]jobs.JobError
	configs     map[string]jobs.Configuration
	autoAdvance bool
	now         func() time.Time

	updates int
}

// Option customizes a Backend.
type Option func(*Backend)

// WithAutoAdvance toggles per-fetch job progression.
func WithAutoAdvance(enabled bool) Option {
	return func(b *Backend) { b.autoAdvance = enabled }
}

// WithClock overrides the time source used for job timestamps.
func WithClock(clock jobs.Clock) Option {
	return func(b *Backend) {
		if clock != nil {
			b.now = clock.Now
		}
	}
}

// New constructs a Backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		jobs:    make(map[int64]jobs.Job),
		errors:  make(map[int64][]jobs.JobError),
		configs: make(map[string]jobs.Configuration),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PutConfig seeds or replaces a configuration.
func (b *Backend) PutConfig(cfg jobs.Configuration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configs[cfg.Code] = cfg
}

// CreateJob stores a new job in Created status.
func (b *Backend) CreateJob(_ context.Context, req jobs.CreateRequest) (jobs.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if req.Type == "" {
		return jobs.Job{}, errors.New("job type is required")
	}
	if req.Type == jobs.JobTypeCrawl {
		if _, ok := b.configs[req.ConfigCode]; !ok {
			return jobs.Job{}, fmt.Errorf("config %q: %w", req.ConfigCode, jobs.ErrNotFound)
		}
	}
	b.nextID++
	now := b.now()
	job := jobs.Job{
		ID:          b.nextID,
		Type:        req.Type,
		Status:      jobs.StatusCreated,
		TestRun:     req.TestRun,
		ConfigCode:  req.ConfigCode,
		WebsiteCode: req.WebsiteCode,
		Parameters:  req.Parameters,
		Created:     jobs.NewTimestamp(now),
	}
	b.jobs[job.ID] = job
	return job, nil
}

// GetJob fetches a job by ID, advancing it first when auto-advance is enabled.
func (b *Backend) GetJob(_ context.Context, jobID int64) (jobs.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[jobID]
	if !ok {
		return jobs.Job{}, fmt.Errorf("job %d: %w", jobID, jobs.ErrNotFound)
	}
	if b.autoAdvance && !job.Status.Terminal() {
		job = b.advanceLocked(job)
	}
	return job, nil
}

// JobErrors returns the recorded errors for a job.
func (b *Backend) JobErrors(_ context.Context, jobID int64) ([]jobs.JobError, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.jobs[jobID]; !ok {
		return nil, fmt.Errorf("job %d: %w", jobID, jobs.ErrNotFound)
	}
	errs := b.errors[jobID]
	out := make([]jobs.JobError, len(errs))
	copy(out, errs)
	return out, nil
}

// SetStatus moves a job to the given status, recording timestamps and error text.
func (b *Backend) SetStatus(jobID int64, status jobs.Status, errText string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %d: %w", jobID, jobs.ErrNotFound)
	}
	b.setStatusLocked(&job, status, errText)
	b.jobs[jobID] = job
	return nil
}

// RecordError appends a JobError row for a job.
func (b *Backend) RecordError(jobID int64, message, category, source string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %d: %w", jobID, jobs.ErrNotFound)
	}
	b.errors[jobID] = append(b.errors[jobID], jobs.JobError{
		ID:       int64(len(b.errors[jobID]) + 1),
		JobID:    jobID,
		Message:  message,
		Category: category,
		Source:   source,
		JobType:  job.Type,
		Created:  jobs.NewTimestamp(b.now()),
	})
	return nil
}

// GetConfig loads a configuration by code.
func (b *Backend) GetConfig(_ context.Context, code string) (jobs.Configuration, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cfg, ok := b.configs[code]
	if !ok {
		return jobs.Configuration{}, fmt.Errorf("config %q: %w", code, jobs.ErrNotFound)
	}
	return cfg, nil
}

// UpdateConfig replaces the stored configuration with the provided record.
func (b *Backend) UpdateConfig(_ context.Context, code string, cfg jobs.Configuration) (jobs.Configuration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.configs[code]; !ok {
		return jobs.Configuration{}, fmt.Errorf("config %q: %w", code, jobs.ErrNotFound)
	}
	cfg.Code = code
	cfg.Modified = jobs.NewTimestamp(b.now())
	b.configs[code] = cfg
	b.updates++
	return cfg, nil
}

// Updates reports how many configuration updates were applied.
func (b *Backend) Updates() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updates
}

func (b *Backend) advanceLocked(job jobs.Job) jobs.Job {
	switch job.Status {
	case jobs.StatusCreated:
		b.setStatusLocked(&job, jobs.StatusRunning, "")
	case jobs.StatusRunning:
		cfg, ok := b.configs[job.ConfigCode]
		if job.Type == jobs.JobTypeCrawl && (!ok || cfg.StartURL == "") {
			b.setStatusLocked(&job, jobs.StatusFailed, "start url is not configured")
		} else {
			b.setStatusLocked(&job, jobs.StatusFinished, "")
		}
	}
	b.jobs[job.ID] = job
	return job
}

func (b *Backend) setStatusLocked(job *jobs.Job, status jobs.Status, errText string) {
	now := b.now()
	job.Status = status
	job.ErrorMessage = errText
	if status == jobs.StatusRunning && job.StartedAt == nil {
		job.StartedAt = jobs.NewTimestamp(now)
	}
	if status.Terminal() {
		if job.StartedAt == nil {
			job.StartedAt = jobs.NewTimestamp(now)
		}
		job.FinishedAt = jobs.NewTimestamp(now)
	}
}
