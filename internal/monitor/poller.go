// Package monitor drives one backend job from creation to a terminal status and
// guards the configuration activation that a successful test run unlocks.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-console/internal/jobs"
	"github.com/JakeFAU/crawl-console/internal/metrics"
)

// DefaultPollInterval matches the cadence operators are used to from the console.
const DefaultPollInterval = time.Second

// ErrPollerActive is returned by Start while a previous loop is still alive.
var ErrPollerActive = errors.New("poll loop already active")

// Observer receives poll results. Calls are made from the loop goroutine, one at a
// time and in the order the fetches completed.
type Observer interface {
	// JobObserved delivers every successfully fetched job record.
	JobObserved(job jobs.Job)
	// JobErrorsObserved follows a Failed observation with the result of the
	// single error fetch.
	JobErrorsObserved(job jobs.Job, errs []jobs.JobError, err error)
	// PollFailed reports a failed status fetch. The loop has stopped.
	PollFailed(err error)
}

// Poller owns at most one poll loop at a time.
type Poller struct {
	gateway  jobs.Gateway
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller constructs a Poller. A non-positive interval selects DefaultPollInterval.
func NewPoller(gateway jobs.Gateway, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		gateway:  gateway,
		interval: interval,
		logger:   logger,
	}
}

// Start begins polling jobID. The loop ends when the job turns terminal, a fetch
// fails, Stop is called or ctx is cancelled.
func (p *Poller) Start(ctx context.Context, jobID int64, obs Observer) error {
	if obs == nil {
		return errors.New("poll observer is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.activeLocked() {
		return fmt.Errorf("start job %d: %w", jobID, ErrPollerActive)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	go p.run(loopCtx, done, jobID, obs)
	return nil
}

// Stop cancels the current loop. It is safe to call at any time and more than once.
// A fetch already in flight may complete, but its result is not delivered.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

// Wait blocks until the current loop goroutine has exited.
func (p *Poller) Wait(ctx context.Context) error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for poll loop: %w", ctx.Err())
	}
}

// Active reports whether a loop is currently alive.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeLocked()
}

func (p *Poller) activeLocked() bool {
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *Poller) run(ctx context.Context, done chan struct{}, jobID int64, obs Observer) {
	defer close(done)
	logger := p.logger.With(zap.Int64("job_id", jobID))
	logger.Debug("poll loop started", zap.Duration("interval", p.interval))
	defer logger.Debug("poll loop stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// select picks randomly when a tick and the stop are both ready.
		if ctx.Err() != nil {
			return
		}
		if p.tick(ctx, logger, jobID, obs) {
			return
		}
	}
}

// tick performs one fetch and reports whether the loop must end.
func (p *Poller) tick(ctx context.Context, logger *zap.Logger, jobID int64, obs Observer) bool {
	start := time.Now()
	job, err := p.gateway.GetJob(ctx, jobID)
	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		metrics.ObservePoll("", metrics.PollError, time.Since(start))
		logger.Warn("job status fetch failed", zap.Error(err))
		obs.PollFailed(err)
		return true
	}
	metrics.ObservePoll(string(job.Type), metrics.PollOK, time.Since(start))
	obs.JobObserved(job)

	switch job.Status {
	case jobs.StatusFinished:
		return true
	case jobs.StatusFailed:
		errs, errsErr := p.gateway.JobErrors(ctx, jobID)
		metrics.ObserveBackendCall("job_errors", errsErr)
		if ctx.Err() != nil {
			return true
		}
		if errsErr != nil {
			logger.Warn("job errors fetch failed", zap.Error(errsErr))
		}
		obs.JobErrorsObserved(job, errs, errsErr)
		return true
	default:
		return false
	}
}
