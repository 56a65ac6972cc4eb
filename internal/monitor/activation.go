package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-console/internal/jobs"
	"github.com/JakeFAU/crawl-console/internal/metrics"
)

var (
	// ErrNotEligible is returned when activation is requested without a finished
	// test run for an inactive configuration. No store call is made.
	ErrNotEligible = errors.New("configuration is not eligible for activation")
	// ErrActivationFailed wraps configuration store failures during activation.
	ErrActivationFailed = errors.New("configuration activation failed")
)

// Activation announces that a configuration became active.
type Activation struct {
	ConfigCode string             `json:"config_code"`
	JobID      int64              `json:"job_id"`
	SessionID  string             `json:"session_id"`
	At         time.Time          `json:"at"`
	Config     jobs.Configuration `json:"config"`
}

// CanActivate reports whether cfg may be activated on the strength of job. Only a
// finished crawl test run for an inactive configuration qualifies.
func CanActivate(job jobs.Job, cfg jobs.Configuration, isTestRun bool) bool {
	if job.ConfigCode != "" && cfg.Code != "" && job.ConfigCode != cfg.Code {
		return false
	}
	return canActivate(job, isTestRun, cfg.Active)
}

func canActivate(job jobs.Job, isTestRun, configActive bool) bool {
	if job.Type != "" && job.Type != jobs.JobTypeCrawl {
		return false
	}
	return job.Status == jobs.StatusFinished && isTestRun && !configActive
}

// Gate performs the single write-back the monitor is allowed: flipping a
// configuration's active flag after a successful test run.
type Gate struct {
	store    jobs.ConfigStore
	notifier *Notifier
	clock    jobs.Clock
	logger   *zap.Logger
}

// NewGate constructs a Gate. notifier may be nil when nobody listens.
func NewGate(store jobs.ConfigStore, notifier *Notifier, clock jobs.Clock, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		store:    store,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
	}
}

// Notifier returns the channel activations are broadcast on.
func (g *Gate) Notifier() *Notifier {
	return g.notifier
}

// Activate rechecks eligibility, then replaces the configuration record with a
// copy whose active flag is set. The rest of the record is the caller's last known
// snapshot. Successful activations are broadcast to subscribers.
func (g *Gate) Activate(
	ctx context.Context,
	sessionID string,
	job jobs.Job,
	cfg jobs.Configuration,
	isTestRun bool,
) (Activation, error) {
	if !CanActivate(job, cfg, isTestRun) {
		return Activation{}, fmt.Errorf(
			"activate %q (job %d, status %q, test run %t, active %t): %w",
			cfg.Code, job.ID, job.Status, isTestRun, cfg.Active, ErrNotEligible,
		)
	}

	desired := cfg
	desired.Active = true
	updated, err := g.store.UpdateConfig(ctx, cfg.Code, desired)
	metrics.ObserveBackendCall("update_config", err)
	if err != nil {
		g.logger.Warn("configuration activation failed",
			zap.String("config_code", cfg.Code),
			zap.Int64("job_id", job.ID),
			zap.Error(err),
		)
		return Activation{}, fmt.Errorf("%w: %w", ErrActivationFailed, err)
	}
	// Stores that answer with an empty body echo the request; keep the flag set.
	updated.Active = true

	activation := Activation{
		ConfigCode: cfg.Code,
		JobID:      job.ID,
		SessionID:  sessionID,
		At:         g.now(),
		Config:     updated,
	}
	g.logger.Info("configuration activated",
		zap.String("config_code", cfg.Code),
		zap.Int64("job_id", job.ID),
		zap.String("session_id", sessionID),
	)
	g.notifier.Publish(activation)
	return activation, nil
}

func (g *Gate) now() time.Time {
	if g.clock == nil {
		return time.Now().UTC()
	}
	return g.clock.Now()
}
