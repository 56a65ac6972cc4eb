package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the monitor_runs status column.
type RunStatus string

// Run statuses persisted in monitor_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunFinished  RunStatus = "finished"
	RunFailed    RunStatus = "failed"
	RunPollError RunStatus = "poll_error"
	RunAbandoned RunStatus = "abandoned"
)

// ParseRunStatus validates a status filter supplied by a caller.
func ParseRunStatus(raw string) (RunStatus, bool) {
	switch RunStatus(raw) {
	case RunRunning, RunFinished, RunFailed, RunPollError, RunAbandoned:
		return RunStatus(raw), true
	default:
		return "", false
	}
}

// Run is one monitor session as recorded for audit. The monitor never reads it
// back; it exists for operators.
type Run struct {
	// SessionID is the UUIDv7 of the monitor session and the primary key.
	SessionID string `json:"session_id"`
	// MonitorID names the monitor that owned the session.
	MonitorID string `json:"monitor_id"`
	// ConfigCode is the configuration the job ran against.
	ConfigCode string `json:"config_code"`
	// JobID is the backend job id.
	JobID int64 `json:"job_id"`
	// JobType is CRAWL, PRODUCT_MAPPING or PRODUCT_CLEANUP.
	JobType string `json:"job_type"`
	// TestRun distinguishes dry runs.
	TestRun bool `json:"test_run"`
	// Status is the session outcome.
	Status RunStatus `json:"status"`
	// StartedAt is when the job was created.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is nil until the session reaches a terminal observation.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// ErrorCount is the number of job errors shown to the operator.
	ErrorCount int `json:"error_count"`
	// ErrorMessage optionally stores the failure reason.
	ErrorMessage *string `json:"error_message,omitempty"`
	// ActivatedAt is set when the session activated its configuration.
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	ConfigCode string
	Status     *RunStatus
}

// RunRepository persists monitor session history.
type RunRepository interface {
	// UpsertRunStart inserts the run or refreshes its job details.
	UpsertRunStart(ctx context.Context, run Run) error
	// CompleteRun records the terminal outcome of a run.
	CompleteRun(
		ctx context.Context,
		sessionID string,
		finishedAt time.Time,
		status RunStatus,
		errorCount int,
		errMsg *string,
	) error
	// MarkActivated stamps the activation time on a run.
	MarkActivated(ctx context.Context, sessionID string, at time.Time) error
	// AbandonRun marks a still-running run as abandoned when its session closes early.
	AbandonRun(ctx context.Context, sessionID string, at time.Time) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, sessionID string) (Run, error)
	// ListRuns returns runs newest first, filtered, with limit/offset paging.
	ListRuns(ctx context.Context, filter RunFilter, limit, offset int) ([]Run, error)
}
