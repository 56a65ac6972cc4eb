package events

import (
	"errors"
	"fmt"
	"time"
)

// Stage names the monitor milestone an Event records.
type Stage string

// Supported lifecycle stages.
const (
	StageSessionOpened    Stage = "SESSION_OPENED"
	StageJobCreated       Stage = "JOB_CREATED"
	StageCreateFailed     Stage = "JOB_CREATE_FAILED"
	StageJobObserved      Stage = "JOB_OBSERVED"
	StageJobFinished      Stage = "JOB_FINISHED"
	StageJobFailed        Stage = "JOB_FAILED"
	StagePollFailed       Stage = "POLL_FAILED"
	StageActivated        Stage = "CONFIG_ACTIVATED"
	StageActivationFailed Stage = "ACTIVATION_FAILED"
	StageSessionClosed    Stage = "SESSION_CLOSED"
)

// Event captures one step of a monitor session.
type Event struct {
	// SessionID is the UUIDv7 of the monitor session.
	SessionID string `json:"session_id"`
	// MonitorID names the monitor instance that owns the session.
	MonitorID string `json:"monitor_id,omitempty"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Stage denotes which milestone occurred.
	Stage Stage `json:"stage"`
	// ConfigCode is the crawler configuration the session targets.
	ConfigCode string `json:"config_code,omitempty"`
	// JobID is the backend job id, zero before creation.
	JobID int64 `json:"job_id,omitempty"`
	// JobType is CRAWL, PRODUCT_MAPPING or PRODUCT_CLEANUP.
	JobType string `json:"job_type,omitempty"`
	// TestRun distinguishes dry runs from full runs.
	TestRun bool `json:"test_run"`
	// Status is the backend job status at the time of the event.
	Status string `json:"status,omitempty"`
	// ErrorCount is the size of the settled error collection for failed jobs.
	ErrorCount int `json:"error_count,omitempty"`
	// Dur is the backend runtime for terminal jobs.
	Dur time.Duration `json:"dur,omitempty"`
	// Note carries low-volume context such as an error message.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SessionID == "" {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSessionOpened, StageCreateFailed, StageSessionClosed:
	case StageJobCreated, StageJobObserved, StageJobFinished, StageJobFailed, StagePollFailed:
		if e.JobID == 0 {
			return fmt.Errorf("%s requires a job id", e.Stage)
		}
	case StageActivated, StageActivationFailed:
		if e.ConfigCode == "" {
			return fmt.Errorf("%s requires a config code", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes out a job.
func (e Event) Terminal() bool {
	return e.Stage == StageJobFinished || e.Stage == StageJobFailed || e.Stage == StagePollFailed
}
