package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-console/internal/events"
	"github.com/JakeFAU/crawl-console/internal/jobs"
)

const maxTimelineEvents = 256

// RunReport is the archived summary of one monitored job.
type RunReport struct {
	SessionID   string         `json:"session_id"`
	MonitorID   string         `json:"monitor_id,omitempty"`
	ConfigCode  string         `json:"config_code"`
	JobID       int64          `json:"job_id"`
	JobType     string         `json:"job_type"`
	TestRun     bool           `json:"test_run"`
	Result      string         `json:"result"`
	Status      string         `json:"status,omitempty"`
	ErrorCount  int            `json:"error_count"`
	Note        string         `json:"note,omitempty"`
	RuntimeSecs float64        `json:"runtime_seconds,omitempty"`
	CompletedAt time.Time      `json:"completed_at"`
	ActivatedAt *time.Time     `json:"activated_at,omitempty"`
	Timeline    []events.Event `json:"timeline"`
}

// ArchiveSink writes a JSON RunReport per terminal job to a jobs.BlobStore under
// prefix/<config_code>/<session_id>.json. Activation after completion rewrites
// the report with the activation time.
type ArchiveSink struct {
	blob   jobs.BlobStore
	prefix string
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*archiveState
}

type archiveState struct {
	timeline   []events.Event
	lastStatus string
	report     *RunReport
}

// NewArchiveSink constructs an ArchiveSink.
func NewArchiveSink(blob jobs.BlobStore, prefix string, logger *zap.Logger) *ArchiveSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveSink{
		blob:     blob,
		prefix:   prefix,
		logger:   logger,
		sessions: make(map[string]*archiveState),
	}
}

// ReportPath returns the object path for a session's report.
func (s *ArchiveSink) ReportPath(configCode, sessionID string) string {
	return path.Join(s.prefix, configCode, sessionID+".json")
}

// Consume folds the batch into per-session timelines and uploads reports for
// sessions that reached a terminal observation.
func (s *ArchiveSink) Consume(ctx context.Context, batch []events.Event) error {
	if s == nil || s.blob == nil {
		return nil
	}
	var pending []RunReport
	s.mu.Lock()
	for _, evt := range batch {
		if report := s.record(evt); report != nil {
			pending = append(pending, *report)
		}
	}
	s.mu.Unlock()

	for _, report := range pending {
		if err := s.upload(ctx, report); err != nil {
			return err
		}
	}
	return nil
}

// record must be called with s.mu held. It returns a report to upload, if any.
func (s *ArchiveSink) record(evt events.Event) *RunReport {
	st := s.sessions[evt.SessionID]
	if evt.Stage == events.StageSessionClosed {
		delete(s.sessions, evt.SessionID)
		return nil
	}
	if st == nil {
		st = &archiveState{}
		s.sessions[evt.SessionID] = st
	}
	if evt.Stage == events.StageJobObserved {
		if evt.Status == st.lastStatus {
			return nil
		}
		st.lastStatus = evt.Status
	}
	if len(st.timeline) < maxTimelineEvents {
		st.timeline = append(st.timeline, evt)
	}

	switch {
	case evt.Terminal() && st.report == nil:
		st.report = &RunReport{
			SessionID:   evt.SessionID,
			MonitorID:   evt.MonitorID,
			ConfigCode:  evt.ConfigCode,
			JobID:       evt.JobID,
			JobType:     evt.JobType,
			TestRun:     evt.TestRun,
			Result:      resultFor(evt.Stage),
			Status:      evt.Status,
			ErrorCount:  evt.ErrorCount,
			Note:        evt.Note,
			RuntimeSecs: evt.Dur.Seconds(),
			CompletedAt: evt.TS,
		}
	case evt.Stage == events.StageActivated && st.report != nil:
		at := evt.TS
		st.report.ActivatedAt = &at
	default:
		return nil
	}
	report := *st.report
	report.Timeline = append([]events.Event(nil), st.timeline...)
	return &report
}

func (s *ArchiveSink) upload(ctx context.Context, report RunReport) error {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run report: %w", err)
	}
	objectPath := s.ReportPath(report.ConfigCode, report.SessionID)
	uri, err := s.blob.PutObject(ctx, objectPath, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("archive run report %s: %w", objectPath, err)
	}
	s.logger.Info("archived run report",
		zap.String("session_id", report.SessionID),
		zap.String("result", report.Result),
		zap.String("uri", uri),
	)
	return nil
}

func resultFor(stage events.Stage) string {
	switch stage {
	case events.StageJobFinished:
		return "finished"
	case events.StageJobFailed:
		return "failed"
	default:
		return "poll_error"
	}
}

// Close drops buffered timelines.
func (s *ArchiveSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*archiveState)
	return nil
}
