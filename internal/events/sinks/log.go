package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-console/internal/events"
)

// LogSink writes monitor events as structured logs. Job observations are logged
// at debug level since they arrive once per poll.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("session_id", evt.SessionID),
			zap.String("monitor_id", evt.MonitorID),
			zap.String("stage", string(evt.Stage)),
			zap.String("config_code", evt.ConfigCode),
			zap.Int64("job_id", evt.JobID),
			zap.String("job_type", evt.JobType),
			zap.Bool("test_run", evt.TestRun),
			zap.String("status", evt.Status),
		}
		if evt.ErrorCount > 0 {
			fields = append(fields, zap.Int("error_count", evt.ErrorCount))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case events.StageJobObserved:
			s.logger.Debug("monitor event", fields...)
		case events.StageCreateFailed, events.StagePollFailed, events.StageActivationFailed:
			s.logger.Warn("monitor event", fields...)
		default:
			s.logger.Info("monitor event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
