package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-console/internal/events"
	"github.com/JakeFAU/crawl-console/internal/store"
)

// StoreSink records session history through a store.RunRepository.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies the batch in order and returns the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []events.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.consumeEvent(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) consumeEvent(ctx context.Context, evt events.Event) error {
	switch evt.Stage {
	case events.StageJobCreated:
		run := store.Run{
			SessionID:  evt.SessionID,
			MonitorID:  evt.MonitorID,
			ConfigCode: evt.ConfigCode,
			JobID:      evt.JobID,
			JobType:    evt.JobType,
			TestRun:    evt.TestRun,
			StartedAt:  evt.TS,
		}
		if err := s.repo.UpsertRunStart(ctx, run); err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
	case events.StageJobFinished:
		return s.complete(ctx, evt, store.RunFinished)
	case events.StageJobFailed:
		return s.complete(ctx, evt, store.RunFailed)
	case events.StagePollFailed:
		return s.complete(ctx, evt, store.RunPollError)
	case events.StageActivated:
		err := s.repo.MarkActivated(ctx, evt.SessionID, evt.TS)
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Debug("activation for a session without run history", zap.String("session_id", evt.SessionID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("mark run activated: %w", err)
		}
	case events.StageSessionClosed:
		if err := s.repo.AbandonRun(ctx, evt.SessionID, evt.TS); err != nil {
			return fmt.Errorf("abandon run: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) complete(ctx context.Context, evt events.Event, status store.RunStatus) error {
	var note *string
	if evt.Note != "" {
		msg := evt.Note
		note = &msg
	}
	if err := s.repo.CompleteRun(ctx, evt.SessionID, evt.TS, status, evt.ErrorCount, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
