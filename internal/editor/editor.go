// Package editor holds a configuration edit session that stays consistent with
// activations performed by run monitors.
package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-console/internal/jobs"
	"github.com/JakeFAU/crawl-console/internal/monitor"
)

// ErrActivationRequiresTestRun is returned when an edit tries to switch a
// configuration on directly. Only a finished test run may do that.
var ErrActivationRequiresTestRun = errors.New("configuration must be activated via a successful test run")

// ErrClosed is returned by operations on a closed editor.
var ErrClosed = errors.New("editor is closed")

// Editor is an open edit form for one configuration. Local edits are kept until
// Save; an activation of the same configuration elsewhere flips only the active
// flag and leaves pending edits alone.
type Editor struct {
	store  jobs.ConfigStore
	logger *zap.Logger

	mu          sync.Mutex
	cfg         jobs.Configuration
	dirty       bool
	closed      bool
	unsubscribe func()
}

// Open loads code from store and subscribes to notifier.
func Open(ctx context.Context, store jobs.ConfigStore, notifier *monitor.Notifier, code string, logger *zap.Logger) (*Editor, error) {
	if code == "" {
		return nil, errors.New("configuration code is required")
	}
	cfg, err := store.GetConfig(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("load configuration %q: %w", code, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Editor{
		store:  store,
		logger: logger.With(zap.String("config_code", code)),
		cfg:    cfg,
	}
	e.unsubscribe = notifier.Subscribe(e.onActivation)
	return e, nil
}

// Config returns the form state including unsaved edits.
func (e *Editor) Config() jobs.Configuration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Dirty reports whether there are unsaved edits.
func (e *Editor) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty
}

// Edit applies fn to the form state. The code cannot change, and the active flag
// may be cleared but never set.
func (e *Editor) Edit(fn func(*jobs.Configuration)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	next := e.cfg
	fn(&next)
	if next.Code != e.cfg.Code {
		return fmt.Errorf("configuration code cannot change from %q to %q", e.cfg.Code, next.Code)
	}
	if next.Active && !e.cfg.Active {
		return ErrActivationRequiresTestRun
	}
	if next.AutoSchedule && next.AutoScheduleEvery <= 0 {
		next.AutoScheduleEvery = 24
	}
	if !next.AutoSchedule {
		next.AutoScheduleEvery = 0
	}
	e.cfg = next
	e.dirty = true
	return nil
}

// Save replaces the stored record with the form state.
func (e *Editor) Save(ctx context.Context) (jobs.Configuration, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return jobs.Configuration{}, ErrClosed
	}
	cfg := e.cfg
	e.mu.Unlock()

	saved, err := e.store.UpdateConfig(ctx, cfg.Code, cfg)
	if err != nil {
		return jobs.Configuration{}, fmt.Errorf("save configuration %q: %w", cfg.Code, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg == cfg {
		e.cfg = saved
		e.dirty = false
	}
	e.logger.Info("configuration saved")
	return saved, nil
}

// Close detaches the editor from activation notifications. Unsaved edits are
// discarded.
func (e *Editor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	unsubscribe := e.unsubscribe
	e.mu.Unlock()
	unsubscribe()
}

func (e *Editor) onActivation(a monitor.Activation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || a.ConfigCode != e.cfg.Code || e.cfg.Active {
		return
	}
	e.cfg.Active = true
	e.logger.Info("configuration activated by a test run", zap.Int64("job_id", a.JobID))
}
