package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-console/internal/jobs"
)

// ErrMonitorNotFound is returned for unknown monitor ids.
var ErrMonitorNotFound = errors.New("monitor not found")

// Registry holds independent monitors, one per open console view. Monitors share
// the gateway, the gate and its notifier, but no session state.
type Registry struct {
	gateway jobs.Gateway
	gate    *Gate
	opts    Options
	logger  *zap.Logger

	mu       sync.RWMutex
	monitors map[string]*Monitor
}

// NewRegistry constructs an empty Registry. opts is the template for every
// monitor; its ID is ignored.
func NewRegistry(gateway jobs.Gateway, gate *Gate, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.IDs == nil {
		opts.IDs = localIDs
	}
	return &Registry{
		gateway:  gateway,
		gate:     gate,
		opts:     opts,
		logger:   logger,
		monitors: make(map[string]*Monitor),
	}
}

// Create adds a new idle monitor.
func (r *Registry) Create() (*Monitor, error) {
	id, err := r.opts.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("new monitor id: %w", err)
	}
	opts := r.opts
	opts.ID = id
	m := New(r.gateway, r.gate, opts)

	r.mu.Lock()
	r.monitors[id] = m
	r.mu.Unlock()
	r.logger.Debug("monitor created", zap.String("monitor_id", id))
	return m, nil
}

// Get looks up a monitor by id.
func (r *Registry) Get(id string) (*Monitor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.monitors[id]
	if !ok {
		return nil, fmt.Errorf("monitor %q: %w", id, ErrMonitorNotFound)
	}
	return m, nil
}

// Remove tears a monitor down and forgets it.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	m, ok := r.monitors[id]
	delete(r.monitors, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("monitor %q: %w", id, ErrMonitorNotFound)
	}
	if err := m.Dispose(ctx); err != nil {
		return fmt.Errorf("dispose monitor %q: %w", id, err)
	}
	return nil
}

// List returns snapshots of every monitor ordered by id.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	monitors := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		monitors = append(monitors, m)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(monitors))
	for _, m := range monitors {
		out = append(out, m.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MonitorID < out[j].MonitorID })
	return out
}

// Shutdown disposes every monitor, stopping all poll loops.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	monitors := r.monitors
	r.monitors = make(map[string]*Monitor)
	r.mu.Unlock()

	var errs []error
	for id, m := range monitors {
		if err := m.Dispose(ctx); err != nil {
			errs = append(errs, fmt.Errorf("dispose monitor %q: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
