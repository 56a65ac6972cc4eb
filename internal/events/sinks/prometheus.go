package sinks

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/crawl-console/internal/events"
)

// PrometheusSink exports session, job and activation metrics derived from the
// monitor event stream.
type PrometheusSink struct {
	sessionsOpened prometheus.Counter
	sessionsLive   prometheus.Gauge
	jobsCreated    *prometheus.CounterVec
	jobsCompleted  *prometheus.CounterVec
	jobRuntime     *prometheus.HistogramVec
	activations    *prometheus.CounterVec

	tracker *sessionTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "console_sessions_opened_total",
			Help: "Monitor sessions opened.",
		}),
		sessionsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "console_sessions_live",
			Help: "Monitor sessions opened and not yet closed.",
		}),
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_jobs_created_total",
			Help: "Backend jobs created partitioned by type and run kind.",
		}, []string{"job_type", "test_run"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_jobs_completed_total",
			Help: "Monitored jobs reaching a terminal observation partitioned by result.",
		}, []string{"result", "test_run"}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "console_job_runtime_seconds",
			Help:    "Backend runtime of monitored jobs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"result"}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_activations_total",
			Help: "Configuration activation attempts partitioned by result.",
		}, []string{"result"}),
		tracker: newSessionTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.sessionsOpened,
		s.sessionsLive,
		s.jobsCreated,
		s.jobsCompleted,
		s.jobRuntime,
		s.activations,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register monitor event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt events.Event) {
	testRun := strconv.FormatBool(evt.TestRun)
	switch evt.Stage {
	case events.StageSessionOpened:
		s.sessionsOpened.Inc()
		if s.tracker.open(evt.SessionID) {
			s.sessionsLive.Inc()
		}
	case events.StageSessionClosed:
		if s.tracker.close(evt.SessionID) {
			s.sessionsLive.Dec()
		}
	case events.StageJobCreated:
		s.jobsCreated.WithLabelValues(jobTypeLabel(evt.JobType), testRun).Inc()
	case events.StageJobFinished:
		s.completed(evt, "finished", testRun)
	case events.StageJobFailed:
		s.completed(evt, "failed", testRun)
	case events.StagePollFailed:
		s.completed(evt, "poll_error", testRun)
	case events.StageActivated:
		s.activations.WithLabelValues("success").Inc()
	case events.StageActivationFailed:
		s.activations.WithLabelValues("error").Inc()
	}
}

func (s *PrometheusSink) completed(evt events.Event, result, testRun string) {
	s.jobsCompleted.WithLabelValues(result, testRun).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

func jobTypeLabel(jobType string) string {
	if jobType == "" {
		return "unknown"
	}
	return jobType
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type sessionTracker struct {
	mu   sync.Mutex
	live map[string]struct{}
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{live: make(map[string]struct{})}
}

func (t *sessionTracker) open(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.live[id]; ok {
		return false
	}
	t.live[id] = struct{}{}
	return true
}

func (t *sessionTracker) close(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.live[id]; !ok {
		return false
	}
	delete(t.live, id)
	return true
}
