package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/crawl-console/internal/events"
	"github.com/JakeFAU/crawl-console/internal/jobs"
)

const testInterval = 5 * time.Millisecond

var errBackendDown = errors.New("backend unavailable")

type pollResult struct {
	job jobs.Job
	err error
}

// scriptedGateway replays GetJob results in order; the last one repeats.
type scriptedGateway struct {
	mu        sync.Mutex
	createJob jobs.Job
	createErr error
	creates   []jobs.CreateRequest
	release   chan struct{}
	polls     []pollResult
	gets      int
	errs      []jobs.JobError
	errsErr   error
	errCalls  int
}

func newScriptedGateway(polls ...pollResult) *scriptedGateway {
	return &scriptedGateway{
		createJob: jobs.Job{ID: 42, Type: jobs.JobTypeCrawl, Status: jobs.StatusCreated},
		polls:     polls,
	}
}

func (g *scriptedGateway) CreateJob(ctx context.Context, req jobs.CreateRequest) (jobs.Job, error) {
	g.mu.Lock()
	release := g.release
	g.creates = append(g.creates, req)
	g.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return jobs.Job{}, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return jobs.Job{}, g.createErr
	}
	job := g.createJob
	job.TestRun = req.TestRun
	job.ConfigCode = req.ConfigCode
	job.Type = req.Type
	return job, nil
}

func (g *scriptedGateway) GetJob(_ context.Context, jobID int64) (jobs.Job, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.polls) == 0 {
		return jobs.Job{}, errBackendDown
	}
	idx := g.gets
	if idx >= len(g.polls) {
		idx = len(g.polls) - 1
	}
	g.gets++
	res := g.polls[idx]
	if res.err != nil {
		return jobs.Job{}, res.err
	}
	job := res.job
	if job.ID == 0 {
		job.ID = jobID
	}
	return job, nil
}

func (g *scriptedGateway) JobErrors(context.Context, int64) ([]jobs.JobError, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errCalls++
	return append([]jobs.JobError(nil), g.errs...), g.errsErr
}

func (g *scriptedGateway) Gets() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gets
}

func (g *scriptedGateway) ErrCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.errCalls
}

func (g *scriptedGateway) Creates() []jobs.CreateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]jobs.CreateRequest(nil), g.creates...)
}

func (g *scriptedGateway) SetPolls(polls ...pollResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls = polls
	g.gets = 0
}

func status(s jobs.Status) pollResult {
	return pollResult{job: jobs.Job{Status: s, Type: jobs.JobTypeCrawl, TestRun: true}}
}

func failed(message string) pollResult {
	return pollResult{job: jobs.Job{Status: jobs.StatusFailed, Type: jobs.JobTypeCrawl, ErrorMessage: message}}
}

// fakeStore records configuration updates.
type fakeStore struct {
	mu      sync.Mutex
	updates []jobs.Configuration
	err     error
}

func (s *fakeStore) GetConfig(_ context.Context, code string) (jobs.Configuration, error) {
	return jobs.Configuration{Code: code}, nil
}

func (s *fakeStore) UpdateConfig(_ context.Context, code string, cfg jobs.Configuration) (jobs.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, cfg)
	if s.err != nil {
		return jobs.Configuration{}, s.err
	}
	cfg.Code = code
	return cfg, nil
}

func (s *fakeStore) Updates() []jobs.Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]jobs.Configuration(nil), s.updates...)
}

// recordingEmitter collects emitted events.
type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Stages() []events.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

func (r *recordingEmitter) Has(stage events.Stage) bool {
	for _, s := range r.Stages() {
		if s == stage {
			return true
		}
	}
	return false
}

func sampleConfig() jobs.Configuration {
	return jobs.Configuration{
		Code:     "shop-tv",
		Website:  "shop",
		StartURL: "https://shop.example/tv",
		TitleSel: "h2.title",
		MaxPages: 3,
	}
}

type harness struct {
	gateway  *scriptedGateway
	store    *fakeStore
	notifier *Notifier
	gate     *Gate
	emitter  *recordingEmitter
}

func newHarness(polls ...pollResult) *harness {
	h := &harness{
		gateway:  newScriptedGateway(polls...),
		store:    &fakeStore{},
		notifier: NewNotifier(nil),
		emitter:  &recordingEmitter{},
	}
	h.gate = NewGate(h.store, h.notifier, nil, nil)
	return h
}

func (h *harness) monitor(opts Options) *Monitor {
	opts.PollInterval = testInterval
	opts.Events = h.emitter
	return New(h.gateway, h.gate, opts)
}
