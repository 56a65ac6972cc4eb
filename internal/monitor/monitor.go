package monitor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-console/internal/events"
	"github.com/JakeFAU/crawl-console/internal/jobs"
	"github.com/JakeFAU/crawl-console/internal/metrics"
)

var (
	// ErrNoSession is returned when an operation needs an open session.
	ErrNoSession = errors.New("no open monitor session")
	// ErrBusy is returned when another caller opened a session concurrently.
	ErrBusy = errors.New("monitor is busy")
)

// ConfirmClosePrompt is asked before abandoning a job that is still in flight.
const ConfirmClosePrompt = "A test run is in progress. Are you sure you want to close?"

// Phase is the lifecycle phase of a Monitor.
type Phase string

// Monitor phases.
const (
	PhaseIdle       Phase = "idle"
	PhaseOpening    Phase = "opening"
	PhaseMonitoring Phase = "monitoring"
	PhaseClosing    Phase = "closing"
)

// Confirmer asks the operator to approve closing over an in-flight job.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

// ConfirmFunc adapts a function into a Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) bool

// Confirm calls f.
func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) bool {
	return f(ctx, prompt)
}

// CloseOutcome reports what a Close call did.
type CloseOutcome string

// Close outcomes.
const (
	CloseCompleted CloseOutcome = "closed"
	CloseDeclined  CloseOutcome = "declined"
	CloseNoop      CloseOutcome = "noop"
)

// Snapshot is a read-only copy of the monitor state.
type Snapshot struct {
	MonitorID         string          `json:"monitor_id"`
	SessionID         string          `json:"session_id,omitempty"`
	Phase             Phase           `json:"phase"`
	ConfigCode        string          `json:"config_code,omitempty"`
	JobType           jobs.JobType    `json:"job_type,omitempty"`
	TestRun           bool            `json:"test_run"`
	View              View            `json:"view"`
	Job               *jobs.Job       `json:"job,omitempty"`
	Errors            []jobs.JobError `json:"errors"`
	ErrorsFetchFailed bool            `json:"errors_fetch_failed,omitempty"`
	CanActivate       bool            `json:"can_activate"`
	Polling           bool            `json:"polling"`
	Activated         bool            `json:"activated,omitempty"`
	Notice            string          `json:"notice,omitempty"`
	Err               string          `json:"error,omitempty"`
	OpenedAt          time.Time       `json:"opened_at,omitzero"`
}

// Options configures a Monitor.
type Options struct {
	// ID names the monitor; generated when empty.
	ID string
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	// Events receives lifecycle events; nil disables emission.
	Events events.Emitter
	Clock  jobs.Clock
	IDs    jobs.IDGenerator
	Logger *zap.Logger
	// BaseContext parents every poll loop (defaults to context.Background()).
	BaseContext context.Context
	// KeepOpenOnActivate leaves the session open after a successful activation.
	// By default the session closes, like the console dialog does.
	KeepOpenOnActivate bool
}

type session struct {
	id        string
	req       jobs.CreateRequest
	cfg       jobs.Configuration
	isTestRun bool
	openedAt  time.Time

	view              View
	job               *jobs.Job
	errors            []jobs.JobError
	errorsFetchFailed bool
	polling           bool
	err               error

	activating bool
	activated  bool
	notice     string

	counted bool
	closed  bool
}

func (s *session) inFlight() bool {
	return s.polling && s.job != nil && !s.job.Status.Terminal()
}

// Monitor runs one session at a time: create a job, poll it to a terminal status,
// and expose the gated activation. Safe for concurrent use.
type Monitor struct {
	id                 string
	gateway            jobs.Gateway
	gate               *Gate
	poller             *Poller
	emitter            events.Emitter
	clock              jobs.Clock
	ids                jobs.IDGenerator
	logger             *zap.Logger
	baseCtx            context.Context
	keepOpenOnActivate bool
	unsubscribe        func()

	mu       sync.Mutex
	phase    Phase
	sess     *session
	teardown []func(Snapshot)
}

// New constructs an idle Monitor and subscribes it to the gate's activation
// notifications so sibling activations of the same configuration are reflected.
func New(gateway jobs.Gateway, gate *Gate, opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ids := opts.IDs
	if ids == nil {
		ids = localIDs
	}
	id := opts.ID
	if id == "" {
		if generated, err := ids.NewID(); err == nil {
			id = generated
		}
	}
	logger = logger.With(zap.String("monitor_id", id))
	m := &Monitor{
		id:                 id,
		gateway:            gateway,
		gate:               gate,
		poller:             NewPoller(gateway, opts.PollInterval, logger.Named("poller")),
		emitter:            opts.Events,
		clock:              opts.Clock,
		ids:                ids,
		logger:             logger,
		baseCtx:            baseCtx,
		keepOpenOnActivate: opts.KeepOpenOnActivate,
		phase:              PhaseIdle,
		unsubscribe:        func() {},
	}
	if gate != nil {
		m.unsubscribe = gate.Notifier().Subscribe(m.onActivation)
	}
	return m
}

// ID returns the monitor identifier.
func (m *Monitor) ID() string {
	return m.id
}

// Phase returns the current lifecycle phase.
func (m *Monitor) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// OnTeardown registers fn to run once per session after the session is fully
// closed and its poll loop has exited. fn receives the final snapshot.
func (m *Monitor) OnTeardown(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardown = append(m.teardown, fn)
}

// Open starts a crawl session for cfg. cfg is kept as the snapshot that a later
// activation writes back. A session that is still open is closed first without
// confirmation.
func (m *Monitor) Open(ctx context.Context, cfg jobs.Configuration, isTestRun bool) (Snapshot, error) {
	if cfg.Code == "" {
		return m.Snapshot(), errors.New("configuration code is required")
	}
	return m.open(ctx, cfg, jobs.CrawlRequest(cfg, isTestRun), isTestRun)
}

// OpenJob starts a session for an arbitrary job request, such as product mapping
// or cleanup. Such sessions are never activation-eligible.
func (m *Monitor) OpenJob(ctx context.Context, req jobs.CreateRequest) (Snapshot, error) {
	if req.Type == jobs.JobTypeCrawl {
		return m.Snapshot(), errors.New("crawl sessions must be opened with a configuration")
	}
	return m.open(ctx, jobs.Configuration{Code: req.ConfigCode}, req, req.TestRun)
}

func (m *Monitor) open(ctx context.Context, cfg jobs.Configuration, req jobs.CreateRequest, isTestRun bool) (Snapshot, error) {
	if req.Type == "" {
		return m.Snapshot(), errors.New("job type is required")
	}
	if m.Phase() != PhaseIdle {
		m.logger.Info("open requested on a busy monitor; closing previous session")
		if _, err := m.Close(ctx, false, nil); err != nil {
			return m.Snapshot(), fmt.Errorf("close previous session: %w", err)
		}
	}
	if err := m.poller.Wait(ctx); err != nil {
		return m.Snapshot(), fmt.Errorf("previous poll loop still running: %w", err)
	}
	sessionID, err := m.ids.NewID()
	if err != nil {
		return m.Snapshot(), fmt.Errorf("new session id: %w", err)
	}

	s := &session{
		id:        sessionID,
		req:       req,
		cfg:       cfg,
		isTestRun: isTestRun,
		openedAt:  m.now(),
		view:      CreatingView(req.Type, isTestRun),
	}
	m.mu.Lock()
	if m.sess != nil {
		m.mu.Unlock()
		return m.Snapshot(), fmt.Errorf("open %q: %w", cfg.Code, ErrBusy)
	}
	m.sess = s
	m.phase = PhaseOpening
	m.emit(m.eventFor(s, events.StageSessionOpened))
	m.mu.Unlock()

	logger := m.logger.With(zap.String("session_id", sessionID), zap.String("config_code", cfg.Code))
	logger.Info("monitor session opened", zap.String("job_type", string(req.Type)), zap.Bool("test_run", isTestRun))

	job, createErr := m.gateway.CreateJob(ctx, req)
	metrics.ObserveBackendCall("create_job", createErr)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.liveLocked() != s {
		logger.Warn("session closed while job creation was in flight", zap.Int64("job_id", job.ID), zap.Error(createErr))
		return m.snapshotLocked(), fmt.Errorf("open %q: %w", cfg.Code, ErrNoSession)
	}
	if createErr != nil {
		s.view = CreateFailedView(req.Type, isTestRun)
		s.err = createErr
		evt := m.eventFor(s, events.StageCreateFailed)
		evt.Note = createErr.Error()
		m.emit(evt)
		logger.Warn("job creation failed", zap.Error(createErr))
		return m.snapshotLocked(), fmt.Errorf("create job for %q: %w", cfg.Code, createErr)
	}

	s.job = &job
	m.phase = PhaseMonitoring
	s.counted = true
	metrics.IncMonitorsOpen()
	m.emit(m.eventFor(s, events.StageJobCreated))
	logger.Info("job created", zap.Int64("job_id", job.ID))

	view, deriveErr := Derive(job, isTestRun, cfg.Active)
	if deriveErr != nil {
		s.view = UnknownStatusView(StateCreated, isTestRun)
		s.err = deriveErr
		logger.Error("backend returned an unknown job status", zap.Error(deriveErr))
		return m.snapshotLocked(), deriveErr
	}
	s.view = view

	if err := m.poller.Start(m.baseCtx, job.ID, &sessionObserver{m: m, sessionID: sessionID}); err != nil {
		s.view = PollFailedView(view.State, isTestRun)
		s.err = err
		logger.Error("could not start poll loop", zap.Error(err))
		return m.snapshotLocked(), fmt.Errorf("start polling job %d: %w", job.ID, err)
	}
	s.polling = true
	return m.snapshotLocked(), nil
}

// Close ends the current session. When byUser is set and the job is still in
// flight, confirm must approve ConfirmClosePrompt; a nil confirm or a refusal
// leaves the session monitoring and returns CloseDeclined. byUser=false (teardown,
// shutdown) always closes.
func (m *Monitor) Close(ctx context.Context, byUser bool, confirm Confirmer) (CloseOutcome, error) {
	m.mu.Lock()
	s := m.liveLocked()
	if s == nil {
		m.mu.Unlock()
		return CloseNoop, nil
	}
	if byUser && s.inFlight() {
		if m.phase == PhaseClosing {
			m.mu.Unlock()
			return CloseDeclined, nil
		}
		previous := m.phase
		m.phase = PhaseClosing
		m.mu.Unlock()

		approved := confirm != nil && confirm.Confirm(ctx, ConfirmClosePrompt)

		m.mu.Lock()
		if m.liveLocked() != s {
			m.mu.Unlock()
			return CloseNoop, nil
		}
		if !approved {
			if m.phase == PhaseClosing {
				m.phase = previous
			}
			m.mu.Unlock()
			m.logger.Info("close declined; job still in flight", zap.String("session_id", s.id))
			return CloseDeclined, nil
		}
	}
	return m.teardownLocked(ctx, s)
}

// teardownLocked must be called with m.mu held; it returns with m.mu released.
func (m *Monitor) teardownLocked(ctx context.Context, s *session) (CloseOutcome, error) {
	s.closed = true
	s.polling = false
	m.phase = PhaseClosing
	final := m.snapshotLocked()
	m.poller.Stop()
	m.mu.Unlock()

	waitErr := m.poller.Wait(ctx)

	m.mu.Lock()
	if m.sess == s {
		m.sess = nil
		m.phase = PhaseIdle
	}
	hooks := slices.Clone(m.teardown)
	m.emit(m.eventFor(s, events.StageSessionClosed))
	m.mu.Unlock()

	if s.counted {
		metrics.DecMonitorsOpen()
	}
	final.Phase = PhaseIdle
	final.Polling = false
	for _, hook := range hooks {
		hook(final)
	}
	m.logger.Info("monitor session closed", zap.String("session_id", s.id))
	if waitErr != nil {
		return CloseCompleted, fmt.Errorf("close session %s: %w", s.id, waitErr)
	}
	return CloseCompleted, nil
}

// Snapshot returns the current state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Activate marks the session's configuration active through the gate. It fails
// with ErrNotEligible, without any store call, unless the session holds a
// finished test run for an inactive configuration.
func (m *Monitor) Activate(ctx context.Context) (Activation, error) {
	if m.gate == nil {
		return Activation{}, errors.New("monitor has no activation gate")
	}
	m.mu.Lock()
	s := m.liveLocked()
	if s == nil {
		m.mu.Unlock()
		return Activation{}, ErrNoSession
	}
	if s.activating {
		m.mu.Unlock()
		return Activation{}, fmt.Errorf("activation already in progress: %w", ErrNotEligible)
	}
	var job jobs.Job
	if s.job != nil {
		job = *s.job
	}
	if !CanActivate(job, s.cfg, s.isTestRun) {
		m.mu.Unlock()
		m.logger.Warn("activation rejected", zap.String("session_id", s.id), zap.String("config_code", s.cfg.Code))
		return Activation{}, fmt.Errorf("activate %q: %w", s.cfg.Code, ErrNotEligible)
	}
	s.activating = true
	cfg, isTestRun := s.cfg, s.isTestRun
	m.mu.Unlock()

	activation, err := m.gate.Activate(ctx, s.id, job, cfg, isTestRun)

	m.mu.Lock()
	s.activating = false
	live := m.liveLocked() == s
	if err != nil {
		if live {
			s.notice = msgActivateFailed
		}
		evt := m.eventFor(s, events.StageActivationFailed)
		evt.Note = err.Error()
		m.emit(evt)
		m.mu.Unlock()
		return Activation{}, err
	}
	s.cfg.Active = true
	s.activated = true
	s.notice = msgActivated
	if view, derr := Derive(job, isTestRun, true); derr == nil {
		s.view = view
	}
	m.emit(m.eventFor(s, events.StageActivated))
	m.mu.Unlock()

	if live && !m.keepOpenOnActivate {
		if _, cerr := m.Close(ctx, false, nil); cerr != nil {
			m.logger.Warn("close after activation failed", zap.Error(cerr))
		}
	}
	return activation, nil
}

// Dispose closes any open session and detaches the monitor from notifications.
func (m *Monitor) Dispose(ctx context.Context) error {
	_, err := m.Close(ctx, false, nil)
	m.unsubscribe()
	return err
}

// onActivation mirrors an activation performed elsewhere into this session.
func (m *Monitor) onActivation(a Activation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.liveLocked()
	if s == nil || s.id == a.SessionID || s.cfg.Code != a.ConfigCode || s.cfg.Active {
		return
	}
	s.cfg.Active = true
	if s.job != nil {
		if view, err := Derive(*s.job, s.isTestRun, true); err == nil && s.err == nil {
			s.view = view
		}
	}
	m.logger.Debug("configuration activated by another session",
		zap.String("config_code", a.ConfigCode),
		zap.String("session_id", s.id),
	)
}

func (m *Monitor) jobObserved(sessionID string, job jobs.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.currentLocked(sessionID)
	if s == nil {
		m.logger.Debug("dropping stale job observation", zap.String("session_id", sessionID), zap.Int64("job_id", job.ID))
		return
	}
	previous := s.view.State
	view, err := Derive(job, s.isTestRun, s.cfg.Active)
	if err != nil {
		s.view = UnknownStatusView(previous, s.isTestRun)
		s.err = err
		s.polling = false
		m.poller.Stop()
		m.logger.Error("backend reported an unknown job status",
			zap.String("session_id", s.id),
			zap.Int64("job_id", job.ID),
			zap.String("status", string(job.Status)),
		)
		evt := m.eventFor(s, events.StagePollFailed)
		evt.Note = err.Error()
		m.emit(evt)
		return
	}
	if previous != view.State && !CanTransition(previous, view.State) {
		m.logger.Warn("unexpected job state transition",
			zap.String("session_id", s.id),
			zap.String("from", string(previous)),
			zap.String("to", string(view.State)),
		)
	}
	s.job = &job
	s.view = view
	m.emit(m.eventFor(s, events.StageJobObserved))
	if view.State == StateFinished {
		s.polling = false
		m.emit(m.eventFor(s, events.StageJobFinished))
	}
}

func (m *Monitor) jobErrorsObserved(sessionID string, job jobs.Job, fetched []jobs.JobError, fetchErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.currentLocked(sessionID)
	if s == nil {
		return
	}
	s.errors = settleErrors(job, fetched, fetchErr)
	s.errorsFetchFailed = fetchErr != nil
	s.polling = false
	evt := m.eventFor(s, events.StageJobFailed)
	evt.ErrorCount = len(s.errors)
	evt.Note = job.ErrorMessage
	m.emit(evt)
}

func (m *Monitor) pollFailed(sessionID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.currentLocked(sessionID)
	if s == nil {
		return
	}
	if errors.Is(err, jobs.ErrUnknownStatus) {
		s.view = UnknownStatusView(s.view.State, s.isTestRun)
		m.logger.Error("backend reported an unknown job status", zap.String("session_id", s.id), zap.Error(err))
	} else {
		s.view = PollFailedView(s.view.State, s.isTestRun)
	}
	s.err = err
	s.polling = false
	evt := m.eventFor(s, events.StagePollFailed)
	evt.Note = err.Error()
	m.emit(evt)
}

// settleErrors picks what a failed job displays: fetched rows, else the job's own
// summary, else an empty collection.
func settleErrors(job jobs.Job, fetched []jobs.JobError, fetchErr error) []jobs.JobError {
	if fetchErr == nil && len(fetched) > 0 {
		return append([]jobs.JobError(nil), fetched...)
	}
	if synthesized := jobs.SynthesizeError(job); synthesized != nil {
		return synthesized
	}
	return []jobs.JobError{}
}

func (m *Monitor) liveLocked() *session {
	if m.sess == nil || m.sess.closed {
		return nil
	}
	return m.sess
}

func (m *Monitor) currentLocked(sessionID string) *session {
	s := m.liveLocked()
	if s == nil || s.id != sessionID {
		return nil
	}
	return s
}

func (m *Monitor) snapshotLocked() Snapshot {
	snap := Snapshot{
		MonitorID: m.id,
		Phase:     m.phase,
		Errors:    []jobs.JobError{},
	}
	s := m.sess
	if s == nil {
		return snap
	}
	snap.SessionID = s.id
	snap.ConfigCode = s.cfg.Code
	snap.JobType = s.req.Type
	snap.TestRun = s.isTestRun
	snap.View = s.view
	snap.View.Actions = append([]ActionState(nil), s.view.Actions...)
	if s.job != nil {
		job := *s.job
		snap.Job = &job
		snap.CanActivate = !s.closed && !s.activating && CanActivate(job, s.cfg, s.isTestRun)
	}
	if len(s.errors) > 0 {
		snap.Errors = append(snap.Errors, s.errors...)
	}
	snap.ErrorsFetchFailed = s.errorsFetchFailed
	snap.Polling = s.polling
	snap.Activated = s.activated
	snap.Notice = s.notice
	snap.OpenedAt = s.openedAt
	if s.err != nil {
		snap.Err = s.err.Error()
	}
	return snap
}

func (m *Monitor) eventFor(s *session, stage events.Stage) events.Event {
	evt := events.Event{
		SessionID:  s.id,
		MonitorID:  m.id,
		TS:         m.now(),
		Stage:      stage,
		ConfigCode: s.cfg.Code,
		JobType:    string(s.req.Type),
		TestRun:    s.isTestRun,
	}
	if s.job != nil {
		evt.JobID = s.job.ID
		evt.Status = string(s.job.Status)
		if s.job.StartedAt != nil && s.job.FinishedAt != nil {
			if d := s.job.FinishedAt.Sub(s.job.StartedAt.Time); d > 0 {
				evt.Dur = d
			}
		}
	}
	return evt
}

func (m *Monitor) emit(evt events.Event) {
	if m.emitter != nil {
		m.emitter.Emit(evt)
	}
}

func (m *Monitor) now() time.Time {
	if m.clock == nil {
		return time.Now().UTC()
	}
	return m.clock.Now()
}

type sessionObserver struct {
	m         *Monitor
	sessionID string
}

func (o *sessionObserver) JobObserved(job jobs.Job) {
	o.m.jobObserved(o.sessionID, job)
}

func (o *sessionObserver) JobErrorsObserved(job jobs.Job, errs []jobs.JobError, err error) {
	o.m.jobErrorsObserved(o.sessionID, job, errs, err)
}

func (o *sessionObserver) PollFailed(err error) {
	o.m.pollFailed(o.sessionID, err)
}

// localIDs backs every monitor built without an IDGenerator.
var localIDs = &counterIDs{}

type counterIDs struct {
	mu   sync.Mutex
	next int
}

func (c *counterIDs) NewID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	return fmt.Sprintf("local-%d", c.next), nil
}
