package monitor

import (
	"fmt"

	"github.com/JakeFAU/crawl-console/internal/jobs"
)

// State is the operator-facing job state. It mirrors the backend status set but
// is derived, never stored by the backend.
type State string

// Derived job states.
const (
	StateCreated  State = "Created"
	StateRunning  State = "Running"
	StateFinished State = "Finished"
	StateFailed   State = "Failed"
)

// Terminal reports whether no further transitions are legal.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed
}

// StateOf maps a backend status onto a State. Unknown statuses are an error, not
// a guess.
func StateOf(status jobs.Status) (State, error) {
	switch status {
	case jobs.StatusCreated:
		return StateCreated, nil
	case jobs.StatusRunning:
		return StateRunning, nil
	case jobs.StatusFinished:
		return StateFinished, nil
	case jobs.StatusFailed:
		return StateFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", jobs.ErrUnknownStatus, status)
	}
}

// CanTransition reports whether an observation moving from one state to another
// is legal. Repeated observations of a non-terminal state are legal; a job may
// skip Running entirely.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StateCreated:
		return to == StateCreated || to == StateRunning || to.Terminal()
	case StateRunning:
		return to == StateRunning || to.Terminal()
	default:
		return false
	}
}

// Result classifies how the session is going, independent of the job state.
type Result string

// Result values.
const (
	ResultNone    Result = ""
	ResultPending Result = "pending"
	ResultSuccess Result = "success"
	ResultError   Result = "error"
)

// Action is an operator action offered for a view.
type Action string

// Actions offered by the monitor.
const (
	ActionActivate   Action = "activate"
	ActionEditConfig Action = "edit_config"
	ActionClose      Action = "close"
)

// ActionState pairs an offered action with whether it can be used right now.
type ActionState struct {
	Action  Action `json:"action"`
	Enabled bool   `json:"enabled"`
}

// View is everything an operator sees for the current observation.
type View struct {
	State   State         `json:"state"`
	Result  Result        `json:"result"`
	Message string        `json:"message"`
	Actions []ActionState `json:"actions"`
}

// Message fragments shown to operators.
const (
	msgWaiting        = "Job created, waiting to start..."
	msgPollFailed     = "Failed to get job status. Please try again."
	msgUnknownStatus  = "Received an unrecognized job status from the backend."
	msgActivatable    = " Config can now be activated."
	msgActivated      = "Config activated successfully!"
	msgActivateFailed = "Failed to activate config."
)

// Derive maps a fetched job onto its View. isTestRun and configActive are the
// session's flags; they only influence Finished.
func Derive(job jobs.Job, isTestRun, configActive bool) (View, error) {
	state, err := StateOf(job.Status)
	if err != nil {
		return View{}, fmt.Errorf("derive view for job %d: %w", job.ID, err)
	}
	label := runLabel(job.Type, isTestRun)
	view := View{State: state}
	switch state {
	case StateCreated:
		view.Result = ResultPending
		view.Message = msgWaiting
	case StateRunning:
		view.Result = ResultPending
		view.Message = label + " in progress..."
	case StateFinished:
		view.Result = ResultSuccess
		view.Message = label + " completed successfully!"
		if isTestRun && !configActive {
			view.Message += msgActivatable
		}
	case StateFailed:
		view.Result = ResultError
		view.Message = label + " failed. See details below."
	}
	view.Actions = actionsFor(view.Result, isTestRun, canActivate(job, isTestRun, configActive))
	return view, nil
}

// CreatingView is shown while the job-create call is in flight.
func CreatingView(jobType jobs.JobType, isTestRun bool) View {
	return View{
		State:   StateCreated,
		Result:  ResultPending,
		Message: fmt.Sprintf("Creating %s job...", runNoun(jobType, isTestRun)),
		Actions: actionsFor(ResultPending, isTestRun, false),
	}
}

// CreateFailedView is shown when no job could be created.
func CreateFailedView(jobType jobs.JobType, isTestRun bool) View {
	return View{
		State:   StateCreated,
		Result:  ResultError,
		Message: fmt.Sprintf("Failed to create %s job.", runNoun(jobType, isTestRun)),
		Actions: actionsFor(ResultError, isTestRun, false),
	}
}

// PollFailedView keeps the last known state and reports the generic poll failure.
func PollFailedView(last State, isTestRun bool) View {
	if last == "" {
		last = StateCreated
	}
	return View{
		State:   last,
		Result:  ResultError,
		Message: msgPollFailed,
		Actions: actionsFor(ResultError, isTestRun, false),
	}
}

// UnknownStatusView reports a backend status outside the closed set.
func UnknownStatusView(last State, isTestRun bool) View {
	view := PollFailedView(last, isTestRun)
	view.Message = msgUnknownStatus
	return view
}

func actionsFor(result Result, isTestRun, activatable bool) []ActionState {
	actions := make([]ActionState, 0, 3)
	if result == ResultSuccess && isTestRun {
		actions = append(actions, ActionState{Action: ActionActivate, Enabled: activatable})
	}
	if result == ResultError {
		actions = append(actions, ActionState{Action: ActionEditConfig, Enabled: true})
	}
	return append(actions, ActionState{Action: ActionClose, Enabled: true})
}

func runLabel(jobType jobs.JobType, isTestRun bool) string {
	switch jobType {
	case jobs.JobTypeProductMapping:
		return "Product mapping"
	case jobs.JobTypeProductCleanup:
		return "Product cleanup"
	}
	if isTestRun {
		return "Test run"
	}
	return "Full run"
}

func runNoun(jobType jobs.JobType, isTestRun bool) string {
	switch jobType {
	case jobs.JobTypeProductMapping:
		return "product mapping"
	case jobs.JobTypeProductCleanup:
		return "product cleanup"
	}
	if isTestRun {
		return "test run"
	}
	return "full run"
}
