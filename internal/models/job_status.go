package models

import "fmt"

/*
Job state machine for transcription records.

Status is a tagged variant: State says which branch is active, Attempt and
MaxAttempts are only meaningful for StateRetrying. The display text returned
by String() is what the status endpoint and CLI show to users.
*/

// State is the machine-readable job state stored in the state column.
type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateRetrying   State = "retrying"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Status is the tagged job status.
type Status struct {
	State       State `json:"state"`
	Attempt     int   `json:"attempt,omitempty"`
	MaxAttempts int   `json:"max_attempts,omitempty"`
}

func Queued() Status     { return Status{State: StateQueued} }
func Processing() Status { return Status{State: StateProcessing} }
func Done() Status       { return Status{State: StateDone} }
func Failed() Status     { return Status{State: StateFailed} }

// Retrying returns the status for a job waiting for its attempt-th retry out of max.
func Retrying(attempt, max int) Status {
	return Status{State: StateRetrying, Attempt: attempt, MaxAttempts: max}
}

// String renders the status the way users see it, e.g. "retrying (attempt 1/3)".
func (s Status) String() string {
	if s.State == StateRetrying {
		return fmt.Sprintf("retrying (attempt %d/%d)", s.Attempt, s.MaxAttempts)
	}
	return string(s.State)
}

// IsTerminal returns true for statuses that represent a final state.
func (s Status) IsTerminal() bool {
	return s.State == StateDone || s.State == StateFailed
}

// processing -> processing covers redelivery of a task whose worker died mid-run.
var validTransitions = map[State][]State{
	StateQueued:     {StateProcessing, StateFailed},
	StateProcessing: {StateProcessing, StateDone, StateRetrying, StateFailed},
	StateRetrying:   {StateProcessing, StateFailed},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s.State] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseState validates a state read back from storage.
func ParseState(v string) (State, error) {
	switch st := State(v); st {
	case StateQueued, StateProcessing, StateRetrying, StateDone, StateFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown job state %q", v)
	}
}
