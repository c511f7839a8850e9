package orchestrator

import (
	"errors"
	"slices"
)

// State is the position of a project's commit lane.
type State string

const (
	// StateIdle means no changes are waiting.
	StateIdle State = "idle"
	// StateDebouncing means changes arrived and the quiet period is running.
	StateDebouncing State = "debouncing"
	// StateCommitting means a commit attempt is in progress.
	StateCommitting State = "committing"
	// StateRetrying means a transient failure is being retried locally.
	StateRetrying State = "retrying"
	// StateQueued means work is waiting in the offline queue.
	StateQueued State = "queued"
)

func (s State) String() string { return string(s) }

// ValidTransitions lists the states reachable from each state.
var ValidTransitions = map[State][]State{
	StateIdle:       {StateDebouncing, StateCommitting, StateQueued},
	StateDebouncing: {StateCommitting, StateIdle, StateQueued},
	StateCommitting: {StateRetrying, StateIdle, StateQueued, StateDebouncing},
	StateRetrying:   {StateIdle, StateQueued, StateDebouncing},
	StateQueued:     {StateDebouncing, StateCommitting, StateIdle},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	return slices.Contains(ValidTransitions[from], to)
}

// ErrInvalidTransition is wrapped by TransitionError.
var ErrInvalidTransition = errors.New("invalid lane state transition")

// TransitionError reports a rejected state change.
type TransitionError struct {
	ProjectID string
	From      State
	To        State
}

func (e *TransitionError) Error() string {
	return "lane " + e.ProjectID + ": cannot move from " + string(e.From) + " to " + string(e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
