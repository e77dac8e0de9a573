package evaluator

import "fmt"

// State is the lifecycle state of an evaluator as tracked by its manager.
type State string

const (
	// StateAllocated indicates the evaluator was handed to the driver and has
	// not been launched.
	StateAllocated State = "ALLOCATED"

	// StateSubmitted indicates a launch descriptor was handed to the dispatcher.
	StateSubmitted State = "SUBMITTED"

	// StateRunning indicates the runtime reported the evaluator as started.
	StateRunning State = "RUNNING"

	// StateFailed indicates the dispatch or the evaluator failed.
	StateFailed State = "FAILED"

	// StateClosed indicates the evaluator was released.
	StateClosed State = "CLOSED"
)

// IsTerminal returns true if no further transition except close is possible.
func (s State) IsTerminal() bool {
	return s == StateFailed || s == StateClosed
}

// HasLaunched returns true once a launch descriptor was accepted.
func (s State) HasLaunched() bool {
	return s == StateSubmitted || s == StateRunning || s == StateFailed
}

// Validate checks if the state is valid.
func (s State) Validate() error {
	switch s {
	case StateAllocated, StateSubmitted, StateRunning, StateFailed, StateClosed:
		return nil
	default:
		return fmt.Errorf("invalid evaluator state: %s", s)
	}
}

// CanTransitionTo reports whether next may follow s.
func (s State) CanTransitionTo(next State) bool {
	switch s {
	case StateAllocated:
		return next == StateSubmitted || next == StateClosed
	case StateSubmitted:
		return next == StateRunning || next == StateFailed || next == StateClosed
	case StateRunning:
		return next == StateFailed || next == StateClosed
	case StateFailed:
		return next == StateClosed
	default:
		return false
	}
}
