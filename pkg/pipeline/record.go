package pipeline

import (
	"time"

	"github.com/pkg/errors"
)

// Status is the lifecycle state of a tool call record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ErrInvalidTransition is returned for illegal state changes. This is a
// programming error: given correct caller discipline it never occurs.
var ErrInvalidTransition = errors.New("invalid tool call transition")

// TransitionListener observes record transitions. It is called synchronously
// with the transition, never batched, so intermediate state is visible even
// if the process is interrupted right after.
type TransitionListener func(r *Record, from Status, to Status)

// Record is one requested tool invocation and its lifecycle. Records are
// owned exclusively by the Pipeline created for one conversational round;
// all mutation goes through the pipeline under its lock.
type Record struct {
	ID        string
	Name      string
	Arguments map[string]any
	// RawInput is the serialized input exactly as streamed, kept for
	// dependency inference.
	RawInput string

	// Dependencies holds ids of records that must complete before this one
	// runs.
	Dependencies []string

	Status Status
	Result any
	Err    error

	// ExecutionTime is the wall-clock duration of the executing state,
	// recorded on the terminal transition.
	ExecutionTime time.Duration

	startedAt time.Time

	// folded marks that the terminal result has already been handed out by
	// TakeContextBlocks.
	folded bool
}

// DependsOn reports whether id is in the record's dependency set.
func (r *Record) DependsOn(id string) bool {
	for _, d := range r.Dependencies {
		if d == id {
			return true
		}
	}
	return false
}

// transition enforces the forward-only state machine
// pending -> executing -> {completed|error}.
func (r *Record) transition(to Status) error {
	switch to {
	case StatusExecuting:
		if r.Status != StatusPending {
			return errors.Wrapf(ErrInvalidTransition, "record %s: %s -> executing", r.ID, r.Status)
		}
		r.startedAt = time.Now()
	case StatusCompleted, StatusError:
		if r.Status != StatusExecuting {
			return errors.Wrapf(ErrInvalidTransition, "record %s: %s -> %s", r.ID, r.Status, to)
		}
		r.ExecutionTime = time.Since(r.startedAt)
	default:
		return errors.Wrapf(ErrInvalidTransition, "record %s: %s -> %s", r.ID, r.Status, to)
	}
	r.Status = to
	return nil
}
