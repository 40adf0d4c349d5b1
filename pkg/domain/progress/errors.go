package progress

import (
	"errors"
	"fmt"
)

// Domain errors for progress tracking.
var (
	// ErrInvalidTransition indicates the requested status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotFound indicates the entity id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrInvalidChanges indicates a mutation carried malformed field values.
	ErrInvalidChanges = errors.New("invalid changes")

	// ErrRollupTimeout indicates the primary booking rollup did not answer in time.
	ErrRollupTimeout = errors.New("booking rollup timed out")

	// ErrComputationDepth indicates the primary rollup hit a recursion or stack limit.
	ErrComputationDepth = errors.New("booking rollup computation depth exceeded")

	// ErrAggregationRead indicates child rows could not be read for an aggregate.
	ErrAggregationRead = errors.New("aggregation read failed")

	// ErrCascadeIncomplete indicates the entity write succeeded but derived
	// progress could not be brought up to date.
	ErrCascadeIncomplete = errors.New("cascade incomplete")
)

// TransitionError provides details about an invalid transition.
type TransitionError struct {
	Kind Kind
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition %s %s from %s to %s", e.Kind, e.ID, e.From, e.To)
}

// Is allows errors.Is to work with TransitionError.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind Kind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFound is a shorthand used by storage adapters.
func NewNotFound(kind Kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// AggregationReadError reports that the children of an aggregate could not be read.
// No derived fields were written for that aggregate.
type AggregationReadError struct {
	Kind Kind
	ID   string
	Err  error
}

func (e *AggregationReadError) Error() string {
	return fmt.Sprintf("read children of %s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *AggregationReadError) Unwrap() error { return e.Err }

func (e *AggregationReadError) Is(target error) bool {
	return target == ErrAggregationRead
}

// CascadeIncompleteError is attached as a warning to successful mutations.
type CascadeIncompleteError struct {
	BookingID string
	Cause     error
}

func (e *CascadeIncompleteError) Error() string {
	if e.BookingID == "" {
		return fmt.Sprintf("cascade incomplete: %v", e.Cause)
	}
	return fmt.Sprintf("cascade incomplete for booking %s: %v", e.BookingID, e.Cause)
}

func (e *CascadeIncompleteError) Unwrap() error { return e.Cause }

func (e *CascadeIncompleteError) Is(target error) bool {
	return target == ErrCascadeIncomplete
}
