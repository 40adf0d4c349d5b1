package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/milepost/pkg/application"
	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

// CLIError wraps domain errors with user-facing messages and actionable hints.
type CLIError struct {
	Message  string
	Hint     string
	Err      error
	ExitCode int
}

func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a CLIError with a default exit code of 1.
func NewCLIError(msg, hint string, err error) *CLIError {
	return &CLIError{
		Message:  msg,
		Hint:     hint,
		Err:      err,
		ExitCode: 1,
	}
}

// MapError converts known domain errors into CLIErrors with actionable hints.
// Unmapped errors are returned as-is.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	var transErr *progress.TransitionError
	if errors.As(err, &transErr) {
		allowed := transErr.From.AllowedTargets()
		hint := fmt.Sprintf("'%s' is terminal; create a new %s instead", transErr.From, transErr.Kind)
		if len(allowed) > 0 {
			names := make([]string, len(allowed))
			for i, s := range allowed {
				names[i] = string(s)
			}
			hint = fmt.Sprintf("From '%s' the %s can move to: %s", transErr.From, transErr.Kind, strings.Join(names, ", "))
		}
		return NewCLIError("invalid status transition", hint, err)
	}

	var nf *progress.NotFoundError
	if errors.As(err, &nf) {
		hint := "Run 'milepost booking list' to find booking ids"
		if nf.Kind != progress.KindBooking {
			hint = "Run 'milepost booking show <booking-id>' to list its milestones and tasks"
		}
		return NewCLIError(fmt.Sprintf("%s %s not found", nf.Kind, nf.ID), hint, err)
	}

	switch {
	case errors.Is(err, progress.ErrInvalidChanges):
		return NewCLIError("invalid changes", "Run 'milepost statuses' for valid status values", err)
	case errors.Is(err, application.ErrListingUnsupported):
		return NewCLIError("this storage driver cannot list bookings", "Open the booking directly with 'milepost booking show <booking-id>'", err)
	case errors.Is(err, progress.ErrCascadeIncomplete):
		return NewCLIError("derived progress is stale", "Run 'milepost booking recompute <booking-id>' to retry", err)
	}

	return err
}
