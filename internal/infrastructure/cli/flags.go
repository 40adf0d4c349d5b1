package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/milepost/pkg/application"
	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

// mutationFlags collects the optional fields of an update command. Only flags
// the user actually set end up in the request.
type mutationFlags struct {
	status         string
	progress       int
	title          string
	description    string
	due            string
	clearDue       bool
	estimatedHours float64
	actualHours    float64
	priority       string
	weight         float64
}

func (f *mutationFlags) register(cmd *cobra.Command, forTask bool) {
	flags := cmd.Flags()
	flags.StringVar(&f.status, "status", "", "new status (pending, in_progress, on_hold, completed, cancelled)")
	flags.IntVar(&f.progress, "progress", 0, "explicit progress percentage (0-100)")
	flags.StringVar(&f.title, "title", "", "new title")
	flags.StringVar(&f.description, "description", "", "new description")
	flags.StringVar(&f.due, "due", "", "due date (RFC3339 or YYYY-MM-DD)")
	flags.BoolVar(&f.clearDue, "clear-due", false, "remove the due date")
	if forTask {
		flags.Float64Var(&f.estimatedHours, "estimated-hours", 0, "estimated hours")
		flags.Float64Var(&f.actualHours, "actual-hours", 0, "actual hours")
		flags.StringVar(&f.priority, "priority", "", "priority (low, medium, high)")
	} else {
		flags.Float64Var(&f.weight, "weight", 0, "rollup weight (> 0)")
	}
}

func (f *mutationFlags) request(cmd *cobra.Command) (application.MutationRequest, error) {
	var req application.MutationRequest
	changed := cmd.Flags().Changed
	if changed("status") {
		req.Status = &f.status
	}
	if changed("progress") {
		req.Progress = &f.progress
	}
	if changed("title") {
		req.Title = &f.title
	}
	if changed("description") {
		req.Description = &f.description
	}
	if changed("due") {
		due, err := parseDue(f.due)
		if err != nil {
			return req, err
		}
		req.DueAt = &due
	}
	req.ClearDueAt = f.clearDue
	if changed("estimated-hours") {
		req.EstimatedHours = &f.estimatedHours
	}
	if changed("actual-hours") {
		req.ActualHours = &f.actualHours
	}
	if changed("priority") {
		req.Priority = &f.priority
	}
	if changed("weight") {
		req.Weight = &f.weight
	}
	return req, nil
}

// parseDue accepts a full timestamp or a date, which means midnight UTC.
func parseDue(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, NewCLIError(fmt.Sprintf("invalid due date %q", s), "Use RFC3339 (2026-03-01T17:00:00Z) or YYYY-MM-DD", err)
	}
	return t, nil
}

func parseStatusFlag(s string) (progress.Status, error) {
	st, err := progress.ParseStatus(s)
	if err != nil {
		return "", MapError(fmt.Errorf("%w: %v", progress.ErrInvalidChanges, err))
	}
	return st, nil
}
