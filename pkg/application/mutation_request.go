package application

import (
	"fmt"
	"time"

	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

// MutationRequest is the wire form of progress.Changes shared by the HTTP API
// and mutation documents. Absent fields leave the stored value alone.
type MutationRequest struct {
	Status         *string    `json:"status,omitempty" yaml:"status,omitempty"`
	Progress       *int       `json:"progress_percentage,omitempty" yaml:"progress_percentage,omitempty"`
	Title          *string    `json:"title,omitempty" yaml:"title,omitempty"`
	Description    *string    `json:"description,omitempty" yaml:"description,omitempty"`
	DueAt          *time.Time `json:"due_at,omitempty" yaml:"due_at,omitempty"`
	ClearDueAt     bool       `json:"clear_due_at,omitempty" yaml:"clear_due_at,omitempty"`
	EstimatedHours *float64   `json:"estimated_hours,omitempty" yaml:"estimated_hours,omitempty"`
	ActualHours    *float64   `json:"actual_hours,omitempty" yaml:"actual_hours,omitempty"`
	Priority       *string    `json:"priority,omitempty" yaml:"priority,omitempty"`
	Weight         *float64   `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// Changes converts the request, rejecting unknown statuses and a due date
// that is both set and cleared.
func (r MutationRequest) Changes() (progress.Changes, error) {
	var c progress.Changes
	if r.Status != nil {
		status, err := progress.ParseStatus(*r.Status)
		if err != nil {
			return c, fmt.Errorf("%w: %v", progress.ErrInvalidChanges, err)
		}
		c.Status = &status
	}
	if r.Progress != nil {
		c.Progress = progress.Explicit(*r.Progress)
	}
	c.Title = r.Title
	c.Description = r.Description
	switch {
	case r.DueAt != nil && r.ClearDueAt:
		return c, fmt.Errorf("%w: due_at and clear_due_at are mutually exclusive", progress.ErrInvalidChanges)
	case r.DueAt != nil:
		c.DueAt = progress.SetTime(r.DueAt.UTC())
	case r.ClearDueAt:
		c.DueAt = progress.ClearTime()
	}
	c.EstimatedHours = r.EstimatedHours
	c.ActualHours = r.ActualHours
	if r.Priority != nil {
		p := progress.Priority(*r.Priority)
		c.Priority = &p
	}
	c.Weight = r.Weight
	return c, nil
}
