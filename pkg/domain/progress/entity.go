// Package progress holds the booking progress model: statuses and their
// transitions, overdue detection, and the task -> milestone -> booking rollups.
package progress

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies which level of the hierarchy an entity belongs to.
type Kind string

const (
	KindTask      Kind = "task"
	KindMilestone Kind = "milestone"
	KindBooking   Kind = "booking"
)

// IsWorkItem returns true for kinds that carry a status.
func (k Kind) IsWorkItem() bool {
	return k == KindTask || k == KindMilestone
}

// ParseKind parses a string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindTask, KindMilestone, KindBooking:
		return k, nil
	default:
		return "", fmt.Errorf("invalid kind: %q", s)
	}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// IsValid accepts the empty priority, which means "not set".
func (p Priority) IsValid() bool {
	switch p {
	case "", PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// DefaultWeight is used for milestones without an explicit weight.
const DefaultWeight = 1.0

// Task is a unit of work owned by exactly one milestone.
type Task struct {
	ID                 string     `json:"id" yaml:"id"`
	MilestoneID        string     `json:"milestone_id" yaml:"milestone_id"`
	Title              string     `json:"title" yaml:"title"`
	Description        string     `json:"description,omitempty" yaml:"description,omitempty"`
	Status             Status     `json:"status" yaml:"status"`
	ProgressPercentage int        `json:"progress_percentage" yaml:"progress_percentage"`
	DueAt              *time.Time `json:"due_at,omitempty" yaml:"due_at,omitempty"`
	EstimatedHours     *float64   `json:"estimated_hours,omitempty" yaml:"estimated_hours,omitempty"`
	ActualHours        *float64   `json:"actual_hours,omitempty" yaml:"actual_hours,omitempty"`
	Priority           Priority   `json:"priority,omitempty" yaml:"priority,omitempty"`
	CreatedAt          time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" yaml:"updated_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	IsOverdue          bool       `json:"is_overdue" yaml:"is_overdue"`
	OverdueSince       *time.Time `json:"overdue_since,omitempty" yaml:"overdue_since,omitempty"`
}

// Overdue returns the stored overdue state of the task.
func (t *Task) Overdue() OverdueState {
	return OverdueState{IsOverdue: t.IsOverdue, Since: t.OverdueSince}
}

// RefreshOverdue re-evaluates the overdue flags against now.
func (t *Task) RefreshOverdue(now time.Time) {
	state := EvaluateOverdue(t.DueAt, now, t.Status, t.Overdue())
	t.IsOverdue = state.IsOverdue
	t.OverdueSince = state.Since
}

// Validate checks field-level constraints that do not depend on other rows.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: task title is required", ErrInvalidChanges)
	}
	if t.MilestoneID == "" {
		return fmt.Errorf("%w: task must belong to a milestone", ErrInvalidChanges)
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidChanges, t.Status)
	}
	if !t.Priority.IsValid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidChanges, t.Priority)
	}
	if t.ProgressPercentage < 0 || t.ProgressPercentage > 100 {
		return fmt.Errorf("%w: progress %d outside 0..100", ErrInvalidChanges, t.ProgressPercentage)
	}
	if t.EstimatedHours != nil && *t.EstimatedHours < 0 {
		return fmt.Errorf("%w: estimated hours must not be negative", ErrInvalidChanges)
	}
	if t.ActualHours != nil && *t.ActualHours < 0 {
		return fmt.Errorf("%w: actual hours must not be negative", ErrInvalidChanges)
	}
	return nil
}

// MilestoneCounters are maintained by the milestone aggregator only.
type MilestoneCounters struct {
	TotalTasks          int     `json:"total_tasks" yaml:"total_tasks"`
	CompletedTasks      int     `json:"completed_tasks" yaml:"completed_tasks"`
	InProgressTasks     int     `json:"in_progress_tasks" yaml:"in_progress_tasks"`
	PendingTasks        int     `json:"pending_tasks" yaml:"pending_tasks"`
	OverdueTasks        int     `json:"overdue_tasks" yaml:"overdue_tasks"`
	TotalEstimatedHours float64 `json:"total_estimated_hours" yaml:"total_estimated_hours"`
	TotalActualHours    float64 `json:"total_actual_hours" yaml:"total_actual_hours"`
	// CalculatedStatus is advisory; it never replaces Milestone.Status.
	CalculatedStatus Status `json:"calculated_status" yaml:"calculated_status"`
}

// Milestone groups tasks inside a booking.
type Milestone struct {
	ID                 string     `json:"id" yaml:"id"`
	BookingID          string     `json:"booking_id" yaml:"booking_id"`
	Title              string     `json:"title" yaml:"title"`
	Description        string     `json:"description,omitempty" yaml:"description,omitempty"`
	Status             Status     `json:"status" yaml:"status"`
	ProgressPercentage int        `json:"progress_percentage" yaml:"progress_percentage"`
	Weight             *float64   `json:"weight,omitempty" yaml:"weight,omitempty"`
	DueAt              *time.Time `json:"due_at,omitempty" yaml:"due_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" yaml:"updated_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`

	MilestoneCounters `yaml:",inline"`
}

// EffectiveWeight returns the rollup weight, defaulting to 1.0 when unset.
func (m *Milestone) EffectiveWeight() float64 {
	if m.Weight == nil {
		return DefaultWeight
	}
	return *m.Weight
}

// ApplyCounters copies aggregated counters and the derived progress onto m.
func (m *Milestone) ApplyCounters(c MilestoneCounters) {
	m.MilestoneCounters = c
	m.ProgressPercentage = c.Progress()
}

func (m *Milestone) Validate() error {
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("%w: milestone title is required", ErrInvalidChanges)
	}
	if m.BookingID == "" {
		return fmt.Errorf("%w: milestone must belong to a booking", ErrInvalidChanges)
	}
	if !m.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidChanges, m.Status)
	}
	if m.Weight != nil && *m.Weight <= 0 {
		return fmt.Errorf("%w: weight must be positive", ErrInvalidChanges)
	}
	if m.ProgressPercentage < 0 || m.ProgressPercentage > 100 {
		return fmt.Errorf("%w: progress %d outside 0..100", ErrInvalidChanges, m.ProgressPercentage)
	}
	return nil
}

// Booking is the root aggregate. Only its progress is written by this module.
type Booking struct {
	ID                 string     `json:"id" yaml:"id"`
	Title              string     `json:"title" yaml:"title"`
	ProgressPercentage int        `json:"progress_percentage" yaml:"progress_percentage"`
	CreatedAt          time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" yaml:"updated_at"`
	RecalculatedAt     *time.Time `json:"recalculated_at,omitempty" yaml:"recalculated_at,omitempty"`
}
