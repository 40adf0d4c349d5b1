// Package events defines the domain events emitted by mutations and cascades.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

// Event types.
const (
	TypeTaskMutated            = "task.mutated"
	TypeMilestoneMutated       = "milestone.mutated"
	TypeMilestoneDeleted       = "milestone.deleted"
	TypeMilestoneRecalculated  = "milestone.recalculated"
	TypeBookingProgressUpdated = "booking.progress_updated"
	TypeCascadeCompleted       = "cascade.completed"
	TypeCascadeDegraded        = "cascade.degraded"
)

// DomainEvent is the base interface for all domain events.
type DomainEvent interface {
	EventType() string
	AggregateID() string
	AggregateType() string
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	AggregateID_   string    `json:"aggregate_id"`
	AggregateType_ string    `json:"aggregate_type"`
	Timestamp      time.Time `json:"timestamp"`
}

func newBase(eventType string, kind progress.Kind, id string) BaseEvent {
	return BaseEvent{
		ID:             uuid.NewString(),
		Type:           eventType,
		AggregateID_:   id,
		AggregateType_: string(kind),
		Timestamp:      time.Now().UTC(),
	}
}

func (e BaseEvent) EventID() string       { return e.ID }
func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) AggregateID() string   { return e.AggregateID_ }
func (e BaseEvent) AggregateType() string { return e.AggregateType_ }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// TaskMutated is emitted after a task write through the gateway.
type TaskMutated struct {
	BaseEvent
	TaskID      string          `json:"task_id"`
	MilestoneID string          `json:"milestone_id"`
	FromStatus  progress.Status `json:"from_status"`
	ToStatus    progress.Status `json:"to_status"`
	Progress    int             `json:"progress_percentage"`
	Created     bool            `json:"created,omitempty"`
}

func NewTaskMutated(before *progress.Task, after *progress.Task) *TaskMutated {
	e := &TaskMutated{
		BaseEvent:   newBase(TypeTaskMutated, progress.KindTask, after.ID),
		TaskID:      after.ID,
		MilestoneID: after.MilestoneID,
		ToStatus:    after.Status,
		Progress:    after.ProgressPercentage,
	}
	if before == nil {
		e.Created = true
	} else {
		e.FromStatus = before.Status
	}
	return e
}

// MilestoneMutated is emitted after a milestone write through the gateway.
type MilestoneMutated struct {
	BaseEvent
	MilestoneID string          `json:"milestone_id"`
	BookingID   string          `json:"booking_id"`
	FromStatus  progress.Status `json:"from_status"`
	ToStatus    progress.Status `json:"to_status"`
	Progress    int             `json:"progress_percentage"`
	Created     bool            `json:"created,omitempty"`
}

func NewMilestoneMutated(before *progress.Milestone, after *progress.Milestone) *MilestoneMutated {
	e := &MilestoneMutated{
		BaseEvent:   newBase(TypeMilestoneMutated, progress.KindMilestone, after.ID),
		MilestoneID: after.ID,
		BookingID:   after.BookingID,
		ToStatus:    after.Status,
		Progress:    after.ProgressPercentage,
	}
	if before == nil {
		e.Created = true
	} else {
		e.FromStatus = before.Status
	}
	return e
}

// MilestoneDeleted is emitted after a milestone and its tasks are removed.
type MilestoneDeleted struct {
	BaseEvent
	MilestoneID string `json:"milestone_id"`
	BookingID   string `json:"booking_id"`
}

func NewMilestoneDeleted(m *progress.Milestone) *MilestoneDeleted {
	return &MilestoneDeleted{
		BaseEvent:   newBase(TypeMilestoneDeleted, progress.KindMilestone, m.ID),
		MilestoneID: m.ID,
		BookingID:   m.BookingID,
	}
}

// MilestoneRecalculated is emitted when the aggregator rewrites a milestone's counters.
type MilestoneRecalculated struct {
	BaseEvent
	MilestoneID string                     `json:"milestone_id"`
	BookingID   string                     `json:"booking_id"`
	Progress    int                        `json:"progress_percentage"`
	Counters    progress.MilestoneCounters `json:"counters"`
}

func NewMilestoneRecalculated(m *progress.Milestone) *MilestoneRecalculated {
	return &MilestoneRecalculated{
		BaseEvent:   newBase(TypeMilestoneRecalculated, progress.KindMilestone, m.ID),
		MilestoneID: m.ID,
		BookingID:   m.BookingID,
		Progress:    m.ProgressPercentage,
		Counters:    m.MilestoneCounters,
	}
}

// BookingProgressUpdated is emitted when a booking's rolled-up progress is written.
type BookingProgressUpdated struct {
	BaseEvent
	BookingID string `json:"booking_id"`
	Progress  int    `json:"progress_percentage"`
	Strategy  string `json:"strategy"`
}

func NewBookingProgressUpdated(bookingID string, pct int, strategy string) *BookingProgressUpdated {
	return &BookingProgressUpdated{
		BaseEvent: newBase(TypeBookingProgressUpdated, progress.KindBooking, bookingID),
		BookingID: bookingID,
		Progress:  pct,
		Strategy:  strategy,
	}
}

// CascadeFinished summarises one cascade run. Its type is cascade.degraded
// when the booking could not be brought up to date.
type CascadeFinished struct {
	BaseEvent
	BookingID       string        `json:"booking_id"`
	MilestoneID     string        `json:"milestone_id,omitempty"`
	Strategy        string        `json:"strategy"`
	PrimaryFailure  string        `json:"primary_failure,omitempty"`
	PrimaryDuration time.Duration `json:"primary_duration_ns"`
	Degraded        bool          `json:"degraded"`
	Error           string        `json:"error,omitempty"`
}

func NewCascadeFinished(bookingID, milestoneID, strategy, primaryFailure string, primaryDuration time.Duration, cause error) *CascadeFinished {
	eventType := TypeCascadeCompleted
	e := &CascadeFinished{
		BookingID:       bookingID,
		MilestoneID:     milestoneID,
		Strategy:        strategy,
		PrimaryFailure:  primaryFailure,
		PrimaryDuration: primaryDuration,
	}
	if cause != nil {
		eventType = TypeCascadeDegraded
		e.Degraded = true
		e.Error = cause.Error()
	}
	e.BaseEvent = newBase(eventType, progress.KindBooking, bookingID)
	return e
}
