package httpapi

import (
	"time"

	"github.com/felixgeelhaar/milepost/pkg/application"
	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

type MutationRequest struct {
	Status         *string    `json:"status,omitempty" enum:"pending,in_progress,on_hold,completed,cancelled"`
	Progress       *int       `json:"progress_percentage,omitempty" minimum:"0" maximum:"100" doc:"Explicit progress; omitted means derived"`
	Title          *string    `json:"title,omitempty" minLength:"1"`
	Description    *string    `json:"description,omitempty"`
	DueAt          *time.Time `json:"due_at,omitempty"`
	ClearDueAt     bool       `json:"clear_due_at,omitempty" doc:"Remove the due date"`
	EstimatedHours *float64   `json:"estimated_hours,omitempty" minimum:"0"`
	ActualHours    *float64   `json:"actual_hours,omitempty" minimum:"0"`
	Priority       *string    `json:"priority,omitempty" enum:"low,medium,high"`
	Weight         *float64   `json:"weight,omitempty" exclusiveMinimum:"0" doc:"Milestones only"`
}

func (r MutationRequest) toApplication() application.MutationRequest {
	return application.MutationRequest{
		Status:         r.Status,
		Progress:       r.Progress,
		Title:          r.Title,
		Description:    r.Description,
		DueAt:          r.DueAt,
		ClearDueAt:     r.ClearDueAt,
		EstimatedHours: r.EstimatedHours,
		ActualHours:    r.ActualHours,
		Priority:       r.Priority,
		Weight:         r.Weight,
	}
}

type MutationResponse struct {
	Kind      progress.Kind              `json:"kind"`
	Task      *progress.Task             `json:"task,omitempty"`
	Milestone *progress.Milestone        `json:"milestone,omitempty"`
	Cascade   *application.CascadeReport `json:"cascade,omitempty"`
	Warning   *Warning                   `json:"warning,omitempty"`
}

func mutationResponse(r *application.MutationResult) MutationResponse {
	return MutationResponse{
		Kind:      r.Kind,
		Task:      r.Task,
		Milestone: r.Milestone,
		Cascade:   r.Cascade,
		Warning:   warningFrom(r.Warning),
	}
}

type CreateBookingRequest struct {
	ID    string `json:"id,omitempty" doc:"Generated when empty"`
	Title string `json:"title" minLength:"1"`
}

type CreateMilestoneRequest struct {
	Title       string     `json:"title" minLength:"1"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status,omitempty" enum:"pending,in_progress,on_hold,completed,cancelled"`
	Weight      *float64   `json:"weight,omitempty" exclusiveMinimum:"0"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

type CreateTaskRequest struct {
	Title          string     `json:"title" minLength:"1"`
	Description    string     `json:"description,omitempty"`
	Status         string     `json:"status,omitempty" enum:"pending,in_progress,on_hold,completed,cancelled"`
	Progress       *int       `json:"progress_percentage,omitempty" minimum:"0" maximum:"100"`
	DueAt          *time.Time `json:"due_at,omitempty"`
	EstimatedHours *float64   `json:"estimated_hours,omitempty" minimum:"0"`
	ActualHours    *float64   `json:"actual_hours,omitempty" minimum:"0"`
	Priority       string     `json:"priority,omitempty" enum:"low,medium,high"`
}

func (r CreateTaskRequest) draft() application.TaskDraft {
	d := application.TaskDraft{
		Title:          r.Title,
		Description:    r.Description,
		Status:         progress.Status(r.Status),
		DueAt:          r.DueAt,
		EstimatedHours: r.EstimatedHours,
		ActualHours:    r.ActualHours,
		Priority:       progress.Priority(r.Priority),
	}
	if r.Progress != nil {
		d.Progress = progress.Explicit(*r.Progress)
	}
	return d
}

type RecomputeResponse struct {
	Cascade *application.CascadeReport `json:"cascade"`
	Warning *Warning                   `json:"warning,omitempty"`
}

type BookingProgressResponse struct {
	BookingID string     `json:"booking_id"`
	Progress  int        `json:"progress_percentage"`
	Source    string     `json:"source" enum:"cache,store"`
	Strategy  string     `json:"strategy,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type StatusInfo struct {
	Status      progress.Status   `json:"status"`
	DisplayName string            `json:"display_name"`
	Terminal    bool              `json:"terminal"`
	Allowed     []progress.Status `json:"allowed_targets"`
}
