package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/felixgeelhaar/milepost/pkg/application"
	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

type mutationOutput struct {
	Body MutationResponse `json:"body"`
}

func registerStatuses(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-statuses",
		Method:      http.MethodGet,
		Path:        "/statuses",
		Summary:     "Statuses and their allowed transitions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []StatusInfo `json:"body"`
	}, error) {
		out := &struct {
			Body []StatusInfo `json:"body"`
		}{}
		for _, s := range progress.AllStatuses() {
			out.Body = append(out.Body, StatusInfo{
				Status:      s,
				DisplayName: s.DisplayName(),
				Terminal:    s.IsTerminal(),
				Allowed:     s.AllowedTargets(),
			})
		}
		return out, nil
	})
}

func registerBookings(api huma.API, svc *application.MutationService, progressCache ProgressCache) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-booking",
		Method:        http.MethodPost,
		Path:          "/bookings",
		Summary:       "Create booking",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateBookingRequest `json:"body"`
	}) (*struct {
		Body *progress.Booking `json:"body"`
	}, error) {
		booking, err := svc.CreateBooking(ctx, application.BookingDraft{ID: input.Body.ID, Title: input.Body.Title})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *progress.Booking `json:"body"`
		}{Body: booking}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bookings",
		Method:      http.MethodGet,
		Path:        "/bookings",
		Summary:     "List bookings",
		Errors:      []int{http.StatusNotImplemented, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []progress.Booking `json:"body"`
	}, error) {
		bookings, err := svc.ListBookings(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []progress.Booking `json:"body"`
		}{Body: bookings}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-booking",
		Method:      http.MethodGet,
		Path:        "/bookings/{booking_id}",
		Summary:     "Booking with milestones and tasks",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		BookingID string `path:"booking_id"`
	}) (*struct {
		Body *application.BookingTree `json:"body"`
	}, error) {
		tree, err := svc.GetBookingTree(ctx, input.BookingID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *application.BookingTree `json:"body"`
		}{Body: tree}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-booking-progress",
		Method:      http.MethodGet,
		Path:        "/bookings/{booking_id}/progress",
		Summary:     "Rolled-up booking progress",
		Description: "Served from the progress cache when one is configured and warm.",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		BookingID string `path:"booking_id"`
	}) (*struct {
		Body BookingProgressResponse `json:"body"`
	}, error) {
		out := &struct {
			Body BookingProgressResponse `json:"body"`
		}{}
		if progressCache != nil {
			// A cache failure falls through to the store.
			if entry, ok, err := progressCache.Booking(ctx, input.BookingID); err == nil && ok {
				updated := entry.UpdatedAt
				out.Body = BookingProgressResponse{
					BookingID: input.BookingID,
					Progress:  entry.Progress,
					Source:    "cache",
					Strategy:  entry.Strategy,
					UpdatedAt: &updated,
				}
				return out, nil
			}
		}
		tree, err := svc.GetBookingTree(ctx, input.BookingID)
		if err != nil {
			return nil, handleError(err)
		}
		out.Body = BookingProgressResponse{
			BookingID: input.BookingID,
			Progress:  tree.Booking.ProgressPercentage,
			Source:    "store",
			UpdatedAt: tree.Booking.RecalculatedAt,
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recompute-booking",
		Method:      http.MethodPost,
		Path:        "/bookings/{booking_id}/recompute",
		Summary:     "Recalculate every milestone and the booking",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		BookingID string `path:"booking_id"`
	}) (*struct {
		Body RecomputeResponse `json:"body"`
	}, error) {
		report, err := svc.RecomputeBooking(ctx, input.BookingID)
		if err != nil && !errors.Is(err, progress.ErrCascadeIncomplete) {
			return nil, handleError(err)
		}
		return &struct {
			Body RecomputeResponse `json:"body"`
		}{Body: RecomputeResponse{Cascade: report, Warning: warningFrom(err)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-milestone",
		Method:        http.MethodPost,
		Path:          "/bookings/{booking_id}/milestones",
		Summary:       "Add a milestone to a booking",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		BookingID string                 `path:"booking_id"`
		Body      CreateMilestoneRequest `json:"body"`
	}) (*mutationOutput, error) {
		result, err := svc.CreateMilestone(ctx, input.BookingID, application.MilestoneDraft{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Status:      progress.Status(input.Body.Status),
			Weight:      input.Body.Weight,
			DueAt:       input.Body.DueAt,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &mutationOutput{Body: mutationResponse(result)}, nil
	})
}

func registerMilestones(api huma.API, svc *application.MutationService) {
	huma.Register(api, huma.Operation{
		OperationID: "get-milestone",
		Method:      http.MethodGet,
		Path:        "/milestones/{milestone_id}",
		Summary:     "Get milestone",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		MilestoneID string `path:"milestone_id"`
	}) (*struct {
		Body *progress.Milestone `json:"body"`
	}, error) {
		m, err := svc.GetMilestone(ctx, input.MilestoneID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *progress.Milestone `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-milestone",
		Method:      http.MethodPatch,
		Path:        "/milestones/{milestone_id}",
		Summary:     "Change milestone fields or status",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		MilestoneID string          `path:"milestone_id"`
		Body        MutationRequest `json:"body"`
	}) (*mutationOutput, error) {
		return applyMutation(ctx, svc, progress.KindMilestone, input.MilestoneID, input.Body)
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-milestone",
		Method:      http.MethodDelete,
		Path:        "/milestones/{milestone_id}",
		Summary:     "Delete milestone and its tasks",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		MilestoneID string `path:"milestone_id"`
	}) (*mutationOutput, error) {
		result, err := svc.DeleteMilestone(ctx, input.MilestoneID)
		if err != nil {
			return nil, handleError(err)
		}
		return &mutationOutput{Body: mutationResponse(result)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/milestones/{milestone_id}/tasks",
		Summary:       "Add a task to a milestone",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		MilestoneID string            `path:"milestone_id"`
		Body        CreateTaskRequest `json:"body"`
	}) (*mutationOutput, error) {
		result, err := svc.CreateTask(ctx, input.MilestoneID, input.Body.draft())
		if err != nil {
			return nil, handleError(err)
		}
		return &mutationOutput{Body: mutationResponse(result)}, nil
	})
}

func registerTasks(api huma.API, svc *application.MutationService) {
	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body *progress.Task `json:"body"`
	}, error) {
		task, err := svc.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *progress.Task `json:"body"`
		}{Body: task}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Change task fields or status",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string          `path:"task_id"`
		Body   MutationRequest `json:"body"`
	}) (*mutationOutput, error) {
		return applyMutation(ctx, svc, progress.KindTask, input.TaskID, input.Body)
	})
}

func applyMutation(ctx context.Context, svc *application.MutationService, kind progress.Kind, id string, body MutationRequest) (*mutationOutput, error) {
	changes, err := body.toApplication().Changes()
	if err != nil {
		return nil, handleError(err)
	}
	result, err := svc.ApplyMutation(ctx, kind, id, changes)
	if err != nil {
		return nil, handleError(err)
	}
	return &mutationOutput{Body: mutationResponse(result)}, nil
}
