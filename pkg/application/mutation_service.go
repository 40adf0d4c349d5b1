package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/felixgeelhaar/milepost/pkg/domain/events"
	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

// CascadeMode selects whether the cascade runs inside the mutation call.
type CascadeMode string

const (
	CascadeSync  CascadeMode = "sync"
	CascadeAsync CascadeMode = "async"
)

// ServiceConfig tunes the mutation gateway and its cascade.
type ServiceConfig struct {
	Mode             CascadeMode
	PrimaryTimeout   time.Duration
	FallbackAttempts int
	// Primary overrides the store-provided primary rollup.
	Primary RollupStrategy
	// DisablePrimary sends every cascade straight to the fallback.
	DisablePrimary bool
}

// MutationResult is what the gateway returns for a successful write.
// Warning is set, wrapping progress.ErrCascadeIncomplete, when the write
// succeeded but derived progress could not be refreshed.
type MutationResult struct {
	Kind      progress.Kind       `json:"kind"`
	Task      *progress.Task      `json:"task,omitempty"`
	Milestone *progress.Milestone `json:"milestone,omitempty"`
	Cascade   *CascadeReport      `json:"cascade,omitempty"`
	Warning   error               `json:"-"`
}

// TaskDraft carries the fields of a new task.
type TaskDraft struct {
	Title          string
	Description    string
	Status         progress.Status
	Progress       progress.ProgressSource
	DueAt          *time.Time
	EstimatedHours *float64
	ActualHours    *float64
	Priority       progress.Priority
}

// MilestoneDraft carries the fields of a new milestone.
type MilestoneDraft struct {
	Title       string
	Description string
	Status      progress.Status
	Weight      *float64
	DueAt       *time.Time
}

// BookingDraft carries the fields of a new booking. An empty ID is generated.
type BookingDraft struct {
	ID    string
	Title string
}

// BookingTree is the read model of one booking with its milestones and tasks.
type BookingTree struct {
	Booking    progress.Booking `json:"booking" yaml:"booking"`
	Milestones []MilestoneNode  `json:"milestones" yaml:"milestones"`
}

type MilestoneNode struct {
	progress.Milestone `yaml:",inline"`
	Tasks              []progress.Task `json:"tasks" yaml:"tasks"`
}

// MutationService is the single write path for tasks and milestones.
type MutationService struct {
	store        progress.Store
	orchestrator *Orchestrator
	locks        *keyedMutex
	mode         CascadeMode
	publisher    events.Publisher
	logger       *zap.Logger
	now          func() time.Time
	pending      sync.WaitGroup
}

func NewMutationService(store progress.Store, cfg ServiceConfig, publisher events.Publisher, logger *zap.Logger) *MutationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if cfg.Mode == "" {
		cfg.Mode = CascadeSync
	}

	locks := newKeyedMutex()
	aggregator := newMilestoneAggregator(store, store, locks, logger)

	primary := cfg.Primary
	if primary == nil {
		if provider, ok := store.(progress.PrimaryRollupProvider); ok {
			primary = NewPrimaryRollup(provider)
		}
	}
	if cfg.DisablePrimary {
		primary = nil
	}
	fallback := NewLocalRollup(store, cfg.FallbackAttempts)

	orchestrator := NewOrchestrator(store, aggregator, primary, fallback,
		OrchestratorConfig{PrimaryTimeout: cfg.PrimaryTimeout}, publisher, logger)

	return &MutationService{
		store:        store,
		orchestrator: orchestrator,
		locks:        locks,
		mode:         cfg.Mode,
		publisher:    publisher,
		logger:       logger,
		now:          time.Now,
	}
}

// Orchestrator exposes the cascade for callers that only recompute.
func (s *MutationService) Orchestrator() *Orchestrator {
	return s.orchestrator
}

// Wait blocks until every async cascade started so far has finished.
func (s *MutationService) Wait() {
	s.pending.Wait()
}

// ApplyMutation validates and writes changes to a task or milestone and then
// cascades the recalculation upward. Status changes are checked before
// anything is written; a rejected transition leaves the entity untouched.
func (s *MutationService) ApplyMutation(ctx context.Context, kind progress.Kind, id string, changes progress.Changes) (*MutationResult, error) {
	if err := changes.Check(kind); err != nil {
		return nil, err
	}

	switch kind {
	case progress.KindTask:
		return s.mutateTask(ctx, id, changes)
	case progress.KindMilestone:
		return s.mutateMilestone(ctx, id, changes)
	default:
		return nil, fmt.Errorf("%w: unsupported kind %q", progress.ErrInvalidChanges, kind)
	}
}

func (s *MutationService) mutateTask(ctx context.Context, id string, changes progress.Changes) (*MutationResult, error) {
	var before progress.Task
	task, err := func() (*progress.Task, error) {
		unlock := s.locks.Lock(lockKey(progress.KindTask, id))
		defer unlock()

		task, err := s.store.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		before = *task

		if changes.Status != nil {
			if err := progress.ValidateTransition(progress.KindTask, id, task.Status, *changes.Status); err != nil {
				return nil, err
			}
		}

		applyTaskChanges(task, changes, s.now().UTC())
		if err := task.Validate(); err != nil {
			return nil, err
		}
		if err := s.store.SaveTask(ctx, task); err != nil {
			return nil, fmt.Errorf("save task %s: %w", id, err)
		}
		return task, nil
	}()
	if err != nil {
		return nil, err
	}

	s.logger.Info("task mutated",
		zap.String("task_id", id),
		zap.String("from_status", before.Status.String()),
		zap.String("to_status", task.Status.String()),
		zap.Int("progress", task.ProgressPercentage),
	)
	s.publisher.Publish(ctx, events.NewTaskMutated(&before, task))

	result := &MutationResult{Kind: progress.KindTask, Task: task}
	milestoneID := task.MilestoneID
	s.cascade(ctx, result, func(ctx context.Context) (*CascadeReport, error) {
		return s.orchestrator.AfterTaskChange(ctx, milestoneID)
	})
	return result, nil
}

func (s *MutationService) mutateMilestone(ctx context.Context, id string, changes progress.Changes) (*MutationResult, error) {
	var before progress.Milestone
	milestone, err := func() (*progress.Milestone, error) {
		unlock := s.locks.Lock(lockKey(progress.KindMilestone, id))
		defer unlock()

		milestone, err := s.store.GetMilestone(ctx, id)
		if err != nil {
			return nil, err
		}
		before = *milestone

		if changes.Status != nil {
			if err := progress.ValidateTransition(progress.KindMilestone, id, milestone.Status, *changes.Status); err != nil {
				return nil, err
			}
		}

		applyMilestoneChanges(milestone, changes, s.now().UTC())
		if err := milestone.Validate(); err != nil {
			return nil, err
		}
		if err := s.store.SaveMilestone(ctx, milestone); err != nil {
			return nil, fmt.Errorf("save milestone %s: %w", id, err)
		}
		return milestone, nil
	}()
	if err != nil {
		return nil, err
	}

	s.logger.Info("milestone mutated",
		zap.String("milestone_id", id),
		zap.String("from_status", before.Status.String()),
		zap.String("to_status", milestone.Status.String()),
		zap.Bool("explicit_progress", changes.Progress.IsExplicit()),
	)
	s.publisher.Publish(ctx, events.NewMilestoneMutated(&before, milestone))

	result := &MutationResult{Kind: progress.KindMilestone, Milestone: milestone}
	written := *milestone
	recalc := !changes.Progress.IsExplicit()
	s.cascade(ctx, result, func(ctx context.Context) (*CascadeReport, error) {
		return s.orchestrator.AfterMilestoneChange(ctx, &written, recalc)
	})
	return result, nil
}

// applyTaskChanges copies changes onto t. Without an explicit progress, a
// status change derives it: completed is 100 and pending is 0.
func applyTaskChanges(t *progress.Task, c progress.Changes, now time.Time) {
	statusChanged := c.Status != nil && *c.Status != t.Status
	if statusChanged {
		t.Status = *c.Status
		if t.Status == progress.StatusCompleted {
			t.CompletedAt = &now
		}
	}
	if c.Title != nil {
		t.Title = *c.Title
	}
	if c.Description != nil {
		t.Description = *c.Description
	}
	if due, ok := c.DueAt.Get(); ok {
		t.DueAt = due
	}
	if c.EstimatedHours != nil {
		v := *c.EstimatedHours
		t.EstimatedHours = &v
	}
	if c.ActualHours != nil {
		v := *c.ActualHours
		t.ActualHours = &v
	}
	if c.Priority != nil {
		t.Priority = *c.Priority
	}

	if v, ok := c.Progress.Value(); ok {
		t.ProgressPercentage = v
	} else if statusChanged {
		t.ProgressPercentage = derivedTaskProgress(t.Status, t.ProgressPercentage)
	}

	t.UpdatedAt = now
	t.RefreshOverdue(now)
}

func derivedTaskProgress(status progress.Status, current int) int {
	switch status {
	case progress.StatusCompleted:
		return 100
	case progress.StatusPending:
		return 0
	default:
		return current
	}
}

// applyMilestoneChanges copies changes onto m. Counters and derived progress
// are left to the aggregator unless progress is explicit.
func applyMilestoneChanges(m *progress.Milestone, c progress.Changes, now time.Time) {
	if c.Status != nil && *c.Status != m.Status {
		m.Status = *c.Status
		if m.Status == progress.StatusCompleted {
			m.CompletedAt = &now
		}
	}
	if c.Title != nil {
		m.Title = *c.Title
	}
	if c.Description != nil {
		m.Description = *c.Description
	}
	if due, ok := c.DueAt.Get(); ok {
		m.DueAt = due
	}
	if c.Weight != nil {
		w := *c.Weight
		m.Weight = &w
	}
	if v, ok := c.Progress.Value(); ok {
		m.ProgressPercentage = v
	}
	m.UpdatedAt = now
}

// cascade runs the recalculation inline or in the background depending on mode.
func (s *MutationService) cascade(ctx context.Context, result *MutationResult, run func(context.Context) (*CascadeReport, error)) {
	if s.mode == CascadeAsync {
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			if _, err := run(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("async cascade incomplete", zap.Error(err))
			}
		}()
		return
	}

	report, err := run(ctx)
	result.Cascade = report
	if err != nil {
		s.logger.Warn("cascade incomplete", zap.Error(err))
		result.Warning = err
	}
}

// CreateTask adds a task to a milestone and cascades.
func (s *MutationService) CreateTask(ctx context.Context, milestoneID string, draft TaskDraft) (*MutationResult, error) {
	if _, err := s.store.GetMilestone(ctx, milestoneID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	status := draft.Status
	if status == "" {
		status = progress.StatusPending
	}
	task := &progress.Task{
		ID:             uuid.NewString(),
		MilestoneID:    milestoneID,
		Title:          strings.TrimSpace(draft.Title),
		Description:    draft.Description,
		Status:         status,
		DueAt:          draft.DueAt,
		EstimatedHours: draft.EstimatedHours,
		ActualHours:    draft.ActualHours,
		Priority:       draft.Priority,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if v, ok := draft.Progress.Value(); ok {
		task.ProgressPercentage = v
	} else {
		task.ProgressPercentage = derivedTaskProgress(status, 0)
	}
	if status == progress.StatusCompleted {
		task.CompletedAt = &now
	}
	task.RefreshOverdue(now)

	if err := task.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.SaveTask(ctx, task); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}

	s.logger.Info("task created", zap.String("task_id", task.ID), zap.String("milestone_id", milestoneID))
	s.publisher.Publish(ctx, events.NewTaskMutated(nil, task))

	result := &MutationResult{Kind: progress.KindTask, Task: task}
	s.cascade(ctx, result, func(ctx context.Context) (*CascadeReport, error) {
		return s.orchestrator.AfterTaskChange(ctx, milestoneID)
	})
	return result, nil
}

// CreateMilestone adds a milestone to a booking and cascades.
func (s *MutationService) CreateMilestone(ctx context.Context, bookingID string, draft MilestoneDraft) (*MutationResult, error) {
	if _, err := s.store.GetBooking(ctx, bookingID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	status := draft.Status
	if status == "" {
		status = progress.StatusPending
	}
	milestone := &progress.Milestone{
		ID:          uuid.NewString(),
		BookingID:   bookingID,
		Title:       strings.TrimSpace(draft.Title),
		Description: draft.Description,
		Status:      status,
		Weight:      draft.Weight,
		DueAt:       draft.DueAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	milestone.CalculatedStatus = progress.StatusPending
	if status == progress.StatusCompleted {
		milestone.CompletedAt = &now
	}
	if err := milestone.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.SaveMilestone(ctx, milestone); err != nil {
		return nil, fmt.Errorf("save milestone: %w", err)
	}

	s.logger.Info("milestone created", zap.String("milestone_id", milestone.ID), zap.String("booking_id", bookingID))
	s.publisher.Publish(ctx, events.NewMilestoneMutated(nil, milestone))

	result := &MutationResult{Kind: progress.KindMilestone, Milestone: milestone}
	written := *milestone
	s.cascade(ctx, result, func(ctx context.Context) (*CascadeReport, error) {
		return s.orchestrator.AfterMilestoneChange(ctx, &written, true)
	})
	return result, nil
}

// DeleteMilestone removes a milestone with its tasks and re-rolls the booking.
func (s *MutationService) DeleteMilestone(ctx context.Context, id string) (*MutationResult, error) {
	milestone, err := func() (*progress.Milestone, error) {
		unlock := s.locks.Lock(lockKey(progress.KindMilestone, id))
		defer unlock()

		milestone, err := s.store.GetMilestone(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := s.store.DeleteMilestone(ctx, id); err != nil {
			return nil, fmt.Errorf("delete milestone %s: %w", id, err)
		}
		return milestone, nil
	}()
	if err != nil {
		return nil, err
	}

	s.logger.Info("milestone deleted", zap.String("milestone_id", id), zap.String("booking_id", milestone.BookingID))
	s.publisher.Publish(ctx, events.NewMilestoneDeleted(milestone))

	result := &MutationResult{Kind: progress.KindMilestone, Milestone: milestone}
	bookingID := milestone.BookingID
	s.cascade(ctx, result, func(ctx context.Context) (*CascadeReport, error) {
		return s.orchestrator.RollupBooking(ctx, bookingID)
	})
	return result, nil
}

// CreateBooking stores a new booking with zero progress.
func (s *MutationService) CreateBooking(ctx context.Context, draft BookingDraft) (*progress.Booking, error) {
	if strings.TrimSpace(draft.Title) == "" {
		return nil, fmt.Errorf("%w: booking title is required", progress.ErrInvalidChanges)
	}
	id := draft.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now().UTC()
	booking := &progress.Booking{ID: id, Title: strings.TrimSpace(draft.Title), CreatedAt: now, UpdatedAt: now}
	if err := s.store.SaveBooking(ctx, booking); err != nil {
		return nil, fmt.Errorf("save booking: %w", err)
	}
	return booking, nil
}

// RecomputeBooking recalculates every milestone of the booking and the
// booking itself. A returned *CascadeIncompleteError comes with a report.
func (s *MutationService) RecomputeBooking(ctx context.Context, bookingID string) (*CascadeReport, error) {
	return s.orchestrator.RecomputeBooking(ctx, bookingID)
}

// GetTask returns the task with its overdue flag evaluated now.
func (s *MutationService) GetTask(ctx context.Context, id string) (*progress.Task, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	task.RefreshOverdue(s.now().UTC())
	return task, nil
}

func (s *MutationService) GetMilestone(ctx context.Context, id string) (*progress.Milestone, error) {
	return s.store.GetMilestone(ctx, id)
}

// GetBookingTree loads a booking, its milestones and their tasks. Task overdue
// flags are evaluated at read time and not written back.
func (s *MutationService) GetBookingTree(ctx context.Context, bookingID string) (*BookingTree, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	milestones, err := s.store.ListMilestonesByBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list milestones of %s: %w", bookingID, err)
	}

	now := s.now().UTC()
	tree := &BookingTree{Booking: *booking, Milestones: make([]MilestoneNode, 0, len(milestones))}
	for _, m := range milestones {
		tasks, err := s.store.ListTasksByMilestone(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("list tasks of %s: %w", m.ID, err)
		}
		for i := range tasks {
			tasks[i].RefreshOverdue(now)
		}
		tree.Milestones = append(tree.Milestones, MilestoneNode{Milestone: m, Tasks: tasks})
	}
	return tree, nil
}

// ErrListingUnsupported is returned when the store cannot enumerate bookings.
var ErrListingUnsupported = errors.New("store cannot list bookings")

func (s *MutationService) ListBookings(ctx context.Context) ([]progress.Booking, error) {
	catalog, ok := s.store.(progress.BookingCatalog)
	if !ok {
		return nil, ErrListingUnsupported
	}
	return catalog.ListBookings(ctx)
}
