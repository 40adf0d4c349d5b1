package application

import (
	"context"
	"time"

	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
	"go.uber.org/zap"
)

// MilestoneAggregator rebuilds a milestone's derived counters from its tasks.
type MilestoneAggregator struct {
	milestones progress.MilestoneRepository
	tasks      progress.TaskRepository
	locks      *keyedMutex
	logger     *zap.Logger
	now        func() time.Time
}

func NewMilestoneAggregator(milestones progress.MilestoneRepository, tasks progress.TaskRepository, logger *zap.Logger) *MilestoneAggregator {
	return newMilestoneAggregator(milestones, tasks, newKeyedMutex(), logger)
}

// newMilestoneAggregator shares locks with the mutation gateway so that a
// recalculation never interleaves with a direct write of the same milestone.
func newMilestoneAggregator(milestones progress.MilestoneRepository, tasks progress.TaskRepository, locks *keyedMutex, logger *zap.Logger) *MilestoneAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MilestoneAggregator{
		milestones: milestones,
		tasks:      tasks,
		locks:      locks,
		logger:     logger,
		now:        time.Now,
	}
}

// Recalculate reads the milestone and all of its tasks, recomputes the counters
// and writes the milestone back. A read failure returns an AggregationReadError
// and nothing is written. The milestone's own Status is never touched.
func (a *MilestoneAggregator) Recalculate(ctx context.Context, milestoneID string) (*progress.Milestone, error) {
	unlock := a.locks.Lock(lockKey(progress.KindMilestone, milestoneID))
	defer unlock()

	milestone, err := a.milestones.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, &progress.AggregationReadError{Kind: progress.KindMilestone, ID: milestoneID, Err: err}
	}
	tasks, err := a.tasks.ListTasksByMilestone(ctx, milestoneID)
	if err != nil {
		return nil, &progress.AggregationReadError{Kind: progress.KindMilestone, ID: milestoneID, Err: err}
	}

	now := a.now().UTC()
	milestone.ApplyCounters(progress.AggregateMilestone(tasks, now))
	milestone.UpdatedAt = now

	if err := a.milestones.SaveMilestone(ctx, milestone); err != nil {
		return nil, err
	}

	a.logger.Debug("milestone recalculated",
		zap.String("milestone_id", milestoneID),
		zap.Int("total_tasks", milestone.TotalTasks),
		zap.Int("completed_tasks", milestone.CompletedTasks),
		zap.Int("progress", milestone.ProgressPercentage),
	)
	return milestone, nil
}
