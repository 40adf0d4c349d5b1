package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

// Strategy names reported in cascade reports and events.
const (
	StrategyPrimary  = "primary"
	StrategyFallback = "fallback"
	StrategyNone     = "none"
)

// Reasons recorded when the primary rollup is not used.
const (
	FailureTimeout     = "timeout"
	FailureDepth       = "depth"
	FailureError       = "error"
	FailureUnavailable = "unavailable"
)

// RollupStrategy computes a booking's progress from its milestones.
type RollupStrategy interface {
	Name() string
	ComputeBookingProgress(ctx context.Context, bookingID string) (int, error)
}

// PrimaryRollup delegates to a store-side computation.
type PrimaryRollup struct {
	provider progress.PrimaryRollupProvider
}

func NewPrimaryRollup(provider progress.PrimaryRollupProvider) *PrimaryRollup {
	return &PrimaryRollup{provider: provider}
}

func (p *PrimaryRollup) Name() string { return StrategyPrimary }

func (p *PrimaryRollup) ComputeBookingProgress(ctx context.Context, bookingID string) (int, error) {
	pct, err := p.provider.ComputeBookingProgress(ctx, bookingID)
	if err != nil {
		return 0, err
	}
	if pct < 0 || pct > 100 {
		return 0, fmt.Errorf("primary rollup returned %d for booking %s", pct, bookingID)
	}
	return pct, nil
}

// LocalRollup re-reads the milestones and applies AggregateBooking in process.
type LocalRollup struct {
	milestones  progress.MilestoneRepository
	retryConfig retry.Config
}

// NewLocalRollup builds the fallback strategy. attempts bounds the milestone
// read retries; values below 1 mean a single attempt.
func NewLocalRollup(milestones progress.MilestoneRepository, attempts int) *LocalRollup {
	if attempts < 1 {
		attempts = 1
	}
	return &LocalRollup{
		milestones: milestones,
		retryConfig: retry.Config{
			MaxAttempts:   attempts,
			InitialDelay:  10 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
	}
}

func (l *LocalRollup) Name() string { return StrategyFallback }

func (l *LocalRollup) ComputeBookingProgress(ctx context.Context, bookingID string) (int, error) {
	retryer := retry.New[[]progress.Milestone](l.retryConfig)

	milestones, err := retryer.Do(ctx, func(ctx context.Context) ([]progress.Milestone, error) {
		return l.milestones.ListMilestonesByBooking(ctx, bookingID)
	})
	if err != nil {
		return 0, &progress.AggregationReadError{Kind: progress.KindBooking, ID: bookingID, Err: err}
	}
	return progress.AggregateBooking(milestones), nil
}

// classifyPrimaryFailure maps a primary error to a reason label. Anything that
// used up the whole budget counts as a timeout whatever error it surfaced as.
func classifyPrimaryFailure(err error, elapsed, budget time.Duration) string {
	switch {
	case errors.Is(err, progress.ErrComputationDepth):
		return FailureDepth
	case errors.Is(err, progress.ErrRollupTimeout),
		errors.Is(err, context.DeadlineExceeded),
		budget > 0 && elapsed >= budget:
		return FailureTimeout
	default:
		return FailureError
	}
}
