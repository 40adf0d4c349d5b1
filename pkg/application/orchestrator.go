package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/fortify/timeout"
	"github.com/felixgeelhaar/milepost/pkg/domain/events"
	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
	"go.uber.org/zap"
)

// DefaultPrimaryTimeout bounds the primary booking rollup.
const DefaultPrimaryTimeout = 3 * time.Second

// CascadeReport describes what one cascade run recomputed.
type CascadeReport struct {
	BookingID             string          `json:"booking_id" yaml:"booking_id"`
	MilestoneID           string          `json:"milestone_id,omitempty" yaml:"milestone_id,omitempty"`
	MilestoneRecalculated bool            `json:"milestone_recalculated" yaml:"milestone_recalculated"`
	MilestoneProgress     int             `json:"milestone_progress" yaml:"milestone_progress"`
	CalculatedStatus      progress.Status `json:"calculated_status,omitempty" yaml:"calculated_status,omitempty"`
	MilestonesRecomputed  int             `json:"milestones_recomputed,omitempty" yaml:"milestones_recomputed,omitempty"`
	BookingProgress       int             `json:"booking_progress" yaml:"booking_progress"`
	Strategy              string          `json:"strategy" yaml:"strategy"`
	PrimaryFailure        string          `json:"primary_failure,omitempty" yaml:"primary_failure,omitempty"`
	PrimaryDuration       time.Duration   `json:"primary_duration_ns" yaml:"primary_duration_ns"`
}

type OrchestratorConfig struct {
	// PrimaryTimeout bounds the primary rollup. Zero means DefaultPrimaryTimeout.
	PrimaryTimeout time.Duration
}

// Orchestrator runs the upward recalculation after a write:
// milestone counters first, then the booking rollup through the primary
// strategy with a timeout, falling back to the local strategy.
type Orchestrator struct {
	bookings       progress.BookingRepository
	aggregator     *MilestoneAggregator
	primary        RollupStrategy
	fallback       RollupStrategy
	primaryTimeout time.Duration
	publisher      events.Publisher
	logger         *zap.Logger
}

// NewOrchestrator wires the cascade. primary may be nil when the store has no
// server-side rollup; every cascade then goes straight to fallback.
func NewOrchestrator(bookings progress.BookingRepository, aggregator *MilestoneAggregator, primary, fallback RollupStrategy, cfg OrchestratorConfig, publisher events.Publisher, logger *zap.Logger) *Orchestrator {
	if cfg.PrimaryTimeout <= 0 {
		cfg.PrimaryTimeout = DefaultPrimaryTimeout
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		bookings:       bookings,
		aggregator:     aggregator,
		primary:        primary,
		fallback:       fallback,
		primaryTimeout: cfg.PrimaryTimeout,
		publisher:      publisher,
		logger:         logger,
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, events.DomainEvent) {}

// AfterTaskChange recalculates the task's milestone and then its booking.
// The returned error is always a *progress.CascadeIncompleteError.
func (o *Orchestrator) AfterTaskChange(ctx context.Context, milestoneID string) (*CascadeReport, error) {
	report := &CascadeReport{MilestoneID: milestoneID, Strategy: StrategyNone}

	milestone, err := o.recalculate(ctx, milestoneID)
	if err != nil {
		return o.incomplete(ctx, report, err)
	}
	report.BookingID = milestone.BookingID
	o.recordMilestone(report, milestone)

	return o.finish(ctx, report)
}

// AfterMilestoneChange rolls up m's booking. When recalc is false the caller
// supplied an explicit progress and m is used as written.
func (o *Orchestrator) AfterMilestoneChange(ctx context.Context, m *progress.Milestone, recalc bool) (*CascadeReport, error) {
	report := &CascadeReport{BookingID: m.BookingID, MilestoneID: m.ID, Strategy: StrategyNone}

	if recalc {
		milestone, err := o.recalculate(ctx, m.ID)
		if err != nil {
			return o.incomplete(ctx, report, err)
		}
		o.recordMilestone(report, milestone)
	} else {
		report.MilestoneProgress = m.ProgressPercentage
		report.CalculatedStatus = m.CalculatedStatus
	}

	return o.finish(ctx, report)
}

// RollupBooking runs only the booking step.
func (o *Orchestrator) RollupBooking(ctx context.Context, bookingID string) (*CascadeReport, error) {
	report := &CascadeReport{BookingID: bookingID, Strategy: StrategyNone}
	return o.finish(ctx, report)
}

// RecomputeBooking recalculates every milestone of the booking and then the
// booking itself. An unknown booking is an error; anything that fails after
// that is reported as a cascade warning.
func (o *Orchestrator) RecomputeBooking(ctx context.Context, bookingID string) (*CascadeReport, error) {
	if _, err := o.bookings.GetBooking(ctx, bookingID); err != nil {
		return nil, err
	}
	report := &CascadeReport{BookingID: bookingID, Strategy: StrategyNone}

	milestones, err := o.aggregator.milestones.ListMilestonesByBooking(ctx, bookingID)
	if err != nil {
		return o.incomplete(ctx, report, &progress.AggregationReadError{Kind: progress.KindBooking, ID: bookingID, Err: err})
	}
	for i := range milestones {
		if _, err := o.recalculate(ctx, milestones[i].ID); err != nil {
			return o.incomplete(ctx, report, err)
		}
		report.MilestonesRecomputed++
	}

	return o.finish(ctx, report)
}

func (o *Orchestrator) recalculate(ctx context.Context, milestoneID string) (*progress.Milestone, error) {
	milestone, err := o.aggregator.Recalculate(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	o.publisher.Publish(ctx, events.NewMilestoneRecalculated(milestone))
	return milestone, nil
}

func (o *Orchestrator) recordMilestone(report *CascadeReport, m *progress.Milestone) {
	report.MilestoneRecalculated = true
	report.MilestoneProgress = m.ProgressPercentage
	report.CalculatedStatus = m.CalculatedStatus
}

// finish runs the booking rollup and writes its result.
func (o *Orchestrator) finish(ctx context.Context, report *CascadeReport) (*CascadeReport, error) {
	pct, err := o.computeBooking(ctx, report)
	if err != nil {
		return o.incomplete(ctx, report, err)
	}

	// The derived write completes even if the caller has gone away.
	if err := o.bookings.SaveBookingProgress(context.WithoutCancel(ctx), report.BookingID, pct); err != nil {
		return o.incomplete(ctx, report, fmt.Errorf("write booking progress: %w", err))
	}
	report.BookingProgress = pct

	o.publisher.Publish(ctx, events.NewBookingProgressUpdated(report.BookingID, pct, report.Strategy))
	o.publisher.Publish(ctx, events.NewCascadeFinished(report.BookingID, report.MilestoneID, report.Strategy, report.PrimaryFailure, report.PrimaryDuration, nil))
	return report, nil
}

func (o *Orchestrator) computeBooking(ctx context.Context, report *CascadeReport) (int, error) {
	if o.primary == nil {
		report.PrimaryFailure = FailureUnavailable
	} else {
		start := time.Now()
		pct, err := o.runPrimary(ctx, report.BookingID)
		report.PrimaryDuration = time.Since(start)
		if err == nil {
			report.Strategy = o.primary.Name()
			return pct, nil
		}
		report.PrimaryFailure = classifyPrimaryFailure(err, report.PrimaryDuration, o.primaryTimeout)
		o.logger.Warn("primary booking rollup failed, using fallback",
			zap.String("booking_id", report.BookingID),
			zap.String("reason", report.PrimaryFailure),
			zap.Duration("duration", report.PrimaryDuration),
			zap.Error(err),
		)
	}

	// Fallback is not time-bounded and ignores caller cancellation.
	pct, err := o.fallback.ComputeBookingProgress(context.WithoutCancel(ctx), report.BookingID)
	if err != nil {
		o.logger.Error("fallback booking rollup failed",
			zap.String("booking_id", report.BookingID),
			zap.Error(err),
		)
		return 0, err
	}
	report.Strategy = o.fallback.Name()
	return pct, nil
}

type primaryAnswer struct {
	pct int
	err error
}

// runPrimary calls the primary strategy under the configured timeout. The call
// runs on its own goroutine so a primary that ignores ctx cannot hold the
// cascade past the deadline; its late answer lands in a buffered channel
// nobody reads and the context handed to it is cancelled.
func (o *Orchestrator) runPrimary(ctx context.Context, bookingID string) (int, error) {
	t := timeout.New[int](timeout.Config{
		DefaultTimeout: o.primaryTimeout,
	})

	return t.Execute(ctx, o.primaryTimeout, func(ctx context.Context) (int, error) {
		pctx, cancel := context.WithTimeout(ctx, o.primaryTimeout)
		defer cancel()

		answer := make(chan primaryAnswer, 1)
		go func() {
			pct, err := o.primary.ComputeBookingProgress(pctx, bookingID)
			answer <- primaryAnswer{pct: pct, err: err}
		}()

		select {
		case a := <-answer:
			return a.pct, a.err
		case <-pctx.Done():
			if errors.Is(pctx.Err(), context.DeadlineExceeded) {
				return 0, fmt.Errorf("%w after %s", progress.ErrRollupTimeout, o.primaryTimeout)
			}
			return 0, pctx.Err()
		}
	})
}

func (o *Orchestrator) incomplete(ctx context.Context, report *CascadeReport, cause error) (*CascadeReport, error) {
	report.Strategy = StrategyNone
	o.publisher.Publish(ctx, events.NewCascadeFinished(report.BookingID, report.MilestoneID, report.Strategy, report.PrimaryFailure, report.PrimaryDuration, cause))
	return report, &progress.CascadeIncompleteError{BookingID: report.BookingID, Cause: cause}
}
