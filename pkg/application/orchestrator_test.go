package application_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/felixgeelhaar/milepost/pkg/application"
	"github.com/felixgeelhaar/milepost/pkg/domain/events"
	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

type stubStrategy struct {
	pct int
	err error
}

func (s stubStrategy) Name() string { return "stub" }

func (s stubStrategy) ComputeBookingProgress(context.Context, string) (int, error) {
	return s.pct, s.err
}

func newOrchestrator(store *faultyStore, primary application.RollupStrategy, timeout time.Duration, pub *recordingPublisher) *application.Orchestrator {
	aggregator := application.NewMilestoneAggregator(store, store, nil)
	fallback := application.NewLocalRollup(store, 3)
	return application.NewOrchestrator(store, aggregator, primary, fallback,
		application.OrchestratorConfig{PrimaryTimeout: timeout}, pub, nil)
}

// setMilestoneProgress writes progress straight to the store, bypassing the cascade.
func setMilestoneProgress(t *testing.T, store *faultyStore, id string, pct int) {
	t.Helper()
	ctx := context.Background()
	m, err := store.GetMilestone(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	m.ProgressPercentage = pct
	if err := store.SaveMilestone(ctx, m); err != nil {
		t.Fatal(err)
	}
}

func directRollup(t *testing.T, store *faultyStore, bookingID string) int {
	t.Helper()
	milestones, err := store.MemoryStore.ListMilestonesByBooking(context.Background(), bookingID)
	if err != nil {
		t.Fatal(err)
	}
	return progress.AggregateBooking(milestones)
}

// sleepyStrategy blocks for delay without looking at its context, like a
// client that does not honour deadlines.
type sleepyStrategy struct {
	delay time.Duration
	pct   int
}

func (s sleepyStrategy) Name() string { return "sleepy" }

func (s sleepyStrategy) ComputeBookingProgress(context.Context, string) (int, error) {
	time.Sleep(s.delay)
	return s.pct, nil
}

func TestOrchestrator_PrimaryTimeoutFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		primary func(store *faultyStore) application.RollupStrategy
	}{
		{
			name: "primary honours cancellation",
			primary: func(store *faultyStore) application.RollupStrategy {
				store.primaryDelay = time.Second
				return application.NewPrimaryRollup(store)
			},
		},
		{
			name: "primary ignores cancellation",
			primary: func(*faultyStore) application.RollupStrategy {
				return sleepyStrategy{delay: time.Second, pct: 99}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFaultyStore()
			seed(store)
			setMilestoneProgress(t, store, "m-2", 60)
			pub := &recordingPublisher{}

			orch := newOrchestrator(store, tt.primary(store), 30*time.Millisecond, pub)

			start := time.Now()
			report, err := orch.RollupBooking(context.Background(), "b-1")
			elapsed := time.Since(start)
			if err != nil {
				t.Fatal(err)
			}

			if elapsed >= 500*time.Millisecond {
				t.Errorf("cascade waited for the late primary: %v", elapsed)
			}
			if report.Strategy != application.StrategyFallback || report.PrimaryFailure != application.FailureTimeout {
				t.Errorf("report = %+v", report)
			}

			want := directRollup(t, store, "b-1")
			b, _ := store.GetBooking(context.Background(), "b-1")
			if b.ProgressPercentage != want || report.BookingProgress != want || want != 45 {
				t.Errorf("booking progress = %d, report = %d, direct = %d, want 45", b.ProgressPercentage, report.BookingProgress, want)
			}
			if !pub.has(events.TypeBookingProgressUpdated) {
				t.Error("booking.progress_updated not published")
			}
		})
	}
}

func TestOrchestrator_PrimaryFailureClassification(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{"depth", fmt.Errorf("stack depth limit exceeded: %w", progress.ErrComputationDepth), application.FailureDepth},
		{"explicit timeout", progress.ErrRollupTimeout, application.FailureTimeout},
		{"other", errBoom, application.FailureError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFaultyStore()
			seed(store)
			setMilestoneProgress(t, store, "m-1", 100)
			store.primaryErr = tt.err

			orch := newOrchestrator(store, application.NewPrimaryRollup(store), time.Second, &recordingPublisher{})
			report, err := orch.RollupBooking(context.Background(), "b-1")
			if err != nil {
				t.Fatal(err)
			}
			if report.PrimaryFailure != tt.reason {
				t.Errorf("reason = %q, want %q", report.PrimaryFailure, tt.reason)
			}
			if report.Strategy != application.StrategyFallback || report.BookingProgress != 25 {
				t.Errorf("report = %+v", report)
			}
		})
	}
}

func TestOrchestrator_PrimaryOutOfRangeIsFailure(t *testing.T) {
	store := newFaultyStore()
	seed(store)

	orch := newOrchestrator(store, application.NewPrimaryRollup(stubProvider{pct: 150}), time.Second, &recordingPublisher{})
	report, err := orch.RollupBooking(context.Background(), "b-1")
	if err != nil {
		t.Fatal(err)
	}
	if report.Strategy != application.StrategyFallback || report.PrimaryFailure != application.FailureError {
		t.Errorf("report = %+v", report)
	}
}

type stubProvider struct{ pct int }

func (p stubProvider) ComputeBookingProgress(context.Context, string) (int, error) { return p.pct, nil }

func TestOrchestrator_NoPrimary(t *testing.T) {
	store := newFaultyStore()
	seed(store)

	orch := newOrchestrator(store, nil, 0, &recordingPublisher{})
	report, err := orch.RollupBooking(context.Background(), "b-1")
	if err != nil {
		t.Fatal(err)
	}
	if report.Strategy != application.StrategyFallback || report.PrimaryFailure != application.FailureUnavailable {
		t.Errorf("report = %+v", report)
	}
	if store.primaryCalls != 0 {
		t.Error("primary should not be called")
	}
}

func TestOrchestrator_FallbackRetriesReads(t *testing.T) {
	store := newFaultyStore()
	seed(store)
	store.listMilestonesErr = errBoom
	store.listMilestonesFails = 2

	orch := newOrchestrator(store, stubStrategy{err: errBoom}, time.Second, &recordingPublisher{})
	report, err := orch.RollupBooking(context.Background(), "b-1")
	if err != nil {
		t.Fatalf("fallback should recover after retries: %v", err)
	}
	if report.Strategy != application.StrategyFallback {
		t.Errorf("strategy = %s", report.Strategy)
	}
}

func TestOrchestrator_BothStrategiesFail(t *testing.T) {
	store := newFaultyStore()
	seed(store)
	ctx := context.Background()
	if err := store.SaveBookingProgress(ctx, "b-1", 33); err != nil {
		t.Fatal(err)
	}
	store.listMilestonesErr = errBoom
	store.listMilestonesFails = -1
	pub := &recordingPublisher{}

	orch := newOrchestrator(store, stubStrategy{err: errBoom}, time.Second, pub)
	report, err := orch.RollupBooking(ctx, "b-1")

	var incomplete *progress.CascadeIncompleteError
	if !errors.As(err, &incomplete) || incomplete.BookingID != "b-1" {
		t.Fatalf("err = %v, want CascadeIncompleteError for b-1", err)
	}
	if report.Strategy != application.StrategyNone {
		t.Errorf("strategy = %s", report.Strategy)
	}
	b, _ := store.GetBooking(ctx, "b-1")
	if b.ProgressPercentage != 33 {
		t.Errorf("booking progress changed to %d", b.ProgressPercentage)
	}
	if !pub.has(events.TypeCascadeDegraded) {
		t.Error("cascade.degraded not published")
	}
}

func TestOrchestrator_CallerCancellationDoesNotStopFallback(t *testing.T) {
	store := newFaultyStore()
	seed(store)
	setMilestoneProgress(t, store, "m-1", 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := newOrchestrator(store, application.NewPrimaryRollup(store), time.Second, &recordingPublisher{})
	report, err := orch.RollupBooking(ctx, "b-1")
	if err != nil {
		t.Fatal(err)
	}
	if report.Strategy != application.StrategyFallback || report.BookingProgress != 25 {
		t.Errorf("report = %+v", report)
	}
}

func TestOrchestrator_RecomputeBookingSelfHeals(t *testing.T) {
	store := newFaultyStore()
	seed(store)
	ctx := context.Background()

	// Complete two tasks behind the engine's back and leave stale counters.
	for _, id := range []string{"t-1", "t-2"} {
		task, _ := store.GetTask(ctx, id)
		task.Status = progress.StatusCompleted
		if err := store.SaveTask(ctx, task); err != nil {
			t.Fatal(err)
		}
	}
	setMilestoneProgress(t, store, "m-2", 100)

	orch := newOrchestrator(store, application.NewPrimaryRollup(store), time.Second, &recordingPublisher{})
	report, err := orch.RecomputeBooking(ctx, "b-1")
	if err != nil {
		t.Fatal(err)
	}
	if report.MilestonesRecomputed != 2 {
		t.Errorf("recomputed %d milestones", report.MilestonesRecomputed)
	}

	m, _ := store.GetMilestone(ctx, "m-1")
	if m.ProgressPercentage != 50 || m.CompletedTasks != 2 {
		t.Errorf("m-1 = %+v", m.MilestoneCounters)
	}
	// m-2 has no tasks so its stale 100 is recomputed to 0; booking -> 13
	b, _ := store.GetBooking(ctx, "b-1")
	if b.ProgressPercentage != 13 {
		t.Errorf("booking progress = %d, want 13", b.ProgressPercentage)
	}

	if _, err := orch.RecomputeBooking(ctx, "nope"); !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("unknown booking err = %v", err)
	}
}

func TestOrchestrator_Idempotent(t *testing.T) {
	store := newFaultyStore()
	seed(store)
	setMilestoneProgress(t, store, "m-1", 37)
	setMilestoneProgress(t, store, "m-2", 81)

	orch := newOrchestrator(store, application.NewPrimaryRollup(store), time.Second, &recordingPublisher{})
	first, err := orch.RollupBooking(context.Background(), "b-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := orch.RollupBooking(context.Background(), "b-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.BookingProgress != second.BookingProgress {
		t.Errorf("rollup not idempotent: %d then %d", first.BookingProgress, second.BookingProgress)
	}
}
