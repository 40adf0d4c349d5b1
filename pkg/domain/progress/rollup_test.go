package progress_test

import (
	"testing"
	"time"

	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

func tasksWith(statuses ...progress.Status) []progress.Task {
	tasks := make([]progress.Task, len(statuses))
	for i, s := range statuses {
		tasks[i] = progress.Task{ID: string(rune('a' + i)), Status: s}
	}
	return tasks
}

func weight(w float64) *float64 { return &w }

func TestPercent(t *testing.T) {
	for n := 0; n <= 12; n++ {
		for c := 0; c <= n; c++ {
			want := 0
			if n > 0 {
				want = progress.RoundHalfUp(100 * float64(c) / float64(n))
			}
			if got := progress.Percent(c, n); got != want {
				t.Errorf("Percent(%d, %d) = %d, want %d", c, n, got, want)
			}
		}
	}
	if got := progress.Percent(1, 8); got != 13 {
		t.Errorf("12.5 should round up to 13, got %d", got)
	}
	if got := progress.Percent(2, 3); got != 67 {
		t.Errorf("66.67 should round to 67, got %d", got)
	}
}

func TestRoundHalfUp(t *testing.T) {
	tests := map[float64]int{0: 0, 0.49: 0, 0.5: 1, 24.5: 25, 99.4: 99, 99.5: 100, 130: 100, -3: 0}
	for in, want := range tests {
		if got := progress.RoundHalfUp(in); got != want {
			t.Errorf("RoundHalfUp(%v) = %d, want %d", in, got, want)
		}
	}
}

// Scenario A: four tasks, two completed.
func TestAggregateMilestone_ScenarioA(t *testing.T) {
	tasks := tasksWith(progress.StatusCompleted, progress.StatusCompleted, progress.StatusInProgress, progress.StatusPending)

	c := progress.AggregateMilestone(tasks, time.Now())
	if c.Progress() != 50 {
		t.Errorf("expected progress 50, got %d", c.Progress())
	}
	if c.CalculatedStatus != progress.StatusInProgress {
		t.Errorf("expected in_progress, got %s", c.CalculatedStatus)
	}
	if c.TotalTasks != 4 || c.CompletedTasks != 2 || c.InProgressTasks != 1 || c.PendingTasks != 1 {
		t.Errorf("unexpected counters: %+v", c)
	}
}

func TestAggregateMilestone_CalculatedStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []progress.Status
		want     progress.Status
		progress int
	}{
		{"no tasks", nil, progress.StatusPending, 0},
		{"all pending", []progress.Status{progress.StatusPending, progress.StatusPending}, progress.StatusPending, 0},
		{"one in progress", []progress.Status{progress.StatusPending, progress.StatusInProgress}, progress.StatusInProgress, 0},
		{"all completed", []progress.Status{progress.StatusCompleted, progress.StatusCompleted}, progress.StatusCompleted, 100},
		{"completed and cancelled", []progress.Status{progress.StatusCompleted, progress.StatusCancelled}, progress.StatusInProgress, 50},
		{"on hold only", []progress.Status{progress.StatusOnHold}, progress.StatusPending, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := progress.AggregateMilestone(tasksWith(tt.statuses...), time.Now())
			if c.CalculatedStatus != tt.want {
				t.Errorf("CalculatedStatus = %s, want %s", c.CalculatedStatus, tt.want)
			}
			if c.Progress() != tt.progress {
				t.Errorf("Progress = %d, want %d", c.Progress(), tt.progress)
			}
		})
	}
}

func TestAggregateMilestone_HoursAndOverdue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	est, act := 4.0, 2.5
	tasks := []progress.Task{
		{ID: "a", Status: progress.StatusInProgress, DueAt: &past, EstimatedHours: &est, ActualHours: &act},
		{ID: "b", Status: progress.StatusCompleted, DueAt: &past, EstimatedHours: &est},
		{ID: "c", Status: progress.StatusPending},
	}

	c := progress.AggregateMilestone(tasks, now)
	if c.OverdueTasks != 1 {
		t.Errorf("expected 1 overdue task, got %d", c.OverdueTasks)
	}
	if c.TotalEstimatedHours != 8 {
		t.Errorf("expected 8 estimated hours, got %v", c.TotalEstimatedHours)
	}
	if c.TotalActualHours != 2.5 {
		t.Errorf("expected 2.5 actual hours, got %v", c.TotalActualHours)
	}
}

func TestMilestone_ApplyCountersKeepsStatus(t *testing.T) {
	m := progress.Milestone{ID: "m1", Status: progress.StatusPending}
	m.ApplyCounters(progress.AggregateMilestone(tasksWith(progress.StatusCompleted), time.Now()))

	if m.Status != progress.StatusPending {
		t.Errorf("authoritative status overwritten: %s", m.Status)
	}
	if m.CalculatedStatus != progress.StatusCompleted || m.ProgressPercentage != 100 {
		t.Errorf("unexpected derived fields: %+v", m.MilestoneCounters)
	}
}

// Scenario B: progress [100, 0], weights [1, 3].
func TestAggregateBooking_ScenarioB(t *testing.T) {
	milestones := []progress.Milestone{
		{ID: "m1", ProgressPercentage: 100, Weight: weight(1)},
		{ID: "m2", ProgressPercentage: 0, Weight: weight(3)},
	}
	if got := progress.AggregateBooking(milestones); got != 25 {
		t.Errorf("expected 25, got %d", got)
	}
}

func TestAggregateBooking(t *testing.T) {
	tests := []struct {
		name       string
		milestones []progress.Milestone
		want       int
	}{
		{"no milestones", nil, 0},
		{"all weights zero", []progress.Milestone{
			{ProgressPercentage: 80, Weight: weight(0)},
			{ProgressPercentage: 40, Weight: weight(0)},
		}, 0},
		{"missing weights default to one", []progress.Milestone{
			{ProgressPercentage: 50},
			{ProgressPercentage: 100},
		}, 75},
		{"half rounds up", []progress.Milestone{
			{ProgressPercentage: 25, Weight: weight(1)},
			{ProgressPercentage: 0, Weight: weight(1)},
		}, 13},
		{"fractional weights", []progress.Milestone{
			{ProgressPercentage: 100, Weight: weight(0.5)},
			{ProgressPercentage: 0, Weight: weight(1.5)},
		}, 25},
		{"empty milestone with large weight suppresses progress", []progress.Milestone{
			{ProgressPercentage: 100, Weight: weight(1)},
			{ProgressPercentage: 0, Weight: weight(9)},
		}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := progress.AggregateBooking(tt.milestones); got != tt.want {
				t.Errorf("AggregateBooking = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAggregateBooking_Idempotent(t *testing.T) {
	milestones := []progress.Milestone{
		{ProgressPercentage: 33, Weight: weight(2)},
		{ProgressPercentage: 67, Weight: weight(1.25)},
		{ProgressPercentage: 12},
	}
	first := progress.AggregateBooking(milestones)
	second := progress.AggregateBooking(milestones)
	if first != second {
		t.Errorf("rollup not idempotent: %d then %d", first, second)
	}
}
