package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), DefaultFile), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	w := 3.0

	if err := s.SaveBooking(ctx, &progress.Booking{ID: "b-1", Title: "Gala", CreatedAt: at, UpdatedAt: at}); err != nil {
		t.Fatal(err)
	}
	for _, m := range []progress.Milestone{
		{ID: "m-1", BookingID: "b-1", Title: "Music", Status: progress.StatusInProgress, ProgressPercentage: 100, CreatedAt: at, UpdatedAt: at},
		{ID: "m-2", BookingID: "b-1", Title: "Food", Status: progress.StatusPending, Weight: &w, CreatedAt: at.Add(time.Second), UpdatedAt: at},
	} {
		m := m
		if err := s.SaveMilestone(ctx, &m); err != nil {
			t.Fatal(err)
		}
	}
	due := at.Add(24 * time.Hour)
	est := 4.5
	if err := s.SaveTask(ctx, &progress.Task{
		ID: "t-1", MilestoneID: "m-1", Title: "Band", Status: progress.StatusInProgress,
		DueAt: &due, EstimatedHours: &est, Priority: progress.PriorityHigh, CreatedAt: at, UpdatedAt: at,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)
	ctx := context.Background()

	task, err := s.GetTask(ctx, "t-1")
	if err != nil {
		t.Fatal(err)
	}
	if task.Title != "Band" || task.Priority != progress.PriorityHigh || task.EstimatedHours == nil || *task.EstimatedHours != 4.5 {
		t.Errorf("task = %+v", task)
	}
	if task.DueAt == nil || task.ActualHours != nil || task.CompletedAt != nil {
		t.Errorf("nullable columns not mapped: %+v", task)
	}

	m, err := s.GetMilestone(ctx, "m-2")
	if err != nil {
		t.Fatal(err)
	}
	if m.Weight == nil || *m.Weight != 3 || m.CalculatedStatus != progress.StatusPending {
		t.Errorf("milestone = %+v", m)
	}

	// upsert keeps created_at and updates the rest
	m.Title = "Catering"
	m.ApplyCounters(progress.MilestoneCounters{TotalTasks: 2, CompletedTasks: 1, CalculatedStatus: progress.StatusInProgress})
	if err := s.SaveMilestone(ctx, m); err != nil {
		t.Fatal(err)
	}
	again, _ := s.GetMilestone(ctx, "m-2")
	if again.Title != "Catering" || again.ProgressPercentage != 50 || again.TotalTasks != 2 {
		t.Errorf("updated milestone = %+v", again)
	}
}

func TestStore_NotFound(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)
	ctx := context.Background()

	if _, err := s.GetTask(ctx, "x"); !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("GetTask err = %v", err)
	}
	if _, err := s.GetBooking(ctx, "x"); !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("GetBooking err = %v", err)
	}
	if err := s.SaveTask(ctx, &progress.Task{ID: "t-x", MilestoneID: "x", Title: "x"}); !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("SaveTask err = %v", err)
	}
	if err := s.SaveBookingProgress(ctx, "x", 1); !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("SaveBookingProgress err = %v", err)
	}
	if _, err := s.ComputeBookingProgress(ctx, "x"); !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("ComputeBookingProgress err = %v", err)
	}
}

func TestStore_DeleteMilestoneCascades(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)
	ctx := context.Background()

	if err := s.DeleteMilestone(ctx, "m-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetTask(ctx, "t-1"); !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("task survived milestone delete: %v", err)
	}
	if err := s.DeleteMilestone(ctx, "m-1"); !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestStore_ComputeBookingProgressMatchesAggregate(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)
	ctx := context.Background()

	got, err := s.ComputeBookingProgress(ctx, "b-1")
	if err != nil {
		t.Fatal(err)
	}
	milestones, err := s.ListMilestonesByBooking(ctx, "b-1")
	if err != nil {
		t.Fatal(err)
	}
	if want := progress.AggregateBooking(milestones); got != want || got != 25 {
		t.Errorf("primary = %d, aggregate = %d, want 25", got, want)
	}

	if err := s.SaveBooking(ctx, &progress.Booking{ID: "b-empty", Title: "Empty", CreatedAt: time.Now(), UpdatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if got, err := s.ComputeBookingProgress(ctx, "b-empty"); err != nil || got != 0 {
		t.Errorf("empty booking = %d, %v", got, err)
	}
}

func TestStore_WeightedSums(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)
	ctx := context.Background()
	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	zero := 0.0

	if err := s.SaveBooking(ctx, &progress.Booking{ID: "b-empty", Title: "Empty", CreatedAt: at, UpdatedAt: at}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveBooking(ctx, &progress.Booking{ID: "b-zero", Title: "Zero weight", CreatedAt: at, UpdatedAt: at}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveMilestone(ctx, &progress.Milestone{ID: "m-z", BookingID: "b-zero", Title: "Skipped", Status: progress.StatusPending, ProgressPercentage: 80, Weight: &zero, CreatedAt: at, UpdatedAt: at}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		booking  string
		weighted float64
		total    float64
	}{
		{"b-1", 100, 4},
		{"b-empty", 0, 0},
		{"b-zero", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.booking, func(t *testing.T) {
			weighted, total, err := s.weightedSums(ctx, tt.booking)
			if err != nil {
				t.Fatal(err)
			}
			if weighted != tt.weighted || total != tt.total {
				t.Errorf("weightedSums = (%v, %v), want (%v, %v)", weighted, total, tt.weighted, tt.total)
			}
		})
	}
}

func TestStore_SaveBookingProgress(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)
	ctx := context.Background()

	if err := s.SaveBookingProgress(ctx, "b-1", 64); err != nil {
		t.Fatal(err)
	}
	b, err := s.GetBooking(ctx, "b-1")
	if err != nil {
		t.Fatal(err)
	}
	if b.ProgressPercentage != 64 || b.RecalculatedAt == nil || b.Title != "Gala" {
		t.Errorf("booking = %+v", b)
	}

	bookings, err := s.ListBookings(ctx)
	if err != nil || len(bookings) != 1 {
		t.Errorf("ListBookings = %v, %v", bookings, err)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := openTestStore(t)
	if err := Migrate(s.DB()); err != nil {
		t.Fatal(err)
	}
	v, err := SchemaVersion(s.DB())
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Errorf("schema version = %d, want 1", v)
	}
}
