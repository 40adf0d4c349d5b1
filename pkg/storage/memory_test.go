package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

func seedStore(t *testing.T, s *MemoryStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := s.SaveBooking(ctx, &progress.Booking{ID: "b-1", Title: "Wedding", CreatedAt: base}); err != nil {
		t.Fatal(err)
	}
	heavy := 3.0
	milestones := []progress.Milestone{
		{ID: "m-2", BookingID: "b-1", Title: "Venue", Status: progress.StatusPending, ProgressPercentage: 100, Weight: &heavy, CreatedAt: base.Add(time.Hour)},
		{ID: "m-1", BookingID: "b-1", Title: "Catering", Status: progress.StatusPending, CreatedAt: base},
	}
	for i := range milestones {
		if err := s.SaveMilestone(ctx, &milestones[i]); err != nil {
			t.Fatal(err)
		}
	}
	for _, task := range []progress.Task{
		{ID: "t-1", MilestoneID: "m-1", Title: "Menu", Status: progress.StatusPending, CreatedAt: base},
		{ID: "t-2", MilestoneID: "m-1", Title: "Tasting", Status: progress.StatusCompleted, CreatedAt: base.Add(time.Minute)},
		{ID: "t-3", MilestoneID: "m-2", Title: "Contract", Status: progress.StatusCompleted, CreatedAt: base},
	} {
		task := task
		if err := s.SaveTask(ctx, &task); err != nil {
			t.Fatal(err)
		}
	}
}

func TestMemoryStore_GetReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	seedStore(t, s)
	ctx := context.Background()

	task, err := s.GetTask(ctx, "t-1")
	if err != nil {
		t.Fatal(err)
	}
	task.Title = "changed"

	again, _ := s.GetTask(ctx, "t-1")
	if again.Title != "Menu" {
		t.Errorf("store mutated through returned pointer: %q", again.Title)
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetTask(ctx, "missing")
	if !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("GetTask err = %v, want ErrNotFound", err)
	}
	_, err = s.GetMilestone(ctx, "missing")
	if !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("GetMilestone err = %v, want ErrNotFound", err)
	}
	if err := s.SaveBookingProgress(ctx, "missing", 10); !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("SaveBookingProgress err = %v, want ErrNotFound", err)
	}
	if err := s.SaveTask(ctx, &progress.Task{ID: "t", MilestoneID: "nope"}); !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("SaveTask with unknown milestone err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ListOrder(t *testing.T) {
	s := NewMemoryStore()
	seedStore(t, s)
	ctx := context.Background()

	milestones, err := s.ListMilestonesByBooking(ctx, "b-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(milestones) != 2 || milestones[0].ID != "m-1" || milestones[1].ID != "m-2" {
		t.Errorf("unexpected milestone order: %+v", milestones)
	}

	tasks, err := s.ListTasksByMilestone(ctx, "m-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 || tasks[0].ID != "t-1" {
		t.Errorf("unexpected tasks: %+v", tasks)
	}

	empty, err := s.ListTasksByMilestone(ctx, "m-none")
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty list, got %v, %v", empty, err)
	}
}

func TestMemoryStore_DeleteMilestoneCascades(t *testing.T) {
	s := NewMemoryStore()
	seedStore(t, s)
	ctx := context.Background()

	if err := s.DeleteMilestone(ctx, "m-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetTask(ctx, "t-1"); !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("task of deleted milestone still present: %v", err)
	}
	if _, err := s.GetTask(ctx, "t-3"); err != nil {
		t.Errorf("task of other milestone removed: %v", err)
	}
	if err := s.DeleteMilestone(ctx, "m-1"); !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ComputeBookingProgress(t *testing.T) {
	s := NewMemoryStore()
	seedStore(t, s)
	ctx := context.Background()

	// m-1 at 0 (weight 1), m-2 at 100 (weight 3) -> 75
	got, err := s.ComputeBookingProgress(ctx, "b-1")
	if err != nil {
		t.Fatal(err)
	}
	if got != 75 {
		t.Errorf("ComputeBookingProgress = %d, want 75", got)
	}

	if _, err := s.ComputeBookingProgress(ctx, "b-missing"); !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("unknown booking err = %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.ComputeBookingProgress(cancelled, "b-1"); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled ctx err = %v", err)
	}
}

func TestMemoryStore_SaveBookingProgressStampsRecalculatedAt(t *testing.T) {
	s := NewMemoryStore()
	seedStore(t, s)
	fixed := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()

	if err := s.SaveBookingProgress(ctx, "b-1", 42); err != nil {
		t.Fatal(err)
	}
	b, _ := s.GetBooking(ctx, "b-1")
	if b.ProgressPercentage != 42 {
		t.Errorf("progress = %d", b.ProgressPercentage)
	}
	if b.RecalculatedAt == nil || !b.RecalculatedAt.Equal(fixed) {
		t.Errorf("RecalculatedAt = %v", b.RecalculatedAt)
	}
	if b.Title != "Wedding" {
		t.Errorf("title lost: %q", b.Title)
	}
}

func TestMemoryStore_SnapshotRestore(t *testing.T) {
	s := NewMemoryStore()
	seedStore(t, s)

	snap := s.Snapshot()
	if len(snap.Bookings) != 1 || len(snap.Milestones) != 2 || len(snap.Tasks) != 3 {
		t.Fatalf("unexpected snapshot sizes: %d/%d/%d", len(snap.Bookings), len(snap.Milestones), len(snap.Tasks))
	}

	// orphan rows are dropped
	snap.Tasks = append(snap.Tasks, progress.Task{ID: "orphan", MilestoneID: "gone"})
	other := NewMemoryStore()
	other.Restore(snap)
	if _, err := other.GetTask(context.Background(), "orphan"); !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("orphan task restored")
	}
	if _, err := other.GetTask(context.Background(), "t-2"); err != nil {
		t.Errorf("t-2 missing after restore: %v", err)
	}
}

func TestMemoryStore_FailedCommitRollsBack(t *testing.T) {
	ctx := context.Background()
	errPersist := errors.New("disk full")

	tests := []struct {
		name  string
		write func(s *MemoryStore) error
	}{
		{"new booking", func(s *MemoryStore) error {
			return s.SaveBooking(ctx, &progress.Booking{ID: "b-2", Title: "Gala"})
		}},
		{"existing booking", func(s *MemoryStore) error {
			return s.SaveBooking(ctx, &progress.Booking{ID: "b-1", Title: "Renamed"})
		}},
		{"booking progress", func(s *MemoryStore) error {
			return s.SaveBookingProgress(ctx, "b-1", 80)
		}},
		{"new milestone", func(s *MemoryStore) error {
			return s.SaveMilestone(ctx, &progress.Milestone{ID: "m-3", BookingID: "b-1", Title: "Music"})
		}},
		{"existing milestone", func(s *MemoryStore) error {
			return s.SaveMilestone(ctx, &progress.Milestone{ID: "m-1", BookingID: "b-1", Title: "Catering", ProgressPercentage: 90})
		}},
		{"task status", func(s *MemoryStore) error {
			return s.SaveTask(ctx, &progress.Task{ID: "t-1", MilestoneID: "m-1", Title: "Menu", Status: progress.StatusInProgress})
		}},
		{"delete milestone", func(s *MemoryStore) error {
			return s.DeleteMilestone(ctx, "m-1")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMemoryStore()
			seedStore(t, s)
			before := s.Snapshot()

			s.afterWrite = func() error { return errPersist }
			if err := tt.write(s); !errors.Is(err, errPersist) {
				t.Fatalf("write error = %v, want %v", err, errPersist)
			}

			if after := s.Snapshot(); !reflect.DeepEqual(before, after) {
				t.Errorf("store changed after failed commit:\nbefore %+v\nafter  %+v", before, after)
			}
		})
	}
}
