package application_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/felixgeelhaar/milepost/pkg/domain/events"
	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
	"github.com/felixgeelhaar/milepost/pkg/storage"
)

// faultyStore wraps a MemoryStore and injects failures and latency.
type faultyStore struct {
	*storage.MemoryStore

	mu                  sync.Mutex
	listMilestonesErr   error
	listMilestonesFails int // number of calls that fail before succeeding, -1 = always
	listTasksErr        error
	saveBookingErr      error
	primaryDelay        time.Duration
	primaryErr          error
	primaryCalls        int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: storage.NewMemoryStore()}
}

func (s *faultyStore) ListMilestonesByBooking(ctx context.Context, bookingID string) ([]progress.Milestone, error) {
	s.mu.Lock()
	if s.listMilestonesFails != 0 {
		if s.listMilestonesFails > 0 {
			s.listMilestonesFails--
		}
		err := s.listMilestonesErr
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()
	return s.MemoryStore.ListMilestonesByBooking(ctx, bookingID)
}

func (s *faultyStore) ListTasksByMilestone(ctx context.Context, milestoneID string) ([]progress.Task, error) {
	if s.listTasksErr != nil {
		return nil, s.listTasksErr
	}
	return s.MemoryStore.ListTasksByMilestone(ctx, milestoneID)
}

func (s *faultyStore) SaveBookingProgress(ctx context.Context, id string, pct int) error {
	if s.saveBookingErr != nil {
		return s.saveBookingErr
	}
	return s.MemoryStore.SaveBookingProgress(ctx, id, pct)
}

// ComputeBookingProgress honours ctx so a timeout actually cuts it short.
func (s *faultyStore) ComputeBookingProgress(ctx context.Context, bookingID string) (int, error) {
	s.mu.Lock()
	s.primaryCalls++
	delay, perr := s.primaryDelay, s.primaryErr
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if perr != nil {
		return 0, perr
	}
	return s.MemoryStore.ComputeBookingProgress(ctx, bookingID)
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e events.DomainEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

func (p *recordingPublisher) has(eventType string) bool {
	for _, t := range p.types() {
		if t == eventType {
			return true
		}
	}
	return false
}

var errBoom = errors.New("boom")

var fixtureTime = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// seed creates booking b-1 with milestones m-1 (weight 1) and m-2 (weight 3)
// and tasks t-1..t-4 under m-1, all pending.
func seed(s progress.Store) {
	ctx := context.Background()
	heavy := 3.0
	_ = s.SaveBooking(ctx, &progress.Booking{ID: "b-1", Title: "Conference", CreatedAt: fixtureTime})
	_ = s.SaveMilestone(ctx, &progress.Milestone{ID: "m-1", BookingID: "b-1", Title: "Speakers", Status: progress.StatusInProgress, CreatedAt: fixtureTime})
	_ = s.SaveMilestone(ctx, &progress.Milestone{ID: "m-2", BookingID: "b-1", Title: "Venue", Status: progress.StatusPending, Weight: &heavy, CreatedAt: fixtureTime.Add(time.Second)})
	for i, id := range []string{"t-1", "t-2", "t-3", "t-4"} {
		_ = s.SaveTask(ctx, &progress.Task{
			ID:          id,
			MilestoneID: "m-1",
			Title:       "Task " + id,
			Status:      progress.StatusPending,
			CreatedAt:   fixtureTime.Add(time.Duration(i) * time.Second),
		})
	}
}

func statusPtr(s progress.Status) *progress.Status { return &s }
func strPtr(s string) *string                      { return &s }
func floatPtr(f float64) *float64                  { return &f }
func intPtr(i int) *int                            { return &i }
