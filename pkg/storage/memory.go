package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

// Snapshot is the full content of a store, used for persistence and fixtures.
type Snapshot struct {
	Bookings   []progress.Booking   `json:"bookings" yaml:"bookings"`
	Milestones []progress.Milestone `json:"milestones" yaml:"milestones"`
	Tasks      []progress.Task      `json:"tasks" yaml:"tasks"`
}

// MemoryStore keeps bookings, milestones and tasks in maps. Rows are stored
// by value so callers never share mutable state with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	bookings   map[string]progress.Booking
	milestones map[string]progress.Milestone
	tasks      map[string]progress.Task

	// afterWrite runs under the write lock after every mutation; an error
	// rolls the mutation back.
	afterWrite func() error
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:   make(map[string]progress.Booking),
		milestones: make(map[string]progress.Milestone),
		tasks:      make(map[string]progress.Task),
		now:        time.Now,
	}
}

// commit runs afterWrite and, when it fails, undo, so a failed persist
// leaves no trace in memory.
func (s *MemoryStore) commit(undo func()) error {
	if s.afterWrite == nil {
		return nil
	}
	if err := s.afterWrite(); err != nil {
		undo()
		return err
	}
	return nil
}

// putBack restores key to its value before a write.
func putBack[V any](m map[string]V, key string, prev V, existed bool) func() {
	return func() {
		if existed {
			m[key] = prev
		} else {
			delete(m, key)
		}
	}
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*progress.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, progress.NewNotFound(progress.KindTask, id)
	}
	return &t, nil
}

func (s *MemoryStore) ListTasksByMilestone(ctx context.Context, milestoneID string) ([]progress.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]progress.Task, 0)
	for _, t := range s.tasks {
		if t.MilestoneID == milestoneID {
			tasks = append(tasks, t)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}

func (s *MemoryStore) SaveTask(ctx context.Context, task *progress.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.milestones[task.MilestoneID]; !ok {
		return progress.NewNotFound(progress.KindMilestone, task.MilestoneID)
	}
	prev, existed := s.tasks[task.ID]
	s.tasks[task.ID] = *task
	return s.commit(putBack(s.tasks, task.ID, prev, existed))
}

func (s *MemoryStore) GetMilestone(ctx context.Context, id string) (*progress.Milestone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.milestones[id]
	if !ok {
		return nil, progress.NewNotFound(progress.KindMilestone, id)
	}
	return &m, nil
}

func (s *MemoryStore) ListMilestonesByBooking(ctx context.Context, bookingID string) ([]progress.Milestone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.milestonesOf(bookingID), nil
}

func (s *MemoryStore) milestonesOf(bookingID string) []progress.Milestone {
	milestones := make([]progress.Milestone, 0)
	for _, m := range s.milestones {
		if m.BookingID == bookingID {
			milestones = append(milestones, m)
		}
	}
	sort.Slice(milestones, func(i, j int) bool {
		if !milestones[i].CreatedAt.Equal(milestones[j].CreatedAt) {
			return milestones[i].CreatedAt.Before(milestones[j].CreatedAt)
		}
		return milestones[i].ID < milestones[j].ID
	})
	return milestones
}

func (s *MemoryStore) SaveMilestone(ctx context.Context, milestone *progress.Milestone) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bookings[milestone.BookingID]; !ok {
		return progress.NewNotFound(progress.KindBooking, milestone.BookingID)
	}
	prev, existed := s.milestones[milestone.ID]
	s.milestones[milestone.ID] = *milestone
	return s.commit(putBack(s.milestones, milestone.ID, prev, existed))
}

func (s *MemoryStore) DeleteMilestone(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	milestone, ok := s.milestones[id]
	if !ok {
		return progress.NewNotFound(progress.KindMilestone, id)
	}
	removed := make(map[string]progress.Task)
	for taskID, t := range s.tasks {
		if t.MilestoneID == id {
			removed[taskID] = t
			delete(s.tasks, taskID)
		}
	}
	delete(s.milestones, id)
	return s.commit(func() {
		s.milestones[id] = milestone
		for taskID, t := range removed {
			s.tasks[taskID] = t
		}
	})
}

func (s *MemoryStore) GetBooking(ctx context.Context, id string) (*progress.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, progress.NewNotFound(progress.KindBooking, id)
	}
	return &b, nil
}

// ListBookings returns every booking ordered by id.
func (s *MemoryStore) ListBookings(ctx context.Context) ([]progress.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bookings := make([]progress.Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		bookings = append(bookings, b)
	}
	sort.Slice(bookings, func(i, j int) bool { return bookings[i].ID < bookings[j].ID })
	return bookings, nil
}

func (s *MemoryStore) SaveBooking(ctx context.Context, booking *progress.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.bookings[booking.ID]
	s.bookings[booking.ID] = *booking
	return s.commit(putBack(s.bookings, booking.ID, prev, existed))
}

func (s *MemoryStore) SaveBookingProgress(ctx context.Context, id string, percentage int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.bookings[id]
	if !ok {
		return progress.NewNotFound(progress.KindBooking, id)
	}
	now := s.now().UTC()
	b := prev
	b.ProgressPercentage = percentage
	b.UpdatedAt = now
	b.RecalculatedAt = &now
	s.bookings[id] = b
	return s.commit(putBack(s.bookings, id, prev, true))
}

// ComputeBookingProgress is the in-process primary rollup: the same weighted
// mean, computed under a single read lock.
func (s *MemoryStore) ComputeBookingProgress(ctx context.Context, bookingID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.bookings[bookingID]; !ok {
		return 0, progress.NewNotFound(progress.KindBooking, bookingID)
	}
	return progress.AggregateBooking(s.milestonesOf(bookingID)), nil
}

// Snapshot copies the whole store.
func (s *MemoryStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *MemoryStore) snapshotLocked() Snapshot {
	snap := Snapshot{
		Bookings:   make([]progress.Booking, 0, len(s.bookings)),
		Milestones: make([]progress.Milestone, 0, len(s.milestones)),
		Tasks:      make([]progress.Task, 0, len(s.tasks)),
	}
	for _, b := range s.bookings {
		snap.Bookings = append(snap.Bookings, b)
	}
	for _, m := range s.milestones {
		snap.Milestones = append(snap.Milestones, m)
	}
	for _, t := range s.tasks {
		snap.Tasks = append(snap.Tasks, t)
	}
	sort.Slice(snap.Bookings, func(i, j int) bool { return snap.Bookings[i].ID < snap.Bookings[j].ID })
	sort.Slice(snap.Milestones, func(i, j int) bool { return snap.Milestones[i].ID < snap.Milestones[j].ID })
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].ID < snap.Tasks[j].ID })
	return snap
}

// Restore replaces the store content with snap. Rows whose parent is missing
// are dropped.
func (s *MemoryStore) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bookings = make(map[string]progress.Booking, len(snap.Bookings))
	s.milestones = make(map[string]progress.Milestone, len(snap.Milestones))
	s.tasks = make(map[string]progress.Task, len(snap.Tasks))
	for _, b := range snap.Bookings {
		s.bookings[b.ID] = b
	}
	for _, m := range snap.Milestones {
		if _, ok := s.bookings[m.BookingID]; ok {
			s.milestones[m.ID] = m
		}
	}
	for _, t := range snap.Tasks {
		if _, ok := s.milestones[t.MilestoneID]; ok {
			s.tasks[t.ID] = t
		}
	}
}
