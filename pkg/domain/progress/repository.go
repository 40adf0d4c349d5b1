package progress

import "context"

// TaskRepository handles persistence of tasks.
type TaskRepository interface {
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasksByMilestone(ctx context.Context, milestoneID string) ([]Task, error)
	SaveTask(ctx context.Context, task *Task) error
}

// MilestoneRepository handles persistence of milestones.
// DeleteMilestone removes the milestone's tasks as well.
type MilestoneRepository interface {
	GetMilestone(ctx context.Context, id string) (*Milestone, error)
	ListMilestonesByBooking(ctx context.Context, bookingID string) ([]Milestone, error)
	SaveMilestone(ctx context.Context, milestone *Milestone) error
	DeleteMilestone(ctx context.Context, id string) error
}

// BookingRepository reads bookings and writes their derived progress.
type BookingRepository interface {
	GetBooking(ctx context.Context, id string) (*Booking, error)
	SaveBooking(ctx context.Context, booking *Booking) error
	SaveBookingProgress(ctx context.Context, id string, percentage int) error
}

// Store is the full storage contract used by the engine.
type Store interface {
	TaskRepository
	MilestoneRepository
	BookingRepository
}

// PrimaryRollupProvider is implemented by stores that can compute booking
// progress close to the data, e.g. with a stored procedure.
type PrimaryRollupProvider interface {
	ComputeBookingProgress(ctx context.Context, bookingID string) (int, error)
}

// BookingCatalog is implemented by stores that can enumerate bookings.
type BookingCatalog interface {
	ListBookings(ctx context.Context) ([]Booking, error)
}
