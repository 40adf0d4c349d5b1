// Package postgres stores the progress hierarchy in PostgreSQL and computes
// booking progress with the calculate_booking_progress SQL function.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Connect opens a pool for dsn and pings it.
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		logger.Error("Failed to parse db config", zap.Error(err))
		return nil, fmt.Errorf("failed to parse db config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnIdleTime = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	logger.Info("PostgreSQL connection established",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("db", poolCfg.ConnConfig.Database),
	)
	return &Store{pool: pool, logger: logger}, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

func (s *Store) Close() {
	s.pool.Close()
}

const taskColumns = `id, milestone_id, title, description, status, progress_percentage, due_at,
	estimated_hours, actual_hours, priority, created_at, updated_at, completed_at, is_overdue, overdue_since`

func scanTask(row pgx.Row) (progress.Task, error) {
	var t progress.Task
	var status, priority string
	err := row.Scan(&t.ID, &t.MilestoneID, &t.Title, &t.Description, &status, &t.ProgressPercentage, &t.DueAt,
		&t.EstimatedHours, &t.ActualHours, &priority, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt, &t.IsOverdue, &t.OverdueSince)
	t.Status = progress.Status(status)
	t.Priority = progress.Priority(priority)
	return t, err
}

func (s *Store) GetTask(ctx context.Context, id string) (*progress.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, progress.NewNotFound(progress.KindTask, id)
	}
	if err != nil {
		s.logger.Error("Failed to get task", zap.String("task_id", id), zap.Error(err))
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListTasksByMilestone(ctx context.Context, milestoneID string) ([]progress.Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE milestone_id = $1 ORDER BY created_at, id`, milestoneID)
	if err != nil {
		s.logger.Error("Failed to list tasks", zap.String("milestone_id", milestoneID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	tasks := make([]progress.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			s.logger.Error("Failed to scan task", zap.Error(err))
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) SaveTask(ctx context.Context, t *progress.Task) error {
	s.logger.Debug("Saving task",
		zap.String("task_id", t.ID),
		zap.String("milestone_id", t.MilestoneID),
		zap.String("status", t.Status.String()),
	)
	if err := s.exists(ctx, "milestones", progress.KindMilestone, t.MilestoneID); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			milestone_id = EXCLUDED.milestone_id,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			progress_percentage = EXCLUDED.progress_percentage,
			due_at = EXCLUDED.due_at,
			estimated_hours = EXCLUDED.estimated_hours,
			actual_hours = EXCLUDED.actual_hours,
			priority = EXCLUDED.priority,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at,
			is_overdue = EXCLUDED.is_overdue,
			overdue_since = EXCLUDED.overdue_since`,
		t.ID, t.MilestoneID, t.Title, t.Description, string(t.Status), t.ProgressPercentage, t.DueAt,
		t.EstimatedHours, t.ActualHours, string(t.Priority), t.CreatedAt, t.UpdatedAt, t.CompletedAt, t.IsOverdue, t.OverdueSince,
	)
	if err != nil {
		s.logger.Error("Failed to save task", zap.String("task_id", t.ID), zap.Error(err))
		return err
	}
	return nil
}

const milestoneColumns = `id, booking_id, title, description, status, progress_percentage, weight, due_at,
	created_at, updated_at, completed_at, total_tasks, completed_tasks, in_progress_tasks, pending_tasks,
	overdue_tasks, total_estimated_hours, total_actual_hours, calculated_status`

func scanMilestone(row pgx.Row) (progress.Milestone, error) {
	var m progress.Milestone
	var status, calculated string
	err := row.Scan(&m.ID, &m.BookingID, &m.Title, &m.Description, &status, &m.ProgressPercentage, &m.Weight, &m.DueAt,
		&m.CreatedAt, &m.UpdatedAt, &m.CompletedAt, &m.TotalTasks, &m.CompletedTasks, &m.InProgressTasks, &m.PendingTasks,
		&m.OverdueTasks, &m.TotalEstimatedHours, &m.TotalActualHours, &calculated)
	m.Status = progress.Status(status)
	m.CalculatedStatus = progress.Status(calculated)
	return m, err
}

func (s *Store) GetMilestone(ctx context.Context, id string) (*progress.Milestone, error) {
	m, err := scanMilestone(s.pool.QueryRow(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, progress.NewNotFound(progress.KindMilestone, id)
	}
	if err != nil {
		s.logger.Error("Failed to get milestone", zap.String("milestone_id", id), zap.Error(err))
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListMilestonesByBooking(ctx context.Context, bookingID string) ([]progress.Milestone, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE booking_id = $1 ORDER BY created_at, id`, bookingID)
	if err != nil {
		s.logger.Error("Failed to list milestones", zap.String("booking_id", bookingID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	milestones := make([]progress.Milestone, 0)
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			s.logger.Error("Failed to scan milestone", zap.Error(err))
			return nil, err
		}
		milestones = append(milestones, m)
	}
	return milestones, rows.Err()
}

func (s *Store) SaveMilestone(ctx context.Context, m *progress.Milestone) error {
	s.logger.Debug("Saving milestone",
		zap.String("milestone_id", m.ID),
		zap.String("booking_id", m.BookingID),
		zap.Int("progress", m.ProgressPercentage),
	)
	if err := s.exists(ctx, "bookings", progress.KindBooking, m.BookingID); err != nil {
		return err
	}

	calculated := m.CalculatedStatus
	if calculated == "" {
		calculated = progress.StatusPending
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO milestones (`+milestoneColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			booking_id = EXCLUDED.booking_id,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			progress_percentage = EXCLUDED.progress_percentage,
			weight = EXCLUDED.weight,
			due_at = EXCLUDED.due_at,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at,
			total_tasks = EXCLUDED.total_tasks,
			completed_tasks = EXCLUDED.completed_tasks,
			in_progress_tasks = EXCLUDED.in_progress_tasks,
			pending_tasks = EXCLUDED.pending_tasks,
			overdue_tasks = EXCLUDED.overdue_tasks,
			total_estimated_hours = EXCLUDED.total_estimated_hours,
			total_actual_hours = EXCLUDED.total_actual_hours,
			calculated_status = EXCLUDED.calculated_status`,
		m.ID, m.BookingID, m.Title, m.Description, string(m.Status), m.ProgressPercentage, m.Weight, m.DueAt,
		m.CreatedAt, m.UpdatedAt, m.CompletedAt, m.TotalTasks, m.CompletedTasks, m.InProgressTasks, m.PendingTasks,
		m.OverdueTasks, m.TotalEstimatedHours, m.TotalActualHours, string(calculated),
	)
	if err != nil {
		s.logger.Error("Failed to save milestone", zap.String("milestone_id", m.ID), zap.Error(err))
		return err
	}
	return nil
}

func (s *Store) DeleteMilestone(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM milestones WHERE id = $1`, id)
	if err != nil {
		s.logger.Error("Failed to delete milestone", zap.String("milestone_id", id), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return progress.NewNotFound(progress.KindMilestone, id)
	}
	s.logger.Info("Milestone deleted", zap.String("milestone_id", id))
	return nil
}

const bookingColumns = `id, title, progress_percentage, created_at, updated_at, recalculated_at`

func scanBooking(row pgx.Row) (progress.Booking, error) {
	var b progress.Booking
	err := row.Scan(&b.ID, &b.Title, &b.ProgressPercentage, &b.CreatedAt, &b.UpdatedAt, &b.RecalculatedAt)
	return b, err
}

func (s *Store) GetBooking(ctx context.Context, id string) (*progress.Booking, error) {
	b, err := scanBooking(s.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, progress.NewNotFound(progress.KindBooking, id)
	}
	if err != nil {
		s.logger.Error("Failed to get booking", zap.String("booking_id", id), zap.Error(err))
		return nil, err
	}
	return &b, nil
}

func (s *Store) ListBookings(ctx context.Context) ([]progress.Booking, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+bookingColumns+` FROM bookings ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := make([]progress.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (s *Store) SaveBooking(ctx context.Context, b *progress.Booking) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			progress_percentage = EXCLUDED.progress_percentage,
			updated_at = EXCLUDED.updated_at,
			recalculated_at = EXCLUDED.recalculated_at`,
		b.ID, b.Title, b.ProgressPercentage, b.CreatedAt, b.UpdatedAt, b.RecalculatedAt,
	)
	if err != nil {
		s.logger.Error("Failed to save booking", zap.String("booking_id", b.ID), zap.Error(err))
		return err
	}
	return nil
}

func (s *Store) SaveBookingProgress(ctx context.Context, id string, pct int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bookings SET progress_percentage = $2, updated_at = now(), recalculated_at = now() WHERE id = $1`,
		id, pct)
	if err != nil {
		s.logger.Error("Failed to save booking progress", zap.String("booking_id", id), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return progress.NewNotFound(progress.KindBooking, id)
	}
	return nil
}

// ComputeBookingProgress calls calculate_booking_progress. Stack depth and
// statement cancellation errors are mapped to the domain sentinels.
func (s *Store) ComputeBookingProgress(ctx context.Context, bookingID string) (int, error) {
	var pct *int
	err := s.pool.QueryRow(ctx, `SELECT calculate_booking_progress($1)`, bookingID).Scan(&pct)
	if err != nil {
		return 0, classifyRollupError(err)
	}
	if pct == nil {
		return 0, progress.NewNotFound(progress.KindBooking, bookingID)
	}
	return *pct, nil
}

func (s *Store) exists(ctx context.Context, table string, kind progress.Kind, id string) error {
	var found bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&found)
	if err != nil {
		return fmt.Errorf("check %s %s: %w", kind, id, err)
	}
	if !found {
		return progress.NewNotFound(kind, id)
	}
	return nil
}
