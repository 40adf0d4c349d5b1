// Package sqlite stores bookings, milestones and tasks in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

const DefaultFile = "milepost.db"

// Store implements progress.Store and progress.PrimaryRollupProvider.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the database at path with foreign keys on
// and applies pending migrations.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Writers serialise on a single connection.
	db.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	logger.Info("sqlite store opened", zap.String("path", path))
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for migrations and diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

const taskColumns = `id, milestone_id, title, description, status, progress_percentage, due_at,
	estimated_hours, actual_hours, priority, created_at, updated_at, completed_at, is_overdue, overdue_since`

func scanTask(row scanner) (progress.Task, error) {
	var (
		t                            progress.Task
		due, completed, overdueSince sql.NullString
		created, updated             string
		estimated, actual            sql.NullFloat64
		overdue                      int
	)
	if err := row.Scan(&t.ID, &t.MilestoneID, &t.Title, &t.Description, &t.Status, &t.ProgressPercentage, &due,
		&estimated, &actual, &t.Priority, &created, &updated, &completed, &overdue, &overdueSince); err != nil {
		return t, err
	}
	var err error
	if t.CreatedAt, err = parseTime(created); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return t, err
	}
	if t.DueAt, err = parseNullTime(due); err != nil {
		return t, err
	}
	if t.CompletedAt, err = parseNullTime(completed); err != nil {
		return t, err
	}
	if t.OverdueSince, err = parseNullTime(overdueSince); err != nil {
		return t, err
	}
	t.EstimatedHours = floatPtr(estimated)
	t.ActualHours = floatPtr(actual)
	t.IsOverdue = overdue != 0
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*progress.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, progress.NewNotFound(progress.KindTask, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &t, nil
}

func (s *Store) ListTasksByMilestone(ctx context.Context, milestoneID string) ([]progress.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE milestone_id = ? ORDER BY created_at, id`, milestoneID)
	if err != nil {
		return nil, fmt.Errorf("list tasks of %s: %w", milestoneID, err)
	}
	defer rows.Close()

	tasks := make([]progress.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) SaveTask(ctx context.Context, t *progress.Task) error {
	if err := s.exists(ctx, "milestones", progress.KindMilestone, t.MilestoneID); err != nil {
		return err
	}
	overdue := 0
	if t.IsOverdue {
		overdue = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			milestone_id = excluded.milestone_id,
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			progress_percentage = excluded.progress_percentage,
			due_at = excluded.due_at,
			estimated_hours = excluded.estimated_hours,
			actual_hours = excluded.actual_hours,
			priority = excluded.priority,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at,
			is_overdue = excluded.is_overdue,
			overdue_since = excluded.overdue_since`,
		t.ID, t.MilestoneID, t.Title, t.Description, string(t.Status), t.ProgressPercentage, nullTime(t.DueAt),
		nullFloat(t.EstimatedHours), nullFloat(t.ActualHours), string(t.Priority), formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
		nullTime(t.CompletedAt), overdue, nullTime(t.OverdueSince),
	)
	if err != nil {
		s.logger.Error("failed to save task", zap.String("task_id", t.ID), zap.Error(err))
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

const milestoneColumns = `id, booking_id, title, description, status, progress_percentage, weight, due_at,
	created_at, updated_at, completed_at, total_tasks, completed_tasks, in_progress_tasks, pending_tasks,
	overdue_tasks, total_estimated_hours, total_actual_hours, calculated_status`

func scanMilestone(row scanner) (progress.Milestone, error) {
	var (
		m                progress.Milestone
		weight           sql.NullFloat64
		due, completed   sql.NullString
		created, updated string
	)
	if err := row.Scan(&m.ID, &m.BookingID, &m.Title, &m.Description, &m.Status, &m.ProgressPercentage, &weight, &due,
		&created, &updated, &completed, &m.TotalTasks, &m.CompletedTasks, &m.InProgressTasks, &m.PendingTasks,
		&m.OverdueTasks, &m.TotalEstimatedHours, &m.TotalActualHours, &m.CalculatedStatus); err != nil {
		return m, err
	}
	var err error
	if m.CreatedAt, err = parseTime(created); err != nil {
		return m, err
	}
	if m.UpdatedAt, err = parseTime(updated); err != nil {
		return m, err
	}
	if m.DueAt, err = parseNullTime(due); err != nil {
		return m, err
	}
	if m.CompletedAt, err = parseNullTime(completed); err != nil {
		return m, err
	}
	m.Weight = floatPtr(weight)
	return m, nil
}

func (s *Store) GetMilestone(ctx context.Context, id string) (*progress.Milestone, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE id = ?`, id)
	m, err := scanMilestone(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, progress.NewNotFound(progress.KindMilestone, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get milestone %s: %w", id, err)
	}
	return &m, nil
}

func (s *Store) ListMilestonesByBooking(ctx context.Context, bookingID string) ([]progress.Milestone, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE booking_id = ? ORDER BY created_at, id`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list milestones of %s: %w", bookingID, err)
	}
	defer rows.Close()

	milestones := make([]progress.Milestone, 0)
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		milestones = append(milestones, m)
	}
	return milestones, rows.Err()
}

func (s *Store) SaveMilestone(ctx context.Context, m *progress.Milestone) error {
	if err := s.exists(ctx, "bookings", progress.KindBooking, m.BookingID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO milestones (`+milestoneColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			booking_id = excluded.booking_id,
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			progress_percentage = excluded.progress_percentage,
			weight = excluded.weight,
			due_at = excluded.due_at,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at,
			total_tasks = excluded.total_tasks,
			completed_tasks = excluded.completed_tasks,
			in_progress_tasks = excluded.in_progress_tasks,
			pending_tasks = excluded.pending_tasks,
			overdue_tasks = excluded.overdue_tasks,
			total_estimated_hours = excluded.total_estimated_hours,
			total_actual_hours = excluded.total_actual_hours,
			calculated_status = excluded.calculated_status`,
		m.ID, m.BookingID, m.Title, m.Description, string(m.Status), m.ProgressPercentage, nullFloat(m.Weight), nullTime(m.DueAt),
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt), nullTime(m.CompletedAt), m.TotalTasks, m.CompletedTasks,
		m.InProgressTasks, m.PendingTasks, m.OverdueTasks, m.TotalEstimatedHours, m.TotalActualHours, string(calculatedOrPending(m.CalculatedStatus)),
	)
	if err != nil {
		s.logger.Error("failed to save milestone", zap.String("milestone_id", m.ID), zap.Error(err))
		return fmt.Errorf("save milestone %s: %w", m.ID, err)
	}
	return nil
}

func calculatedOrPending(s progress.Status) progress.Status {
	if s == "" {
		return progress.StatusPending
	}
	return s
}

// DeleteMilestone relies on ON DELETE CASCADE for the tasks.
func (s *Store) DeleteMilestone(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM milestones WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete milestone %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return progress.NewNotFound(progress.KindMilestone, id)
	}
	return nil
}

const bookingColumns = `id, title, progress_percentage, created_at, updated_at, recalculated_at`

func scanBooking(row scanner) (progress.Booking, error) {
	var (
		b                progress.Booking
		created, updated string
		recalculated     sql.NullString
	)
	if err := row.Scan(&b.ID, &b.Title, &b.ProgressPercentage, &created, &updated, &recalculated); err != nil {
		return b, err
	}
	var err error
	if b.CreatedAt, err = parseTime(created); err != nil {
		return b, err
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return b, err
	}
	if b.RecalculatedAt, err = parseNullTime(recalculated); err != nil {
		return b, err
	}
	return b, nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (*progress.Booking, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, progress.NewNotFound(progress.KindBooking, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	return &b, nil
}

func (s *Store) ListBookings(ctx context.Context) ([]progress.Booking, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	bookings := make([]progress.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (s *Store) SaveBooking(ctx context.Context, b *progress.Booking) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			progress_percentage = excluded.progress_percentage,
			updated_at = excluded.updated_at,
			recalculated_at = excluded.recalculated_at`,
		b.ID, b.Title, b.ProgressPercentage, formatTime(b.CreatedAt), formatTime(b.UpdatedAt), nullTime(b.RecalculatedAt),
	)
	if err != nil {
		return fmt.Errorf("save booking %s: %w", b.ID, err)
	}
	return nil
}

func (s *Store) SaveBookingProgress(ctx context.Context, id string, pct int) error {
	now := formatTime(s.now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET progress_percentage = ?, updated_at = ?, recalculated_at = ? WHERE id = ?`,
		pct, now, now, id)
	if err != nil {
		return fmt.Errorf("save booking progress %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return progress.NewNotFound(progress.KindBooking, id)
	}
	return nil
}

// ComputeBookingProgress computes the weighted sums in one aggregate query and
// rounds them with the same rule as the in-process rollup.
func (s *Store) ComputeBookingProgress(ctx context.Context, bookingID string) (int, error) {
	weighted, total, err := s.weightedSums(ctx, bookingID)
	if err != nil {
		return 0, err
	}
	if total <= 0 {
		return 0, nil
	}
	return progress.RoundHalfUp(weighted / total), nil
}

// weightedSums returns the weighted progress sum and the weight total of a
// booking's milestones. The LEFT JOIN keeps bookings without milestones; their
// single unmatched row adds nothing to either sum.
func (s *Store) weightedSums(ctx context.Context, bookingID string) (weighted, total float64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN m.id IS NOT NULL THEN m.progress_percentage * COALESCE(m.weight, 1.0) END), 0),
			COALESCE(SUM(CASE WHEN m.id IS NOT NULL THEN COALESCE(m.weight, 1.0) END), 0)
		FROM bookings b
		LEFT JOIN milestones m ON m.booking_id = b.id AND COALESCE(m.weight, 1.0) > 0
		WHERE b.id = ?
		GROUP BY b.id`, bookingID).Scan(&weighted, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, progress.NewNotFound(progress.KindBooking, bookingID)
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, 0, fmt.Errorf("%w: %v", progress.ErrRollupTimeout, err)
		}
		return 0, 0, fmt.Errorf("compute booking progress %s: %w", bookingID, err)
	}
	return weighted, total, nil
}

func (s *Store) exists(ctx context.Context, table string, kind progress.Kind, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return progress.NewNotFound(kind, id)
	}
	if err != nil {
		return fmt.Errorf("check %s %s: %w", kind, id, err)
	}
	return nil
}
