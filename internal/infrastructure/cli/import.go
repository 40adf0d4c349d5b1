package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/milepost/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/milepost/pkg/application"
	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

// Fixture seeds bookings with their milestones and tasks.
type Fixture struct {
	Bookings []FixtureBooking `yaml:"bookings"`
}

type FixtureBooking struct {
	ID         string             `yaml:"id"`
	Title      string             `yaml:"title"`
	Milestones []FixtureMilestone `yaml:"milestones"`
}

type FixtureMilestone struct {
	Title       string          `yaml:"title"`
	Description string          `yaml:"description"`
	Status      progress.Status `yaml:"status"`
	Weight      *float64        `yaml:"weight"`
	DueAt       *time.Time      `yaml:"due_at"`
	Tasks       []FixtureTask   `yaml:"tasks"`
}

type FixtureTask struct {
	Title          string            `yaml:"title"`
	Description    string            `yaml:"description"`
	Status         progress.Status   `yaml:"status"`
	Progress       *int              `yaml:"progress_percentage"`
	DueAt          *time.Time        `yaml:"due_at"`
	EstimatedHours *float64          `yaml:"estimated_hours"`
	ActualHours    *float64          `yaml:"actual_hours"`
	Priority       progress.Priority `yaml:"priority"`
}

// ParseFixture decodes a YAML fixture, rejecting unknown keys.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: fixture: %v", progress.ErrInvalidChanges, err)
	}
	if len(f.Bookings) == 0 {
		return nil, fmt.Errorf("%w: fixture has no bookings", progress.ErrInvalidChanges)
	}
	return &f, nil
}

type importSummary struct {
	Bookings   int `json:"bookings" yaml:"bookings"`
	Milestones int `json:"milestones" yaml:"milestones"`
	Tasks      int `json:"tasks" yaml:"tasks"`
}

// importFixture creates every entity through the gateway so counters and
// booking progress are derived exactly as for live writes.
func importFixture(ctx context.Context, svc *application.MutationService, f *Fixture) (importSummary, error) {
	var sum importSummary
	var warnings []error
	for _, fb := range f.Bookings {
		if fb.ID != "" {
			if _, err := svc.GetBookingTree(ctx, fb.ID); err == nil {
				return sum, fmt.Errorf("%w: booking %s already exists", progress.ErrInvalidChanges, fb.ID)
			}
		}
		booking, err := svc.CreateBooking(ctx, application.BookingDraft{ID: fb.ID, Title: fb.Title})
		if err != nil {
			return sum, fmt.Errorf("booking %q: %w", fb.Title, err)
		}
		sum.Bookings++

		for _, fm := range fb.Milestones {
			res, err := svc.CreateMilestone(ctx, booking.ID, application.MilestoneDraft{
				Title:       fm.Title,
				Description: fm.Description,
				Status:      fm.Status,
				Weight:      fm.Weight,
				DueAt:       fm.DueAt,
			})
			if err != nil {
				return sum, fmt.Errorf("milestone %q of %s: %w", fm.Title, booking.ID, err)
			}
			sum.Milestones++
			if res.Warning != nil {
				warnings = append(warnings, res.Warning)
			}

			for _, ft := range fm.Tasks {
				draft := application.TaskDraft{
					Title:          ft.Title,
					Description:    ft.Description,
					Status:         ft.Status,
					DueAt:          ft.DueAt,
					EstimatedHours: ft.EstimatedHours,
					ActualHours:    ft.ActualHours,
					Priority:       ft.Priority,
				}
				if ft.Progress != nil {
					draft.Progress = progress.Explicit(*ft.Progress)
				}
				tres, err := svc.CreateTask(ctx, res.Milestone.ID, draft)
				if err != nil {
					return sum, fmt.Errorf("task %q of %s: %w", ft.Title, res.Milestone.ID, err)
				}
				sum.Tasks++
				if tres.Warning != nil {
					warnings = append(warnings, tres.Warning)
				}
			}
		}
	}
	return sum, errors.Join(warnings...)
}

func newImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import -f <file>",
		Short: "Seed bookings, milestones and tasks from a YAML fixture",
		Example: `  bookings:
    - id: offsite-2026
      title: Team offsite
      milestones:
        - title: Venue
          weight: 2
          tasks:
            - title: Shortlist venues
              status: completed
            - title: Sign contract
              due_at: 2026-03-01T17:00:00Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			fixture, err := ParseFixture(data)
			if err != nil {
				return MapError(err)
			}
			return withServices(cmd, func(ctx context.Context, s *wiring.AppServices) error {
				sum, err := importFixture(ctx, s.Service, fixture)
				if done, serr := structured(cmd.OutOrStdout(), sum); done {
					if serr != nil {
						return serr
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d bookings, %d milestones, %d tasks.\n", sum.Bookings, sum.Milestones, sum.Tasks)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "fixture file (- for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
