package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/milepost/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/milepost/pkg/application"
	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

func newBookingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "booking",
		Short: "Create, inspect and recompute bookings",
	}
	cmd.AddCommand(newBookingCreateCmd(), newBookingListCmd(), newBookingShowCmd(), newBookingRecomputeCmd())
	return cmd
}

func newBookingCreateCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a booking with zero progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *wiring.AppServices) error {
				b, err := s.Service.CreateBooking(ctx, application.BookingDraft{ID: id, Title: args[0]})
				if err != nil {
					return err
				}
				if done, err := structured(cmd.OutOrStdout(), b); done {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Booking %s created.\n", b.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "booking id (generated when empty)")
	return cmd
}

func newBookingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List bookings with their rolled-up progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *wiring.AppServices) error {
				bookings, err := s.Service.ListBookings(ctx)
				if err != nil {
					return err
				}
				return printBookings(cmd.OutOrStdout(), bookings)
			})
		},
	}
}

func newBookingShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <booking-id>",
		Short: "Show a booking with its milestones and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *wiring.AppServices) error {
				tree, err := s.Service.GetBookingTree(ctx, args[0])
				if err != nil {
					return err
				}
				return printTree(cmd.OutOrStdout(), tree)
			})
		},
	}
}

func newBookingRecomputeCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "recompute [booking-id]",
		Short: "Recalculate every milestone of a booking and the booking itself",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *wiring.AppServices) error {
				ids := args
				if all {
					bookings, err := s.Service.ListBookings(ctx)
					if err != nil {
						return err
					}
					ids = make([]string, len(bookings))
					for i, b := range bookings {
						ids[i] = b.ID
					}
				}
				reports, err := recomputeAll(ctx, s.Service, ids)
				if done, serr := structured(cmd.OutOrStdout(), reports); done {
					return errors.Join(serr, err)
				}
				for _, r := range reports {
					printCascade(cmd.OutOrStdout(), r)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "recompute every booking")
	return cmd
}

// recomputeAll keeps going past incomplete cascades so one bad booking does
// not hide the others.
func recomputeAll(ctx context.Context, svc *application.MutationService, ids []string) ([]*application.CascadeReport, error) {
	var (
		reports []*application.CascadeReport
		errs    []error
	)
	for _, id := range ids {
		report, err := svc.RecomputeBooking(ctx, id)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

func newStatusesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "statuses",
		Short: "List statuses and their allowed transitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			type statusView struct {
				Status   progress.Status   `json:"status" yaml:"status"`
				Terminal bool              `json:"terminal" yaml:"terminal"`
				Allowed  []progress.Status `json:"allowed_transitions" yaml:"allowed_transitions"`
			}
			var views []statusView
			for _, st := range progress.AllStatuses() {
				views = append(views, statusView{Status: st, Terminal: st.IsTerminal(), Allowed: st.AllowedTargets()})
			}
			if done, err := structured(cmd.OutOrStdout(), views); done {
				return err
			}
			tw := newTable(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Status", "Name", "Terminal", "Can move to"})
			for _, v := range views {
				tw.AppendRow(table.Row{v.Status, v.Status.DisplayName(), yesNo(v.Terminal), v.Allowed})
			}
			tw.Render()
			return nil
		},
	}
}
