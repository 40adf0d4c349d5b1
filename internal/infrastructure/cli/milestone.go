package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/milepost/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/milepost/pkg/application"
	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

func newMilestoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "milestone",
		Aliases: []string{"ms"},
		Short:   "Inspect and update milestones",
	}
	cmd.AddCommand(newMilestoneShowCmd(), newMilestoneCreateCmd(), newMilestoneUpdateCmd(), newMilestoneDeleteCmd())
	return cmd
}

func newMilestoneShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <milestone-id>",
		Short: "Show a milestone with its task counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *wiring.AppServices) error {
				m, err := s.Service.GetMilestone(ctx, args[0])
				if err != nil {
					return err
				}
				return printMilestone(cmd.OutOrStdout(), m)
			})
		},
	}
}

func newMilestoneCreateCmd() *cobra.Command {
	var (
		title, description, status, due string
		weight                          float64
	)
	cmd := &cobra.Command{
		Use:   "create <booking-id>",
		Short: "Add a milestone to a booking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			draft := application.MilestoneDraft{Title: title, Description: description}
			if status != "" {
				st, err := parseStatusFlag(status)
				if err != nil {
					return err
				}
				draft.Status = st
			}
			if cmd.Flags().Changed("weight") {
				draft.Weight = &weight
			}
			if due != "" {
				t, err := parseDue(due)
				if err != nil {
					return err
				}
				draft.DueAt = &t
			}
			return withServices(cmd, func(ctx context.Context, s *wiring.AppServices) error {
				res, err := s.Service.CreateMilestone(ctx, args[0], draft)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "milestone title")
	cmd.Flags().StringVar(&description, "description", "", "milestone description")
	cmd.Flags().StringVar(&status, "status", "", "initial status (default pending)")
	cmd.Flags().Float64Var(&weight, "weight", 0, "rollup weight (default 1)")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC3339 or YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newMilestoneUpdateCmd() *cobra.Command {
	var f mutationFlags
	cmd := &cobra.Command{
		Use:   "update <milestone-id>",
		Short: "Change a milestone's status, weight or details",
		Long: `Change a milestone's status, weight or details.

Without --progress the milestone's progress is re-aggregated from its tasks.
With --progress the given value is stored as-is and the booking is rolled up
from it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd, progress.KindMilestone, args[0], &f)
		},
	}
	f.register(cmd, false)
	return cmd
}

func newMilestoneDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <milestone-id>",
		Short: "Delete a milestone and its tasks, then re-roll the booking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *wiring.AppServices) error {
				res, err := s.Service.DeleteMilestone(ctx, args[0])
				if err != nil {
					return err
				}
				if done, err := structured(cmd.OutOrStdout(), resultView{Kind: res.Kind, Milestone: res.Milestone, Cascade: res.Cascade}); done {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Milestone %s deleted.\n", args[0])
				printCascade(cmd.OutOrStdout(), res.Cascade)
				if res.Warning != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "warning: %v\n", res.Warning)
				}
				return nil
			})
		},
	}
}
