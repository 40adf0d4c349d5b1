package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/milepost/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/milepost/pkg/application"
	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and update tasks",
	}
	cmd.AddCommand(newTaskShowCmd(), newTaskCreateCmd(), newTaskUpdateCmd())
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task with its overdue flag evaluated now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *wiring.AppServices) error {
				task, err := s.Service.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printTask(cmd.OutOrStdout(), task)
			})
		},
	}
}

func newTaskCreateCmd() *cobra.Command {
	var (
		title, description, status, due, priority string
		pct                                       int
		estimated                                 float64
	)
	cmd := &cobra.Command{
		Use:   "create <milestone-id>",
		Short: "Add a task to a milestone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			draft := application.TaskDraft{
				Title:       title,
				Description: description,
				Priority:    progress.Priority(priority),
			}
			if status != "" {
				st, err := parseStatusFlag(status)
				if err != nil {
					return err
				}
				draft.Status = st
			}
			if cmd.Flags().Changed("progress") {
				draft.Progress = progress.Explicit(pct)
			}
			if cmd.Flags().Changed("estimated-hours") {
				draft.EstimatedHours = &estimated
			}
			if due != "" {
				t, err := parseDue(due)
				if err != nil {
					return err
				}
				draft.DueAt = &t
			}
			return withServices(cmd, func(ctx context.Context, s *wiring.AppServices) error {
				res, err := s.Service.CreateTask(ctx, args[0], draft)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "task description")
	cmd.Flags().StringVar(&status, "status", "", "initial status (default pending)")
	cmd.Flags().IntVar(&pct, "progress", 0, "explicit progress percentage")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, medium, high)")
	cmd.Flags().Float64Var(&estimated, "estimated-hours", 0, "estimated hours")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newTaskUpdateCmd() *cobra.Command {
	var f mutationFlags
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Change a task's status, progress or details",
		Example: `  milepost task update t-1 --status in_progress
  milepost task update t-1 --status completed
  milepost task update t-1 --progress 40 --due 2026-03-01`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd, progress.KindTask, args[0], &f)
		},
	}
	f.register(cmd, true)
	return cmd
}

// runUpdate sends one change set through the mutation gateway.
func runUpdate(cmd *cobra.Command, kind progress.Kind, id string, f *mutationFlags) error {
	req, err := f.request(cmd)
	if err != nil {
		return err
	}
	changes, err := req.Changes()
	if err != nil {
		return MapError(err)
	}
	return withServices(cmd, func(ctx context.Context, s *wiring.AppServices) error {
		res, err := s.Service.ApplyMutation(ctx, kind, id, changes)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), res)
	})
}
