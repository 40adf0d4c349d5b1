package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/felixgeelhaar/milepost/internal/infrastructure/watch"
	"github.com/felixgeelhaar/milepost/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

func newWatchCmd() *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Recompute bookings when the store file is edited outside milepost",
		Long: `Watch the filesystem store and recompute every booking after the store
file is changed by another process or by hand. Writes made by this process
are ignored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *wiring.AppServices) error {
				fs := s.Workspace.Filesystem()
				if fs == nil {
					return NewCLIError("watch needs the filesystem store",
						"Run with --storage-driver filesystem", fmt.Errorf("driver is %s", s.Workspace.Driver))
				}

				out := cmd.OutOrStdout()
				onChange := func(ctx context.Context, changes []watch.ChangeEvent) error {
					changed, err := fs.Changed()
					if err != nil || !changed {
						return err
					}
					if err := fs.Reload(ctx); err != nil {
						return fmt.Errorf("reload store: %w", err)
					}
					fmt.Fprintf(out, "Store changed at %s, recomputing...\n", time.Now().Format("15:04:05"))
					return recomputeStore(ctx, s, out)
				}

				w, err := watch.NewStoreWatcher(fs.Path(), debounce, onChange, s.Logger)
				if err != nil {
					return err
				}
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				fmt.Fprintf(out, "Watching %s for changes...\n", fs.Path())
				return w.Run(ctx)
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before recomputing")
	return cmd
}

func recomputeStore(ctx context.Context, s *wiring.AppServices, out io.Writer) error {
	bookings, err := s.Service.ListBookings(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, len(bookings))
	for i, b := range bookings {
		ids[i] = b.ID
	}
	reports, err := recomputeAll(ctx, s.Service, ids)
	for _, r := range reports {
		printCascade(out, r)
	}
	if err != nil {
		s.Logger.Warn("recompute after store change incomplete", zap.Error(err), zap.Bool("cascade_incomplete", errors.Is(err, progress.ErrCascadeIncomplete)))
	}
	return nil
}
