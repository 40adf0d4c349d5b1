package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/milepost/internal/infrastructure/messaging"
	"github.com/felixgeelhaar/milepost/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/milepost/pkg/domain/events"
)

func newHistoryCmd() *cobra.Command {
	var verify, deadLetters bool
	cmd := &cobra.Command{
		Use:   "history [booking-id]",
		Short: "Show the recorded progress events of a booking",
		Long: `Show the recorded progress events of a booking, or of every booking when no
id is given. The journal is kept next to the filesystem store and chained by
hash; --verify checks the chain instead of listing it. --dead-letters lists the
notifications that failed after every delivery attempt.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *wiring.AppServices) error {
				if s.Journal == nil {
					return NewCLIError("no event journal for this storage driver",
						"Run with --storage-driver filesystem", fmt.Errorf("driver is %s", s.Workspace.Driver))
				}
				out := cmd.OutOrStdout()

				if deadLetters {
					return printDeadLetters(out, s.DeadLetters)
				}
				if verify {
					violations, err := s.Journal.VerifyIntegrity()
					if err != nil {
						return err
					}
					if len(violations) == 0 {
						fmt.Fprintln(out, "Journal integrity OK.")
						return nil
					}
					for _, v := range violations {
						fmt.Fprintln(out, v)
					}
					return NewCLIError(fmt.Sprintf("%d journal violations", len(violations)),
						"The journal was edited outside milepost", nil)
				}

				var (
					entries []*events.JournalEntry
					err     error
				)
				if len(args) == 1 {
					entries, err = s.Journal.LoadByBooking(args[0])
				} else {
					entries, err = s.Journal.LoadAll()
				}
				if err != nil {
					return err
				}
				if done, err := structured(out, entries); done {
					return err
				}
				tw := newTable(out)
				tw.AppendHeader(table.Row{"Time", "Event", "Aggregate", "Booking"})
				for _, e := range entries {
					tw.AppendRow(table.Row{
						e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Type,
						e.AggregateType + " " + e.AggregateID, e.BookingID,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "verify the journal hash chain")
	cmd.Flags().BoolVar(&deadLetters, "dead-letters", false, "list failed notification deliveries")
	return cmd
}

func printDeadLetters(out io.Writer, store *messaging.DeadLetterStore) error {
	letters, err := store.ReadAll()
	if err != nil {
		return fmt.Errorf("read dead letters: %w", err)
	}
	if done, err := structured(out, letters); done {
		return err
	}
	if len(letters) == 0 {
		fmt.Fprintln(out, "No failed deliveries.")
		return nil
	}
	tw := newTable(out)
	tw.AppendHeader(table.Row{"Time", "Adapter", "Event", "Attempts", "Error"})
	for _, dl := range letters {
		tw.AppendRow(table.Row{
			dl.Timestamp.Local().Format("2006-01-02 15:04:05"), dl.Adapter + " (" + dl.Type + ")",
			dl.EventType, dl.Attempts, dl.Error,
		})
	}
	tw.Render()
	return nil
}
