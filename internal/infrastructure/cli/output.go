package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/milepost/pkg/application"
	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// structured writes v as JSON or YAML and reports whether it did.
func structured(w io.Writer, v any) (bool, error) {
	switch outputFormat {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	case formatTable, "":
		return false, nil
	default:
		return true, fmt.Errorf("unknown output format %q (want table, json or yaml)", outputFormat)
	}
}

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printBookings(w io.Writer, bookings []progress.Booking) error {
	if done, err := structured(w, bookings); done {
		return err
	}
	tw := newTable(w)
	tw.AppendHeader(table.Row{"ID", "Title", "Progress", "Recalculated"})
	for _, b := range bookings {
		tw.AppendRow(table.Row{b.ID, b.Title, percent(b.ProgressPercentage), formatTime(b.RecalculatedAt)})
	}
	if len(bookings) == 0 {
		tw.AppendFooter(table.Row{"", "(none)"})
	}
	tw.Render()
	return nil
}

func printTree(w io.Writer, tree *application.BookingTree) error {
	if done, err := structured(w, tree); done {
		return err
	}
	fmt.Fprintf(w, "%s  %s  %s\n", tree.Booking.ID, tree.Booking.Title, percent(tree.Booking.ProgressPercentage))

	tw := newTable(w)
	tw.AppendHeader(table.Row{"Milestone", "Task", "Status", "Progress", "Weight", "Due", "Overdue"})
	for _, m := range tree.Milestones {
		tw.AppendRow(table.Row{
			m.ID, m.Title, statusLabel(m.Status, m.CalculatedStatus), percent(m.ProgressPercentage),
			strconv.FormatFloat(m.EffectiveWeight(), 'f', -1, 64), formatTime(m.DueAt),
			fmt.Sprintf("%d/%d", m.OverdueTasks, m.TotalTasks),
		})
		for _, t := range m.Tasks {
			tw.AppendRow(table.Row{"", t.Title, t.Status, percent(t.ProgressPercentage), "", formatTime(t.DueAt), yesNo(t.IsOverdue)})
		}
		tw.AppendSeparator()
	}
	tw.Render()
	return nil
}

func printTask(w io.Writer, t *progress.Task) error {
	if done, err := structured(w, t); done {
		return err
	}
	tw := newTable(w)
	tw.AppendRows([]table.Row{
		{"ID", t.ID},
		{"Milestone", t.MilestoneID},
		{"Title", t.Title},
		{"Status", t.Status},
		{"Progress", percent(t.ProgressPercentage)},
		{"Priority", t.Priority},
		{"Due", formatTime(t.DueAt)},
		{"Overdue since", formatTime(t.OverdueSince)},
		{"Completed", formatTime(t.CompletedAt)},
	})
	tw.Render()
	return nil
}

func printMilestone(w io.Writer, m *progress.Milestone) error {
	if done, err := structured(w, m); done {
		return err
	}
	tw := newTable(w)
	tw.AppendRows([]table.Row{
		{"ID", m.ID},
		{"Booking", m.BookingID},
		{"Title", m.Title},
		{"Status", statusLabel(m.Status, m.CalculatedStatus)},
		{"Progress", percent(m.ProgressPercentage)},
		{"Weight", strconv.FormatFloat(m.EffectiveWeight(), 'f', -1, 64)},
		{"Tasks", fmt.Sprintf("%d total, %d completed, %d in progress, %d pending", m.TotalTasks, m.CompletedTasks, m.InProgressTasks, m.PendingTasks)},
		{"Overdue tasks", m.OverdueTasks},
		{"Hours", fmt.Sprintf("%.1f actual / %.1f estimated", m.TotalActualHours, m.TotalEstimatedHours)},
		{"Due", formatTime(m.DueAt)},
	})
	tw.Render()
	return nil
}

type resultView struct {
	Kind      progress.Kind              `json:"kind" yaml:"kind"`
	Task      *progress.Task             `json:"task,omitempty" yaml:"task,omitempty"`
	Milestone *progress.Milestone        `json:"milestone,omitempty" yaml:"milestone,omitempty"`
	Cascade   *application.CascadeReport `json:"cascade,omitempty" yaml:"cascade,omitempty"`
	Warning   string                     `json:"warning,omitempty" yaml:"warning,omitempty"`
}

// printResult shows the written entity and what the cascade did.
func printResult(w io.Writer, res *application.MutationResult) error {
	if outputFormat != formatTable && outputFormat != "" {
		payload := resultView{Kind: res.Kind, Task: res.Task, Milestone: res.Milestone, Cascade: res.Cascade}
		if res.Warning != nil {
			payload.Warning = res.Warning.Error()
		}
		_, err := structured(w, payload)
		return err
	}

	var err error
	if res.Task != nil {
		err = printTask(w, res.Task)
	} else if res.Milestone != nil {
		err = printMilestone(w, res.Milestone)
	}
	if err != nil {
		return err
	}
	printCascade(w, res.Cascade)
	if res.Warning != nil {
		fmt.Fprintf(w, "warning: %v\n", res.Warning)
	}
	return nil
}

func printCascade(w io.Writer, report *application.CascadeReport) {
	if report == nil {
		return
	}
	line := fmt.Sprintf("booking %s -> %s via %s", report.BookingID, percent(report.BookingProgress), report.Strategy)
	if report.MilestoneRecalculated {
		line += fmt.Sprintf(", milestone %s -> %s", report.MilestoneID, percent(report.MilestoneProgress))
	}
	if report.PrimaryFailure != "" {
		line += fmt.Sprintf(" (primary %s after %s)", report.PrimaryFailure, report.PrimaryDuration.Round(time.Millisecond))
	}
	fmt.Fprintln(w, line)
}

func percent(v int) string {
	return strconv.Itoa(v) + "%"
}

func statusLabel(status, calculated progress.Status) string {
	if calculated == "" || calculated == status {
		return string(status)
	}
	return fmt.Sprintf("%s (tasks: %s)", status, calculated)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}
