package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/milepost/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/milepost/pkg/application"
	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

func newDashboardCmd() *cobra.Command {
	var refresh time.Duration
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Interactive TUI dashboard of booking progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, s *wiring.AppServices) error {
				m := newDashboardModel(ctx, s.Service, refresh)
				if os.Getenv("MILEPOST_SKIP_DASHBOARD_RUN") == "true" {
					fmt.Fprint(cmd.OutOrStdout(), m.View())
					return nil
				}
				p := tea.NewProgram(m, tea.WithContext(ctx))
				if _, err := p.Run(); err != nil {
					return fmt.Errorf("dashboard run failed: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&refresh, "refresh", 5*time.Second, "reload interval")
	return cmd
}

// Styles
var baseStyle = lipgloss.NewStyle().
	BorderStyle(lipgloss.NormalBorder()).
	BorderForeground(lipgloss.Color("240"))

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#FAFAFA")).
	Background(lipgloss.Color("#7D56F4")).
	PaddingLeft(1).
	PaddingRight(1)

var statusDone = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
var statusWIP = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
var statusErr = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

type dashboardModel struct {
	ctx      context.Context
	svc      *application.MutationService
	refresh  time.Duration
	table    table.Model
	trees    []*application.BookingTree
	loadedAt time.Time
	err      error
}

type tickMsg time.Time

type loadedMsg struct {
	trees []*application.BookingTree
	err   error
}

func newDashboardModel(ctx context.Context, svc *application.MutationService, refresh time.Duration) dashboardModel {
	columns := []table.Column{
		{Title: "Booking", Width: 24},
		{Title: "Milestone", Width: 28},
		{Title: "Status", Width: 12},
		{Title: "Progress", Width: 9},
		{Title: "Tasks", Width: 7},
		{Title: "Overdue", Width: 8},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(14),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240"))
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229"))
	t.SetStyles(s)

	m := dashboardModel{ctx: ctx, svc: svc, refresh: refresh, table: t}
	return m.apply(loadTrees(ctx, svc))
}

func loadTrees(ctx context.Context, svc *application.MutationService) loadedMsg {
	bookings, err := svc.ListBookings(ctx)
	if err != nil {
		return loadedMsg{err: err}
	}
	trees := make([]*application.BookingTree, 0, len(bookings))
	for _, b := range bookings {
		tree, err := svc.GetBookingTree(ctx, b.ID)
		if err != nil {
			return loadedMsg{err: err}
		}
		trees = append(trees, tree)
	}
	return loadedMsg{trees: trees}
}

func (m dashboardModel) apply(msg loadedMsg) dashboardModel {
	m.err = msg.err
	if msg.err != nil {
		return m
	}
	m.trees = msg.trees
	m.loadedAt = time.Now()

	var rows []table.Row
	for _, tree := range m.trees {
		b := tree.Booking
		rows = append(rows, table.Row{b.Title, "", "", percent(b.ProgressPercentage), "", ""})
		for _, ms := range tree.Milestones {
			rows = append(rows, table.Row{
				"", ms.Title, string(ms.Status), percent(ms.ProgressPercentage),
				fmt.Sprintf("%d/%d", ms.CompletedTasks, ms.TotalTasks), strconv.Itoa(ms.OverdueTasks),
			})
		}
	}
	m.table.SetRows(rows)
	return m
}

func (m dashboardModel) load() tea.Cmd {
	return func() tea.Msg { return loadTrees(m.ctx, m.svc) }
}

func (m dashboardModel) tick() tea.Cmd {
	if m.refresh <= 0 {
		return nil
	}
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m dashboardModel) Init() tea.Cmd { return m.tick() }

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.load()
		}
	case tickMsg:
		return m, tea.Batch(m.load(), m.tick())
	case loadedMsg:
		return m.apply(msg), nil
	}
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m dashboardModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error loading dashboard: %v\nPress q to quit.", m.err)
	}

	header := headerStyle.Render(fmt.Sprintf("milepost %s", Version))

	var done, active, overdue int
	for _, tree := range m.trees {
		for _, ms := range tree.Milestones {
			switch {
			case ms.Status == progress.StatusCompleted:
				done++
			case ms.Status == progress.StatusInProgress:
				active++
			}
			overdue += ms.OverdueTasks
		}
	}
	summary := fmt.Sprintf("%d bookings  %s  %s",
		len(m.trees),
		statusDone.Render(fmt.Sprintf("%d milestones completed", done)),
		statusWIP.Render(fmt.Sprintf("%d in progress", active)),
	)
	overdueView := statusDone.Render("\nNo overdue tasks")
	if overdue > 0 {
		overdueView = statusErr.Render(fmt.Sprintf("\n%d overdue tasks", overdue))
	}

	return baseStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			header,
			summary,
			"\nBookings:",
			m.table.View(),
			overdueView,
			fmt.Sprintf("\nUpdated %s  [r] Refresh  [q] Quit  [Up/Down] Navigate", m.loadedAt.Format("15:04:05")),
		),
	) + "\n"
}
