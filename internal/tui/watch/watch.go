// Package watch renders a live table of deployed rigs over the control
// plane. Presentation only: it polls discovery once per second and
// never mutates rig state.
package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/rig/internal/control"
)

var (
	baseStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Padding(0, 1)
)

const refreshInterval = time.Second

type refreshMsg []control.Entry

type model struct {
	table table.Model
}

func newModel() model {
	columns := []table.Column{
		{Title: "Name", Width: 12},
		{Title: "PID", Width: 8},
		{Title: "Phase", Width: 20},
		{Title: "Uptime", Width: 9},
		{Title: "Monitors", Width: 36},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderBottom(true)
	t.SetStyles(styles)
	return model{table: t}
}

func refresh() tea.Msg {
	entries, err := control.Discover()
	if err != nil {
		return refreshMsg(nil)
	}
	return refreshMsg(entries)
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return refresh()
	})
}

func (m model) Init() tea.Cmd {
	return func() tea.Msg { return refresh() }
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case refreshMsg:
		m.table.SetRows(rowsFor(msg))
		return m, tick()
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func rowsFor(entries []control.Entry) []table.Row {
	rows := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		if !e.Live || e.Status == nil {
			rows = append(rows, table.Row{e.Name, "-", "stale", "-", "-"})
			continue
		}
		monitors := ""
		for i, mon := range e.Status.Monitors {
			if i > 0 {
				monitors += " "
			}
			monitors += fmt.Sprintf("%s(%s)", mon.Name, mon.State)
		}
		rows = append(rows, table.Row{
			e.Status.Name,
			fmt.Sprintf("%d", e.Status.PID),
			e.Status.Phase,
			fmt.Sprintf("%ds", e.Status.UptimeSecs),
			monitors,
		})
	}
	return rows
}

func (m model) View() string {
	return titleStyle.Render("Deployed rigs") + "\n" +
		baseStyle.Render(m.table.View()) + "\n" +
		helpStyle.Render("q to quit")
}

// Run starts the live view and blocks until the user quits.
func Run() error {
	_, err := tea.NewProgram(newModel()).Run()
	return err
}
