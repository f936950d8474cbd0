package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fugamante/cx/internal/runlog"
)

var (
	tailOkStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	tailBlockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	tailInvalidStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	tailTimeoutStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	tailDimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type tailItem struct {
	row runlog.Row
}

func (i tailItem) Title() string {
	status := "ok"
	style := tailOkStyle
	switch {
	case i.row.PolicyBlocked != nil && *i.row.PolicyBlocked:
		status, style = "blocked", tailBlockedStyle
	case i.row.SchemaEnforced && !i.row.SchemaValid:
		status, style = "invalid", tailInvalidStyle
	case i.row.TimedOut != nil && *i.row.TimedOut:
		status, style = "timeout", tailTimeoutStyle
	}
	return fmt.Sprintf("%s  %s", style.Render(status), i.row.Command)
}

func (i tailItem) Description() string {
	ts := i.row.Timestamp
	if ts == "" {
		ts = i.row.TS
	}
	dur := ""
	if i.row.DurationMs != nil {
		dur = (time.Duration(*i.row.DurationMs) * time.Millisecond).String()
	}
	return tailDimStyle.Render(fmt.Sprintf("%s  backend=%s  %s", ts, i.row.BackendUsed, dur))
}

func (i tailItem) FilterValue() string { return i.row.Command }

type tailDelegate struct{}

func (tailDelegate) Height() int                        { return 2 }
func (tailDelegate) Spacing() int                        { return 1 }
func (tailDelegate) Update(tea.Msg, *list.Model) tea.Cmd { return nil }
func (d tailDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	it, ok := listItem.(tailItem)
	if !ok {
		return
	}
	prefix := "  "
	if index == m.Index() {
		prefix = "> "
	}
	fmt.Fprintf(w, "%s%s\n  %s", prefix, it.Title(), it.Description())
}

type tailModel struct {
	list list.Model
}

func (m tailModel) Init() tea.Cmd { return nil }

func (m tailModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m tailModel) View() string { return m.list.View() }

// runTailTUI shows rows newest-first in a scrollable, colorized list;
// q/esc/ctrl+c exits.
func runTailTUI(rows []runlog.Row) error {
	items := make([]list.Item, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		items = append(items, tailItem{row: rows[i]})
	}
	l := list.New(items, tailDelegate{}, 0, 0)
	l.Title = "cx run log"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)

	_, err := tea.NewProgram(tailModel{list: l}, tea.WithAltScreen()).Run()
	return err
}
