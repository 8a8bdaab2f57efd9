package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/nicklasos/god/internal/supervisor"
)

// ListModel is the left panel: one row per app, filtered by the search term
type ListModel struct {
	all     []*supervisor.Process
	visible []*supervisor.Process
	filter  string
	cursor  int
	offset  int
	width   int
	height  int
}

func NewListModel(processes []*supervisor.Process) *ListModel {
	m := &ListModel{}
	m.SetProcesses(processes)
	return m
}

// SetProcesses replaces the rows, keeping the cursor on the same app when it is still visible
func (m *ListModel) SetProcesses(processes []*supervisor.Process) {
	var current string
	if sel := m.Selected(); sel != nil {
		current = sel.Name
	}
	m.all = processes
	m.refilter(current)
}

// SetFilter narrows the rows to apps whose name, status or script contains term
func (m *ListModel) SetFilter(term string) {
	m.filter = strings.ToLower(term)
	m.refilter("")
}

func (m *ListModel) refilter(keep string) {
	m.visible = nil
	for _, proc := range m.all {
		if m.filter == "" || matchesSearch(proc, m.filter) {
			m.visible = append(m.visible, proc)
		}
	}
	if keep != "" {
		for i, proc := range m.visible {
			if proc.Name == keep {
				m.cursor = i
				break
			}
		}
	}
	m.clampCursor()
}

func matchesSearch(proc *supervisor.Process, term string) bool {
	if strings.Contains(strings.ToLower(proc.Name), term) ||
		strings.Contains(strings.ToLower(proc.Status), term) {
		return true
	}
	return proc.Config != nil && strings.Contains(strings.ToLower(proc.Config.Script), term)
}

// Move shifts the cursor by delta rows, stopping at either end
func (m *ListModel) Move(delta int) {
	m.cursor += delta
	m.clampCursor()
}

func (m *ListModel) clampCursor() {
	m.cursor = min(m.cursor, len(m.visible)-1)
	m.cursor = max(m.cursor, 0)
}

// Selected returns the app under the cursor, or nil when nothing matches
func (m *ListModel) Selected() *supervisor.Process {
	if m.cursor >= len(m.visible) {
		return nil
	}
	return m.visible[m.cursor]
}

func (m *ListModel) SetSize(width, height int) {
	m.width = width
	m.height = height
}

// rows is how many app rows fit under the title and column header
func (m *ListModel) rows() int {
	return max(1, m.height-4-3)
}

func (m *ListModel) View() string {
	title := titleStyle.Render(fmt.Sprintf("Apps (%d)", len(m.all)))
	if len(m.visible) == 0 {
		empty := "No apps in the ecosystem"
		if m.filter != "" {
			empty = fmt.Sprintf("No app matches %q", m.filter)
		}
		return listPanelStyle.Width(m.width).Height(m.height).Render(title + "\n" + labelStyle.Render(empty))
	}

	// Keep the cursor inside the window without recentering on every move
	rows := m.rows()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+rows {
		m.offset = m.cursor - rows + 1
	}
	m.offset = min(m.offset, max(0, len(m.visible)-rows))

	nameWidth := max(8, m.width-4-2-10-8-5)
	lines := []string{title, labelStyle.Render(m.row("NAME", "STATUS", "PID", "↺", nameWidth))}
	end := min(len(m.visible), m.offset+rows)
	for i := m.offset; i < end; i++ {
		lines = append(lines, m.renderRow(m.visible[i], i == m.cursor, nameWidth))
	}
	if end < len(m.visible) {
		lines = append(lines, labelStyle.Render(fmt.Sprintf("  … %d more", len(m.visible)-end)))
	}

	return listPanelStyle.Width(m.width).Height(m.height).Render(strings.Join(lines, "\n"))
}

func (m *ListModel) row(name, status, pid, restarts string, nameWidth int) string {
	return fmt.Sprintf("    %-*s %-10s %-7s %s", nameWidth, truncateLine(name, nameWidth), status, pid, restarts)
}

func (m *ListModel) renderRow(proc *supervisor.Process, selected bool, nameWidth int) string {
	pid := "-"
	if proc.PID > 0 {
		pid = fmt.Sprint(proc.PID)
	}
	restarts := ""
	if proc.Restarts > 0 {
		restarts = fmt.Sprint(proc.Restarts)
	}

	name := fmt.Sprintf("%-*s", nameWidth, truncateLine(proc.Name, nameWidth))
	status := GetStatusStyle(proc.Status).Render(fmt.Sprintf("%-10s", proc.Status))
	line := lipgloss.JoinHorizontal(lipgloss.Top, name, " ", status, " ", fmt.Sprintf("%-7s %s", pid, restarts))

	if selected {
		return listItemSelectedStyle.Render("▶ " + line)
	}
	return listItemStyle.Render("  " + line)
}
