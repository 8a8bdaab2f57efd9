package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nicklasos/god/internal/supervisor"
)

// DetailModel represents the app info section
type DetailModel struct {
	process *supervisor.Process
	width   int
	height  int
}

// NewDetailModel creates a new detail model
func NewDetailModel() *DetailModel {
	return &DetailModel{}
}

// SetProcess sets the process to display
func (m *DetailModel) SetProcess(process *supervisor.Process) {
	m.process = process
}

// SetSize sets the size of the detail view
func (m *DetailModel) SetSize(width, height int) {
	m.width = width
	m.height = height
}

// View renders the detail view
func (m *DetailModel) View() string {
	if m.process == nil {
		return detailPanelStyle.Width(m.width).Height(m.height).Render(
			titleStyle.Render("App Info") + "\n\n" +
				"No app selected",
		)
	}

	var lines []string
	lines = append(lines, titleStyle.Render("App Info"))
	lines = append(lines, "")

	statusStyle := GetStatusStyle(m.process.Status)
	lines = append(lines, field("Name:", m.process.Name))
	lines = append(lines, labelStyle.Render("Status:")+statusStyle.Render(m.process.Status))

	if m.process.PID > 0 {
		lines = append(lines, field("PID:", fmt.Sprintf("%d", m.process.PID)))
	}
	if m.process.Uptime > 0 {
		lines = append(lines, field("Uptime:", formatUptime(m.process.Uptime)))
	}

	cfg := m.process.Config
	if cfg == nil {
		content := strings.Join(lines, "\n")
		return detailPanelStyle.Width(m.width).Height(m.height).Render(content)
	}

	restarts := fmt.Sprintf("%d (limit %d consecutive)", m.process.Restarts, cfg.MaxRestarts)
	if !cfg.Autorestart {
		restarts = fmt.Sprintf("%d (autorestart off)", m.process.Restarts)
	}
	lines = append(lines, field("Restarts:", restarts))
	if m.process.IsStopped() && m.process.Status != supervisor.StatusStopped {
		lines = append(lines, field("Exit code:", fmt.Sprintf("%d", m.process.ExitCode)))
	}

	lines = append(lines, "")
	lines = append(lines, field("Script:", orNotSet(cfg.Script)))
	args := cfg.Args
	if cfg.ArgList != nil {
		args = strings.Join(cfg.ArgList, " ")
	}
	lines = append(lines, field("Args:", orNotSet(args)))
	lines = append(lines, field("Cwd:", orNotSet(cfg.Cwd)))
	interpreter := cfg.Interpreter
	if cfg.DirectExec() {
		interpreter = supervisor.InterpreterNone
	}
	lines = append(lines, field("Interpreter:", interpreter))
	lines = append(lines, field("Watch:", fmt.Sprintf("%v", cfg.Watch)))

	if len(cfg.Env) > 0 {
		keys := make([]string, 0, len(cfg.Env))
		for k := range cfg.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines = append(lines, labelStyle.Render("Env:"))
		for _, k := range keys {
			lines = append(lines, valueStyle.Render("  "+k+"="+cfg.Env[k]))
		}
	}

	content := strings.Join(lines, "\n")
	return detailPanelStyle.Width(m.width).Height(m.height).Render(content)
}

func field(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value)
}

func orNotSet(value string) string {
	if value == "" {
		return "(not set)"
	}
	return value
}

// formatUptime formats a duration as a human-readable string
func formatUptime(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
