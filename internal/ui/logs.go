package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/nicklasos/god/internal/supervisor"
)

const logLines = 5 // Number of lines to show from each stream

// LogsModel represents the captured output panes (stderr and stdout)
type LogsModel struct {
	buffer       *supervisor.LogBuffer
	lastID       int64
	errorLog     []string
	stdoutLog    []string
	width        int
	errorHeight  int
	stdoutHeight int
}

// NewLogsModel creates a new logs model
func NewLogsModel() *LogsModel {
	return &LogsModel{
		errorLog:  []string{},
		stdoutLog: []string{},
	}
}

// SetBuffer sets the output buffer of the selected app. Selecting the same
// buffer again only picks up lines added since the last call.
func (m *LogsModel) SetBuffer(buffer *supervisor.LogBuffer) {
	if buffer != nil && buffer == m.buffer {
		m.appendNew()
		return
	}
	m.buffer = buffer
	m.loadLogs()
}

// SetSize sets the size of the logs view
func (m *LogsModel) SetSize(width, errorHeight, stdoutHeight int) {
	m.width = width
	m.errorHeight = errorHeight
	m.stdoutHeight = stdoutHeight
}

// loadLogs takes the last lines of each stream from the buffer. Supervisor
// messages are shown with stderr.
func (m *LogsModel) loadLogs() {
	m.errorLog = []string{}
	m.stdoutLog = []string{}
	m.lastID = 0
	if m.buffer == nil {
		return
	}
	m.lastID = m.buffer.LatestID()

	for _, entry := range m.buffer.Tail(logLines, "stdout") {
		m.stdoutLog = append(m.stdoutLog, entry.Message)
	}
	var errEntries []supervisor.LogEntry
	for _, entry := range m.buffer.Tail(logLines*2, "") {
		if entry.Source != "stdout" {
			errEntries = append(errEntries, entry)
		}
	}
	if len(errEntries) > logLines {
		errEntries = errEntries[len(errEntries)-logLines:]
	}
	for _, entry := range errEntries {
		m.errorLog = append(m.errorLog, errorLine(entry))
	}
}

// appendNew adds entries newer than the last one seen
func (m *LogsModel) appendNew() {
	if m.buffer.LatestID() == m.lastID {
		return
	}
	for _, entry := range m.buffer.Since(m.lastID) {
		if entry.Source == "stdout" {
			m.stdoutLog = keepLast(append(m.stdoutLog, entry.Message), logLines)
		} else {
			m.errorLog = keepLast(append(m.errorLog, errorLine(entry)), logLines)
		}
		m.lastID = entry.ID
	}
}

func errorLine(entry supervisor.LogEntry) string {
	if entry.Source == "god" {
		return "[god] " + entry.Message
	}
	return entry.Message
}

func keepLast(lines []string, n int) []string {
	if len(lines) > n {
		return lines[len(lines)-n:]
	}
	return lines
}

// View renders the logs view (both error and stdout sections)
func (m *LogsModel) View() string {
	errorView := m.renderLog("Stderr", m.errorLog, m.errorHeight, valueStyle.Foreground(errorColor))
	stdoutView := m.renderLog("Stdout", m.stdoutLog, m.stdoutHeight, valueStyle)

	return lipgloss.JoinVertical(lipgloss.Left, errorView, stdoutView)
}

func (m *LogsModel) renderLog(title string, logLines []string, height int, style lipgloss.Style) string {
	var lines []string
	lines = append(lines, titleStyle.Render(title))
	lines = append(lines, "")

	if len(logLines) == 0 {
		lines = append(lines, valueStyle.Foreground(subtleColor).Render("No output yet"))
	} else {
		// Account for borders (2) and padding (4)
		maxLineWidth := m.width - 6
		if maxLineWidth < 10 {
			maxLineWidth = 10
		}
		for _, line := range logLines {
			lines = append(lines, style.Render(truncateLine(line, maxLineWidth)))
		}
	}

	content := strings.Join(lines, "\n")
	return logPanelStyle.Width(m.width).Height(height).Render(content)
}

// truncateLine truncates a line to fit within maxWidth, adding "..." if truncated
func truncateLine(line string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}

	lineRunes := []rune(line)
	if len(lineRunes) <= maxWidth {
		return line
	}
	if maxWidth <= 3 {
		return "..."
	}
	return string(lineRunes[:maxWidth-3]) + "..."
}
