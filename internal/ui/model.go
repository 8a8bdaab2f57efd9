package ui

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/nicklasos/god/internal/supervisor"
)

// Mode represents the current UI mode
type Mode int

const (
	ModeList Mode = iota
	ModeSearch
	ModeDescriptor
	ModeQuit
)

const refreshInterval = time.Second

// refreshMsg is sent periodically to refresh process status
type refreshMsg struct{}

// clearStatusMsg clears the status message
type clearStatusMsg struct{}

// Model represents the main application model
type Model struct {
	listModel       *ListModel
	detailModel     *DetailModel
	logsModel       *LogsModel
	descriptorModel *DescriptorModel
	client          supervisor.Client
	configPath      string
	processes       []*supervisor.Process

	mode        Mode
	searchInput textinput.Model

	width     int
	height    int
	err       error
	statusMsg string // Temporary status message (e.g., "Stopping web...")
}

// InitialModel creates the model for a running supervisor
func InitialModel(client supervisor.Client, configPath string) *Model {
	processes := client.Status()

	searchInput := textinput.New()
	searchInput.Placeholder = "Search..."

	model := &Model{
		listModel:       NewListModel(processes),
		detailModel:     NewDetailModel(),
		logsModel:       NewLogsModel(),
		descriptorModel: NewDescriptorModel(),
		client:          client,
		configPath:      configPath,
		processes:       processes,
		mode:            ModeList,
		searchInput:     searchInput,
	}
	model.updateDetailView()
	return model
}

// Init initializes the model
func (m *Model) Init() tea.Cmd {
	return m.refreshTick()
}

// refreshTick returns a command that sends a refresh message after a delay
func (m *Model) refreshTick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return refreshMsg{}
	})
}

// Update handles updates
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateSizes()
		return m, nil

	case refreshMsg:
		m.refreshProcesses()
		return m, m.refreshTick()

	case clearStatusMsg:
		m.statusMsg = ""
		return m, nil

	case controlDoneMsg:
		return m, m.controlDone(msg)

	case tea.KeyMsg:
		handled, model, keyCmd := m.handleKeyPress(msg)
		if handled {
			return model, keyCmd
		}

		switch m.mode {
		case ModeSearch:
			var searchCmd tea.Cmd
			m.searchInput, searchCmd = m.searchInput.Update(msg)
			m.listModel.SetFilter(m.searchInput.Value())
			m.updateDetailView()
			return m, searchCmd

		case ModeDescriptor:
			var viewCmd tea.Cmd
			m.descriptorModel, viewCmd = m.descriptorModel.Update(msg)
			return m, viewCmd
		}

		return m, nil
	}

	return m, nil
}

// handleKeyPress handles key presses based on mode
func (m *Model) handleKeyPress(msg tea.KeyMsg) (bool, tea.Model, tea.Cmd) {
	switch m.mode {
	case ModeSearch:
		switch msg.String() {
		case "esc":
			m.mode = ModeList
			m.searchInput.SetValue("")
			m.listModel.SetFilter("")
			m.searchInput.Blur()
			m.updateDetailView()
			return true, m, nil
		case "enter":
			m.mode = ModeList
			m.searchInput.Blur()
			return true, m, nil
		}
		return false, m, nil

	case ModeDescriptor:
		switch msg.String() {
		case "esc", "q", "v":
			m.mode = ModeList
			m.descriptorModel.SetApp(nil)
			return true, m, nil
		}
		return false, m, nil

	case ModeQuit:
		switch msg.String() {
		case "y", "Y", "ctrl+c":
			return true, m, tea.Quit
		case "n", "N", "esc":
			m.mode = ModeList
			return true, m, nil
		}
		return true, m, nil

	case ModeList:
		return m.handleListKeyPress(msg)
	}

	return false, m, nil
}

// handleListKeyPress handles key presses in list mode
func (m *Model) handleListKeyPress(msg tea.KeyMsg) (bool, tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return true, m, tea.Quit

	case "q":
		if m.runningCount() > 0 {
			m.mode = ModeQuit
			return true, m, nil
		}
		return true, m, tea.Quit

	case "j", "down":
		m.listModel.Move(1)
		m.updateDetailView()
		return true, m, nil

	case "k", "up":
		m.listModel.Move(-1)
		m.updateDetailView()
		return true, m, nil

	case "/":
		m.mode = ModeSearch
		m.searchInput.Focus()
		return true, m, textinput.Blink

	case "s":
		return true, m, m.control("Start", "Starting", "Started", m.client.Start)

	case "x":
		return true, m, m.control("Stop", "Stopping", "Stopped", m.client.Stop)

	case "r":
		return true, m, m.control("Restart", "Restarting", "Restarted", m.client.Restart)

	case "v", "enter":
		proc := m.listModel.Selected()
		if proc != nil && proc.Config != nil {
			m.mode = ModeDescriptor
			m.descriptorModel.SetApp(proc.Config)
		}
		return true, m, nil
	}

	return false, m, nil
}

// controlDoneMsg carries the outcome of a start, stop or restart
type controlDoneMsg struct {
	verb string
	done string
	name string
	err  error
}

// control runs a lifecycle operation on the selected app off the UI loop.
// Stop can block for the app's kill_timeout.
func (m *Model) control(verb, progress, done string, op func(name string) error) tea.Cmd {
	proc := m.listModel.Selected()
	if proc == nil {
		return nil
	}

	name := proc.Name
	m.statusMsg = fmt.Sprintf("%s %s...", progress, name)
	return func() tea.Msg {
		return controlDoneMsg{verb: verb, done: done, name: name, err: op(name)}
	}
}

// controlDone reports the outcome of control
func (m *Model) controlDone(msg controlDoneMsg) tea.Cmd {
	m.refreshProcesses()
	if msg.err != nil {
		switch {
		case errors.Is(msg.err, supervisor.ErrAlreadyRunning):
			return m.setStatusMsg(fmt.Sprintf("%s is already running", msg.name))
		case errors.Is(msg.err, supervisor.ErrNotRunning):
			return m.setStatusMsg(fmt.Sprintf("%s is not running", msg.name))
		}
		m.err = msg.err
		return m.setStatusMsg(fmt.Sprintf("Failed to %s %s", strings.ToLower(msg.verb), msg.name))
	}

	m.err = nil
	return m.setStatusMsg(fmt.Sprintf("%s %s", msg.done, msg.name))
}

// refreshProcesses reloads status snapshots from the supervisor
func (m *Model) refreshProcesses() {
	m.processes = m.client.Status()
	m.listModel.SetProcesses(m.processes)
	m.updateDetailView()
}

// runningCount returns how many apps have a live process or are about to
func (m *Model) runningCount() int {
	count := 0
	for _, proc := range m.processes {
		if proc.IsRunning() || proc.Status == supervisor.StatusStarting {
			count++
		}
	}
	return count
}

// updateDetailView updates the detail and logs views with the currently selected process
func (m *Model) updateDetailView() {
	proc := m.listModel.Selected()
	m.detailModel.SetProcess(proc)
	if proc == nil {
		m.logsModel.SetBuffer(nil)
		return
	}
	buffer, err := m.client.Logs(proc.Name)
	if err != nil {
		m.logsModel.SetBuffer(nil)
		return
	}
	m.logsModel.SetBuffer(buffer)
}

// updateSizes updates the sizes of all UI components
func (m *Model) updateSizes() {
	// Account for status bar (1 line) and error message if present
	statusBarHeight := 1
	errorHeight := 0
	if m.err != nil {
		errorHeight = 2
	}

	availableHeight := m.height - statusBarHeight - errorHeight - 4
	if availableHeight < 6 {
		availableHeight = 6
	}

	// Left panel takes ~30% of the width; borders (4) and gap (1) excluded
	listWidth := (m.width - 5) * 30 / 100
	if listWidth < 25 {
		listWidth = 25
	}
	if listWidth > (m.width-5)*35/100 {
		listWidth = (m.width - 5) * 35 / 100
	}

	rightWidth := m.width - listWidth - 5
	if rightWidth < 20 {
		rightWidth = 20
		listWidth = m.width - rightWidth - 5
	}

	// 3 panels * 2 border lines each
	borderOverhead := 6
	contentSpace := availableHeight - borderOverhead
	if contentSpace < 7 {
		contentSpace = 7
	}

	// Info panel gets ~45%, the two output panes split the rest
	infoHeight := contentSpace * 45 / 100
	if infoHeight < 4 {
		infoHeight = 4
	}
	logHeight := (contentSpace - infoHeight) / 2
	if logHeight < 3 {
		logHeight = 3
	}

	totalRightHeight := (infoHeight + 2) + (logHeight + 2) + (logHeight + 2)

	m.listModel.SetSize(listWidth, totalRightHeight)
	m.detailModel.SetSize(rightWidth, infoHeight+2)
	m.logsModel.SetSize(rightWidth, logHeight+2, logHeight+2)
	m.descriptorModel.SetSize(m.width-4, m.height-2)
}

// View renders the model
func (m *Model) View() string {
	switch m.mode {
	case ModeSearch:
		return m.renderSearch()
	case ModeDescriptor:
		return m.renderDescriptor()
	case ModeQuit:
		return m.renderQuitConfirm()
	default:
		return m.renderList()
	}
}

// renderPanels joins the list with the detail and output panes
func (m *Model) renderPanels() string {
	rightView := lipgloss.JoinVertical(lipgloss.Left,
		m.detailModel.View(),
		m.logsModel.View(),
	)

	content := lipgloss.JoinHorizontal(lipgloss.Top,
		m.listModel.View(),
		lipgloss.NewStyle().Width(1).Render(""),
		rightView,
	)
	return lipgloss.NewStyle().MarginTop(1).Width(m.width).Render(content)
}

// renderList renders the list view
func (m *Model) renderList() string {
	content := m.renderPanels()

	statusText := "j/k: nav | /: search | s: start | x: stop | r: restart | v: descriptor | q: quit"
	if m.width < 90 {
		statusText = "j/k | / | s: start | x: stop | r: restart | v | q"
	} else if m.width >= 120 && m.configPath != "" {
		statusText += " | " + filepath.Base(m.configPath)
	}
	if m.statusMsg != "" {
		statusText = warningStyle.Render(m.statusMsg) + " | " + statusText
	}

	status := lipgloss.NewStyle().
		Foreground(fgColor).
		Padding(0, 1).
		Render(statusText)

	if m.err == nil {
		return lipgloss.JoinVertical(lipgloss.Left, content, status)
	}

	errLines := strings.Split(fmt.Sprintf("⚠ Error: %v", m.err), "\n")
	var errorMsg strings.Builder
	for i, line := range errLines {
		if i > 0 {
			errorMsg.WriteString("\n")
		}
		errorMsg.WriteString(errorStyle.Render(line))
	}
	return lipgloss.JoinVertical(lipgloss.Left, errorMsg.String(), content, status)
}

// renderSearch renders the search view
func (m *Model) renderSearch() string {
	content := m.renderPanels()

	searchQuery := m.searchInput.Value()
	if searchQuery == "" {
		searchQuery = "(empty)"
	}
	statusText := fmt.Sprintf("Search: %s | Enter: select | Esc: cancel", searchQuery)
	if m.width < 80 {
		statusText = fmt.Sprintf("Search: %s | Enter/Esc", searchQuery)
	}
	status := lipgloss.NewStyle().
		Foreground(fgColor).
		Padding(0, 1).
		Render(statusText)

	return lipgloss.JoinVertical(lipgloss.Left, content, status)
}

// renderDescriptor renders the descriptor view
func (m *Model) renderDescriptor() string {
	return "\n" + lipgloss.Place(m.width, m.height-1, lipgloss.Center, lipgloss.Top, m.descriptorModel.View())
}

// renderQuitConfirm asks before quitting, which stops every running app
func (m *Model) renderQuitConfirm() string {
	msg := fmt.Sprintf("Quit and stop %d running app(s)? (y/n)", m.runningCount())
	return detailPanelStyle.Width(m.width - 4).Height(10).Render(
		titleStyle.Render("Confirm Quit") + "\n\n" +
			warningStyle.Render(msg) + "\n\n" +
			helpStyle.Render("y: quit | n/Esc: cancel"),
	)
}

// setStatusMsg sets a temporary status message that will be cleared after 3 seconds
func (m *Model) setStatusMsg(msg string) tea.Cmd {
	m.statusMsg = msg
	return tea.Tick(3*time.Second, func(time.Time) tea.Msg {
		return clearStatusMsg{}
	})
}
