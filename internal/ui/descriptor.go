package ui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/nicklasos/god/internal/supervisor"
)

// DescriptorModel is a read-only, scrollable view of one app's descriptor
// and the command line it resolves to
type DescriptorModel struct {
	viewport viewport.Model
	app      *supervisor.AppConfig
	width    int
	height   int
}

// NewDescriptorModel creates a new descriptor model
func NewDescriptorModel() *DescriptorModel {
	return &DescriptorModel{
		viewport: viewport.New(80, 20),
	}
}

// SetApp sets the app to show (nil clears the view)
func (m *DescriptorModel) SetApp(app *supervisor.AppConfig) {
	m.app = app
	m.viewport.SetContent(renderDescriptor(app))
	m.viewport.GotoTop()
}

// SetSize sets the size of the descriptor view
func (m *DescriptorModel) SetSize(width, height int) {
	m.width = width
	m.height = height
	// Account for borders, padding, title and help
	m.viewport.Width = max(10, width-6)
	m.viewport.Height = max(3, height-8)
}

// Update scrolls the viewport
func (m *DescriptorModel) Update(msg tea.Msg) (*DescriptorModel, tea.Cmd) {
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the descriptor view
func (m *DescriptorModel) View() string {
	title := "Descriptor"
	if m.app != nil {
		title = "Descriptor: " + m.app.Name
	}

	content := descriptorTitleStyle.Render(title) + "\n" +
		m.viewport.View() + "\n" +
		helpStyle.Render(fmt.Sprintf("j/k: scroll | Esc/q: back | %3.f%%", m.viewport.ScrollPercent()*100))

	return detailPanelStyle.Width(m.width).Height(m.height).Render(content)
}

// renderDescriptor shows the resolved launch followed by the descriptor as JSON
func renderDescriptor(app *supervisor.AppConfig) string {
	if app == nil {
		return "No app selected"
	}

	var b strings.Builder
	b.WriteString(labelStyle.Render("Resolved launch") + "\n")

	// Only the descriptor's own env is shown; the inherited env is noise here
	command, err := supervisor.BuildCommand(app, nil)
	if err != nil {
		b.WriteString(errorStyle.Render(err.Error()) + "\n")
	} else {
		b.WriteString(field("exec:", command.Path) + "\n")
		for i, arg := range command.Argv {
			b.WriteString(field(fmt.Sprintf("argv[%d]:", i), arg) + "\n")
		}
		b.WriteString(field("cwd:", command.Dir) + "\n")
		for _, kv := range command.Env {
			b.WriteString(field("env:", kv) + "\n")
		}
	}

	b.WriteString("\n" + labelStyle.Render("Descriptor") + "\n")
	single := &supervisor.Config{Apps: []*supervisor.AppConfig{app}}
	data, err := single.MarshalJSON()
	if err != nil {
		b.WriteString(errorStyle.Render(err.Error()))
		return b.String()
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		b.Write(data)
	} else {
		b.Write(pretty.Bytes())
	}
	return b.String()
}
