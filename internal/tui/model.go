// Package tui renders the overlay in the terminal.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/Rorqualx/sdk-debugger-go/internal/overlay"
	"github.com/Rorqualx/sdk-debugger-go/internal/security"
	"github.com/Rorqualx/sdk-debugger-go/internal/types"
)

// Source is what the terminal overlay renders.
type Source interface {
	View() overlay.View
	Subscribe(buffer int) (<-chan overlay.Notification, func())
}

// Tab is one pane of the overlay.
type Tab int

const (
	TabComponents Tab = iota
	TabCalls
	TabClient
	tabCount
)

func (t Tab) String() string {
	switch t {
	case TabComponents:
		return "Components"
	case TabCalls:
		return "Calls"
	case TabClient:
		return "Client"
	default:
		return "?"
	}
}

type notificationMsg overlay.Notification

type streamClosedMsg struct{}

// Model is the bubbletea model of the overlay.
type Model struct {
	source        Source
	notifications <-chan overlay.Notification
	styles        Styles

	view     overlay.View
	tab      Tab
	selected int
	width    int
	height   int
	closed   bool
}

// NewModel creates a model reading from source. The notification channel
// is owned by the caller.
func NewModel(source Source, notifications <-chan overlay.Notification) Model {
	return Model{
		source:        source,
		notifications: notifications,
		styles:        DefaultStyles(),
		view:          source.View(),
		width:         100,
		height:        30,
	}
}

// Run shows the overlay until the user quits or ctx is done.
func Run(ctx context.Context, source Source) error {
	notifications, cancel := source.Subscribe(64)
	defer cancel()

	p := tea.NewProgram(NewModel(source, notifications), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func waitForNotification(ch <-chan overlay.Notification) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return notificationMsg(n)
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return waitForNotification(m.notifications)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case notificationMsg:
		m.view = m.source.View()
		m.clampSelection()
		return m, waitForNotification(m.notifications)

	case streamClosedMsg:
		m.closed = true
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "tab", "right", "l":
			m.tab = (m.tab + 1) % tabCount
		case "shift+tab", "left", "h":
			m.tab = (m.tab + tabCount - 1) % tabCount
		case "down", "j":
			m.selected++
			m.clampSelection()
		case "up", "k":
			m.selected--
			m.clampSelection()
		case "r":
			m.view = m.source.View()
			m.clampSelection()
		}
	}
	return m, nil
}

func (m *Model) clampSelection() {
	if m.selected >= len(m.view.Components) {
		m.selected = len(m.view.Components) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.header())
	b.WriteString("\n")
	b.WriteString(m.tabs())
	b.WriteString("\n")

	var body string
	switch m.tab {
	case TabComponents:
		body = m.componentsPane()
	case TabCalls:
		body = m.callsPane()
	case TabClient:
		body = m.clientPane()
	}
	b.WriteString(m.styles.Pane.Width(max(m.width-4, 20)).Render(body))
	b.WriteString("\n")
	b.WriteString(m.styles.Help.Render("tab: switch pane  j/k: select  r: refresh  q: quit"))
	return b.String()
}

func (m Model) header() string {
	status := m.styles.Waiting.Render("waiting for SDK")
	if m.view.Attached {
		status = m.styles.Attached.Render("attached")
	}
	if m.closed {
		status = m.styles.Muted.Render("detached")
	}
	return fmt.Sprintf("%s  %s  %s",
		m.styles.Title.Render("SDK debugger"),
		status,
		m.styles.Muted.Render(fmt.Sprintf("%d components, %d calls", len(m.view.Components), m.view.TotalCalls)))
}

func (m Model) tabs() string {
	parts := make([]string, 0, tabCount)
	for t := Tab(0); t < tabCount; t++ {
		if t == m.tab {
			parts = append(parts, m.styles.Active.Render(t.String()))
		} else {
			parts = append(parts, m.styles.PaneTitle.Render(t.String()))
		}
	}
	return strings.Join(parts, "  ")
}

func (m Model) componentsPane() string {
	if len(m.view.Components) == 0 {
		return m.styles.Muted.Render("No components created yet")
	}

	list := make([]string, 0, len(m.view.Components))
	for i, c := range m.view.Components {
		line := fmt.Sprintf("%s %s", c.Name, c.Version)
		if !c.Created {
			line += " (stub)"
		}
		if i == m.selected {
			list = append(list, m.styles.Selected.Render(line))
		} else {
			list = append(list, m.styles.Item.Render(line))
		}
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Width(28).Render(strings.Join(list, "\n")),
		m.componentDetail(m.view.Components[m.selected]))
}

func (m Model) componentDetail(c types.ComponentDebugRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", m.styles.Title.Render(c.Name))
	fmt.Fprintf(&b, "%s %s  minified: %v\n", m.styles.Muted.Render("version"), c.Version, c.Minified)

	if len(c.CreateArgs) > 0 {
		b.WriteString(m.styles.Muted.Render("create arguments"))
		b.WriteString("\n")
		b.WriteString(toYAML(c.CreateArgs))
	}

	b.WriteString(m.styles.Muted.Render("log"))
	b.WriteString("\n")
	entries := lastN(c.Log, max(m.height-14, 3))
	if len(entries) == 0 {
		b.WriteString("  (no calls)\n")
	}
	for _, entry := range entries {
		fmt.Fprintf(&b, "  %s\n", entry)
	}
	return b.String()
}

func (m Model) callsPane() string {
	calls := lastN(m.view.Calls, max(m.height-8, 5))
	if len(calls) == 0 {
		return m.styles.Muted.Render("No calls observed yet")
	}

	lines := make([]string, 0, len(calls))
	for _, c := range calls {
		lines = append(lines, fmt.Sprintf("%s %s", m.styles.Muted.Render(c.Component), formatCall(c)))
	}
	return strings.Join(lines, "\n")
}

func (m Model) clientPane() string {
	if m.view.ClientMetadata == nil {
		return m.styles.Muted.Render("Client configuration not disclosed yet")
	}
	return toYAML(security.RedactConfig(m.view.ClientMetadata))
}

func formatCall(c types.FunctionCall) string {
	args := make([]string, 0, len(c.Args))
	for _, a := range c.Args {
		args = append(args, fmt.Sprint(a))
	}
	return c.FunctionName + "(" + strings.Join(args, ", ") + ")"
}

func toYAML(v any) string {
	out, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v\n", v)
	}
	return string(out)
}

func lastN[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
