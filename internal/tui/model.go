// Package tui renders pipeline progress and run summaries in the terminal.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/cutout-cli/cutout/pkg/pipeline"
)

// steps are the stages shown in the progress list, in order.
var steps = []struct {
	state pipeline.State
	label string
}{
	{pipeline.StateValidating, "Validate"},
	{pipeline.StateCompressing, "Compress"},
	{pipeline.StateUploading, "Upload"},
	{pipeline.StateProcessing, "Remove background"},
	{pipeline.StateSaving, "Save"},
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type Model struct {
	updates  <-chan pipeline.Status
	source   string
	started  time.Time
	status   pipeline.Status
	frame    int
	quitting bool
}

type doneMsg struct{}

type statusMsg pipeline.Status

type tickMsg time.Time

// NewModel shows progress for source, driven by updates. The program quits
// when updates is closed.
func NewModel(source string, updates <-chan pipeline.Status) Model {
	return Model{updates: updates, source: source, started: time.Now()}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(listenForUpdates(m.updates), tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case statusMsg:
		m.status = pipeline.Status(msg)
		return m, listenForUpdates(m.updates)
	case tickMsg:
		if m.quitting {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, tick()
	case doneMsg:
		m.quitting = true
		return m, tea.Quit
	case tea.KeyMsg:
		// the run owns cancellation; keys other than ctrl+c are ignored
		if msg.Type == tea.KeyCtrlC {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	default:
		return m, nil
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	lines := []string{
		titleStyle.Render("cutout") + dimStyle.Render("  "+m.source),
	}
	for _, s := range steps {
		lines = append(lines, m.renderStep(s.state, s.label))
	}

	msg := m.status.Message
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if msg != "" {
		lines = append(lines, "", labelStyle.Render(msg))
	}
	lines = append(lines, dimStyle.Render(fmt.Sprintf("Elapsed: %s", time.Since(m.started).Round(time.Second))))

	return strings.Join(lines, "\n")
}

func (m Model) renderStep(state pipeline.State, label string) string {
	cur := m.status.State
	switch {
	case cur == pipeline.StateError:
		return dimStyle.Render("  · " + label)
	case cur == state:
		return activeStyle.Render(fmt.Sprintf("  %s %s", spinnerFrames[m.frame], label))
	case cur > state:
		return successStyle.Render("  ✓ ") + labelStyle.Render(label)
	default:
		return dimStyle.Render("  · " + label)
	}
}

func listenForUpdates(updates <-chan pipeline.Status) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-updates
		if !ok {
			return doneMsg{}
		}
		return statusMsg(st)
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
