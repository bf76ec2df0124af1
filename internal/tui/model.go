// Package tui renders a live view of one workflow run: a task board fed by
// the run's progress events plus a tail of recent events. The view exits on
// its own once the run's terminal event arrives.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/agentmux/agentmux/internal/stream"
)

// taskRow is the board's view of one task, folded from its events.
type taskRow struct {
	id      string
	status  string
	attempt int
	gate    string
	score   float64
	scored  bool
	notes   []string
}

// streamClosedMsg signals that the run's event channel closed.
type streamClosedMsg struct{}

// Model is the root Bubble Tea model for watching a run.
type Model struct {
	workflow string
	runID    string
	sub      *stream.Subscription

	spin  spinner.Model
	tasks map[string]*taskRow
	order []string
	tail  []stream.Event

	final    stream.Kind
	width    int
	height   int
	quitting bool
}

// tailLen bounds the event tail shown under the task board.
const tailLen = 10

// New creates a watch model over a run's event subscription.
func New(workflow, runID string, sub *stream.Subscription) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = StyleStatusRunning

	return Model{
		workflow: workflow,
		runID:    runID,
		sub:      sub,
		spin:     sp,
		tasks:    make(map[string]*taskRow),
	}
}

// Init starts the spinner and the event pump.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, waitForEvent(m.sub))
}

// waitForEvent returns a command that waits for the next progress event.
func waitForEvent(sub *stream.Subscription) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub.Events()
		if !ok {
			return streamClosedMsg{}
		}
		return ev
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			m.sub.Cancel()
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case stream.Event:
		m.apply(msg)
		return m, waitForEvent(m.sub)

	case streamClosedMsg:
		return m, tea.Quit
	}

	return m, nil
}

// apply folds one event into the task board and the tail.
func (m *Model) apply(ev stream.Event) {
	m.tail = append(m.tail, ev)
	if len(m.tail) > tailLen {
		m.tail = m.tail[len(m.tail)-tailLen:]
	}

	if ev.Kind.Terminal() {
		m.final = ev.Kind
		return
	}
	if ev.TaskID == "" {
		return
	}

	row, ok := m.tasks[ev.TaskID]
	if !ok {
		row = &taskRow{id: ev.TaskID}
		m.tasks[ev.TaskID] = row
		m.order = append(m.order, ev.TaskID)
	}
	if ev.Attempt > row.attempt {
		row.attempt = ev.Attempt
	}

	switch ev.Kind {
	case stream.KindTaskStarted:
		row.status = "running"
	case stream.KindTaskRetrying:
		row.status = "retrying"
		row.notes = ev.Notes
	case stream.KindTaskCompleted:
		row.status = "completed"
	case stream.KindGateEvaluated:
		row.gate = ev.Gate
		row.score = ev.Score
		row.scored = true
		if ev.Pass {
			row.status = "accepted"
		} else {
			row.status = "rejected"
			row.notes = ev.Notes
		}
	}
}

// View renders the watch screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	header := fmt.Sprintf("%s  run %s", m.workflow, m.runID)
	if m.final == "" {
		header = m.spin.View() + " " + header
	}
	b.WriteString(StyleTitle.Render(header))
	b.WriteString("\n\n")

	for _, id := range m.order {
		b.WriteString(m.renderRow(m.tasks[id]))
		b.WriteString("\n")
	}

	if len(m.tail) > 0 {
		b.WriteString("\n")
		b.WriteString(StyleHelp.Render("recent events"))
		b.WriteString("\n")
		for _, ev := range m.tail {
			b.WriteString(renderEvent(ev))
			b.WriteString("\n")
		}
	}

	if m.final != "" {
		b.WriteString("\n")
		b.WriteString(renderFinal(m.final))
		b.WriteString("\n")
	} else {
		b.WriteString("\n")
		b.WriteString(StyleHelp.Render("q: quit"))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) renderRow(row *taskRow) string {
	style := StyleStatusPending
	switch row.status {
	case "running", "retrying":
		style = StyleStatusRunning
	case "completed", "accepted":
		style = StyleStatusComplete
	case "rejected":
		style = StyleStatusFailed
	}

	line := fmt.Sprintf("  %-12s %s", row.id, style.Render(row.status))
	if row.attempt > 1 {
		line += fmt.Sprintf(" (attempt %d)", row.attempt)
	}
	if row.scored {
		line += fmt.Sprintf("  %s: %.2f", row.gate, row.score)
	}
	if len(row.notes) > 0 && row.status != "accepted" {
		line += "\n" + StyleHelp.Render("             "+strings.Join(row.notes, "; "))
	}
	return line
}

func renderEvent(ev stream.Event) string {
	line := fmt.Sprintf("  %4d  %-18s %s", ev.Seq, ev.Kind, ev.TaskID)
	if ev.Kind == stream.KindGateEvaluated {
		verdict := "reject"
		if ev.Pass {
			verdict = "accept"
		}
		line += fmt.Sprintf("  %s %.2f", verdict, ev.Score)
	} else if ev.Message != "" {
		line += "  " + ev.Message
	}
	return StyleHelp.Render(line)
}

func renderFinal(kind stream.Kind) string {
	switch kind {
	case stream.KindWorkflowCompleted:
		return StyleStatusComplete.Render("workflow completed")
	case stream.KindWorkflowFailed:
		return StyleStatusFailed.Render("workflow failed")
	case stream.KindWorkflowAborted:
		return StyleStatusRunning.Render("workflow aborted")
	}
	return string(kind)
}

// Run starts the watch program and blocks until the run finishes or the user
// quits.
func Run(workflow, runID string, sub *stream.Subscription) error {
	p := tea.NewProgram(New(workflow, runID, sub), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
