// Package tui renders the live run dashboard for drover run --watch: a
// story table refreshed from the state document, a scrolling event feed fed
// by the agents' stream events and the scheduler's progress lines, and a
// status bar with the running tally. It follows Bubble Tea's Elm
// architecture; the scheduler itself runs outside the program and is only
// observed through channels.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/droverhq/drover/internal/agent"
	"github.com/droverhq/drover/internal/state"
	"github.com/droverhq/drover/internal/workflow"
)

// maxEvents bounds the event feed ring buffer.
const maxEvents = 200

// minWidth and minHeight are the smallest terminal the dashboard renders in.
const (
	minWidth  = 60
	minHeight = 16
)

// Config wires the dashboard to a running scheduler.
type Config struct {
	// Version is shown in the title bar.
	Version string
	// Project is the configured project name, if any.
	Project string

	// Store is polled for story table snapshots.
	Store *state.Store

	// Events receives decoded agent stream events.
	Events <-chan agent.StreamEvent
	// Progress receives scheduler progress lines.
	Progress <-chan string
	// Done receives the scheduler's terminal result.
	Done <-chan DoneResult

	// Ctx cancels the bridge commands; Cancel stops the scheduler when the
	// user quits mid-run.
	Ctx    context.Context
	Cancel context.CancelFunc
}

type eventCategory int

const (
	eventInfo eventCategory = iota
	eventSuccess
	eventWarning
	eventError
)

type eventEntry struct {
	at       time.Time
	category eventCategory
	text     string
}

// Model is the top-level Bubble Tea model for the run dashboard.
type Model struct {
	cfg   Config
	theme Theme

	table  table.Model
	spin   spinner.Model
	events []eventEntry

	width    int
	height   int
	ready    bool
	done     bool
	quitting bool
	result   DoneMsg
}

// NewModel constructs the dashboard model.
func NewModel(cfg Config) Model {
	theme := DefaultTheme()

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(ColorPrimary)

	tbl := table.New(
		table.WithColumns(storyColumns(0)),
		table.WithFocused(true),
	)
	st := table.DefaultStyles()
	st.Header = st.Header.Bold(true).Foreground(ColorPrimary).BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorBorder).BorderBottom(true)
	st.Selected = st.Selected.Foreground(lipgloss.Color("#FFFFFF")).Background(ColorPrimary)
	tbl.SetStyles(st)

	return Model{cfg: cfg, theme: theme, table: tbl, spin: sp}
}

// Run launches the dashboard and blocks until the user quits.
func Run(cfg Config) error {
	_, err := tea.NewProgram(NewModel(cfg), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spin.Tick,
		loadState(m.cfg.Store),
		scheduleTick(),
		waitForStream(m.cfg.Ctx, m.cfg.Events),
		waitForProgress(m.cfg.Ctx, m.cfg.Progress),
		waitForDone(m.cfg.Ctx, m.cfg.Done),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.resize()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if !m.done && m.cfg.Cancel != nil {
				m.cfg.Cancel()
			}
			return m, tea.Quit
		}

	case tickMsg:
		if m.done {
			return m, nil
		}
		return m, tea.Batch(loadState(m.cfg.Store), scheduleTick())

	case StateMsg:
		m.table.SetRows(m.storyRows(msg.State))
		return m, nil

	case StreamMsg:
		if entry, ok := formatStreamEvent(msg.Event); ok {
			m.addEvent(entry)
		}
		return m, waitForStream(m.cfg.Ctx, m.cfg.Events)

	case ProgressMsg:
		m.addEvent(eventEntry{at: time.Now(), category: categorize(msg.Line), text: msg.Line})
		return m, waitForProgress(m.cfg.Ctx, m.cfg.Progress)

	case DoneMsg:
		m.done = true
		m.result = msg
		return m, loadState(m.cfg.Store)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Starting drover dashboard..."
	}
	if m.width < minWidth || m.height < minHeight {
		return fmt.Sprintf("Terminal too small (%dx%d); need at least %dx%d.",
			m.width, m.height, minWidth, minHeight)
	}

	title := m.titleBar()
	stories := m.theme.Panel.Width(m.width - 2).Render(
		m.theme.PanelHeader.Render("Stories") + "\n" + m.table.View())
	feed := m.eventPanel()
	status := m.statusBar()

	return lipgloss.JoinVertical(lipgloss.Left, title, stories, feed, status)
}

func (m *Model) resize() {
	m.table.SetColumns(storyColumns(m.width - 6))
	tableHeight := (m.height - 8) / 2
	if tableHeight < 3 {
		tableHeight = 3
	}
	m.table.SetHeight(tableHeight)
}

func (m *Model) addEvent(entry eventEntry) {
	m.events = append(m.events, entry)
	if len(m.events) > maxEvents {
		m.events = m.events[len(m.events)-maxEvents:]
	}
}

func (m Model) titleBar() string {
	title := m.theme.TitleBar.Render("drover")
	version := m.theme.TitleVersion.Render("v" + m.cfg.Version)
	if m.cfg.Project == "" {
		return title + version
	}
	return title + version + m.theme.TitleVersion.Render(m.cfg.Project)
}

// eventPanel renders the newest events that fit the remaining height.
func (m Model) eventPanel() string {
	rows := m.height - m.table.Height() - 9
	if rows < 3 {
		rows = 3
	}
	start := len(m.events) - rows
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	b.WriteString(m.theme.PanelHeader.Render("Events"))
	for _, e := range m.events[start:] {
		b.WriteString("\n")
		b.WriteString(m.theme.EventTimestamp.Render(e.at.Format("15:04:05")))
		b.WriteString(" ")
		b.WriteString(m.eventStyle(e.category).Render(truncate(e.text, m.width-14)))
	}
	return m.theme.Panel.Width(m.width - 2).Render(b.String())
}

func (m Model) statusBar() string {
	help := m.theme.HelpKey.Render("q") + m.theme.HelpText.Render(" quit")
	if m.done {
		text := "run finished"
		if s := m.result.Summary; s != nil {
			text = fmt.Sprintf("run finished: %d completed, %d failed, %d blocked",
				s.Completed, s.Failed, s.Blocked)
		}
		if m.result.Err != nil {
			text = "run failed: " + m.result.Err.Error()
		}
		return m.theme.StatusBar.Render(" " + text + "  ") + help
	}
	return " " + m.spin.View() + m.theme.StatusBar.Render(" running  ") + help
}

func (m Model) eventStyle(c eventCategory) lipgloss.Style {
	switch c {
	case eventSuccess:
		return m.theme.EventSuccess
	case eventWarning:
		return m.theme.EventWarning
	case eventError:
		return m.theme.EventError
	default:
		return m.theme.EventInfo
	}
}

func storyColumns(width int) []table.Column {
	idWidth := 12
	statusWidth := 12
	progressWidth := 10
	stepWidth := width - idWidth - statusWidth - progressWidth
	if stepWidth < 16 {
		stepWidth = 16
	}
	return []table.Column{
		{Title: "Story", Width: idWidth},
		{Title: "Status", Width: statusWidth},
		{Title: "Steps", Width: progressWidth},
		{Title: "Current", Width: stepWidth},
	}
}

// storyRows builds one table row per story, sorted by ID for a stable
// display.
func (m Model) storyRows(st *workflow.State) []table.Row {
	ids := make([]string, 0, len(st.Stories))
	for id := range st.Stories {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		story := st.Stories[id]
		completed := 0
		current := ""
		for _, step := range story.Steps {
			switch step.Status {
			case workflow.StepCompleted, workflow.StepSkipped:
				completed++
			case workflow.StepInProgress:
				current = string(step.Kind)
			}
		}
		if current == "" {
			if next := story.NextPendingStep(); next != nil && story.Status == workflow.StoryInProgress {
				current = string(next.Kind)
			}
		}
		rows = append(rows, table.Row{
			id,
			m.storyStatus(story).Render(string(story.Status)),
			fmt.Sprintf("%d/%d", completed, len(story.Steps)),
			current,
		})
	}
	return rows
}

func (m Model) storyStatus(story *workflow.Story) lipgloss.Style {
	switch story.Status {
	case workflow.StoryCompleted:
		return m.theme.StoryCompleted
	case workflow.StoryFailed:
		return m.theme.StoryFailed
	case workflow.StoryBlocked:
		return m.theme.StoryBlocked
	case workflow.StoryInProgress:
		return m.theme.StoryActive
	default:
		return m.theme.StoryWaiting
	}
}

// formatStreamEvent turns an agent stream event into a feed entry. Events
// with nothing displayable (tool results, empty assistant turns) are
// dropped.
func formatStreamEvent(ev agent.StreamEvent) (eventEntry, bool) {
	entry := eventEntry{at: time.Now(), category: eventInfo}

	switch ev.Type {
	case agent.StreamEventSystem:
		entry.text = "agent session started"
		if ev.Model != "" {
			entry.text += " (" + ev.Model + ")"
		}
		return entry, true

	case agent.StreamEventAssistant:
		if tools := ev.ToolUseBlocks(); len(tools) > 0 {
			names := make([]string, len(tools))
			for i, t := range tools {
				names[i] = t.Name
			}
			entry.text = "tool: " + strings.Join(names, ", ")
			return entry, true
		}
		if text := strings.TrimSpace(ev.TextContent()); text != "" {
			entry.text = firstLine(text)
			return entry, true
		}
		return entry, false

	case agent.StreamEventResult:
		entry.category = eventSuccess
		if ev.IsError {
			entry.category = eventError
		}
		entry.text = fmt.Sprintf("agent finished: %d turns, $%.4f", ev.NumTurns, ev.TotalCostUSD)
		return entry, true
	}
	return entry, false
}

// categorize picks a feed color for a scheduler progress line.
func categorize(line string) eventCategory {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "failed") || strings.Contains(lower, "conflict"):
		return eventError
	case strings.Contains(lower, "merged") || strings.Contains(lower, "finished"):
		return eventSuccess
	case strings.Contains(lower, "reconciled") || strings.Contains(lower, "unblocked"):
		return eventWarning
	default:
		return eventInfo
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, max int) string {
	if max < 4 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
