package tui

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/events"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/server"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

// filters is the cycle of status filters; the empty status shows all.
var filters = []models.TaskStatus{
	"",
	models.TaskStatusTodo,
	models.TaskStatusRunning,
	models.TaskStatusReview,
	models.TaskStatusDone,
	models.TaskStatusCancelled,
}

// Model is the root Bubbletea model for the board.
type Model struct {
	client  *server.Client
	program *programRef

	tasks    []*models.Task
	selected int
	filter   int
	runs     map[string][]*models.TaskRunLog

	width     int
	height    int
	showHelp  bool
	confirm   string // verb waiting for y/n
	connected bool
	err       error
	notice    string

	spinner spinner.Model
	detail  viewport.Model
	help    help.Model

	streamCtx    context.Context
	streamCancel context.CancelFunc
}

// NewModel creates the initial board model.
func NewModel(client *server.Client, program *programRef) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		client:       client,
		program:      program,
		runs:         make(map[string][]*models.TaskRunLog),
		spinner:      spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(statusStyle(models.TaskStatusRunning))),
		detail:       viewport.New(0, 0),
		help:         help.New(),
		streamCtx:    ctx,
		streamCancel: cancel,
	}
}

// Init returns the initial commands.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		loadTasksCmd(m.client, m.statusFilter()),
		subscribeCmd(m.streamCtx, m.client, m.program),
		m.spinner.Tick,
	)
}

// Update processes messages and returns an updated model and commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case TasksLoadedMsg:
		m.connected = true
		m.setTasks(msg.Tasks)
		return m, m.ensureRuns()

	case RunsLoadedMsg:
		m.runs[msg.TaskID] = msg.Runs
		m.refreshDetail()
		return m, nil

	case EventMsg:
		return m.handleEvent(msg.Event)

	case StreamEndedMsg:
		m.connected = false
		if msg.Err != nil {
			m.err = fmt.Errorf("event stream closed: %w", msg.Err)
		}
		return m, resubscribeAfter(2 * time.Second)

	case ResubscribeMsg:
		return m, tea.Batch(
			subscribeCmd(m.streamCtx, m.client, m.program),
			loadTasksCmd(m.client, m.statusFilter()),
		)

	case ActionDoneMsg:
		if msg.Err != nil {
			m.err = fmt.Errorf("%s: %w", msg.Verb, msg.Err)
		} else {
			m.err = nil
			m.notice = fmt.Sprintf("%s %s", msg.Verb, msg.TaskID)
		}
		delete(m.runs, msg.TaskID)
		return m, tea.Batch(loadTasksCmd(m.client, m.statusFilter()), clearNoticeAfter(3*time.Second))

	case ErrorMsg:
		m.err = msg.Err
		return m, clearNoticeAfter(5 * time.Second)

	case ClearNoticeMsg:
		m.notice = ""
		m.err = nil
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.detail, cmd = m.detail.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirm != "" {
		verb := m.confirm
		switch {
		case key.Matches(msg, keys.Yes):
			m.confirm = ""
			if t := m.current(); t != nil {
				return m, actionCmd(m.client, verb, t.ID)
			}
		case key.Matches(msg, keys.No):
			m.confirm = ""
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, keys.Quit):
		m.streamCancel()
		return m, tea.Quit
	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp
		m.refreshDetail()
		return m, nil
	case key.Matches(msg, keys.Up):
		if m.selected > 0 {
			m.selected--
		}
		m.refreshDetail()
		return m, m.ensureRuns()
	case key.Matches(msg, keys.Down):
		if m.selected < len(m.tasks)-1 {
			m.selected++
		}
		m.refreshDetail()
		return m, m.ensureRuns()
	case key.Matches(msg, keys.Filter):
		m.filter = (m.filter + 1) % len(filters)
		m.selected = 0
		return m, loadTasksCmd(m.client, m.statusFilter())
	case key.Matches(msg, keys.Refresh):
		m.runs = make(map[string][]*models.TaskRunLog)
		return m, loadTasksCmd(m.client, m.statusFilter())
	}

	verb := ""
	switch {
	case key.Matches(msg, keys.Run):
		verb = verbRun
	case key.Matches(msg, keys.Enqueue):
		verb = verbEnqueue
	case key.Matches(msg, keys.Cancel):
		verb = verbCancel
	case key.Matches(msg, keys.Approve):
		verb = verbApprove
	case key.Matches(msg, keys.Reject):
		verb = verbReject
	case key.Matches(msg, keys.Rework):
		verb = verbRework
	case key.Matches(msg, keys.Archive):
		verb = verbArchive
	case key.Matches(msg, keys.Delete):
		verb = verbDelete
	default:
		var cmd tea.Cmd
		m.detail, cmd = m.detail.Update(msg)
		return m, cmd
	}

	t := m.current()
	if t == nil {
		return m, nil
	}
	if !allowed(t, verb) {
		m.err = fmt.Errorf("cannot %s a %s task", verb, t.Status)
		return m, clearNoticeAfter(3 * time.Second)
	}
	if needsConfirm(verb) {
		m.confirm = verb
		return m, nil
	}
	return m, actionCmd(m.client, verb, t.ID)
}

func (m Model) handleEvent(ev events.Event) (tea.Model, tea.Cmd) {
	m.connected = true
	switch ev.Kind {
	case events.KindStatusChange:
		if ev.Status.IsTerminal() || ev.Status == models.TaskStatusReview {
			delete(m.runs, ev.TaskID)
		}
		return m, loadTasksCmd(m.client, m.statusFilter())
	case events.KindSummaryUpdate:
		for _, t := range m.tasks {
			if t.ID != ev.TaskID || ev.Summary == nil {
				continue
			}
			if t.ExecutionSummary == nil {
				t.ExecutionSummary = &models.ExecutionSummary{}
			}
			ev.Summary.Apply(t.ExecutionSummary)
		}
		m.refreshDetail()
	}
	return m, nil
}

// allowed reports whether verb makes sense for the task's current state.
func allowed(t *models.Task, verb string) bool {
	switch verb {
	case verbRun:
		return t.Status != models.TaskStatusRunning && t.Status != models.TaskStatusReview
	case verbEnqueue:
		return t.Status == models.TaskStatusTodo && t.Enabled
	case verbCancel:
		return !t.Status.IsTerminal()
	case verbApprove, verbReject:
		return t.Status == models.TaskStatusReview
	case verbRework:
		return t.Status == models.TaskStatusReview && t.ReviewType == models.ReviewTypeCompletion
	case verbArchive:
		return t.Status == models.TaskStatusDone
	case verbDelete:
		return true
	}
	return false
}

func needsConfirm(verb string) bool {
	return verb == verbDelete || verb == verbCancel
}

func (m *Model) statusFilter() models.TaskStatus {
	return filters[m.filter]
}

func (m *Model) current() *models.Task {
	if m.selected < 0 || m.selected >= len(m.tasks) {
		return nil
	}
	return m.tasks[m.selected]
}

// setTasks replaces the list, keeping the selection on the same task.
func (m *Model) setTasks(tasks []*models.Task) {
	var selectedID string
	if t := m.current(); t != nil {
		selectedID = t.ID
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		if oi, oj := statusOrder(tasks[i].Status), statusOrder(tasks[j].Status); oi != oj {
			return oi < oj
		}
		if ri, rj := tasks[i].Priority.Rank(), tasks[j].Priority.Rank(); ri != rj {
			return ri < rj
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	m.tasks = tasks

	m.selected = 0
	for i, t := range tasks {
		if t.ID == selectedID {
			m.selected = i
			break
		}
	}
	m.refreshDetail()
}

// statusOrder puts tasks needing attention first.
func statusOrder(s models.TaskStatus) int {
	switch s {
	case models.TaskStatusReview:
		return 0
	case models.TaskStatusRunning:
		return 1
	case models.TaskStatusTodo:
		return 2
	case models.TaskStatusDone:
		return 3
	default:
		return 4
	}
}

func (m *Model) ensureRuns() tea.Cmd {
	t := m.current()
	if t == nil {
		return nil
	}
	if _, ok := m.runs[t.ID]; ok {
		return nil
	}
	return loadRunsCmd(m.client, t.ID)
}

func (m *Model) layout() {
	w, h := m.panelSizes()
	m.detail.Width = w
	m.detail.Height = h
	m.help.Width = m.width
	m.refreshDetail()
}

// panelSizes returns the inner size of the detail panel.
func (m *Model) panelSizes() (int, int) {
	w := m.width - m.listWidth() - 4
	h := m.height - 4 // header, status bar and borders
	return max(w, 0), max(h, 0)
}

func (m *Model) listWidth() int {
	return max(m.width*2/5, 30)
}

func (m *Model) refreshDetail() {
	if m.showHelp {
		m.detail.SetContent(m.help.FullHelpView(keys.FullHelp()))
		return
	}
	t := m.current()
	if t == nil {
		m.detail.SetContent(labelStyle.Render("No task selected."))
		return
	}
	m.detail.SetContent(renderDetail(t, m.runs[t.ID], m.detail.Width))
}

// View renders the board.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	listW := m.listWidth()
	_, bodyH := m.panelSizes()

	header := m.renderHeader()
	list := panelStyle.Width(listW).Height(bodyH).Render(renderTaskList(m.tasks, m.selected, listW, bodyH, m.spinner.View()))
	detail := focusedPanelStyle.Width(m.detail.Width).Height(bodyH).Render(m.detail.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, list, detail)

	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.renderStatusBar())
}

func (m Model) renderHeader() string {
	counts := make(map[models.TaskStatus]int)
	for _, t := range m.tasks {
		counts[t.Status]++
	}
	filter := "all"
	if f := m.statusFilter(); f != "" {
		filter = string(f)
	}
	conn := noticeStyle.Render("connected")
	if !m.connected {
		conn = confirmStyle.Render("disconnected")
	}
	return fmt.Sprintf(" %s  %d tasks · %d running · %d in review  %s  %s",
		headerStyle.Render("OpenLoaf"),
		len(m.tasks), counts[models.TaskStatusRunning], counts[models.TaskStatusReview],
		labelStyle.Render("filter: "+filter), conn)
}

func (m Model) renderStatusBar() string {
	var line string
	switch {
	case m.confirm != "":
		name := ""
		if t := m.current(); t != nil {
			name = t.Name
		}
		line = confirmStyle.Render(fmt.Sprintf("%s %q? (y/n)", m.confirm, name))
	case m.err != nil:
		line = errorStyle.Render(m.err.Error())
	case m.notice != "":
		line = noticeStyle.Render(m.notice)
	default:
		line = m.help.ShortHelpView(keys.ShortHelp())
	}
	return statusBarStyle.Width(m.width).Render(" " + line)
}
