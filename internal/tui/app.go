// Package tui renders the task board: one row per task with its status,
// active tool and the next action, plus the selected task's tool report and
// journal. Human reviewers approve or send work back from here.
//
// The model follows bubbletea's Elm architecture: snapshots are built in
// commands and folded into the model by Update.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/taskgate/internal/logbook"
	"github.com/kingrea/taskgate/internal/task"
	"github.com/kingrea/taskgate/internal/taskstate"
	"github.com/kingrea/taskgate/internal/tool"
	"github.com/kingrea/taskgate/internal/workflow"
	"github.com/kingrea/taskgate/internal/workflow/engine"
	"github.com/kingrea/taskgate/internal/workflow/resolver"
)

const (
	boardRefreshInterval = 3 * time.Second
	journalTailLines     = 6
)

// Workflow is the handler surface the board drives. *engine.Handler
// satisfies it.
type Workflow interface {
	Fire(ctx context.Context, taskID, toolName, trigger string, inputs map[string]any) (engine.Result, error)
	Record(ctx context.Context, taskID string) (taskstate.Record, error)
	Report(ctx context.Context, taskID string) (resolver.Report, error)
	Registry() *tool.Registry
}

var _ Workflow = (*engine.Handler)(nil)

// TaskLister enumerates the tasks shown on the board.
type TaskLister interface {
	List(ctx context.Context) ([]task.Task, error)
}

// AppOption customizes App construction.
type AppOption func(*App)

// WithJournals shows the selected task's activity log.
func WithJournals(open func(taskID string) *logbook.Logbook) AppOption {
	return func(a *App) {
		a.journals = open
	}
}

// WithRefreshInterval overrides how often the board reloads.
func WithRefreshInterval(d time.Duration) AppOption {
	return func(a *App) {
		if d > 0 {
			a.refreshEvery = d
		}
	}
}

type boardRow struct {
	Task   task.Task
	Active string
	State  string
	Next   string
	Report resolver.Report
}

type boardSnapshotMsg struct {
	rows []boardRow
	err  error
	// periodic snapshots reschedule the next tick.
	periodic bool
}

type boardTickMsg struct{}

type actionResultMsg struct {
	taskID  string
	trigger string
	result  engine.Result
	err     error
}

// App is the board model.
type App struct {
	workflow     Workflow
	tasks        TaskLister
	journals     func(taskID string) *logbook.Logbook
	refreshEvery time.Duration

	table     table.Model
	rows      []boardRow
	statusMsg string
	err       error
	loaded    bool

	width  int
	height int
}

// NewApp builds a board over wf and tasks.
func NewApp(wf Workflow, tasks TaskLister, opts ...AppOption) *App {
	t := table.New(
		table.WithColumns(columnsFor(100)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#5B8DEF"))
	t.SetStyles(styles)
	a := &App{
		workflow:     wf,
		tasks:        tasks,
		refreshEvery: boardRefreshInterval,
		table:        t,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Init loads the first snapshot.
func (a *App) Init() tea.Cmd {
	return a.fetchSnapshot(true)
}

// Update folds messages into the model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.table.SetColumns(columnsFor(msg.Width))
		a.table.SetHeight(max(5, msg.Height/2-4))
		return a, nil

	case boardSnapshotMsg:
		a.applySnapshot(msg)
		if msg.periodic {
			return a, a.scheduleRefresh()
		}
		return a, nil

	case boardTickMsg:
		return a, a.fetchSnapshot(true)

	case actionResultMsg:
		if msg.err != nil {
			a.statusMsg = fmt.Sprintf("%s on %s failed: %v", msg.trigger, msg.taskID, msg.err)
		} else {
			a.statusMsg = fmt.Sprintf("%s: %s", msg.taskID, msg.result.Message)
		}
		return a, a.fetchSnapshot(false)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		case "r":
			a.statusMsg = "Refreshing board..."
			return a, a.fetchSnapshot(false)
		case "a":
			return a, a.fireOnSelected(workflow.TriggerHumanApprove)
		case "v":
			return a, a.fireOnSelected(workflow.TriggerRequestRevision)
		case "d":
			return a, a.fireOnSelected(workflow.TriggerDispatch)
		}
	}
	var cmd tea.Cmd
	a.table, cmd = a.table.Update(msg)
	return a, cmd
}

// View renders the board.
func (a *App) View() string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("⬡ TASKGATE")
	var body string
	switch {
	case a.err != nil:
		body = labelStyleBlocked.Render(fmt.Sprintf("Board error: %v", a.err))
	case !a.loaded:
		body = "Loading tasks..."
	case len(a.rows) == 0:
		body = "No tasks yet. Create one with `taskgate task create`."
	default:
		body = a.table.View()
	}
	sections := []string{header, body}
	if row, ok := a.selected(); ok {
		sections = append(sections, "", renderReport(row))
		if panel := a.renderJournal(row.Task.ID); panel != "" {
			sections = append(sections, panel)
		}
	}
	if a.statusMsg != "" {
		sections = append(sections, "", detailTextStyle.Render(a.statusMsg))
	}
	sections = append(sections, "", "a=approve  v=request revision  d=dispatch  r=refresh  q=quit")
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (a *App) fetchSnapshot(periodic bool) tea.Cmd {
	return func() tea.Msg {
		msg := a.buildSnapshot(context.Background())
		msg.periodic = periodic
		return msg
	}
}

func (a *App) scheduleRefresh() tea.Cmd {
	return tea.Tick(a.refreshEvery, func(time.Time) tea.Msg {
		return boardTickMsg{}
	})
}

func (a *App) buildSnapshot(ctx context.Context) boardSnapshotMsg {
	tasks, err := a.tasks.List(ctx)
	if err != nil {
		return boardSnapshotMsg{err: err}
	}
	rows := make([]boardRow, 0, len(tasks))
	for _, tk := range tasks {
		row := boardRow{Task: tk}
		report, err := a.workflow.Report(ctx, tk.ID)
		if err != nil {
			return boardSnapshotMsg{err: fmt.Errorf("report %s: %w", tk.ID, err)}
		}
		row.Report = report
		if report.Active != "" {
			row.Active = report.Active
			if node, ok := report.Node(report.Active); ok {
				row.State = node.Current
			}
			row.Next = a.nextAction(row.Active, row.State)
		} else if ready := report.Ready(); len(ready) > 0 {
			row.Next = "start " + strings.Join(ready, ", ")
		}
		rows = append(rows, row)
	}
	return boardSnapshotMsg{rows: rows}
}

// nextAction names the trigger expected from the active instance's state.
func (a *App) nextAction(toolName, state string) string {
	work, stage := workflow.ReviewStage(state)
	switch stage {
	case workflow.StageAIReview:
		return workflow.TriggerAIApprove
	case workflow.StageHumanReview:
		return workflow.TriggerHumanApprove
	}
	if def, err := a.workflow.Registry().Get(toolName); err == nil && def.DispatchState != "" && def.DispatchState == state {
		if def.AutoDispatch {
			return "execute"
		}
		return workflow.TriggerDispatch
	}
	return workflow.SubmitTrigger(work)
}

func (a *App) applySnapshot(msg boardSnapshotMsg) {
	a.loaded = true
	if msg.err != nil {
		a.err = msg.err
		return
	}
	a.err = nil
	a.rows = msg.rows
	rows := make([]table.Row, 0, len(msg.rows))
	for _, row := range msg.rows {
		rows = append(rows, table.Row{
			row.Task.ID,
			row.Task.Title,
			friendlyLabel(string(row.Task.Status)),
			row.Active,
			row.State,
			row.Next,
		})
	}
	a.table.SetRows(rows)
	if cursor := a.table.Cursor(); cursor >= len(rows) && len(rows) > 0 {
		a.table.SetCursor(len(rows) - 1)
	}
}

func (a *App) selected() (boardRow, bool) {
	if len(a.rows) == 0 {
		return boardRow{}, false
	}
	idx := a.table.Cursor()
	if idx < 0 || idx >= len(a.rows) {
		return boardRow{}, false
	}
	return a.rows[idx], true
}

// fireOnSelected fires trigger on the selected task's active tool. The
// handler rejects triggers the current state does not accept.
func (a *App) fireOnSelected(trigger string) tea.Cmd {
	row, ok := a.selected()
	if !ok {
		a.statusMsg = "No task selected"
		return nil
	}
	if row.Active == "" {
		a.statusMsg = fmt.Sprintf("%s has no active tool", row.Task.ID)
		return nil
	}
	taskID, toolName := row.Task.ID, row.Active
	return func() tea.Msg {
		res, err := a.workflow.Fire(context.Background(), taskID, toolName, trigger, nil)
		return actionResultMsg{taskID: taskID, trigger: trigger, result: res, err: err}
	}
}

func (a *App) renderJournal(taskID string) string {
	if a.journals == nil {
		return ""
	}
	lines, total := a.journals(taskID).Tail(journalTailLines)
	if len(lines) == 0 {
		return ""
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s (%d entries)", taskID, total))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

func columnsFor(width int) []table.Column {
	if width <= 0 {
		width = 100
	}
	title := max(12, width-70)
	return []table.Column{
		{Title: "Task", Width: 10},
		{Title: "Title", Width: title},
		{Title: "Status", Width: 14},
		{Title: "Tool", Width: 10},
		{Title: "State", Width: 26},
		{Title: "Next", Width: 20},
	}
}
