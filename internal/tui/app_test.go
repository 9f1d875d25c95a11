package tui

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/taskgate/internal/filestore"
	"github.com/kingrea/taskgate/internal/logbook"
	"github.com/kingrea/taskgate/internal/task"
	"github.com/kingrea/taskgate/internal/taskstate"
	"github.com/kingrea/taskgate/internal/tool"
	"github.com/kingrea/taskgate/internal/workflow"
	"github.com/kingrea/taskgate/internal/workflow/engine"
)

func newTestBoard(t *testing.T) (*App, *engine.Handler, *task.MemorySource) {
	t.Helper()
	defs, err := tool.BuiltinCatalogue()
	require.NoError(t, err)
	reg := tool.NewRegistry()
	require.NoError(t, tool.RegisterAll(reg, defs))
	layout := workflow.NewLayout(filepath.Join(t.TempDir(), ".taskgate"))
	mgr, err := taskstate.NewManager(layout, taskstate.WithStoreOptions(
		filestore.WithTimeout(200*time.Millisecond),
		filestore.WithRetryDelay(5*time.Millisecond),
	))
	require.NoError(t, err)
	tasks := task.NewMemorySource(
		task.Task{ID: "T-1", Title: "Login", Description: "Add OAuth", Status: task.StatusPlanning},
		task.Task{ID: "T-2", Title: "Billing", Status: task.StatusDevelopment},
	)
	journals := func(id string) *logbook.Logbook { return logbook.Shared(layout.ActivityPath(id)) }
	handler, err := engine.New(reg, tasks, mgr, engine.WithJournals(journals))
	require.NoError(t, err)
	return NewApp(handler, tasks, WithJournals(journals)), handler, tasks
}

// drain runs cmd and feeds its message back through Update.
func drain(t *testing.T, app *App, cmd tea.Cmd) *App {
	t.Helper()
	for cmd != nil {
		msg := cmd()
		if _, ok := msg.(boardTickMsg); ok {
			return app
		}
		model, next := app.Update(msg)
		app = model.(*App)
		cmd = next
		if _, ok := msg.(boardSnapshotMsg); ok {
			return app
		}
	}
	return app
}

func key(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestBoardListsTasksWithNextAction(t *testing.T) {
	app, handler, _ := newTestBoard(t)
	_, err := handler.Execute(context.Background(), "T-1", "plan", nil)
	require.NoError(t, err)

	app = drain(t, app, app.Init())
	require.Len(t, app.rows, 2)
	require.Equal(t, "plan", app.rows[0].Active)
	require.Equal(t, "requirements", app.rows[0].State)
	require.Equal(t, "submit_requirements", app.rows[0].Next)
	require.Empty(t, app.rows[1].Next)

	view := app.View()
	require.Contains(t, view, "T-1")
	require.Contains(t, view, "Billing")
	require.Contains(t, view, "execute plan")
}

func TestBoardApprovesHumanReview(t *testing.T) {
	app, handler, tasks := newTestBoard(t)
	ctx := context.Background()
	for _, trigger := range []string{"", workflow.SubmitTrigger("requirements"), workflow.TriggerAIApprove} {
		_, err := handler.Fire(ctx, "T-1", "plan", trigger, nil)
		require.NoError(t, err)
	}
	app = drain(t, app, app.fetchSnapshot(false))
	require.Equal(t, workflow.TriggerHumanApprove, app.rows[0].Next)

	model, cmd := app.Update(key('a'))
	app = drain(t, model.(*App), cmd)
	require.Equal(t, "design", app.rows[0].State)
	require.Contains(t, app.statusMsg, "T-1")

	tk, err := tasks.Get(ctx, "T-1")
	require.NoError(t, err)
	require.Equal(t, task.StatusPlanning, tk.Status)
}

func TestBoardReportsRejectedAction(t *testing.T) {
	app, handler, _ := newTestBoard(t)
	_, err := handler.Execute(context.Background(), "T-1", "plan", nil)
	require.NoError(t, err)
	app = drain(t, app, app.fetchSnapshot(false))

	model, cmd := app.Update(key('a'))
	app = drain(t, model.(*App), cmd)
	require.Contains(t, app.statusMsg, "human_approve on T-1 failed")

	model, cmd = app.Update(tea.KeyMsg{Type: tea.KeyDown})
	app = model.(*App)
	_ = cmd
	model, cmd = app.Update(key('v'))
	require.Nil(t, cmd)
	require.Contains(t, model.(*App).statusMsg, "T-2 has no active tool")
}

type failingLister struct{}

func (failingLister) List(context.Context) ([]task.Task, error) {
	return nil, errors.New("disk gone")
}

func TestBoardShowsListErrors(t *testing.T) {
	_, handler, _ := newTestBoard(t)
	app := NewApp(handler, failingLister{})
	app = drain(t, app, app.fetchSnapshot(false))
	require.True(t, strings.Contains(app.View(), "disk gone"))

	model, cmd := app.Update(key('q'))
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
	require.Same(t, app, model)
}

func TestFriendlyLabel(t *testing.T) {
	require.Equal(t, "Awaiting Human Review", friendlyLabel("awaiting_human_review"))
	require.Equal(t, "", friendlyLabel("  "))
}

func TestNextActionAtDispatchState(t *testing.T) {
	app, _, _ := newTestBoard(t)
	require.Equal(t, "execute", app.nextAction("develop", "queued"))
	require.Equal(t, "submit_implementation", app.nextAction("develop", "implementation"))
}
