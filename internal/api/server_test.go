package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/taskgate/internal/failure"
	"github.com/kingrea/taskgate/internal/filestore"
	"github.com/kingrea/taskgate/internal/task"
	"github.com/kingrea/taskgate/internal/taskstate"
	"github.com/kingrea/taskgate/internal/telemetry"
	"github.com/kingrea/taskgate/internal/tool"
	"github.com/kingrea/taskgate/internal/workflow"
	"github.com/kingrea/taskgate/internal/workflow/engine"
)

type fixture struct {
	server *Server
	http   *httptest.Server
	tasks  *task.MemorySource
	feed   *Feed
}

func newFixture(t *testing.T) *fixture {
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
	prom := prometheus.NewRegistry()
	metrics, err := telemetry.New(prom)
	require.NoError(t, err)
	feed := NewFeed()
	tasks := task.NewMemorySource(task.Task{
		ID:          "T-1",
		Title:       "Login",
		Description: "Add OAuth login",
		Status:      task.StatusPlanning,
	})
	handler, err := engine.New(reg, tasks, mgr, engine.WithMetrics(metrics), engine.WithObserver(feed))
	require.NoError(t, err)
	srv := NewServer(Settings{}, handler, WithTasks(tasks), WithFeed(feed), WithGatherer(prom))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{server: srv, http: ts, tasks: tasks, feed: feed}
}

func (f *fixture) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(f.http.URL+path, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	return resp, decode(t, resp)
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(f.http.URL + path)
	require.NoError(t, err)
	return resp, decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestExecuteWalksReviewLoop(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/v1/tasks/T-1/tools/plan", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "requirements", body["state"])
	require.Equal(t, "submit_requirements", body["next_action"])
	require.Equal(t, "worker", body["actor"])

	resp, body = f.post(t, "/v1/tasks/T-1/tools/plan", `{"trigger":"submit_requirements","inputs":{"scope":"web"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "requirements_awaiting_ai_review", body["state"])
	require.Equal(t, "ai_reviewer", body["actor"])

	for _, trigger := range []string{"ai_approve", "human_approve", "submit_design", "ai_approve", "human_approve"} {
		resp, body = f.post(t, "/v1/tasks/T-1/tools/plan", `{"trigger":"`+trigger+`"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, "trigger %s: %v", trigger, body)
	}
	require.Equal(t, true, body["complete"])
	require.Equal(t, "development", body["exit_status"])

	tk, err := f.tasks.Get(context.Background(), "T-1")
	require.NoError(t, err)
	require.Equal(t, task.StatusDevelopment, tk.Status)

	resp, body = f.get(t, "/v1/tasks/T-1/record")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, body["active_tool"])
	outputs := body["completed_outputs"].(map[string]any)
	require.Equal(t, "web", outputs["plan"].(map[string]any)["scope"])

	resp, body = f.get(t, "/v1/tasks/T-1/completions")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := body["events"].([]any)
	require.Len(t, events, 1)
	require.Equal(t, "plan", events[0].(map[string]any)["tool"])
}

func TestFailureKindsMapToStatusCodes(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/v1/tasks/T-404/tools/plan", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, string(failure.KindTaskNotFound), body["kind"])

	resp, body = f.post(t, "/v1/tasks/T-1/tools/deploy", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, string(failure.KindUnknownTool), body["kind"])

	resp, body = f.post(t, "/v1/tasks/T-1/tools/develop", "")
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, string(failure.KindEntryStatusInvalid), body["kind"])

	resp, body = f.post(t, "/v1/tasks/T-1/tools/plan", `{"trigger":"ai_approve"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, string(failure.KindInvalidTrigger), body["kind"])

	resp, body = f.post(t, "/v1/tasks/T-1/tools/plan", `{"trigger":`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid JSON", body["error"])
	require.NotEmpty(t, body["request_id"])
}

func TestToolBusyIsConflict(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.post(t, "/v1/tasks/T-1/tools/plan", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	f.tasks.Put(task.Task{ID: "T-1", Title: "Login", Description: "x", Status: task.StatusTesting})

	resp, body := f.post(t, "/v1/tasks/T-1/tools/finalize", "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, string(failure.KindToolBusy), body["kind"])
}

func TestRestartAndReport(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.post(t, "/v1/tasks/T-1/tools/plan", `{"inputs":{"scope":"web"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.post(t, "/v1/tasks/T-1/tools/plan", `{"trigger":"submit_requirements"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.post(t, "/v1/tasks/T-1/restart", `{"tool":"plan","state":"requirements"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "requirements", body["state"])

	resp, body = f.post(t, "/v1/tasks/T-1/restart", `{"tool":"plan","status":"nonsense"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.get(t, "/v1/tasks/T-1/report")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "plan", body["active"])
}

func TestToolsTasksHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 5, body["tools"])

	resp, body = f.get(t, "/v1/tools")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["tools"], 5)

	resp, body = f.get(t, "/v1/tasks")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["tasks"], 1)

	resp, _ = f.post(t, "/v1/tasks/T-1/tools/plan", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	metrics, err := http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	text, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	require.Contains(t, string(text), `taskgate_handler_calls_total{outcome="ok",tool="plan"} 1`)
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodGet, f.http.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderRequestID, "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "req-42", resp.Header.Get(HeaderRequestID))

	resp, err = http.Get(f.http.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Len(t, resp.Header.Get(HeaderRequestID), 36)
}

func TestServerStartAndShutdown(t *testing.T) {
	f := newFixture(t)
	srv := NewServer(Settings{Addr: "127.0.0.1:0"}, f.server.workflow)
	require.Equal(t, StatusStarting, srv.Status())
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	require.Equal(t, StatusReady, srv.Status())
	require.Error(t, srv.Start(context.Background()))

	resp, err := http.Get(srv.BaseURL() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))
	require.Equal(t, StatusDraining, srv.Status())
	require.Empty(t, srv.Addr())
}

func TestSettingsNormalize(t *testing.T) {
	s := SettingsFromConfig(nil, " ")
	require.Equal(t, DefaultAddr, s.Addr)
	require.Equal(t, DefaultMaxBodyBytes, s.MaxBodyBytes)
	s = SettingsFromConfig(nil, "0.0.0.0:9000")
	require.Equal(t, "0.0.0.0:9000", s.Addr)
	require.True(t, strings.HasPrefix(s.URL(), "http://0.0.0.0"))
}
