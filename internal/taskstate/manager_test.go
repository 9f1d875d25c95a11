package taskstate

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/taskgate/internal/failure"
	"github.com/kingrea/taskgate/internal/filestore"
	"github.com/kingrea/taskgate/internal/task"
	"github.com/kingrea/taskgate/internal/workflow"
)

type fakeInstance struct {
	tool    string
	state   string
	context map[string]any
}

func (f fakeInstance) ToolName() string              { return f.tool }
func (f fakeInstance) CurrentState() string          { return f.state }
func (f fakeInstance) ContextValues() map[string]any { return f.context }

type reviewNote struct {
	Author string   `json:"author"`
	Lines  []int    `json:"lines"`
	Tags   []string `json:"tags,omitempty"`
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *workflow.Layout) {
	t.Helper()
	layout := workflow.NewLayout(filepath.Join(t.TempDir(), ".taskgate"))
	clock := fixedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	mgr, err := NewManager(layout, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return mgr, layout
}

func fixedClock(start time.Time) func() time.Time {
	var ticks int64
	return func() time.Time {
		n := atomic.AddInt64(&ticks, 1)
		return start.Add(time.Duration(n) * time.Second)
	}
}

func TestLoadOrCreateReturnsDefaultWithoutWriting(t *testing.T) {
	mgr, layout := newTestManager(t)
	rec, err := mgr.LoadOrCreate(context.Background(), "T-1")
	require.NoError(t, err)
	require.Equal(t, "T-1", rec.TaskID)
	require.Nil(t, rec.Active)
	require.Empty(t, rec.CompletedOutputs)
	require.False(t, layout.RecordExists("T-1"))
}

func TestMutationsPersist(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	require.NoError(t, mgr.UpdateStatus(ctx, "T-1", task.StatusPlanning))
	require.NoError(t, mgr.UpdateActiveToolState(ctx, "T-1", fakeInstance{tool: "plan", state: "outline", context: map[string]any{"goal": "ship"}}))
	require.NoError(t, mgr.AddCompletedOutput(ctx, "T-1", "intake", map[string]any{"summary": "ok"}))

	rec, err := mgr.LoadOrCreate(ctx, "T-1")
	require.NoError(t, err)
	require.Equal(t, task.StatusPlanning, rec.Status)
	require.NotNil(t, rec.Active)
	require.Equal(t, "plan", rec.Active.Tool)
	require.Equal(t, "outline", rec.Active.State)
	require.Equal(t, "ship", rec.Active.Context["goal"])
	require.True(t, rec.HasOutput("intake"))
	require.False(t, rec.CreatedAt.IsZero())
	require.True(t, rec.UpdatedAt.After(rec.CreatedAt))

	require.NoError(t, mgr.ClearActiveToolState(ctx, "T-1"))
	rec, err = mgr.LoadOrCreate(ctx, "T-1")
	require.NoError(t, err)
	require.Nil(t, rec.Active)
}

func TestContextRoundTripFlattensStructuredPayloads(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)
	original := map[string]any{
		"title":    "importer",
		"attempts": float64(2),
		"approved": true,
		"notes":    []any{"a", "b"},
		"meta":     map[string]any{"owner": "ops"},
		"review":   reviewNote{Author: "ai", Lines: []int{3, 9}},
	}
	require.NoError(t, mgr.UpdateActiveToolState(ctx, "T-1", fakeInstance{tool: "review", state: "code_review", context: original}))

	rec, err := mgr.LoadOrCreate(ctx, "T-1")
	require.NoError(t, err)
	want, err := Flatten(original)
	require.NoError(t, err)
	require.Equal(t, want, rec.Active.Context)
	require.Equal(t, map[string]any{"author": "ai", "lines": []any{float64(3), float64(9)}}, rec.Active.Context["review"])
}

func TestScopedUpdateSkipsWriteWhenUnchanged(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.UpdateStatus(ctx, "T-1", task.StatusReview))
	before, err := mgr.Raw(ctx, "T-1")
	require.NoError(t, err)

	require.NoError(t, mgr.WithScopedUpdate(ctx, "T-1", func(rec *Record) error {
		rec.Status = task.StatusReview
		return nil
	}))
	require.NoError(t, mgr.UpdateStatus(ctx, "T-1", task.StatusReview))

	after, err := mgr.Raw(ctx, "T-1")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestScopedUpdateErrorAbortsWrite(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.UpdateStatus(ctx, "T-1", task.StatusReview))
	before, err := mgr.Raw(ctx, "T-1")
	require.NoError(t, err)

	boom := errors.New("validation failed")
	err = mgr.WithScopedUpdate(ctx, "T-1", func(rec *Record) error {
		rec.Status = task.StatusDone
		rec.Active = &ActiveTool{Tool: "x", State: "y"}
		return boom
	})
	require.ErrorIs(t, err, boom)

	after, err := mgr.Raw(ctx, "T-1")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestConcurrentStatusUpdatesNeverCorrupt(t *testing.T) {
	ctx := context.Background()
	delay := filestore.WithBeforeRename(func(string) error {
		time.Sleep(30 * time.Millisecond)
		return nil
	})
	mgr, layout := newTestManager(t, WithStoreOptions(delay))
	require.NoError(t, mgr.UpdateStatus(ctx, "T-1", task.StatusBacklog))

	for round := 0; round < 5; round++ {
		var g errgroup.Group
		g.Go(func() error { return mgr.UpdateStatus(ctx, "T-1", task.StatusReview) })
		g.Go(func() error { return mgr.UpdateStatus(ctx, "T-1", task.StatusTesting) })
		require.NoError(t, g.Wait())

		data, err := os.ReadFile(layout.RecordPath("T-1"))
		require.NoError(t, err)
		var rec Record
		require.NoError(t, json.Unmarshal(data, &rec), "record must always parse")
		require.Contains(t, []task.Status{task.StatusReview, task.StatusTesting}, rec.Status)
	}
}

func TestCrashBeforeRenameKeepsCommittedRecord(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), ".taskgate")
	layout := workflow.NewLayout(root)
	healthy, err := NewManager(layout)
	require.NoError(t, err)
	require.NoError(t, healthy.UpdateStatus(ctx, "T-1", task.StatusPlanning))

	killed := errors.New("killed before rename")
	crashing, err := NewManager(layout, WithStoreOptions(filestore.WithBeforeRename(func(tmp string) error {
		_, statErr := os.Stat(tmp)
		require.NoError(t, statErr, "temp file must exist when the crash happens")
		return killed
	})))
	require.NoError(t, err)

	err = crashing.UpdateStatus(ctx, "T-1", task.StatusDone)
	require.ErrorIs(t, err, failure.WriteFailure)

	rec, err := healthy.LoadOrCreate(ctx, "T-1")
	require.NoError(t, err)
	require.Equal(t, task.StatusPlanning, rec.Status)
}

func TestCorruptRecordSurfacesInternalError(t *testing.T) {
	ctx := context.Background()
	mgr, layout := newTestManager(t)
	require.NoError(t, os.MkdirAll(layout.TaskDir("T-1"), 0o755))
	require.NoError(t, os.WriteFile(layout.RecordPath("T-1"), []byte("{not json"), 0o644))

	_, err := mgr.LoadOrCreate(ctx, "T-1")
	require.ErrorIs(t, err, failure.Internal)
	require.NotContains(t, err.Error(), layout.RecordPath("T-1"))
}

func TestLockTimeoutSurfaces(t *testing.T) {
	ctx := context.Background()
	mgr, layout := newTestManager(t, WithStoreOptions(filestore.WithTimeout(50*time.Millisecond)))
	blocker, err := filestore.New(layout)
	require.NoError(t, err)
	held, err := blocker.Lock(ctx, "T-1")
	require.NoError(t, err)
	defer held.Release()

	err = mgr.UpdateStatus(ctx, "T-1", task.StatusDone)
	require.ErrorIs(t, err, failure.LockTimeout)
}
