package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/taskgate/internal/task"
	"github.com/kingrea/taskgate/internal/workflow/engine"
)

func TestFeedDeliversToTaskAndWildcardSubscribers(t *testing.T) {
	feed := NewFeed()
	mine := feed.Subscribe("T-1")
	all := feed.Subscribe("")
	other := feed.Subscribe("T-2")
	defer other.Cancel()

	err := feed.ToolCompleted(context.Background(), engine.Completion{
		Task:       task.Task{ID: "T-1"},
		Tool:       "plan",
		ExitStatus: task.StatusDevelopment,
		At:         time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	got := <-mine.Events
	require.Equal(t, "plan", got.Tool)
	require.NotEmpty(t, got.ID)
	require.Equal(t, got.ID, (<-all.Events).ID)
	select {
	case evt := <-other.Events:
		t.Fatalf("unexpected delivery %+v", evt)
	default:
	}

	mine.Cancel()
	_, open := <-mine.Events
	require.False(t, open)
	all.Cancel()
	all.Cancel()
}

func TestFeedHistoryIsBounded(t *testing.T) {
	feed := NewFeed(FeedWithHistoryLimit(2))
	for _, name := range []string{"plan", "develop", "review"} {
		feed.Publish(Event{TaskID: "T-1", Tool: name})
	}
	feed.Publish(Event{Tool: "orphan"})
	history := feed.History("T-1")
	require.Len(t, history, 2)
	require.Equal(t, "develop", history[0].Tool)
	require.Equal(t, "review", history[1].Tool)
	require.Empty(t, feed.History("T-2"))
}

func TestFeedOverflowDropsOldest(t *testing.T) {
	feed := NewFeed(FeedWithChannelSize(1))
	sub := feed.Subscribe("T-1")
	defer sub.Cancel()
	feed.Publish(Event{TaskID: "T-1", Tool: "plan"})
	feed.Publish(Event{TaskID: "T-1", Tool: "develop"})
	require.Equal(t, "develop", (<-sub.Events).Tool)
}
