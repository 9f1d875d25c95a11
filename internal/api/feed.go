package api

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/taskgate/internal/task"
	"github.com/kingrea/taskgate/internal/workflow/engine"
)

const (
	defaultSubscriberCapacity = 32
	defaultHistoryLimit       = 50
)

// Event is the published form of a committed tool completion.
type Event struct {
	ID         string         `json:"id"`
	TaskID     string         `json:"task_id"`
	Tool       string         `json:"tool"`
	ExitStatus task.Status    `json:"exit_status,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	At         time.Time      `json:"at"`
}

// Subscription is a live stream of events for one task. Cancel closes Events.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

// Cancel stops delivery and closes the channel.
func (s Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Feed fans completions out to subscribers and keeps a bounded per-task
// history. It is registered with the handler as an observer.
type Feed struct {
	mu           sync.RWMutex
	subscribers  map[string]map[*subscriber]struct{}
	history      map[string][]Event
	historyLimit int
	channelSize  int
	logger       Logger
}

// FeedOption customizes a Feed.
type FeedOption func(*Feed)

// FeedWithHistoryLimit overrides how many events are retained per task.
func FeedWithHistoryLimit(limit int) FeedOption {
	return func(f *Feed) {
		if limit > 0 {
			f.historyLimit = limit
		}
	}
}

// FeedWithChannelSize overrides the per-subscriber buffer.
func FeedWithChannelSize(size int) FeedOption {
	return func(f *Feed) {
		if size > 0 {
			f.channelSize = size
		}
	}
}

// FeedWithLogger reports dropped events.
func FeedWithLogger(l Logger) FeedOption {
	return func(f *Feed) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFeed builds an empty feed.
func NewFeed(opts ...FeedOption) *Feed {
	f := &Feed{
		subscribers:  map[string]map[*subscriber]struct{}{},
		history:      map[string][]Event{},
		historyLimit: defaultHistoryLimit,
		channelSize:  defaultSubscriberCapacity,
		logger:       nopLogger{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var _ engine.Observer = (*Feed)(nil)

// ToolCompleted publishes the completion.
func (f *Feed) ToolCompleted(_ context.Context, c engine.Completion) error {
	f.Publish(Event{
		ID:         uuid.NewString(),
		TaskID:     c.Task.ID,
		Tool:       c.Tool,
		ExitStatus: c.ExitStatus,
		Output:     c.Output,
		At:         c.At,
	})
	return nil
}

// Subscribe registers for events of taskID. An empty taskID receives every
// task's events.
func (f *Feed) Subscribe(taskID string) Subscription {
	key := normalizeTask(taskID)
	sub := newSubscriber(f.channelSize, f.logger)
	f.mu.Lock()
	if f.subscribers[key] == nil {
		f.subscribers[key] = map[*subscriber]struct{}{}
	}
	f.subscribers[key][sub] = struct{}{}
	f.mu.Unlock()
	return Subscription{
		Events: sub.channel(),
		cancel: func() { f.removeSubscriber(key, sub) },
	}
}

// Publish records event in the task's history and delivers it.
func (f *Feed) Publish(event Event) {
	key := normalizeTask(event.TaskID)
	if key == "" {
		return
	}
	f.mu.Lock()
	queue := append(f.history[key], event)
	if len(queue) > f.historyLimit {
		queue = queue[len(queue)-f.historyLimit:]
	}
	f.history[key] = queue
	subs := f.snapshotSubscribers(key)
	subs = append(subs, f.snapshotSubscribers("")...)
	f.mu.Unlock()
	for _, sub := range subs {
		sub.deliver(event)
	}
}

// History returns the retained events of taskID, oldest first.
func (f *Feed) History(taskID string) []Event {
	f.mu.RLock()
	defer f.mu.RUnlock()
	queue := f.history[normalizeTask(taskID)]
	out := make([]Event, len(queue))
	copy(out, queue)
	return out
}

func (f *Feed) snapshotSubscribers(key string) []*subscriber {
	live := f.subscribers[key]
	if len(live) == 0 {
		return nil
	}
	items := make([]*subscriber, 0, len(live))
	for sub := range live {
		items = append(items, sub)
	}
	return items
}

func (f *Feed) removeSubscriber(key string, sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if subs := f.subscribers[key]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(f.subscribers, key)
		}
	}
	sub.close()
}

func normalizeTask(taskID string) string {
	return strings.TrimSpace(taskID)
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	logger Logger
	closed bool
}

func newSubscriber(capacity int, logger Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{ch: make(chan Event, capacity), logger: logger}
}

func (s *subscriber) channel() <-chan Event {
	return s.ch
}

// deliver never blocks; on overflow the oldest queued event is dropped.
func (s *subscriber) deliver(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- event:
			return
		default:
		}
		select {
		case dropped := <-s.ch:
			s.logger.Printf("api: feed dropped %s/%s (queue overflow)", dropped.TaskID, dropped.Tool)
		default:
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
