package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatbridge/chatbridge/server/config"
	"github.com/chatbridge/chatbridge/types"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.uber.org/zap"
)

// TaskNotification is one webhook-delivered task update as recorded by the
// receiver. Retention is bounded per task; this is a recent-events cache,
// not task persistence (the agent owns that).
type TaskNotification struct {
	TaskID     string          `json:"task_id"`
	State      types.TaskState `json:"state"`
	Final      bool            `json:"final"`
	ReceivedAt time.Time       `json:"received_at"`
}

// NotificationStore records received push notifications per task.
type NotificationStore interface {
	// Append records one notification, evicting the oldest entries beyond
	// the per-task retention bound.
	Append(ctx context.Context, notification TaskNotification) error

	// Recent returns up to limit notifications for a task, newest first.
	Recent(ctx context.Context, taskID string, limit int) ([]TaskNotification, error)

	// Close releases backend resources.
	Close() error
}

// NewNotificationStore creates the store selected by configuration.
func NewNotificationStore(ctx context.Context, cfg config.NotificationsConfig, logger *zap.Logger) (NotificationStore, error) {
	switch cfg.Provider {
	case "", "memory":
		return NewInMemoryNotificationStore(cfg.MaxPerTask), nil
	case "redis":
		return NewRedisNotificationStore(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown notification store provider: %s", cfg.Provider)
	}
}

// InMemoryNotificationStore is the default, process-local store.
type InMemoryNotificationStore struct {
	mu         sync.RWMutex
	byTask     map[string][]TaskNotification
	maxPerTask int
}

var _ NotificationStore = (*InMemoryNotificationStore)(nil)

// NewInMemoryNotificationStore creates an in-memory notification store
// retaining at most maxPerTask entries per task.
func NewInMemoryNotificationStore(maxPerTask int) *InMemoryNotificationStore {
	if maxPerTask < 1 {
		maxPerTask = 1
	}
	return &InMemoryNotificationStore{
		byTask:     make(map[string][]TaskNotification),
		maxPerTask: maxPerTask,
	}
}

func (s *InMemoryNotificationStore) Append(_ context.Context, notification TaskNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.byTask[notification.TaskID], notification)
	if len(entries) > s.maxPerTask {
		entries = entries[len(entries)-s.maxPerTask:]
	}
	s.byTask[notification.TaskID] = entries
	return nil
}

func (s *InMemoryNotificationStore) Recent(_ context.Context, taskID string, limit int) ([]TaskNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.byTask[taskID]
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}

	// Newest first.
	result := make([]TaskNotification, 0, limit)
	for i := len(entries) - 1; i >= len(entries)-limit; i-- {
		result = append(result, entries[i])
	}
	return result, nil
}

func (s *InMemoryNotificationStore) Close() error {
	return nil
}

// NotificationHub fans received task updates out to in-process subscribers
// as CloudEvents. This is the forwarding point for future real-time
// delivery paths (browser notifications, caches, connected clients).
type NotificationHub struct {
	mu     sync.RWMutex
	logger *zap.Logger
	subs   map[string]map[chan cloudevents.Event]struct{}
}

// NewNotificationHub creates an empty hub.
func NewNotificationHub(logger *zap.Logger) *NotificationHub {
	return &NotificationHub{
		logger: logger,
		subs:   make(map[string]map[chan cloudevents.Event]struct{}),
	}
}

// Subscribe registers a buffered channel for one task's events. The caller
// must Unsubscribe when done.
func (h *NotificationHub) Subscribe(taskID string) chan cloudevents.Event {
	ch := make(chan cloudevents.Event, 16)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[taskID] == nil {
		h.subs[taskID] = make(map[chan cloudevents.Event]struct{})
	}
	h.subs[taskID][ch] = struct{}{}
	return ch
}

// Unsubscribe removes a channel registered with Subscribe.
func (h *NotificationHub) Unsubscribe(taskID string, ch chan cloudevents.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[taskID]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(h.subs, taskID)
		}
	}
}

// Publish delivers an event to every subscriber of the task. Slow
// subscribers are skipped rather than blocking the webhook receiver.
func (h *NotificationHub) Publish(taskID string, event cloudevents.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[taskID] {
		select {
		case ch <- event:
		default:
			h.logger.Warn("dropping event for slow hub subscriber",
				zap.String("task_id", taskID),
				zap.String("event_type", event.Type()))
		}
	}
}
