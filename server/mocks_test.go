package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/chatbridge/chatbridge/client"
	"github.com/chatbridge/chatbridge/server/otel"
	"github.com/chatbridge/chatbridge/types"
)

// spyTelemetry records submission metrics calls; everything else is a noop.
type spyTelemetry struct {
	otel.Noop
	mu          sync.Mutex
	submissions []string
	successes   []bool
}

func (s *spyTelemetry) RecordSubmission(_ context.Context, kind string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions = append(s.submissions, kind)
	s.successes = append(s.successes, success)
}

func (s *spyTelemetry) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.submissions...)
}

// fakeAgent implements client.AgentClient with per-method hooks. Methods
// without a hook fail, so tests only see the calls they expect.
type fakeAgent struct {
	sendMessageFn         func(ctx context.Context, params types.MessageSendParams) (*types.Task, error)
	getTaskFn             func(ctx context.Context, params types.TaskQueryParams) (*types.Task, error)
	listTasksFn           func(ctx context.Context, params types.TaskListParams) (*types.TaskList, error)
	cancelTaskFn          func(ctx context.Context, params types.TaskIdParams) (*types.Task, error)
	setPushNotificationFn func(ctx context.Context, config types.TaskPushNotificationConfig) error
	subscribeTaskFn       func(ctx context.Context, taskID string, events chan<- json.RawMessage) error
}

var _ client.AgentClient = (*fakeAgent)(nil)

var errNoHook = errors.New("unexpected agent call")

func (f *fakeAgent) SendMessage(ctx context.Context, params types.MessageSendParams) (*types.Task, error) {
	if f.sendMessageFn == nil {
		return nil, errNoHook
	}
	return f.sendMessageFn(ctx, params)
}

func (f *fakeAgent) GetTask(ctx context.Context, params types.TaskQueryParams) (*types.Task, error) {
	if f.getTaskFn == nil {
		return nil, errNoHook
	}
	return f.getTaskFn(ctx, params)
}

func (f *fakeAgent) ListTasks(ctx context.Context, params types.TaskListParams) (*types.TaskList, error) {
	if f.listTasksFn == nil {
		return nil, errNoHook
	}
	return f.listTasksFn(ctx, params)
}

func (f *fakeAgent) CancelTask(ctx context.Context, params types.TaskIdParams) (*types.Task, error) {
	if f.cancelTaskFn == nil {
		return nil, errNoHook
	}
	return f.cancelTaskFn(ctx, params)
}

func (f *fakeAgent) SetPushNotification(ctx context.Context, config types.TaskPushNotificationConfig) error {
	if f.setPushNotificationFn == nil {
		return errNoHook
	}
	return f.setPushNotificationFn(ctx, config)
}

func (f *fakeAgent) SubscribeTask(ctx context.Context, taskID string, events chan<- json.RawMessage) error {
	if f.subscribeTaskFn == nil {
		return errNoHook
	}
	return f.subscribeTaskFn(ctx, taskID, events)
}

func (f *fakeAgent) GetHealth(ctx context.Context) (*client.HealthResponse, error) {
	return &client.HealthResponse{Status: "healthy"}, nil
}

func (f *fakeAgent) GetBaseURL() string {
	return "http://agent.test"
}

// completedTask builds a minimal task snapshot for hook returns.
func completedTask(taskID string, state types.TaskState, history []types.Message) *types.Task {
	return &types.Task{
		Kind:      "task",
		ID:        taskID,
		ContextID: "ctx-" + taskID,
		Status:    types.TaskStatus{State: state},
		History:   history,
	}
}
