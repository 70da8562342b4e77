package server

import (
	"context"
	"time"

	"github.com/chatbridge/chatbridge/client"
	"github.com/chatbridge/chatbridge/server/otel"
	"github.com/chatbridge/chatbridge/types"
	"go.uber.org/zap"
)

// RetryPolicy bounds an operation at MaxAttempts tries with a fixed delay
// between them. The delay honors context cancellation.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Do runs fn until it succeeds or the attempt budget is exhausted. It
// returns the attempt count alongside the last error; a nil error means fn
// succeeded on the final counted attempt.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	attempts := 0
	var lastErr error

	for attempts < p.MaxAttempts {
		attempts++
		lastErr = fn(ctx)
		if lastErr == nil {
			return attempts, nil
		}

		if attempts == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(p.Delay):
		}
	}

	return attempts, lastErr
}

// TaskFetcher reads task state from the agent, absorbing transient
// "not yet visible" responses. A task that never becomes visible degrades
// to an empty history rather than an error, so page renders stay available.
type TaskFetcher struct {
	client        client.AgentClient
	logger        *zap.Logger
	telemetry     otel.OpenTelemetry
	policy        RetryPolicy
	historyLength int
}

// NewTaskFetcher creates a retry-aware task fetcher.
func NewTaskFetcher(agentClient client.AgentClient, logger *zap.Logger, telemetry otel.OpenTelemetry, policy RetryPolicy, historyLength int) *TaskFetcher {
	return &TaskFetcher{
		client:        agentClient,
		logger:        logger,
		telemetry:     telemetry,
		policy:        policy,
		historyLength: historyLength,
	}
}

// FetchTask returns the task's history and state. A nil state means the
// task was not visible within the retry budget; "truly absent" and "not yet
// visible" are deliberately indistinguishable here.
func (f *TaskFetcher) FetchTask(ctx context.Context, taskID string) ([]types.Message, *types.TaskState) {
	var task *types.Task

	attempts, err := f.policy.Do(ctx, func(ctx context.Context) error {
		fetched, fetchErr := f.client.GetTask(ctx, types.TaskQueryParams{
			ID:            taskID,
			HistoryLength: &f.historyLength,
		})
		if fetchErr != nil {
			f.logger.Info("task not yet visible, will retry",
				zap.String("task_id", taskID),
				zap.Error(fetchErr))
			return fetchErr
		}
		task = fetched
		return nil
	})

	f.telemetry.RecordFetch(ctx, attempts, err == nil)

	if err != nil {
		f.logger.Warn("task not visible after retries",
			zap.String("task_id", taskID),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return nil, nil
	}

	f.logger.Info("retrieved task",
		zap.String("task_id", taskID),
		zap.Int("history_length", len(task.History)),
		zap.String("state", string(task.Status.State)))

	state := task.Status.State
	return task.History, &state
}
