package types

import (
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// CloudEvent type constants for task update delivery
const (
	EventTaskStatusChanged = "chatbridge.task.status.changed"
	EventTaskNotification  = "chatbridge.task.notification.received"
	EventStreamFailed      = "chatbridge.task.stream.failed"
)

// NewTaskNotificationEvent wraps a webhook-delivered status update as a
// CloudEvent for downstream consumers (in-process hub subscribers).
func NewTaskNotificationEvent(update *TaskStatusUpdateEvent) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(update.TaskID + "-" + string(update.Status.State))
	event.SetType(EventTaskNotification)
	event.SetSource("chatbridge/webhook")
	event.SetTime(time.Now())
	event.SetExtension("taskid", update.TaskID)
	_ = event.SetData(cloudevents.ApplicationJSON, update)

	return event
}

// NewTaskStatusEvent creates a CloudEvent for a status change observed on
// the streaming subscription.
func NewTaskStatusEvent(taskID string, state TaskState) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(taskID + "-" + string(state))
	event.SetType(EventTaskStatusChanged)
	event.SetSource("chatbridge/stream")
	event.SetTime(time.Now())
	event.SetExtension("taskid", taskID)
	_ = event.SetData(cloudevents.ApplicationJSON, map[string]any{
		"taskId": taskID,
		"state":  state,
	})

	return event
}

// NewStreamFailedEvent marks an upstream subscription ending with an error.
func NewStreamFailedEvent(taskID string, err error) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(taskID + "-stream-failed")
	event.SetType(EventStreamFailed)
	event.SetSource("chatbridge/stream")
	event.SetTime(time.Now())
	event.SetExtension("taskid", taskID)
	_ = event.SetData(cloudevents.ApplicationJSON, map[string]any{
		"taskId": taskID,
		"error":  err.Error(),
	})

	return event
}
