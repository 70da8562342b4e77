package server

import (
	"net/http"
	"time"

	"github.com/chatbridge/chatbridge/server/otel"
	"github.com/chatbridge/chatbridge/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// webhookPayload accepts the task update shapes agents send. Status-update
// events carry the state nested under status; flat push senders put it at
// the top level next to the full task snapshot.
type webhookPayload struct {
	TaskID string            `json:"taskId"`
	State  types.TaskState   `json:"state,omitempty"`
	Status *types.TaskStatus `json:"status,omitempty"`
	Final  bool              `json:"final,omitempty"`
	Task   *types.Task       `json:"task,omitempty"`
}

func (p *webhookPayload) taskID() string {
	if p.TaskID != "" {
		return p.TaskID
	}
	if p.Task != nil {
		return p.Task.ID
	}
	return ""
}

func (p *webhookPayload) state() types.TaskState {
	if p.Status != nil && p.Status.State != "" {
		return p.Status.State
	}
	if p.State != "" {
		return p.State
	}
	if p.Task != nil && p.Task.Status.State != "" {
		return p.Task.Status.State
	}
	return types.TaskStateUnknown
}

// WebhookReceiver handles authenticated push notifications from the agent.
// Authentication happens in middleware before this handler runs; by the
// time the body is parsed the request is already trusted.
type WebhookReceiver struct {
	logger    *zap.Logger
	telemetry otel.OpenTelemetry
	store     NotificationStore
	hub       *NotificationHub
}

// NewWebhookReceiver creates a receiver backed by the given store and hub.
func NewWebhookReceiver(logger *zap.Logger, telemetry otel.OpenTelemetry, store NotificationStore, hub *NotificationHub) *WebhookReceiver {
	return &WebhookReceiver{
		logger:    logger,
		telemetry: telemetry,
		store:     store,
		hub:       hub,
	}
}

// Handle records one task update and acknowledges it. The acknowledgement
// is sent even when recording fails; the webhook contract is receipt, not
// durable processing, and agents retry on non-2xx only.
func (r *WebhookReceiver) Handle(c *gin.Context) {
	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		r.logger.Warn("rejecting malformed webhook payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	taskID := payload.taskID()
	state := payload.state()
	r.logger.Info("received task update webhook",
		zap.String("task_id", taskID),
		zap.String("state", string(state)),
		zap.Bool("final", payload.Final))
	r.telemetry.RecordNotification(c.Request.Context(), string(state))

	notification := TaskNotification{
		TaskID:     taskID,
		State:      state,
		Final:      payload.Final,
		ReceivedAt: time.Now().UTC(),
	}
	if err := r.store.Append(c.Request.Context(), notification); err != nil {
		r.logger.Error("failed to record notification",
			zap.String("task_id", taskID), zap.Error(err))
	}

	if taskID != "" {
		update := &types.TaskStatusUpdateEvent{
			Kind:   "status-update",
			TaskID: taskID,
			Status: types.TaskStatus{State: state},
			Final:  payload.Final,
		}
		if payload.Status != nil {
			update.Status = *payload.Status
		}
		r.hub.Publish(taskID, types.NewTaskNotificationEvent(update))
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "received",
		"task_id":       taskID,
		"authenticated": true,
	})
}

// Recent returns the latest recorded updates for one task, newest first.
func (r *WebhookReceiver) Recent(c *gin.Context) {
	taskID := c.Param("taskId")
	notifications, err := r.store.Recent(c.Request.Context(), taskID, 0)
	if err != nil {
		r.logger.Error("failed to read notifications",
			zap.String("task_id", taskID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read notifications"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id":       taskID,
		"notifications": notifications,
	})
}
