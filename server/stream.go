package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chatbridge/chatbridge/client"
	"github.com/chatbridge/chatbridge/server/otel"
	"github.com/chatbridge/chatbridge/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StreamBridge converts a per-task agent subscription into a continuous
// outbound event feed for one browser connection. It is a pure relay:
// events pass through unbuffered, in delivery order, with no filtering or
// transformation. Status changes observed on the way through are mirrored
// to the notification hub for in-process consumers.
type StreamBridge struct {
	client    client.AgentClient
	logger    *zap.Logger
	telemetry otel.OpenTelemetry
	hub       *NotificationHub
}

// NewStreamBridge creates the event stream bridge.
func NewStreamBridge(agentClient client.AgentClient, logger *zap.Logger, telemetry otel.OpenTelemetry, hub *NotificationHub) *StreamBridge {
	return &StreamBridge{
		client:    agentClient,
		logger:    logger,
		telemetry: telemetry,
		hub:       hub,
	}
}

// Relay opens the subscription for taskID and forwards each event to send
// until the connection context is canceled, the subscription ends, or the
// subscription errors. send reports whether the outbound connection is
// still writable. The underlying subscription is released before Relay
// returns in every case.
func (b *StreamBridge) Relay(ctx context.Context, taskID string, send func(event json.RawMessage) bool) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unbuffered on purpose: the subscriber blocks until the event is
	// handed over, so no reordering or backlog can build up here.
	events := make(chan json.RawMessage)
	done := make(chan error, 1)

	go func() {
		done <- b.client.SubscribeTask(subCtx, taskID, events)
	}()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("stream connection closed by client", zap.String("task_id", taskID))
			return nil
		case err := <-done:
			if err != nil && ctx.Err() == nil {
				b.logger.Warn("agent subscription ended with error",
					zap.String("task_id", taskID),
					zap.Error(err))
				b.hub.Publish(taskID, types.NewStreamFailedEvent(taskID, err))
				return fmt.Errorf("agent subscription failed: %w", err)
			}
			b.logger.Info("agent subscription ended", zap.String("task_id", taskID))
			return nil
		case event := <-events:
			if !send(event) {
				b.logger.Info("stream connection no longer writable", zap.String("task_id", taskID))
				return nil
			}
			b.publishStatus(taskID, event)
		}
	}
}

// publishStatus mirrors a relayed status change to the hub. Events without
// a recognizable status pass through the relay untouched and unannounced.
func (b *StreamBridge) publishStatus(taskID string, event json.RawMessage) {
	var update struct {
		Status types.TaskStatus `json:"status"`
	}
	if err := json.Unmarshal(event, &update); err != nil || update.Status.State == "" {
		return
	}
	b.hub.Publish(taskID, types.NewTaskStatusEvent(taskID, update.Status.State))
}

// ServeSSE relays the task's update stream to the HTTP response as
// server-sent events, bound to the request's lifetime. An upstream error
// terminates the stream, never the process.
func (b *StreamBridge) ServeSSE(c *gin.Context, taskID string) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.Flush()

	ctx := c.Request.Context()
	b.telemetry.RecordStreamOpened(ctx)

	reason := "client_disconnect"
	err := b.Relay(ctx, taskID, func(event json.RawMessage) bool {
		if _, writeErr := fmt.Fprintf(c.Writer, "data: %s\n\n", event); writeErr != nil {
			return false
		}
		c.Writer.Flush()
		return true
	})
	if err != nil {
		reason = "upstream_error"
	}

	b.telemetry.RecordStreamClosed(ctx, reason)
}
