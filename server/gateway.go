package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chatbridge/chatbridge/client"
	"github.com/chatbridge/chatbridge/server/otel"
	"github.com/chatbridge/chatbridge/types"
	"go.uber.org/zap"
)

// Gateway submits user messages to the remote agent and opportunistically
// arranges push notifications for later updates. Notification registration
// is an optimization, never a correctness requirement: its failure is
// logged and swallowed while the submission itself still succeeds.
type Gateway struct {
	client        client.AgentClient
	logger        *zap.Logger
	telemetry     otel.OpenTelemetry
	webhookURL    string
	webhookSecret string
	settleDelay   time.Duration
	historyLength int
}

// NewGateway creates the submission gateway. The webhook secret is the
// process-wide bearer token carried on every registration; it is immutable
// after startup.
func NewGateway(agentClient client.AgentClient, logger *zap.Logger, telemetry otel.OpenTelemetry, webhookURL, webhookSecret string, settleDelay time.Duration, historyLength int) *Gateway {
	return &Gateway{
		client:        agentClient,
		logger:        logger,
		telemetry:     telemetry,
		webhookURL:    webhookURL,
		webhookSecret: webhookSecret,
		settleDelay:   settleDelay,
		historyLength: historyLength,
	}
}

// ExpenseForm is a structured expense submission.
type ExpenseForm struct {
	Category    string `form:"category" binding:"required"`
	Amount      string `form:"amount" binding:"required"`
	Date        string `form:"date" binding:"required"`
	Vendor      string `form:"vendor"`
	Description string `form:"description" binding:"required"`
	ProjectCode string `form:"project_code"`
}

// SubmitMessage sends an assembled user message to its task, then registers
// the webhook and waits out the settle delay. A send failure is fatal to
// the request; everything after the send is best effort.
func (g *Gateway) SubmitMessage(ctx context.Context, msg *types.Message) (*types.Task, error) {
	return g.submit(ctx, msg, "message")
}

func (g *Gateway) submit(ctx context.Context, msg *types.Message, kind string) (*types.Task, error) {
	if msg.TaskID == nil || *msg.TaskID == "" {
		return nil, ErrMissingTaskID
	}
	taskID := *msg.TaskID

	task, err := g.client.SendMessage(ctx, types.MessageSendParams{
		Message: *msg,
		Configuration: &types.SendMessageConfiguration{
			HistoryLength: &g.historyLength,
		},
	})
	g.telemetry.RecordSubmission(ctx, kind, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	g.logger.Info("message sent",
		zap.String("task_id", taskID),
		zap.String("message_id", msg.MessageID),
		zap.Int("history_length", len(task.History)))

	g.bestEffort(ctx, "push notification registration", func(ctx context.Context) error {
		return g.registerPushNotification(ctx, taskID)
	})

	g.settle(ctx)

	return task, nil
}

// SubmitExpense formats a structured expense form into a single text
// message on a freshly generated task and submits it through the same path
// as chat messages. It returns the new task id.
func (g *Gateway) SubmitExpense(ctx context.Context, form ExpenseForm) (string, error) {
	taskID := GenerateTaskID()

	msg := types.NewUserMessage(taskID, []types.Part{
		types.NewTextPart(formatExpenseDetails(form)),
	})

	task, err := g.submit(ctx, &msg, "expense")
	if err != nil {
		return "", fmt.Errorf("failed to submit expense: %w", err)
	}

	g.logger.Info("expense submitted",
		zap.String("task_id", taskID),
		zap.String("state", string(task.Status.State)))

	return taskID, nil
}

// CancelTask cancels a task via the agent.
func (g *Gateway) CancelTask(ctx context.Context, taskID string) error {
	if _, err := g.client.CancelTask(ctx, types.TaskIdParams{ID: taskID}); err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	return nil
}

// registerPushNotification asks the agent to call back into this frontend
// when the task changes state, carrying the shared secret as bearer token.
func (g *Gateway) registerPushNotification(ctx context.Context, taskID string) error {
	token := g.webhookSecret
	err := g.client.SetPushNotification(ctx, types.TaskPushNotificationConfig{
		TaskID: taskID,
		PushNotificationConfig: types.PushNotificationConfig{
			URL:   g.webhookURL,
			Token: &token,
		},
	})
	g.telemetry.RecordWebhookRegistration(ctx, err == nil)
	if err != nil {
		return err
	}

	g.logger.Info("push notification registered",
		zap.String("task_id", taskID),
		zap.String("webhook_url", g.webhookURL))
	return nil
}

// bestEffort runs a non-critical step whose outcome is only observed for
// logging. It never propagates the error to the caller.
func (g *Gateway) bestEffort(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if err := fn(ctx); err != nil {
		g.logger.Warn("non-critical step failed",
			zap.String("step", name),
			zap.Error(err))
	}
}

// settle waits a fixed duration before the caller redirects, reducing (not
// eliminating) the chance that the follow-up read races the agent's own
// persistence. A heuristic, not a guarantee; the read path retries on its
// own.
func (g *Gateway) settle(ctx context.Context) {
	if g.settleDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(g.settleDelay):
	}
}

// formatExpenseDetails renders the structured form as the text body the
// reimbursement agent expects.
func formatExpenseDetails(form ExpenseForm) string {
	var b strings.Builder

	b.WriteString("I need to submit an expense reimbursement:\n\n")
	fmt.Fprintf(&b, "Category: %s\n", form.Category)
	fmt.Fprintf(&b, "Amount: $%s\n", form.Amount)
	fmt.Fprintf(&b, "Date: %s\n", form.Date)
	if form.Vendor != "" {
		fmt.Fprintf(&b, "Vendor: %s\n", form.Vendor)
	}
	fmt.Fprintf(&b, "Description: %s\n", form.Description)
	if form.ProjectCode != "" {
		fmt.Fprintf(&b, "Project/Cost Center: %s\n", form.ProjectCode)
	}

	return b.String()
}
