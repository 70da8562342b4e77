package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/chatbridge/chatbridge/client"
	"github.com/chatbridge/chatbridge/server/config"
	"github.com/chatbridge/chatbridge/server/middlewares"
	"github.com/chatbridge/chatbridge/server/otel"
	"github.com/chatbridge/chatbridge/types"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// FrontendServer exposes one long-running agent task to browsers: message
// submission, conversation reads, a live SSE stream, and the webhook
// receiver the agent pushes task updates to.
type FrontendServer struct {
	cfg    *config.Config
	logger *zap.Logger

	agentClient   client.AgentClient
	telemetry     otel.OpenTelemetry
	assembler     *MessageAssembler
	fetcher       *TaskFetcher
	gateway       *Gateway
	bridge        *StreamBridge
	receiver      *WebhookReceiver
	authenticator middlewares.WebhookAuthenticator
	notifications NotificationStore
	attachments   AttachmentStore
	hub           *NotificationHub

	httpServer    *http.Server
	metricsServer *http.Server
}

// NewFrontendServer builds the server and all its components from
// configuration. The webhook secret must already be set; callers generate
// one when the environment leaves it empty.
func NewFrontendServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*FrontendServer, error) {
	if cfg.Webhook.Secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}

	telemetry := otel.OpenTelemetry(otel.Noop{})
	if cfg.Telemetry.Enable {
		t, err := otel.NewOpenTelemetry(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		telemetry = t
	}

	attachments, err := NewAttachmentStore(ctx, cfg.Attachments, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment store: %w", err)
	}

	notifications, err := NewNotificationStore(ctx, cfg.Notifications, logger)
	if err != nil {
		attachments.Close()
		return nil, fmt.Errorf("failed to create notification store: %w", err)
	}

	agentClient := client.NewClientWithLogger(cfg.AgentURL, logger)
	hub := NewNotificationHub(logger)

	s := &FrontendServer{
		cfg:           cfg,
		logger:        logger,
		agentClient:   agentClient,
		telemetry:     telemetry,
		assembler:     NewMessageAssembler(logger, attachments, cfg.Attachments.InlineMaxBytes),
		fetcher:       NewTaskFetcher(agentClient, logger, telemetry, RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, Delay: cfg.Retry.Delay}, cfg.HistoryLength),
		gateway:       NewGateway(agentClient, logger, telemetry, cfg.WebhookURL(), cfg.Webhook.Secret, cfg.SettleDelay, cfg.HistoryLength),
		bridge:        NewStreamBridge(agentClient, logger, telemetry, hub),
		authenticator: middlewares.NewWebhookAuthenticator(logger, cfg.Webhook.Secret),
		notifications: notifications,
		attachments:   attachments,
		hub:           hub,
	}
	s.receiver = NewWebhookReceiver(logger, telemetry, notifications, hub)
	return s, nil
}

// SetAgentClient replaces the agent client. Used by tests.
func (s *FrontendServer) SetAgentClient(agentClient client.AgentClient) {
	s.agentClient = agentClient
	s.fetcher = NewTaskFetcher(agentClient, s.logger, s.telemetry, RetryPolicy{MaxAttempts: s.cfg.Retry.MaxAttempts, Delay: s.cfg.Retry.Delay}, s.cfg.HistoryLength)
	s.gateway = NewGateway(agentClient, s.logger, s.telemetry, s.cfg.WebhookURL(), s.cfg.Webhook.Secret, s.cfg.SettleDelay, s.cfg.HistoryLength)
	s.bridge = NewStreamBridge(agentClient, s.logger, s.telemetry, s.hub)
}

// Router builds the gin engine with all routes registered.
func (s *FrontendServer) Router() *gin.Engine {
	if s.cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())
	r.Use(middlewares.LoggingMiddleware(s.logger, s.telemetry, s.cfg.Server.DisableHealthcheckLog))

	r.GET("/health", s.handleHealth)
	r.GET("/", s.handleIndex)
	r.GET("/tasks", s.handleListTasks)

	chat := r.Group("/chat")
	chat.POST("/new", s.handleNewChat)
	chat.GET("/:taskId", s.handleChat)
	chat.POST("/:taskId/send", s.handleSend)
	chat.POST("/:taskId/cancel", s.handleCancel)
	chat.GET("/:taskId/stream", s.handleStream)
	chat.GET("/:taskId/notifications", s.receiver.Recent)

	r.POST("/send", s.handleSend)
	r.POST("/expense/submit", s.handleExpense)
	r.GET("/attachments/:id/:filename", s.handleAttachment)

	r.POST(s.cfg.Webhook.Path, s.authenticator.Middleware(), s.receiver.Handle)

	return r
}

// Start runs the HTTP server (and the metrics listener when telemetry is
// enabled) until ctx is canceled or the listener fails.
func (s *FrontendServer) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         ":" + s.cfg.Server.Port,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	if s.cfg.Telemetry.Enable {
		s.startMetricsServer()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting frontend server",
			zap.String("port", s.cfg.Server.Port),
			zap.String("agent_url", s.cfg.AgentURL),
			zap.String("webhook_path", s.cfg.Webhook.Path))

		var err error
		if s.cfg.Server.TLS.Enable {
			err = s.httpServer.ListenAndServeTLS(s.cfg.Server.TLS.CertPath, s.cfg.Server.TLS.KeyPath)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}
}

func (s *FrontendServer) startMetricsServer() {
	addr := fmt.Sprintf("%s:%s", s.cfg.Telemetry.Metrics.Host, s.cfg.Telemetry.Metrics.Port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  s.cfg.Telemetry.Metrics.ReadTimeout,
		WriteTimeout: s.cfg.Telemetry.Metrics.WriteTimeout,
		IdleTimeout:  s.cfg.Telemetry.Metrics.IdleTimeout,
	}

	go func() {
		s.logger.Info("starting metrics server", zap.String("addr", addr))
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts the listeners down and releases stores.
func (s *FrontendServer) Stop(ctx context.Context) error {
	s.logger.Info("shutting down frontend server")

	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.notifications.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.attachments.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.telemetry.ShutDown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *FrontendServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *FrontendServer) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "chatbridge",
		"agent":   s.cfg.AgentURL,
		"routes": gin.H{
			"new_chat": "/chat/new",
			"chat":     "/chat/:taskId",
			"send":     "/chat/:taskId/send",
			"stream":   "/chat/:taskId/stream",
			"tasks":    "/tasks",
			"expense":  "/expense/submit",
		},
	})
}

func (s *FrontendServer) handleListTasks(c *gin.Context) {
	list, err := s.agentClient.ListTasks(c.Request.Context(), types.TaskListParams{})
	if err != nil {
		s.logger.Error("failed to list tasks", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "agent unavailable"})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *FrontendServer) handleNewChat(c *gin.Context) {
	c.Redirect(http.StatusSeeOther, "/chat/"+GenerateTaskID())
}

func (s *FrontendServer) handleChat(c *gin.Context) {
	taskID := c.Param("taskId")
	history, state := s.fetcher.FetchTask(c.Request.Context(), taskID)
	c.JSON(http.StatusOK, NewTaskView(taskID, state, history))
}

// handleSend assembles the multipart form into a message and forwards it to
// the agent. The path task id, when present, takes precedence over a
// task_id form field.
func (s *FrontendServer) handleSend(c *gin.Context) {
	reader, err := c.Request.MultipartReader()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected multipart form"})
		return
	}

	fields, err := ReadFormFields(reader, s.cfg.Attachments.MaxUploadBytes)
	if err != nil {
		s.logger.Warn("failed to read form", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read form"})
		return
	}

	if taskID := c.Param("taskId"); taskID != "" {
		kept := fields[:0]
		for _, field := range fields {
			if !field.IsFile && field.Name == fieldTaskID {
				continue
			}
			kept = append(kept, field)
		}
		fields = append([]FormField{{Name: fieldTaskID, Value: taskID}}, kept...)
	}

	msg, err := s.assembler.Assemble(c.Request.Context(), fields)
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingTaskID), errors.Is(err, ErrEmptyMessage):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			s.logger.Error("failed to assemble message", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process message"})
		}
		return
	}

	taskID := *msg.TaskID
	if _, err := s.gateway.SubmitMessage(c.Request.Context(), msg); err != nil {
		s.logger.Error("failed to submit message",
			zap.String("task_id", taskID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to reach agent"})
		return
	}

	c.Redirect(http.StatusSeeOther, "/chat/"+taskID)
}

func (s *FrontendServer) handleCancel(c *gin.Context) {
	taskID := c.Param("taskId")
	if err := s.gateway.CancelTask(c.Request.Context(), taskID); err != nil {
		s.logger.Error("failed to cancel task",
			zap.String("task_id", taskID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to cancel task"})
		return
	}
	c.Redirect(http.StatusSeeOther, "/chat/"+taskID)
}

func (s *FrontendServer) handleStream(c *gin.Context) {
	if !s.cfg.Streaming.Enabled {
		c.JSON(http.StatusNotFound, gin.H{"error": "streaming is disabled"})
		return
	}
	s.bridge.ServeSSE(c, c.Param("taskId"))
}

func (s *FrontendServer) handleExpense(c *gin.Context) {
	var form ExpenseForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid expense form"})
		return
	}

	taskID, err := s.gateway.SubmitExpense(c.Request.Context(), form)
	if err != nil {
		s.logger.Error("failed to submit expense", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to reach agent"})
		return
	}
	c.Redirect(http.StatusSeeOther, "/chat/"+taskID)
}

func (s *FrontendServer) handleAttachment(c *gin.Context) {
	id := c.Param("id")
	filename := c.Param("filename")

	content, err := s.attachments.Retrieve(c.Request.Context(), id, filename)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
		return
	}
	defer content.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sanitizeFilename(filename)))
	c.DataFromReader(http.StatusOK, -1, "application/octet-stream", content, nil)
}
