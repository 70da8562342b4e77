package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatbridge/chatbridge/types"
	"go.uber.org/zap"
)

// AgentClient is the capability surface this frontend consumes from the
// remote A2A agent: message submission, task reads, a per-task update
// subscription, push notification registration, and cancellation.
type AgentClient interface {
	SendMessage(ctx context.Context, params types.MessageSendParams) (*types.Task, error)
	GetTask(ctx context.Context, params types.TaskQueryParams) (*types.Task, error)
	ListTasks(ctx context.Context, params types.TaskListParams) (*types.TaskList, error)
	CancelTask(ctx context.Context, params types.TaskIdParams) (*types.Task, error)
	SetPushNotification(ctx context.Context, config types.TaskPushNotificationConfig) error

	// SubscribeTask opens the agent's update stream for one task and relays
	// each event payload to the channel in delivery order. It blocks until
	// the stream ends, the stream errors, or ctx is canceled.
	SubscribeTask(ctx context.Context, taskID string, events chan<- json.RawMessage) error

	GetHealth(ctx context.Context) (*HealthResponse, error)
	GetBaseURL() string
}

var _ AgentClient = (*Client)(nil)

// HealthResponse represents the response from the agent's health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// Config holds configuration options for the agent client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	UserAgent  string
	Headers    map[string]string
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// DefaultConfig returns a default configuration. Transport retries default
// to zero: upstream failures surface immediately and the read path applies
// its own bounded retry.
func DefaultConfig(baseURL string) *Config {
	return &Config{
		BaseURL:    baseURL,
		Timeout:    30 * time.Second,
		UserAgent:  "ChatBridge/1.0",
		Headers:    make(map[string]string),
		MaxRetries: 0,
		RetryDelay: 1 * time.Second,
		Logger:     zap.NewNop(),
	}
}

// Client is the JSON-RPC HTTP implementation of AgentClient.
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new agent client with default configuration.
func NewClient(baseURL string) *Client {
	return NewClientWithConfig(DefaultConfig(baseURL))
}

// NewClientWithLogger creates a new agent client with a custom logger.
func NewClientWithLogger(baseURL string, logger *zap.Logger) *Client {
	config := DefaultConfig(baseURL)
	config.Logger = logger
	return NewClientWithConfig(config)
}

// NewClientWithConfig creates a new agent client with custom configuration.
func NewClientWithConfig(config *Config) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}
}

// endpointURL constructs the A2A endpoint URL by appending /a2a to the base URL.
func (c *Client) endpointURL() string {
	baseURL := c.config.BaseURL

	if strings.HasSuffix(baseURL, "/a2a") {
		return baseURL
	}

	if strings.HasSuffix(baseURL, "/") {
		return baseURL + "a2a"
	}
	return baseURL + "/a2a"
}

// SendMessage submits a message via message/send and returns the resulting
// task snapshot.
func (c *Client) SendMessage(ctx context.Context, params types.MessageSendParams) (*types.Task, error) {
	c.logger.Debug("sending message",
		zap.String("method", "message/send"),
		zap.String("message_id", params.Message.MessageID))

	result, err := c.call(ctx, "message/send", params)
	if err != nil {
		c.logger.Error("failed to send message", zap.Error(err), zap.String("message_id", params.Message.MessageID))
		return nil, err
	}

	return decodeTask(result)
}

// GetTask retrieves a task snapshot via tasks/get.
func (c *Client) GetTask(ctx context.Context, params types.TaskQueryParams) (*types.Task, error) {
	c.logger.Debug("retrieving task", zap.String("method", "tasks/get"), zap.String("task_id", params.ID))

	result, err := c.call(ctx, "tasks/get", params)
	if err != nil {
		return nil, err
	}

	return decodeTask(result)
}

// ListTasks retrieves tasks via tasks/list.
func (c *Client) ListTasks(ctx context.Context, params types.TaskListParams) (*types.TaskList, error) {
	c.logger.Debug("listing tasks", zap.String("method", "tasks/list"))

	result, err := c.call(ctx, "tasks/list", params)
	if err != nil {
		return nil, err
	}

	var list types.TaskList
	if err := json.Unmarshal(result, &list); err != nil {
		return nil, fmt.Errorf("failed to decode task list: %w", err)
	}
	return &list, nil
}

// CancelTask cancels a task via tasks/cancel.
func (c *Client) CancelTask(ctx context.Context, params types.TaskIdParams) (*types.Task, error) {
	c.logger.Debug("cancelling task", zap.String("method", "tasks/cancel"), zap.String("task_id", params.ID))

	result, err := c.call(ctx, "tasks/cancel", params)
	if err != nil {
		c.logger.Error("failed to cancel task", zap.Error(err), zap.String("task_id", params.ID))
		return nil, err
	}

	return decodeTask(result)
}

// SetPushNotification registers a webhook for task updates via
// tasks/pushNotificationConfig/set.
func (c *Client) SetPushNotification(ctx context.Context, config types.TaskPushNotificationConfig) error {
	c.logger.Debug("registering push notification",
		zap.String("method", "tasks/pushNotificationConfig/set"),
		zap.String("task_id", config.TaskID),
		zap.String("webhook_url", config.PushNotificationConfig.URL))

	_, err := c.call(ctx, "tasks/pushNotificationConfig/set", config)
	return err
}

// SubscribeTask opens an SSE stream via tasks/resubscribe and relays each
// event's result payload to the channel until the stream ends or ctx is
// canceled.
func (c *Client) SubscribeTask(ctx context.Context, taskID string, events chan<- json.RawMessage) error {
	c.logger.Debug("subscribing to task updates",
		zap.String("method", "tasks/resubscribe"),
		zap.String("task_id", taskID))

	req, err := newRequest("tasks/resubscribe", types.TaskIdParams{ID: taskID})
	if err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(), bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to open update stream: %w", err)
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close stream body", zap.Error(closeErr))
		}
	}()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", httpResp.StatusCode)
	}

	scanner := bufio.NewScanner(httpResp.Body)
	eventCount := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			c.logger.Debug("subscription context canceled", zap.Int("events_received", eventCount))
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		if strings.TrimSpace(line) == "data: [DONE]" {
			c.logger.Debug("update stream completed", zap.Int("events_received", eventCount))
			return nil
		}

		jsonData := strings.TrimPrefix(line, "data: ")

		var event types.JSONRPCResponse
		if err := json.Unmarshal([]byte(jsonData), &event); err != nil {
			return fmt.Errorf("failed to decode stream event: %w", err)
		}
		if event.Error != nil {
			return fmt.Errorf("agent error on update stream: %s (code: %d)", event.Error.Message, event.Error.Code)
		}

		eventCount++
		select {
		case events <- event.Result:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("update stream read failed: %w", err)
	}

	c.logger.Debug("update stream closed by agent", zap.String("task_id", taskID), zap.Int("events_received", eventCount))
	return nil
}

// GetHealth retrieves the health status of the agent via HTTP GET to /health.
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	healthURL := c.config.BaseURL + "/health"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create health request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close health response body", zap.Error(closeErr))
		}
	}()

	if httpResp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("unexpected status code for health check: %d, body: %s", httpResp.StatusCode, string(bodyBytes))
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&healthResp); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}

	if healthResp.Status == "" {
		return nil, fmt.Errorf("health response missing status field")
	}

	return &healthResp, nil
}

// GetBaseURL returns the base URL of the client.
func (c *Client) GetBaseURL() string {
	return c.config.BaseURL
}

// SetHTTPClient allows customizing the HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
	c.config.HTTPClient = client
}

// call performs a single JSON-RPC method call and returns the raw result.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req, err := newRequest(method, params)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var httpResp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(), bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.setHeaders(httpReq)

		httpResp, err = c.httpClient.Do(httpReq)
		if err == nil {
			break
		}
		lastErr = err
		c.logger.Warn("request failed",
			zap.String("method", method),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < c.config.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt+1)):
			}
		}
	}

	if httpResp == nil {
		return nil, fmt.Errorf("failed to send request after %d attempts: %w", c.config.MaxRetries+1, lastErr)
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close response body", zap.Error(closeErr))
		}
	}()

	if httpResp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", httpResp.StatusCode, string(bodyBytes))
	}

	var resp types.JSONRPCResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("agent error: %s (code: %d)", resp.Error.Message, resp.Error.Code)
	}

	return resp.Result, nil
}

// setHeaders sets the common headers for HTTP requests.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}
}

// newRequest builds a JSON-RPC request envelope with params flattened to a map.
func newRequest(method string, params any) (types.JSONRPCRequest, error) {
	req := types.JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
	}

	paramsBytes, err := json.Marshal(params)
	if err != nil {
		return req, fmt.Errorf("failed to marshal params: %w", err)
	}

	var paramsMap map[string]any
	if err := json.Unmarshal(paramsBytes, &paramsMap); err != nil {
		return req, fmt.Errorf("failed to unmarshal params to map: %w", err)
	}
	req.Params = paramsMap

	return req, nil
}

// decodeTask decodes a JSON-RPC result into a Task.
func decodeTask(result json.RawMessage) (*types.Task, error) {
	if len(result) == 0 {
		return nil, fmt.Errorf("empty result")
	}

	var task types.Task
	if err := json.Unmarshal(result, &task); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	if task.ID == "" {
		return nil, fmt.Errorf("result is not a task")
	}
	return &task, nil
}
