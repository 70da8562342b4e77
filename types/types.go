package types

import "time"

// Role identifies the sender of a message.
type Role string

// Role enum values
const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// TaskState represents the lifecycle state of a task. The set of states is
// owned by the remote agent; this frontend only relays them.
type TaskState string

// TaskState enum values
const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateCanceled      TaskState = "canceled"
	TaskStateFailed        TaskState = "failed"
	TaskStateUnknown       TaskState = "unknown"
)

// FileContent carries file data for a file part. Exactly one of Bytes
// (base64-encoded payload) or URI must be set.
type FileContent struct {
	Name     *string `json:"name,omitempty"`
	MimeType *string `json:"mimeType,omitempty"`
	Bytes    *string `json:"bytes,omitempty"`
	URI      *string `json:"uri,omitempty"`
}

// Part is one unit of message content: a text segment, a file, or a
// structured data blob. Kind discriminates the variant.
type Part struct {
	Kind     string         `json:"kind"`
	Text     *string        `json:"text,omitempty"`
	File     *FileContent   `json:"file,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Part kind discriminator values
const (
	PartKindText = "text"
	PartKindFile = "file"
	PartKindData = "data"
)

// Message is one unit of communication between the user and the agent,
// always owned by exactly one task.
type Message struct {
	Kind      string         `json:"kind"`
	MessageID string         `json:"messageId"`
	Role      Role           `json:"role"`
	Parts     []Part         `json:"parts"`
	TaskID    *string        `json:"taskId,omitempty"`
	ContextID *string        `json:"contextId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskStatus is a container for the state of a task at a point in time.
type TaskStatus struct {
	State     TaskState  `json:"state"`
	Message   *Message   `json:"message,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Task is the core unit of conversation with the remote agent. Turns are
// stored in History in delivery order.
type Task struct {
	Kind      string         `json:"kind"`
	ID        string         `json:"id"`
	ContextID string         `json:"contextId"`
	Status    TaskStatus     `json:"status"`
	History   []Message      `json:"history,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskStatusUpdateEvent notifies the client of a change in a task's status.
// It arrives both on the streaming subscription and on the webhook receiver.
type TaskStatusUpdateEvent struct {
	Kind      string         `json:"kind"`
	TaskID    string         `json:"taskId"`
	ContextID string         `json:"contextId"`
	Status    TaskStatus     `json:"status"`
	Final     bool           `json:"final"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AuthenticationInfo defines authentication details for push notifications.
type AuthenticationInfo struct {
	Schemes     []string `json:"schemes"`
	Credentials *string  `json:"credentials,omitempty"`
}

// PushNotificationConfig describes where and how the remote agent should
// deliver task update callbacks.
type PushNotificationConfig struct {
	ID             *string             `json:"id,omitempty"`
	URL            string              `json:"url"`
	Token          *string             `json:"token,omitempty"`
	Authentication *AuthenticationInfo `json:"authentication,omitempty"`
}

// TaskPushNotificationConfig associates a push notification configuration
// with a specific task.
type TaskPushNotificationConfig struct {
	TaskID                 string                 `json:"taskId"`
	PushNotificationConfig PushNotificationConfig `json:"pushNotificationConfig"`
}

// MessageSendParams are the parameters for the message/send method.
type MessageSendParams struct {
	Message       Message                   `json:"message"`
	Configuration *SendMessageConfiguration `json:"configuration,omitempty"`
	Metadata      map[string]any            `json:"metadata,omitempty"`
}

// SendMessageConfiguration tunes a message/send request.
type SendMessageConfiguration struct {
	AcceptedOutputModes    []string                `json:"acceptedOutputModes,omitempty"`
	Blocking               *bool                   `json:"blocking,omitempty"`
	HistoryLength          *int                    `json:"historyLength,omitempty"`
	PushNotificationConfig *PushNotificationConfig `json:"pushNotificationConfig,omitempty"`
}

// TaskQueryParams are the parameters for the tasks/get method.
type TaskQueryParams struct {
	ID            string `json:"id"`
	HistoryLength *int   `json:"historyLength,omitempty"`
}

// TaskIdParams are the parameters for methods addressing a task by id.
type TaskIdParams struct {
	ID string `json:"id"`
}

// TaskListParams are the parameters for the tasks/list method.
type TaskListParams struct {
	Status   *TaskState `json:"status,omitempty"`
	PageSize *int       `json:"pageSize,omitempty"`
}

// TaskList is the result of the tasks/list method.
type TaskList struct {
	Tasks     []Task `json:"tasks"`
	TotalSize int    `json:"totalSize"`
}

// Health status constants
const (
	HealthStatusHealthy   = "healthy"
	HealthStatusDegraded  = "degraded"
	HealthStatusUnhealthy = "unhealthy"
)
