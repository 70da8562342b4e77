package server

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateTaskID creates a unique task identifier for newly started
// conversations.
func GenerateTaskID() string {
	return "task-" + uuid.New().String()
}

// GenerateAttachmentID creates a unique identifier for an offloaded upload.
func GenerateAttachmentID() string {
	return uuid.New().String()
}

// GenerateWebhookSecret creates a bearer token for webhook authentication.
func GenerateWebhookSecret() string {
	return "wh_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}
