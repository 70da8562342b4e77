package server

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/chatbridge/chatbridge/server/config"
	"go.uber.org/zap"
)

// AttachmentStore holds uploads too large to carry inline inside a message.
// Stored files are referenced from file parts by URI instead of bytes.
type AttachmentStore interface {
	// Store persists an upload under the given id and returns a URL the
	// agent can fetch it from.
	Store(ctx context.Context, id, filename string, content io.Reader) (string, error)

	// Retrieve opens a previously stored upload. The caller closes the
	// returned reader.
	Retrieve(ctx context.Context, id, filename string) (io.ReadCloser, error)

	// Close releases backend resources.
	Close() error
}

// NewAttachmentStore creates the store selected by configuration.
func NewAttachmentStore(ctx context.Context, cfg config.AttachmentsConfig, logger *zap.Logger) (AttachmentStore, error) {
	switch cfg.Provider {
	case "", "filesystem":
		return NewFilesystemAttachmentStore(cfg, logger)
	case "minio":
		return NewMinioAttachmentStore(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown attachment store provider: %s", cfg.Provider)
	}
}

// sanitizeFilename strips any path components from a client-supplied
// filename so stored objects cannot escape their attachment prefix.
func sanitizeFilename(filename string) string {
	cleaned := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if cleaned == "." || cleaned == ".." || cleaned == "/" || cleaned == "" {
		return "upload"
	}
	return cleaned
}

// attachmentObjectName builds the backend key for one stored upload.
func attachmentObjectName(id, filename string) string {
	return id + "/" + sanitizeFilename(filename)
}
