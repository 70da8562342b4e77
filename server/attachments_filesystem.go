package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chatbridge/chatbridge/server/config"
	"go.uber.org/zap"
)

// FilesystemAttachmentStore keeps uploads on local disk. This is the
// default backend for single-instance deployments.
type FilesystemAttachmentStore struct {
	basePath string
	baseURL  string
	logger   *zap.Logger
}

var _ AttachmentStore = (*FilesystemAttachmentStore)(nil)

// NewFilesystemAttachmentStore creates the base directory if needed.
func NewFilesystemAttachmentStore(cfg config.AttachmentsConfig, logger *zap.Logger) (*FilesystemAttachmentStore, error) {
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attachment directory: %w", err)
	}

	return &FilesystemAttachmentStore{
		basePath: cfg.BasePath,
		baseURL:  cfg.BaseURL,
		logger:   logger,
	}, nil
}

func (s *FilesystemAttachmentStore) Store(_ context.Context, id, filename string, content io.Reader) (string, error) {
	name := sanitizeFilename(filename)
	dir := filepath.Join(s.basePath, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create attachment directory: %w", err)
	}

	target := filepath.Join(dir, name)
	file, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("failed to create attachment file: %w", err)
	}

	written, err := io.Copy(file, content)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(target)
		return "", fmt.Errorf("failed to write attachment: %w", err)
	}

	s.logger.Debug("stored attachment on filesystem",
		zap.String("attachment_id", id),
		zap.String("filename", name),
		zap.Int64("size_bytes", written))

	return fmt.Sprintf("%s/attachments/%s/%s", s.baseURL, id, name), nil
}

func (s *FilesystemAttachmentStore) Retrieve(_ context.Context, id, filename string) (io.ReadCloser, error) {
	target := filepath.Join(s.basePath, id, sanitizeFilename(filename))
	file, err := os.Open(target)
	if err != nil {
		return nil, fmt.Errorf("attachment not found: %w", err)
	}
	return file, nil
}

func (s *FilesystemAttachmentStore) Close() error {
	return nil
}
