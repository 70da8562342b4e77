package server

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chatbridge/chatbridge/server/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinioAttachmentStore keeps uploads in a MinIO/S3 bucket so every frontend
// replica and the remote agent see the same attachment URLs.
type MinioAttachmentStore struct {
	client     *minio.Client
	bucketName string
	baseURL    string
	logger     *zap.Logger
}

var _ AttachmentStore = (*MinioAttachmentStore)(nil)

// NewMinioAttachmentStore connects to the configured endpoint and creates
// the bucket if it does not exist.
func NewMinioAttachmentStore(ctx context.Context, cfg config.AttachmentsConfig, logger *zap.Logger) (*MinioAttachmentStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	logger.Info("connected to minio attachment store",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("bucket", cfg.BucketName))

	return &MinioAttachmentStore{
		client:     client,
		bucketName: cfg.BucketName,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:     logger,
	}, nil
}

func (s *MinioAttachmentStore) Store(ctx context.Context, id, filename string, content io.Reader) (string, error) {
	objectName := attachmentObjectName(id, filename)

	info, err := s.client.PutObject(ctx, s.bucketName, objectName, content, -1, minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to store attachment in MinIO: %w", err)
	}

	s.logger.Debug("stored attachment in minio",
		zap.String("attachment_id", id),
		zap.String("object", objectName),
		zap.Int64("size_bytes", info.Size))

	return fmt.Sprintf("%s/attachments/%s", s.baseURL, objectName), nil
}

func (s *MinioAttachmentStore) Retrieve(ctx context.Context, id, filename string) (io.ReadCloser, error) {
	objectName := attachmentObjectName(id, filename)
	object, err := s.client.GetObject(ctx, s.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve attachment from MinIO: %w", err)
	}
	return object, nil
}

func (s *MinioAttachmentStore) Close() error {
	return nil
}
