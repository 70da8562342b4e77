package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chatbridge/chatbridge/server/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisNotificationStore keeps per-task notification lists in Redis so
// several frontend replicas can serve the same recent-updates view.
type RedisNotificationStore struct {
	client     *redis.Client
	logger     *zap.Logger
	maxPerTask int
}

var _ NotificationStore = (*RedisNotificationStore)(nil)

// NewRedisNotificationStore connects to Redis using the configured URL and
// verifies connectivity before returning.
func NewRedisNotificationStore(ctx context.Context, cfg config.NotificationsConfig, logger *zap.Logger) (*RedisNotificationStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("connected to redis notification store", zap.String("addr", opts.Addr))
	return &RedisNotificationStore{
		client:     client,
		logger:     logger,
		maxPerTask: cfg.MaxPerTask,
	}, nil
}

func notificationKey(taskID string) string {
	return "chatbridge:notifications:" + taskID
}

func (s *RedisNotificationStore) Append(ctx context.Context, notification TaskNotification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	key := notificationKey(notification.TaskID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(s.maxPerTask-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}
	return nil
}

func (s *RedisNotificationStore) Recent(ctx context.Context, taskID string, limit int) ([]TaskNotification, error) {
	if limit <= 0 || limit > s.maxPerTask {
		limit = s.maxPerTask
	}

	// LPUSH keeps newest entries at the head, so a head range is already
	// newest first.
	values, err := s.client.LRange(ctx, notificationKey(taskID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read notifications: %w", err)
	}

	notifications := make([]TaskNotification, 0, len(values))
	for _, value := range values {
		var n TaskNotification
		if err := json.Unmarshal([]byte(value), &n); err != nil {
			s.logger.Warn("skipping malformed notification entry",
				zap.String("task_id", taskID), zap.Error(err))
			continue
		}
		notifications = append(notifications, n)
	}
	return notifications, nil
}

func (s *RedisNotificationStore) Close() error {
	return s.client.Close()
}
