package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all frontend configuration.
type Config struct {
	AgentURL      string              `env:"AGENT_URL,default=http://localhost:8080" description:"Base URL of the remote A2A agent"`
	ExternalURL   string              `env:"EXTERNAL_URL,default=http://localhost:3000" description:"Public base URL of this frontend, used to build the webhook callback address"`
	Debug         bool                `env:"DEBUG,default=false"`
	HistoryLength int                 `env:"HISTORY_LENGTH,default=50" description:"Number of history messages requested from the agent per read"`
	SettleDelay   time.Duration       `env:"SETTLE_DELAY,default=500ms" description:"Wait after submission before redirecting, reduces read-after-write races against the agent's store"`
	Streaming     StreamingConfig     `env:",prefix=STREAMING_"`
	Webhook       WebhookConfig       `env:",prefix=WEBHOOK_"`
	Retry         RetryConfig         `env:",prefix=RETRY_"`
	Notifications NotificationsConfig `env:",prefix=NOTIFICATIONS_"`
	Attachments   AttachmentsConfig   `env:",prefix=ATTACHMENTS_"`
	Server        ServerConfig        `env:",prefix=SERVER_"`
	Telemetry     TelemetryConfig     `env:",prefix=TELEMETRY_"`
}

// StreamingConfig selects the live update transport.
type StreamingConfig struct {
	Enabled bool `env:"ENABLED,default=true" description:"Expose the per-task SSE stream backed by the agent subscription"`
}

// WebhookConfig holds inbound push notification configuration.
type WebhookConfig struct {
	Secret string `env:"SECRET" description:"Pre-shared bearer token for inbound webhooks; generated at startup when empty"`
	Path   string `env:"PATH,default=/webhook/push-notification" description:"Receiver path registered with the agent"`
}

// RetryConfig bounds the read path's retry against the eventually
// consistent agent store.
type RetryConfig struct {
	MaxAttempts int           `env:"MAX_ATTEMPTS,default=3" description:"Fetch attempts before degrading to an empty history"`
	Delay       time.Duration `env:"DELAY,default=200ms" description:"Fixed delay between fetch attempts"`
}

// NotificationsConfig holds the received-notification store configuration.
type NotificationsConfig struct {
	Provider   string            `env:"PROVIDER,default=memory" description:"Notification store provider (memory, redis)"`
	URL        string            `env:"URL" description:"Connection URL for the redis provider"`
	MaxPerTask int               `env:"MAX_PER_TASK,default=50" description:"Received notifications retained per task"`
	Options    map[string]string `env:"OPTIONS" description:"Provider-specific options"`
}

// AttachmentsConfig holds upload handling configuration.
type AttachmentsConfig struct {
	InlineMaxBytes int64         `env:"INLINE_MAX_BYTES,default=262144" description:"Uploads up to this size travel inline as base64; larger ones are stored and referenced by URI"`
	Provider       string        `env:"PROVIDER,default=filesystem" description:"Attachment storage provider (filesystem, minio)"`
	BasePath       string        `env:"BASE_PATH,default=./attachments" description:"Base path for filesystem storage"`
	BaseURL        string        `env:"BASE_URL" description:"Base URL for serving attachments; defaults to the frontend's external URL"`
	Endpoint       string        `env:"ENDPOINT" description:"Object storage endpoint (minio)"`
	AccessKey      string        `env:"ACCESS_KEY" description:"Object storage access key"`
	SecretKey      string        `env:"SECRET_KEY" description:"Object storage secret key"`
	BucketName     string        `env:"BUCKET_NAME,default=attachments" description:"Object storage bucket name"`
	UseSSL         bool          `env:"USE_SSL,default=true" description:"Use SSL for object storage connections"`
	MaxUploadBytes int64         `env:"MAX_UPLOAD_BYTES,default=10485760" description:"Hard cap on a single upload"`
	Timeout        time.Duration `env:"TIMEOUT,default=30s" description:"Storage operation timeout"`
}

// TLSConfig holds TLS configuration.
type TLSConfig struct {
	Enable   bool   `env:"ENABLE,default=false"`
	CertPath string `env:"CERT_PATH" description:"TLS certificate path"`
	KeyPath  string `env:"KEY_PATH" description:"TLS key path"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port                  string        `env:"PORT,default=3000" description:"HTTP server port"`
	ReadTimeout           time.Duration `env:"READ_TIMEOUT,default=120s" description:"HTTP server read timeout"`
	WriteTimeout          time.Duration `env:"WRITE_TIMEOUT,default=0" description:"HTTP server write timeout; zero keeps SSE connections open"`
	IdleTimeout           time.Duration `env:"IDLE_TIMEOUT,default=120s" description:"HTTP server idle timeout"`
	DisableHealthcheckLog bool          `env:"DISABLE_HEALTHCHECK_LOG,default=true" description:"Disable logging for health check requests"`
	TLS                   TLSConfig     `env:",prefix=TLS_"`
}

// MetricsConfig holds metrics server configuration.
type MetricsConfig struct {
	Port         string        `env:"PORT,default=9090" description:"Metrics server port"`
	Host         string        `env:"HOST,default=" description:"Metrics server host (empty for all interfaces)"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=30s" description:"Metrics server read timeout"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=30s" description:"Metrics server write timeout"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=60s" description:"Metrics server idle timeout"`
}

// TelemetryConfig holds telemetry configuration.
type TelemetryConfig struct {
	Enable  bool          `env:"ENABLE,default=false" description:"Enable telemetry collection"`
	Metrics MetricsConfig `env:",prefix=METRICS_"`
}

// Load loads configuration from environment variables, merging with the
// provided base config.
func Load(ctx context.Context, baseConfig *Config) (*Config, error) {
	return LoadWithLookuper(ctx, baseConfig, envconfig.OsLookuper())
}

// LoadWithLookuper loads configuration using a custom lookuper and merges
// with the provided base config.
func LoadWithLookuper(ctx context.Context, baseConfig *Config, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config

	if baseConfig != nil {
		cfg = *baseConfig
	}

	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	})
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate validates the configuration and applies corrections for invalid
// values.
func (c *Config) Validate() error {
	if c.AgentURL == "" {
		return fmt.Errorf("agent URL must not be empty")
	}

	if c.Retry.MaxAttempts < 1 {
		c.Retry.MaxAttempts = 1
	}
	if c.Retry.Delay < 0 {
		c.Retry.Delay = 0
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.HistoryLength < 1 {
		c.HistoryLength = 1
	}

	if c.Notifications.Provider == "redis" && c.Notifications.URL == "" {
		return fmt.Errorf("notifications provider redis requires NOTIFICATIONS_URL")
	}

	if c.Attachments.BaseURL == "" {
		c.Attachments.BaseURL = c.ExternalURL
	}

	return nil
}

// WebhookURL returns the absolute callback URL registered with the agent.
func (c *Config) WebhookURL() string {
	return c.ExternalURL + c.Webhook.Path
}
