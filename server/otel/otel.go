package otel

import (
	"context"
	"fmt"

	config "github.com/chatbridge/chatbridge/server/config"
	otel "go.opentelemetry.io/otel"
	attribute "go.opentelemetry.io/otel/attribute"
	prometheus "go.opentelemetry.io/otel/exporters/prometheus"
	metric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	resource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
	zap "go.uber.org/zap"
)

const (
	serviceName    = "chatbridge"
	serviceVersion = "1.0.0"
)

// OpenTelemetry defines the telemetry operations for the frontend.
type OpenTelemetry interface {
	// RecordSubmission counts a gateway submission (kind: chat, expense).
	RecordSubmission(ctx context.Context, kind string, success bool)

	// RecordFetch records one retry-fetch completion with the number of
	// attempts it took and whether the task became visible.
	RecordFetch(ctx context.Context, attempts int, found bool)

	// RecordWebhookRegistration counts the best-effort push registration
	// outcome after a submission.
	RecordWebhookRegistration(ctx context.Context, success bool)

	// RecordNotification counts an authenticated inbound push notification.
	RecordNotification(ctx context.Context, state string)

	// RecordStreamOpened / RecordStreamClosed track live SSE connections.
	RecordStreamOpened(ctx context.Context)
	RecordStreamClosed(ctx context.Context, reason string)

	// RecordRequestDuration records request latency per route.
	RecordRequestDuration(ctx context.Context, method, path string, statusCode int, durationMs float64)

	// ShutDown flushes and stops the telemetry pipeline.
	ShutDown(ctx context.Context) error
}

type OpenTelemetryImpl struct {
	logger        *zap.Logger
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter

	submissionCounter        metric.Int64Counter
	fetchAttemptsHistogram   metric.Int64Histogram
	webhookRegCounter        metric.Int64Counter
	notificationCounter      metric.Int64Counter
	streamOpenedCounter      metric.Int64Counter
	streamClosedCounter      metric.Int64Counter
	requestDurationHistogram metric.Float64Histogram
}

var _ OpenTelemetry = (*OpenTelemetryImpl)(nil)

// NewOpenTelemetry creates the telemetry implementation backed by the
// prometheus exporter.
func NewOpenTelemetry(cfg *config.Config, logger *zap.Logger) (OpenTelemetry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	o := &OpenTelemetryImpl{logger: logger}
	if err := o.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize opentelemetry: %w", err)
	}
	return o, nil
}

func (o *OpenTelemetryImpl) initialize() error {
	exporter, err := prometheus.New()
	if err != nil {
		o.logger.Error("failed to create prometheus exporter", zap.Error(err))
		return err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	)

	o.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(o.meterProvider)
	o.meter = o.meterProvider.Meter(serviceName)

	if o.submissionCounter, err = o.meter.Int64Counter(
		"chatbridge_submissions_total",
		metric.WithDescription("Message submissions through the gateway"),
	); err != nil {
		return err
	}

	if o.fetchAttemptsHistogram, err = o.meter.Int64Histogram(
		"chatbridge_fetch_attempts",
		metric.WithDescription("Attempts used per retry-aware task fetch"),
	); err != nil {
		return err
	}

	if o.webhookRegCounter, err = o.meter.Int64Counter(
		"chatbridge_webhook_registrations_total",
		metric.WithDescription("Best-effort push notification registrations"),
	); err != nil {
		return err
	}

	if o.notificationCounter, err = o.meter.Int64Counter(
		"chatbridge_notifications_received_total",
		metric.WithDescription("Authenticated inbound push notifications"),
	); err != nil {
		return err
	}

	if o.streamOpenedCounter, err = o.meter.Int64Counter(
		"chatbridge_streams_opened_total",
		metric.WithDescription("SSE stream connections opened"),
	); err != nil {
		return err
	}

	if o.streamClosedCounter, err = o.meter.Int64Counter(
		"chatbridge_streams_closed_total",
		metric.WithDescription("SSE stream connections closed"),
	); err != nil {
		return err
	}

	if o.requestDurationHistogram, err = o.meter.Float64Histogram(
		"chatbridge_request_duration_ms",
		metric.WithDescription("Request latency in milliseconds"),
	); err != nil {
		return err
	}

	o.logger.Info("opentelemetry initialized", zap.String("service", serviceName))
	return nil
}

func (o *OpenTelemetryImpl) RecordSubmission(ctx context.Context, kind string, success bool) {
	o.submissionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
	))
}

func (o *OpenTelemetryImpl) RecordFetch(ctx context.Context, attempts int, found bool) {
	o.fetchAttemptsHistogram.Record(ctx, int64(attempts), metric.WithAttributes(
		attribute.Bool("found", found),
	))
}

func (o *OpenTelemetryImpl) RecordWebhookRegistration(ctx context.Context, success bool) {
	o.webhookRegCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

func (o *OpenTelemetryImpl) RecordNotification(ctx context.Context, state string) {
	o.notificationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", state),
	))
}

func (o *OpenTelemetryImpl) RecordStreamOpened(ctx context.Context) {
	o.streamOpenedCounter.Add(ctx, 1)
}

func (o *OpenTelemetryImpl) RecordStreamClosed(ctx context.Context, reason string) {
	o.streamClosedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

func (o *OpenTelemetryImpl) RecordRequestDuration(ctx context.Context, method, path string, statusCode int, durationMs float64) {
	o.requestDurationHistogram.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status_code", statusCode),
	))
}

// ShutDown stops the meter provider, flushing pending metrics.
func (o *OpenTelemetryImpl) ShutDown(ctx context.Context) error {
	if o.meterProvider == nil {
		return nil
	}
	return o.meterProvider.Shutdown(ctx)
}

// Noop is a no-op telemetry implementation used when telemetry is disabled.
type Noop struct{}

var _ OpenTelemetry = (*Noop)(nil)

func (Noop) RecordSubmission(context.Context, string, bool)                    {}
func (Noop) RecordFetch(context.Context, int, bool)                            {}
func (Noop) RecordWebhookRegistration(context.Context, bool)                   {}
func (Noop) RecordNotification(context.Context, string)                        {}
func (Noop) RecordStreamOpened(context.Context)                                {}
func (Noop) RecordStreamClosed(context.Context, string)                        {}
func (Noop) RecordRequestDuration(context.Context, string, string, int, float64) {}
func (Noop) ShutDown(context.Context) error                                    { return nil }
