package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ServerMetrics holds metric instruments for HTTP server telemetry.
// Initialize once at server startup and reuse throughout the application lifecycle.
type ServerMetrics struct {
	RequestCounter  metric.Int64Counter     // Total HTTP requests
	RequestDuration metric.Float64Histogram // HTTP request latency
	ErrorCounter    metric.Int64Counter     // Total HTTP errors (5xx)
}

// NewServerMetrics creates a new ServerMetrics instance with pre-configured instruments.
func NewServerMetrics() (*ServerMetrics, error) {
	meter := otel.Meter("stackdesk/http")

	requestCounter, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"http.server.error.count",
		metric.WithDescription("Total number of HTTP server errors (5xx)"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &ServerMetrics{
		RequestCounter:  requestCounter,
		RequestDuration: requestDuration,
		ErrorCounter:    errorCounter,
	}, nil
}

// RecordRequest records an HTTP request with method, route, status, and duration.
// Call this at the end of each request handler (typically in middleware).
func (m *ServerMetrics) RecordRequest(ctx context.Context, method, route, status string, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.String("http.status_code", status),
	)

	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, durationMs, attrs)

	if len(status) > 0 && status[0] == '5' {
		m.ErrorCounter.Add(ctx, 1, attrs)
	}
}

// TaskMetrics holds metric instruments for task stage execution.
type TaskMetrics struct {
	StageCounter  metric.Int64Counter     // Stage passes by task type, stage, outcome
	StageDuration metric.Float64Histogram // Stage pass latency
	TokenCounter  metric.Int64Counter     // Token mints and redemptions
}

// NewTaskMetrics creates metric instruments for task orchestration telemetry.
func NewTaskMetrics() (*TaskMetrics, error) {
	meter := otel.Meter("stackdesk/tasks")

	stageCounter, err := meter.Int64Counter(
		"task.stage.count",
		metric.WithDescription("Total number of task stage passes"),
		metric.WithUnit("{pass}"),
	)
	if err != nil {
		return nil, err
	}

	stageDuration, err := meter.Float64Histogram(
		"task.stage.duration",
		metric.WithDescription("Task stage pass duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return nil, err
	}

	tokenCounter, err := meter.Int64Counter(
		"task.token.count",
		metric.WithDescription("Total number of token operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	return &TaskMetrics{
		StageCounter:  stageCounter,
		StageDuration: stageDuration,
		TokenCounter:  tokenCounter,
	}, nil
}

// RecordStage records one stage pass over a task's actions.
func (m *TaskMetrics) RecordStage(ctx context.Context, taskType, stage string, success bool, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("task.type", taskType),
		attribute.String("task.stage", stage),
		attribute.Bool("task.stage.success", success),
	)
	m.StageCounter.Add(ctx, 1, attrs)
	m.StageDuration.Record(ctx, durationMs, attrs)
}

// RecordToken records a token lifecycle operation (mint, redeem, purge).
func (m *TaskMetrics) RecordToken(ctx context.Context, operation string, count int64) {
	if m == nil {
		return
	}
	m.TokenCounter.Add(ctx, count, metric.WithAttributes(
		attribute.String("token.operation", operation),
	))
}

// Common metric attribute keys for stackdesk services
const (
	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"

	AttrTaskType  = "task.type"
	AttrTaskStage = "task.stage"
	AttrTokenOp   = "token.operation"
)
