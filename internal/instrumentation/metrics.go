package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrService   = "service"
	attrResult    = "result"
	attrTool      = "tool"
	attrTaskType  = "task_type"
	attrSource    = "source"
	attrDecision  = "decision"
	attrEvent     = "event"
	attrUser      = "user_hash"
)

// Metrics provides methods for recording observability metrics.
// A zero Metrics is a valid no-op recorder.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Assistant pipeline metrics
	classificationsTotal metric.Int64Counter
	gateDecisionsTotal   metric.Int64Counter
	modelDuration        metric.Float64Histogram

	// Auth flow metrics
	authTokensTotal      metric.Int64Counter
	oauthCallbacksTotal  metric.Int64Counter
	codeExchangeDuration metric.Float64Histogram

	// Google API metrics
	googleAPIOperationsTotal   metric.Int64Counter
	googleAPIOperationDuration metric.Float64Histogram

	// MCP Tool metrics
	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram

	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.classificationsTotal, err = meter.Int64Counter(
		"task_classifications_total",
		metric.WithDescription("Total number of classified requests by task type and deciding stage"),
		metric.WithUnit("{classification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task_classifications_total counter: %w", err)
	}

	m.gateDecisionsTotal, err = meter.Int64Counter(
		"auth_gate_decisions_total",
		metric.WithDescription("Total number of authorization gate decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth_gate_decisions_total counter: %w", err)
	}

	m.modelDuration, err = meter.Float64Histogram(
		"model_completion_duration_seconds",
		metric.WithDescription("Text completion call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create model_completion_duration_seconds histogram: %w", err)
	}

	m.authTokensTotal, err = meter.Int64Counter(
		"auth_tokens_total",
		metric.WithDescription("Total number of single-use auth token lifecycle events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth_tokens_total counter: %w", err)
	}

	m.oauthCallbacksTotal, err = meter.Int64Counter(
		"oauth_callbacks_total",
		metric.WithDescription("Total number of OAuth callbacks by result"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_callbacks_total counter: %w", err)
	}

	m.codeExchangeDuration, err = meter.Float64Histogram(
		"code_exchange_duration_seconds",
		metric.WithDescription("OAuth authorization code exchange duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code_exchange_duration_seconds histogram: %w", err)
	}

	m.googleAPIOperationsTotal, err = meter.Int64Counter(
		"google_api_operations_total",
		metric.WithDescription("Total number of Google API operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operations_total counter: %w", err)
	}

	m.googleAPIOperationDuration, err = meter.Float64Histogram(
		"google_api_operation_duration_seconds",
		metric.WithDescription("Google API operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operation_duration_seconds histogram: %w", err)
	}

	m.toolInvocationsTotal, err = meter.Int64Counter(
		"mcp_tool_invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_invocations_total counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		"mcp_tool_duration_seconds",
		metric.WithDescription("MCP tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordClassification records the final classification of one request.
// taskType and source must come from the classifier's closed sets.
func (m *Metrics) RecordClassification(ctx context.Context, taskType, source string) {
	if m == nil || m.classificationsTotal == nil {
		return
	}

	m.classificationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrTaskType, taskType),
		attribute.String(attrSource, source),
	))
}

// RecordGateDecision records an authorization gate outcome.
// Decision should be one of: "proceed", "needs_auth"
func (m *Metrics) RecordGateDecision(ctx context.Context, service, decision string) {
	if m == nil || m.gateDecisionsTotal == nil {
		return
	}

	m.gateDecisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrService, BoundedLabel(service, KnownServices...)),
		attribute.String(attrDecision, decision),
	))
}

// RecordModelCompletion records the duration and status of a text completion call.
func (m *Metrics) RecordModelCompletion(ctx context.Context, status string, duration time.Duration) {
	if m == nil || m.modelDuration == nil {
		return
	}

	m.modelDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(attrStatus, status),
	))
}

// RecordTokenEvent records a single-use token lifecycle event.
// Event should be one of the TokenEvent constants.
func (m *Metrics) RecordTokenEvent(ctx context.Context, event string) {
	if m == nil || m.authTokensTotal == nil {
		return
	}

	m.authTokensTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrEvent, event),
	))
}

// RecordOAuthCallback records an OAuth callback with its terminal result.
// Result should be one of the CallbackResult constants.
func (m *Metrics) RecordOAuthCallback(ctx context.Context, result string) {
	if m == nil || m.oauthCallbacksTotal == nil {
		return
	}

	m.oauthCallbacksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrResult, result),
	))
}

// RecordCodeExchange records the duration of an authorization code exchange.
func (m *Metrics) RecordCodeExchange(ctx context.Context, service, status string, duration time.Duration) {
	if m == nil || m.codeExchangeDuration == nil {
		return
	}

	m.codeExchangeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(attrService, BoundedLabel(service, KnownServices...)),
		attribute.String(attrStatus, status),
	))
}

// RecordGoogleAPIOperation records a Google API operation with service, operation,
// status, and duration.
//
// Parameters:
//   - service: Google service name (gmail, calendar)
//   - operation: Operation type (search, draft, create)
//   - status: Result status ("success" or "error")
//   - duration: Time taken for the operation
func (m *Metrics) RecordGoogleAPIOperation(ctx context.Context, service, operation, status string, duration time.Duration) {
	if m == nil || m.googleAPIOperationsTotal == nil || m.googleAPIOperationDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrService, service),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.googleAPIOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.googleAPIOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordToolInvocation records an MCP tool invocation with tool name, status, and duration.
// userHash is only attached when detailed labels are enabled.
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status, userHash string, duration time.Duration) {
	if m == nil || m.toolInvocationsTotal == nil || m.toolDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	}

	if m.detailedLabels && userHash != "" {
		attrs = append(attrs, attribute.String(attrUser, userHash))
	}

	m.toolInvocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
