// Package instrumentation provides OpenTelemetry instrumentation for inboxagent.
//
// This package enables observability through:
//   - OpenTelemetry metrics for HTTP requests, classification, gating and the OAuth flow
//   - Distributed tracing for request flows and Google API calls
//   - Prometheus metrics export via /metrics endpoint on a dedicated port
//   - OTLP export support
//   - Audit logging of auth token and tool events with anonymized user ids
//
// # Metrics
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, path, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//
// Assistant Metrics:
//   - task_classifications_total: Counter by task_type and source
//   - auth_gate_decisions_total: Counter by service and decision
//   - model_completion_duration_seconds: Histogram of completion calls by status
//
// Authorization Flow Metrics:
//   - auth_tokens_total: Counter of token lifecycle events (issued, consumed, replay_rejected, not_found)
//   - oauth_callbacks_total: Counter of callbacks by terminal result
//   - code_exchange_duration_seconds: Histogram of code exchange calls
//
// Google API and MCP Tool Metrics:
//   - google_api_operations_total, google_api_operation_duration_seconds
//   - mcp_tool_invocations_total, mcp_tool_duration_seconds
//
// # Configuration
//
// The serve command fills Config from its flags, each of which also reads
// an environment variable (METRICS_EXPORTER, TRACING_EXPORTER,
// OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_TRACES_SAMPLER_ARG and friends).
// Deployment metadata such as the Kubernetes namespace is taken from
// OTEL_RESOURCE_ATTRIBUTES.
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.Config{Enabled: true}, logger)
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	provider.Metrics().RecordClassification(ctx, "email", "model")
package instrumentation
