package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/inboxagent/internal/logging"
)

// ToolInvocation captures all information about a tool invocation for audit logging.
//
// # Privacy Considerations
//
// UserID is the caller supplied identifier. Unless the audit logger is
// configured with IncludePII, only its hash is written.
type ToolInvocation struct {
	Tool     string
	UserID   string
	TaskType string

	// Execution details
	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	// Tracing context
	TraceID string
	SpanID  string
}

// NewToolInvocation creates a new ToolInvocation with timing started.
// Call Complete() when the tool operation finishes.
func NewToolInvocation(tool string) *ToolInvocation {
	return &ToolInvocation{
		Tool:      tool,
		StartTime: time.Now(),
	}
}

// WithUser sets the caller identity.
func (ti *ToolInvocation) WithUser(userID string) *ToolInvocation {
	ti.UserID = userID
	return ti
}

// WithTaskType sets the classified task type.
func (ti *ToolInvocation) WithTaskType(taskType string) *ToolInvocation {
	ti.TaskType = taskType
	return ti
}

// WithSpanContext extracts trace context from the current span.
func (ti *ToolInvocation) WithSpanContext(ctx context.Context) *ToolInvocation {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		ti.TraceID = span.SpanContext().TraceID().String()
		ti.SpanID = span.SpanContext().SpanID().String()
	}
	return ti
}

// Complete marks the invocation as completed and calculates duration.
func (ti *ToolInvocation) Complete(success bool, err error) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Success = success
	if err != nil {
		ti.Error = err.Error()
	}
	return ti
}

// Status returns "success" or "error" based on the Success field.
func (ti *ToolInvocation) Status() string {
	if ti.Success {
		return StatusSuccess
	}
	return StatusError
}

func (ti *ToolInvocation) logAttrs(includePII bool) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("tool", ti.Tool),
		slog.Duration("duration", ti.Duration),
		slog.Bool("success", ti.Success),
	}
	attrs = append(attrs, userAttrs(ti.UserID, includePII)...)

	if ti.TaskType != "" {
		attrs = append(attrs, slog.String("task_type", ti.TaskType))
	}
	if ti.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ti.TraceID))
	}
	if ti.SpanID != "" && includePII {
		attrs = append(attrs, slog.String("span_id", ti.SpanID))
	}
	if ti.Error != "" {
		attrs = append(attrs, slog.String("error", ti.Error))
	}
	return attrs
}

// AuthEvent is one auditable step of the authorization lifecycle.
type AuthEvent struct {
	// Event is one of the TokenEvent constants or a callback result.
	Event   string
	Phase   string
	UserID  string
	Service string
	Success bool
	Error   string
	TraceID string
}

func (ae *AuthEvent) logAttrs(includePII bool) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("event", ae.Event),
		slog.Bool("success", ae.Success),
	}
	attrs = append(attrs, userAttrs(ae.UserID, includePII)...)

	if ae.Phase != "" {
		attrs = append(attrs, slog.String("phase", ae.Phase))
	}
	if ae.Service != "" {
		attrs = append(attrs, slog.String("service", ae.Service))
	}
	if ae.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ae.TraceID))
	}
	if ae.Error != "" {
		attrs = append(attrs, slog.String("error", ae.Error))
	}
	return attrs
}

func userAttrs(userID string, includePII bool) []slog.Attr {
	if userID == "" {
		return nil
	}
	if includePII {
		return []slog.Attr{slog.String("user", userID)}
	}
	return []slog.Attr{logging.UserHash(userID)}
}

// AuditLogger provides structured audit logging for tool invocations and
// authorization flow events. A nil AuditLogger discards everything.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates a new AuditLogger with the given slog.Logger.
// By default, PII is not included in logs (anonymized identifiers are used instead).
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true})
}

// NewAuditLoggerWithConfig creates a new AuditLogger with the given configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger.With(slog.String("component", "audit")),
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogToolInvocation logs a completed tool invocation.
func (al *AuditLogger) LogToolInvocation(ti *ToolInvocation) {
	if al == nil || !al.enabled || ti == nil {
		return
	}

	args := attrsToArgs(ti.logAttrs(al.includePII))
	if ti.Success {
		al.logger.Info("tool_executed", args...)
	} else {
		al.logger.Warn("tool_failed", args...)
	}
}

// LogAuthEvent logs an authorization lifecycle event. Rejections such as
// replays are logged at warn level.
func (al *AuditLogger) LogAuthEvent(ctx context.Context, ev AuthEvent) {
	if al == nil || !al.enabled {
		return
	}
	if ev.TraceID == "" {
		ev.TraceID = GetTraceID(ctx)
	}

	args := attrsToArgs(ev.logAttrs(al.includePII))
	if ev.Success {
		al.logger.Info("auth_event", args...)
	} else {
		al.logger.Warn("auth_event", args...)
	}
}

func attrsToArgs(attrs []slog.Attr) []any {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return args
}
