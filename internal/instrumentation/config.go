package instrumentation

import (
	"fmt"
	"slices"
)

// Exporter names accepted by Config.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

// DefaultServiceName identifies the assistant in exported telemetry.
const DefaultServiceName = "inboxagent"

// DefaultTraceSampleRate is the parent-based ratio used when tracing is on.
const DefaultTraceSampleRate = 0.1

var (
	metricsExporters = []string{ExporterPrometheus, ExporterOTLP, ExporterStdout}
	tracingExporters = []string{ExporterOTLP, ExporterStdout, ExporterNone}
)

// Config selects where the assistant's metrics and spans go. The serve
// command fills it from flags and environment variables; resource
// attributes beyond the service name come from OTEL_RESOURCE_ATTRIBUTES.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// Enabled false turns every recorder and tracer into a no-op.
	Enabled bool

	MetricsExporter string
	TracingExporter string

	// OTLPEndpoint is host:port without a scheme. Required by either OTLP
	// exporter.
	OTLPEndpoint string
	// OTLPInsecure sends OTLP over plain HTTP. Local collectors only.
	OTLPInsecure bool

	TraceSampleRate float64

	// DetailedLabels adds anonymized user hashes to tool metrics.
	DetailedLabels bool

	AuditLogging AuditLoggingConfig
}

// AuditLoggingConfig controls the audit trail of tool calls and sign-ins.
type AuditLoggingConfig struct {
	Enabled bool
	// IncludePII logs raw user ids next to their hashes.
	IncludePII bool
}

// Defaults fills unset fields. Enabled and the audit switches are left as
// given.
func (c Config) Defaults() Config {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "unknown"
	}
	if c.MetricsExporter == "" {
		c.MetricsExporter = ExporterPrometheus
	}
	if c.TracingExporter == "" {
		c.TracingExporter = ExporterNone
	}
	return c
}

// Validate reports the first setting NewProvider would reject.
func (c Config) Validate() error {
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("trace sample rate must be between 0 and 1, got %g", c.TraceSampleRate)
	}
	if c.MetricsExporter != "" && !slices.Contains(metricsExporters, c.MetricsExporter) {
		return fmt.Errorf("unsupported metrics exporter %q (supported: %v)", c.MetricsExporter, metricsExporters)
	}
	if c.TracingExporter != "" && !slices.Contains(tracingExporters, c.TracingExporter) {
		return fmt.Errorf("unsupported tracing exporter %q (supported: %v)", c.TracingExporter, tracingExporters)
	}
	if c.OTLPEndpoint == "" && (c.MetricsExporter == ExporterOTLP || c.TracingExporter == ExporterOTLP) {
		return fmt.Errorf("an OTLP endpoint is required by the otlp exporter")
	}
	return nil
}

// Metric label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"

	GateProceed   = "proceed"
	GateNeedsAuth = "needs_auth"

	TokenEventIssued   = "issued"
	TokenEventConsumed = "consumed"
	TokenEventReplay   = "replay_rejected"
	TokenEventNotFound = "not_found"

	CallbackResultSuccess          = "success"
	CallbackResultMalformed        = "state_malformed"
	CallbackResultDenied           = "denied"
	CallbackResultNotFound         = "token_not_found"
	CallbackResultAlreadyUsed      = "token_already_used"
	CallbackResultExchangeFailed   = "exchange_failed"
	CallbackResultStoreFailed      = "store_failed"
	CallbackResultTokenStoreFailed = "token_store_failed"

	ServiceGmail    = "gmail"
	ServiceCalendar = "calendar"
	ServiceGoogle   = "google-generic"
)
