package instrumentation

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestProvider(t *testing.T, detailedLabels bool) *Provider {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := NewProvider(ctx, Config{
		ServiceName:     "test-service",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
		TracingExporter: ExporterNone,
		DetailedLabels:  detailedLabels,
	}, nil)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return provider
}

// scrape returns the prometheus exposition text of the provider.
func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	handler := p.PrometheusHandler()
	if handler == nil {
		t.Fatal("expected prometheus handler")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	provider := newTestProvider(t, false)
	ctx := context.Background()

	metrics := provider.Metrics()
	metrics.RecordHTTPRequest(ctx, "POST", "/chat", 200, 100*time.Millisecond)
	metrics.RecordHTTPRequest(ctx, "GET", "/auth/callback", 400, 50*time.Millisecond)

	out := scrape(t, provider)
	if !strings.Contains(out, "http_requests_total") {
		t.Errorf("expected http_requests_total in output")
	}
	if !strings.Contains(out, `path="/chat"`) {
		t.Errorf("expected path label in output")
	}
}

func TestMetrics_AssistantPipeline(t *testing.T) {
	provider := newTestProvider(t, false)
	ctx := context.Background()

	metrics := provider.Metrics()
	metrics.RecordClassification(ctx, "authentication", "keyword-override")
	metrics.RecordGateDecision(ctx, ServiceGmail, GateNeedsAuth)
	metrics.RecordGateDecision(ctx, "unexpected-service", GateProceed)
	metrics.RecordModelCompletion(ctx, StatusTimeout, 2*time.Second)

	out := scrape(t, provider)
	for _, want := range []string{
		"task_classifications_total",
		`source="keyword-override"`,
		"auth_gate_decisions_total",
		`decision="needs_auth"`,
		`service="other"`,
		"model_completion_duration_seconds",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestMetrics_AuthFlow(t *testing.T) {
	provider := newTestProvider(t, false)
	ctx := context.Background()

	metrics := provider.Metrics()
	metrics.RecordTokenEvent(ctx, TokenEventIssued)
	metrics.RecordTokenEvent(ctx, TokenEventReplay)
	metrics.RecordOAuthCallback(ctx, CallbackResultAlreadyUsed)
	metrics.RecordCodeExchange(ctx, ServiceCalendar, StatusSuccess, 300*time.Millisecond)

	out := scrape(t, provider)
	for _, want := range []string{
		`event="replay_rejected"`,
		`result="token_already_used"`,
		"code_exchange_duration_seconds",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestMetrics_RecordToolInvocation_DetailedLabels(t *testing.T) {
	ctx := context.Background()

	plain := newTestProvider(t, false)
	plain.Metrics().RecordToolInvocation(ctx, "assistant_chat", StatusSuccess, "user:abc", time.Millisecond)
	if strings.Contains(scrape(t, plain), "user:abc") {
		t.Error("user hash should be omitted without detailed labels")
	}

	detailed := newTestProvider(t, true)
	detailed.Metrics().RecordToolInvocation(ctx, "assistant_chat", StatusSuccess, "user:abc", time.Millisecond)
	if !strings.Contains(scrape(t, detailed), "user:abc") {
		t.Error("user hash should be present with detailed labels")
	}
}

func TestMetrics_NoOp_WhenDisabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	ctx := context.Background()
	metrics := provider.Metrics()

	// None of these should panic
	metrics.RecordHTTPRequest(ctx, "GET", "/chat", 200, time.Millisecond)
	metrics.RecordClassification(ctx, "email", "model")
	metrics.RecordGateDecision(ctx, ServiceGmail, GateProceed)
	metrics.RecordModelCompletion(ctx, StatusSuccess, time.Millisecond)
	metrics.RecordTokenEvent(ctx, TokenEventConsumed)
	metrics.RecordOAuthCallback(ctx, CallbackResultSuccess)
	metrics.RecordCodeExchange(ctx, ServiceGmail, StatusSuccess, time.Millisecond)
	metrics.RecordGoogleAPIOperation(ctx, ServiceGmail, OperationSearch, StatusSuccess, time.Millisecond)
	metrics.RecordToolInvocation(ctx, "assistant_chat", StatusSuccess, "", time.Millisecond)

	var nilMetrics *Metrics
	nilMetrics.RecordClassification(ctx, "email", "model")
}
