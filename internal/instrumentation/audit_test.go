package instrumentation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

const testUser = "user-42"

func newBufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil)), &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("failed to decode log line %q: %v", line, err)
	}
	return entry
}

func TestToolInvocation_Complete(t *testing.T) {
	ti := NewToolInvocation("assistant_chat").WithUser(testUser).WithTaskType("email")
	if ti.StartTime.IsZero() {
		t.Error("StartTime should not be zero")
	}

	ti.Complete(true, nil)
	if !ti.Success || ti.Status() != StatusSuccess {
		t.Error("expected success")
	}
	if ti.Duration < 0 {
		t.Error("Duration should not be negative")
	}

	ti = NewToolInvocation("assistant_chat").Complete(false, errors.New("boom"))
	if ti.Status() != StatusError || ti.Error != "boom" {
		t.Errorf("unexpected failed invocation: %+v", ti)
	}
}

func TestAuditLogger_LogToolInvocation_Anonymized(t *testing.T) {
	logger, buf := newBufferLogger()
	al := NewAuditLogger(logger)

	al.LogToolInvocation(NewToolInvocation("assistant_chat").WithUser(testUser).Complete(true, nil))

	entry := decodeLine(t, buf)
	if entry["msg"] != "tool_executed" {
		t.Errorf("msg = %v, want tool_executed", entry["msg"])
	}
	if strings.Contains(buf.String(), testUser) {
		t.Error("raw user id should not be logged without IncludePII")
	}
	if _, ok := entry["user_hash"]; !ok {
		t.Error("expected user_hash attribute")
	}
}

func TestAuditLogger_LogToolInvocation_WithPII(t *testing.T) {
	logger, buf := newBufferLogger()
	al := NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true, IncludePII: true})

	al.LogToolInvocation(NewToolInvocation("assistant_chat").WithUser(testUser).Complete(false, errors.New("failed")))

	entry := decodeLine(t, buf)
	if entry["msg"] != "tool_failed" {
		t.Errorf("msg = %v, want tool_failed", entry["msg"])
	}
	if entry["user"] != testUser {
		t.Errorf("user = %v, want %s", entry["user"], testUser)
	}
}

func TestAuditLogger_LogAuthEvent(t *testing.T) {
	logger, buf := newBufferLogger()
	al := NewAuditLogger(logger)

	al.LogAuthEvent(context.Background(), AuthEvent{
		Event:   TokenEventReplay,
		Phase:   "callback",
		UserID:  testUser,
		Service: ServiceGmail,
		Success: false,
	})

	entry := decodeLine(t, buf)
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", entry["level"])
	}
	if entry["event"] != TokenEventReplay {
		t.Errorf("event = %v", entry["event"])
	}
	if entry["service"] != ServiceGmail {
		t.Errorf("service = %v", entry["service"])
	}
	if strings.Contains(buf.String(), testUser) {
		t.Error("raw user id should not be logged")
	}
}

func TestAuditLogger_Disabled(t *testing.T) {
	logger, buf := newBufferLogger()
	al := NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: false})

	al.LogAuthEvent(context.Background(), AuthEvent{Event: TokenEventIssued, Success: true})
	al.LogToolInvocation(NewToolInvocation("assistant_chat").Complete(true, nil))

	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}

	var nilLogger *AuditLogger
	nilLogger.LogAuthEvent(context.Background(), AuthEvent{Event: TokenEventIssued})
}
