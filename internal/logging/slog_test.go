package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestWithOperation(t *testing.T) {
	logger := slog.Default()
	result := WithOperation(logger, "test_operation")
	if result == nil {
		t.Error("WithOperation returned nil")
	}
}

func TestWithService(t *testing.T) {
	logger := slog.Default()
	result := WithService(logger, "gmail")
	if result == nil {
		t.Error("WithService returned nil")
	}
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, false)
	logger.Debug("hidden")
	logger.Info("visible", Operation("test"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug message logged at info level")
	}
	if !strings.Contains(out, `"operation":"test"`) {
		t.Errorf("expected JSON operation attribute, got %q", out)
	}

	buf.Reset()
	logger = New(&buf, true)
	logger.Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Error("debug logger dropped debug message")
	}
}

func TestAttrs(t *testing.T) {
	tests := []struct {
		name string
		attr slog.Attr
		key  string
		want string
	}{
		{"operation", Operation("test_op"), KeyOperation, "test_op"},
		{"service", Service("gmail"), KeyService, "gmail"},
		{"task type", TaskType("email"), KeyTaskType, "email"},
		{"request id", RequestID("req-1"), KeyRequestID, "req-1"},
		{"tool", Tool("assistant_chat"), KeyTool, "assistant_chat"},
		{"status", Status(StatusSuccess), KeyStatus, StatusSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.key {
				t.Errorf("key = %q, want %q", tt.attr.Key, tt.key)
			}
			if tt.attr.Value.String() != tt.want {
				t.Errorf("value = %q, want %q", tt.attr.Value.String(), tt.want)
			}
		})
	}
}

func TestErr(t *testing.T) {
	err := errors.New("test error")
	attr := Err(err)
	if attr.Key != KeyError {
		t.Errorf("Err key = %q, want %q", attr.Key, KeyError)
	}
	if attr.Value.String() != "test error" {
		t.Errorf("Err value = %q, want %q", attr.Value.String(), "test error")
	}

	// Empty Group has empty key
	attr = Err(nil)
	if attr.Key != "" {
		t.Errorf("Err(nil) key = %q, want empty string (empty group)", attr.Key)
	}
}

func TestAnonymizeUser(t *testing.T) {
	tests := []struct {
		userID   string
		wantLen  int
		hasValue bool
	}{
		{"user-123", 21, true}, // "user:" + 16 hex chars
		{"5b0c6d4e-6f0a-4a53-9d5c-1f9e2c7d8a10", 21, true},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.userID, func(t *testing.T) {
			result := AnonymizeUser(tt.userID)
			if tt.hasValue {
				if len(result) != tt.wantLen {
					t.Errorf("AnonymizeUser(%q) length = %d, want %d", tt.userID, len(result), tt.wantLen)
				}
				if !strings.HasPrefix(result, "user:") {
					t.Errorf("AnonymizeUser(%q) should start with 'user:', got %q", tt.userID, result)
				}
			} else if result != "" {
				t.Errorf("AnonymizeUser(%q) = %q, want empty string", tt.userID, result)
			}
		})
	}

	if AnonymizeUser("a") != AnonymizeUser("a") {
		t.Error("AnonymizeUser should return deterministic results")
	}
	if AnonymizeUser("a") == AnonymizeUser("b") {
		t.Error("different users should produce different hashes")
	}
}

func TestUserHash(t *testing.T) {
	attr := UserHash("user-123")
	if attr.Key != KeyUserHash {
		t.Errorf("UserHash key = %q, want %q", attr.Key, KeyUserHash)
	}
	if strings.Contains(attr.Value.String(), "user-123") {
		t.Error("UserHash leaked the raw user id")
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		token    string
		expected string
	}{
		{"", "<empty>"},
		{"abc123", "[token:6 chars]"},
		{"a_very_long_token_string", "[token:24 chars]"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := SanitizeToken(tt.token)
			if result != tt.expected {
				t.Errorf("SanitizeToken(%q) = %q, want %q", tt.token, result, tt.expected)
			}
		})
	}
}
