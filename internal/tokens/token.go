package tokens

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Service identifies the external capability a token authorizes.
type Service string

const (
	ServiceGmail    Service = "gmail"
	ServiceCalendar Service = "calendar"
	ServiceGoogle   Service = "google-generic"
)

// Services lists every known service in priority order.
var Services = []Service{ServiceGmail, ServiceCalendar, ServiceGoogle}

// ParseService resolves a service name. Matching is case-insensitive and
// accepts "google" as an alias for the generic Google service.
func ParseService(s string) (Service, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ServiceGmail):
		return ServiceGmail, true
	case string(ServiceCalendar):
		return ServiceCalendar, true
	case string(ServiceGoogle), "google":
		return ServiceGoogle, true
	default:
		return "", false
	}
}

// DisplayName returns the human readable service name.
func (s Service) DisplayName() string {
	switch s {
	case ServiceGmail:
		return "Gmail"
	case ServiceCalendar:
		return "Google Calendar"
	case ServiceGoogle:
		return "Google"
	default:
		return string(s)
	}
}

const (
	// DefaultTTL bounds how long an unconsumed token stays valid.
	DefaultTTL = 15 * time.Minute

	// DefaultUsedRetention is how long a consumed token is remembered so
	// replays report ErrTokenAlreadyUsed instead of ErrTokenNotFound.
	DefaultUsedRetention = 5 * time.Minute

	// DefaultSweepInterval is the MemoryStore background sweep cadence.
	DefaultSweepInterval = time.Minute

	tokenBytes = 32
)

var (
	// ErrTokenNotFound is returned for unknown or expired tokens.
	ErrTokenNotFound = errors.New("authentication token not found or expired")

	// ErrTokenAlreadyUsed is returned when a consumed token is presented again.
	ErrTokenAlreadyUsed = errors.New("authentication token already used")
)

// AuthToken is a single permission to complete one authorization redirect.
type AuthToken struct {
	Token    string    `json:"token"`
	UserID   string    `json:"user_id"`
	Service  Service   `json:"service"`
	IssuedAt time.Time `json:"issued_at"`
	Used     bool      `json:"used"`
}

// Grant is what a successful consume yields.
type Grant struct {
	UserID  string
	Service Service
}

// Store issues and consumes single-use tokens.
type Store interface {
	// Issue creates a fresh unused token for the user and service.
	Issue(ctx context.Context, userID string, service Service) (*AuthToken, error)

	// ValidateAndConsume atomically marks the token used and returns its grant.
	// At most one caller succeeds per token.
	ValidateAndConsume(ctx context.Context, token string) (*Grant, error)

	// ExpireStale removes unconsumed tokens older than maxAge and reports how many were removed.
	ExpireStale(ctx context.Context, maxAge time.Duration) (int, error)
}

func validateIssue(userID string, service Service) error {
	if userID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if _, ok := ParseService(string(service)); !ok {
		return fmt.Errorf("unknown service %q", service)
	}
	return nil
}

// generateToken returns 256 bits of randomness, base64url encoded.
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
