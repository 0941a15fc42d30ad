package oauthflow

import (
	"errors"
	"net/http"

	"github.com/teemow/inboxagent/internal/tokens"
)

var (
	// ErrAuthorizationDenied is returned when the provider reports no code,
	// usually because the user declined consent.
	ErrAuthorizationDenied = errors.New("authorization was denied at the provider")

	// ErrCodeExchangeFailed is returned when trading the code for a credential fails.
	ErrCodeExchangeFailed = errors.New("authorization code exchange failed")

	// ErrCredentialStoreFailed is returned when the credential cannot be persisted.
	ErrCredentialStoreFailed = errors.New("failed to store credentials")

	// ErrTokenStoreUnavailable is returned when the link token cannot be
	// checked because the token store failed.
	ErrTokenStoreUnavailable = errors.New("token store unavailable")
)

// Phase identifies a step of the flow.
type Phase int

const (
	PhaseInitiate Phase = iota
	PhaseCallback
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInitiate:
		return "initiate"
	case PhaseCallback:
		return "callback"
	case PhaseSucceeded:
		return "terminal_success"
	case PhaseFailed:
		return "terminal_failure"
	default:
		return "unknown"
	}
}

// FlowError is a terminal flow failure. Kind is one of the package sentinels
// or a tokens error; Cause is the underlying error, if any, and is never
// shown to users.
type FlowError struct {
	Kind   error
	Cause  error
	Status int
	// TokenConsumed reports whether the link token was spent before the failure.
	TokenConsumed bool
}

func (e *FlowError) Error() string {
	if e.Cause != nil {
		return e.Kind.Error() + ": " + e.Cause.Error()
	}
	return e.Kind.Error()
}

// Unwrap exposes both Kind and Cause to errors.Is.
func (e *FlowError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

func newFlowError(kind, cause error, consumed bool) *FlowError {
	return &FlowError{Kind: kind, Cause: cause, Status: statusFor(kind), TokenConsumed: consumed}
}

func statusFor(kind error) int {
	switch {
	case errors.Is(kind, ErrStateMalformed), errors.Is(kind, ErrAuthorizationDenied):
		return http.StatusBadRequest
	case errors.Is(kind, tokens.ErrTokenNotFound):
		return http.StatusGone
	case errors.Is(kind, tokens.ErrTokenAlreadyUsed):
		return http.StatusConflict
	case errors.Is(kind, ErrCodeExchangeFailed):
		return http.StatusBadGateway
	case errors.Is(kind, ErrTokenStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// StatusCode returns the HTTP status for err, defaulting to 500.
func StatusCode(err error) int {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Status
	}
	return http.StatusInternalServerError
}
