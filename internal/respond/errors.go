package respond

import (
	"errors"

	"github.com/teemow/inboxagent/internal/oauthflow"
	"github.com/teemow/inboxagent/internal/tokens"
)

// UserMessage translates an error into text safe to show a user. It never
// includes the error's own text.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, tokens.ErrTokenAlreadyUsed):
		return "This authentication link was already used. Ask me to connect again if you need a new one."
	case errors.Is(err, tokens.ErrTokenNotFound):
		return "This authentication link is invalid or expired. Ask me to connect again for a fresh one."
	case errors.Is(err, oauthflow.ErrStateMalformed):
		return "I couldn't verify this sign-in request. Please start again from a new link."
	case errors.Is(err, oauthflow.ErrAuthorizationDenied):
		return "Access wasn't granted, so nothing was connected. You can ask me to connect again any time."
	case errors.Is(err, oauthflow.ErrCodeExchangeFailed):
		return "Google didn't confirm the sign-in. Please ask me for a new link and try again."
	case errors.Is(err, oauthflow.ErrTokenStoreUnavailable):
		return "I couldn't check this sign-in link right now. Please try the same link again in a moment."
	case errors.Is(err, oauthflow.ErrCredentialStoreFailed):
		return "Sign-in worked, but I couldn't save the connection. Please ask me for a new link and try again."
	case errors.Is(err, ErrCapabilityExecutionFailed):
		return "Something went wrong while working on that. Please try again in a moment."
	default:
		return "Something went wrong on my side. Please try again."
	}
}
