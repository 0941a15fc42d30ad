// Package logging provides structured logging utilities for inboxagent.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "oauth.callback")
//	logger.Info("callback completed",
//	    logging.Status("success"))
//
// Sanitize sensitive data before logging:
//
//	logger.Info("token issued",
//	    logging.UserHash(userID),
//	    slog.String("token", logging.SanitizeToken(tok)))
//
// # Security Considerations
//
//   - User identifiers are hashed so entries can be correlated without exposing them
//   - Single-use auth tokens are never logged; only their length is
package logging
