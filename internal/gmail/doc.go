// Package gmail provides a small client for the Gmail API and the email
// executor built on it.
//
// The executor supports two actions:
//   - search: lists up to five messages matching a Gmail query
//   - compose: saves a draft for the user to review; nothing is sent
//
// Confirm sends a saved draft after the user approved it.
//
// Clients are built per request from the user's stored Google credential.
//
// Example usage:
//
//	exec := gmail.NewExecutor(tokenSources, metrics, logger)
//	outcome, err := exec.Execute(ctx, classifier.TaskEmail, map[string]string{
//	    "action": "search",
//	    "query":  "from:alice is:unread",
//	}, userID)
package gmail
