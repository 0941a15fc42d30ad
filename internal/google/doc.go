// Package google connects inboxagent to Google's OAuth endpoints and holds
// the per-user credentials that result from a completed authorization.
//
// OAuthClient builds consent URLs and exchanges authorization codes with
// per-service scopes. CredentialStore implementations persist the resulting
// tokens: MemoryCredentialStore for development and DBCredentialStore, a GORM
// repository that works with Postgres or SQLite and encrypts tokens at rest.
package google
