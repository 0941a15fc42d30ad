// Package tokens owns the lifecycle of single-use authorization link tokens.
//
// A token is issued when a user must authorize a Google service and is
// consumed exactly once by the OAuth callback. Two backends implement Store:
//
//   - MemoryStore keeps records in a mutex-guarded map with a background sweeper
//   - ValkeyStore keeps records in Valkey and consumes them with a Lua script
//
// Both report ErrTokenNotFound for unknown or expired tokens and
// ErrTokenAlreadyUsed for replays. Token values never appear in errors or logs.
package tokens
