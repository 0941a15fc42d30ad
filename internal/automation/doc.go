// Package automation keeps per-user reminders and runs automation tasks.
//
// Reminders live in memory. They fire by being reported as due on the
// user's next request; there is no push channel.
package automation
