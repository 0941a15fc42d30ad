// Package respond renders execution outcomes as chat replies.
//
// Format is pure: the reply depends only on the outcome. Authentication
// outcomes have their own branch and never reach the generic fallback.
// UserMessage is the one place that turns internal error kinds into text a
// user may see.
package respond
