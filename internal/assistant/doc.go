// Package assistant handles one chat request end to end: classify the text,
// check credentials for gated task types, issue an auth link when needed,
// run the matching executor and render the reply.
package assistant
