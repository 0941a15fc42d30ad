// Package resources provides MCP resources for per-user data.
//
// Resources are read-only data sources that MCP clients can fetch. The
// connections resource reports which Google services a user has connected
// and what the assistant can do with each.
package resources
