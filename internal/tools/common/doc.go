// Package common provides shared helpers for MCP tool implementations:
// argument extraction and the instrumented handler wrapper.
package common
