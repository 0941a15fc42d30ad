// Package cmd implements the command-line interface for inboxagent.
//
// This package provides the following commands:
//   - serve: Start the assistant over HTTP or as an MCP server on stdio
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for the MCP tools
package cmd
