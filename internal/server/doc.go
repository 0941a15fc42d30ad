// Package server exposes the assistant over HTTP.
//
// # Routes
//
//   - POST /chat: runs one chat request and returns the reply as JSON
//   - GET /auth-web: follows an auth link and redirects to Google
//   - GET /auth/callback: completes the authorization started by /auth-web
//   - /healthz, /readyz and /healthz/detailed: Kubernetes probes
//   - /mcp: the MCP streamable HTTP endpoint, when an MCP server is attached
//
// Chat and auth routes are rate limited per client IP. Auth pages carry
// restrictive security headers and never echo internal error text.
//
// MetricsServer serves Prometheus metrics on a separate listener so that
// operational data is not reachable through the public address.
package server
