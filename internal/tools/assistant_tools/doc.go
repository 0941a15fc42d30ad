// Package assistant_tools exposes the assistant as MCP tools.
//
// Tools:
//   - assistant_chat: send a message on behalf of a user and receive the
//     formatted reply. Authentication replies carry a single-use link.
package assistant_tools
