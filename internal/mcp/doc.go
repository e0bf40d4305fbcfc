// Package mcp implements the Model Context Protocol server for external tool access.
//
// # Overview
//
// MCP clients reach the gateway's registered tools over JSON-RPC 2.0 on a
// single endpoint, POST /mcp. Every call goes through the tool gateway, so
// MCP callers get the same timeouts, outcome shape, and audit trail as the
// REST batch endpoint.
//
// # Sessions
//
// initialize creates a session and returns its id in the Mcp-Session-Id
// header. Every later request must carry that header; sessions idle longer
// than Config.SessionIdle are forgotten and the client must re-initialize.
// DELETE /mcp ends a session. The client name sent in initialize is passed
// to tools as the caller, which scopes the notes tools.
//
// # Methods
//
//   - initialize
//   - ping
//   - tools/list
//   - tools/call
//
// A tool failure is returned as a normal result with isError set:
//
//	{"content":[{"type":"text","text":"fetch failed: ..."}],"isError":true}
//
// # Batches
//
// A JSON array of requests is answered with an array holding one response per
// request that has an id, in request order. Notifications produce no entry;
// a batch of only notifications gets 202 Accepted. initialize cannot be
// batched.
package mcp
