// Package mcp implements the gateway's MCP front door.
//
// # Protocol
//
// Clients speak JSON-RPC 2.0 over HTTP POST to /mcp (or /mcp/message). The
// response is framed as plain JSON when the Accept header names
// application/json without text/event-stream, and as a single SSE message
// otherwise:
//
//	event: message
//	data: {"jsonrpc":"2.0","id":1,"result":{"pong":true}}
//
// Every response carries an Mcp-Session-Id header, echoed from the request or
// freshly minted. GET opens a heartbeat-only event stream that closes after a
// fixed ceiling; OPTIONS answers CORS preflights.
//
// # Authentication
//
// initialize, tools/list, ping and notifications are public. Any other method
// requires Basic auth, a Bearer token, or an X-MCP-Token header and fails with
// code -32000 and HTTP 401 otherwise.
//
// # Tools
//
// tools/list returns the built-in tools under their bare names followed by
// every accessible backend's tools as "slug:tool". tools/call hands the call
// to the router; tool failures are successful responses with isError set.
//
// # Logging
//
// Each POST exchange is written to the request log with the captured response
// body, HTTP status and any top-level error. Log failures never reach the client.
package mcp
