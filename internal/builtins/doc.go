// Package builtins provides the gateway's own tools, served under its slug.
//
// # Tools
//
//   - hello: Greet someone by name
//   - echo: Echo a message back
//   - get_time: Current time in a timezone and Go layout
//   - add_numbers: Add two numbers
//   - list_users: List accounts (admin only)
//   - list_mcp_servers: List registered backend MCP servers visible to the caller
//   - mcp_session_info: Show the caller's identity and backend sessions
//
// # Tool Implementation
//
// Each tool pairs an mcp.Tool definition with a handler:
//
//	func(ctx context.Context, args json.RawMessage, caller *auth.Caller) (string, error)
//
// Handlers validate their own arguments and enforce any privilege they need.
// The returned string becomes the text content of the tool result; a returned
// error becomes an isError result carrying the error message.
//
// # Registration
//
//	reg := builtins.NewRegistry(builtins.Deps{Accounts: s, Backends: r, Sessions: sess})
//	tool, ok := reg.Get("echo")
package builtins
