// Package backend talks to upstream MCP servers on behalf of gateway callers.
//
// # Components
//
//   - Client: JSON-RPC 2.0 over HTTP POST. Replies may be plain JSON or SSE
//     framed; DecodeBody handles both.
//   - Initializer: the initialize handshake. A connection-level failure
//     (TransportError) triggers at most one auto-start followed by one more
//     handshake. HTTP errors never trigger auto-start.
//   - Launcher: starts whitelisted backend commands detached, tracks them with
//     PID files under the run directory, and polls the endpoint until it answers
//     with any 2xx or 3xx status.
//   - Proxy: tools/call forwarding with per-(owner, backend) session reuse.
//
// # Retry Policy
//
// Proxy.Call retries at most once. A transport failure restarts the backend
// and retries; an HTTP 404 or 400 clears the stored session, reinitializes,
// and retries. Every other failure is returned to the caller as is.
package backend
