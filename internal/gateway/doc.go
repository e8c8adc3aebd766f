// Package gateway assembles and runs a switchboard server.
//
// # Overview
//
// New opens the SQLite store and wires every component around it: the session
// store and its cache (in-process, or Redis when cache.redis_url is set), the
// backend launcher and initializer, the registry, the upstream transport, the
// built-in tools, the router, and the MCP front door. The upstream transport is
// the per-request Proxy by default and the persistent SSE Manager when
// persistent.enabled is set; both satisfy router.Backend.
//
// # HTTP surface
//
//   - /mcp, /mcp/message, /mcp/health, /mcp/config, /mcp/token, /mcp/index - MCP front door
//   - GET /health - Liveness check
//   - GET /health/ready - Store reachability and active backend count
//
// The admin API is mounted only when auth.jwt_secret is configured. Every route
// requires a bearer JWT whose subject is an admin-level account:
//
//   - GET|POST /api/backends, GET|PUT|DELETE /api/backends/{slug}
//   - POST /api/backends/{slug}/fetch|test|start|stop, GET /api/backends/{slug}/status
//   - GET|POST /api/credentials, DELETE /api/credentials/{id}
//   - GET|DELETE /api/logs, GET /api/usage
//   - GET /api/sessions, DELETE /api/sessions/{owner}/{slug}
//
// # Lifecycle
//
// Run listens on server.http_addr, or on a tsnet node when tailscale.enabled is
// set, and runs the backend session cleanup loop and the persistent session
// reaper until its context ends. Shutdown drains HTTP, closes persistent
// sessions, the cache, and the store.
package gateway
