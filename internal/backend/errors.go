// ABOUTME: Error taxonomy for calls to backend MCP servers
// ABOUTME: Sentinels for lookup and launch failures, typed errors for transport, HTTP status, and JSON-RPC errors

package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrBackendNotFound   = errors.New("MCP server not found")
	ErrAccessDenied      = errors.New("access denied to MCP server")
	ErrProxyDisabled     = errors.New("proxy is disabled for MCP server")
	ErrNoEndpoint        = errors.New("MCP server has no remote endpoint")
	ErrNoStartupCommand  = errors.New("no startup command configured")
	ErrAutoStartDisabled = errors.New("auto-start is disabled")
	ErrCommandNotAllowed = errors.New("command not in allowed list")
	ErrStartTimeout      = errors.New("server did not respond after start")
	ErrNotRunning        = errors.New("server is not running")
	ErrInvalidResponse   = errors.New("invalid JSON response")
)

// TransportError is a connection-level failure: refused, timed out, or TLS.
// It is the only failure that triggers auto-start.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is a non-2xx HTTP response from a backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned HTTP %d %s", e.Code, http.StatusText(e.Code))
}

// SessionInvalid reports whether the status means the backend forgot our session.
func (e *StatusError) SessionInvalid() bool {
	return e.Code == http.StatusNotFound || e.Code == http.StatusBadRequest
}

// RPCError is a JSON-RPC error object embedded in a backend reply.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend error %d", e.Code)
	}
	return e.Message
}
