// ABOUTME: JSON-RPC over HTTP client for backend MCP servers
// ABOUTME: Sends initialize, tools/list, and tools/call with per-call timeouts and backend auth headers

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/switchboard/internal/store"
)

// ProtocolVersion is the MCP protocol revision spoken to backends and clients.
const ProtocolVersion = "2024-11-05"

// SessionHeader carries MCP session ids in both directions.
const SessionHeader = "Mcp-Session-Id"

// maxReplySize bounds how much of a backend reply is read.
const maxReplySize = 10 << 20

// Request is an outgoing JSON-RPC request or notification (ID nil).
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// ErrorObject is a JSON-RPC error.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Response is a decoded JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// Reply is a raw HTTP reply from a backend.
type Reply struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// InitResult is the outcome of an initialize handshake.
type InitResult struct {
	SessionID       string
	ProtocolVersion string
	ServerInfo      mcp.Implementation
	StatusCode      int
	Latency         time.Duration
}

// Client talks JSON-RPC to backend MCP endpoints.
type Client struct {
	http   *http.Client
	info   mcp.Implementation
	nextID atomic.Int64
	logger *slog.Logger
}

// NewClient creates a Client. A nil httpClient gets a default that verifies TLS
// and does not follow redirects, so a 3xx reply is visible to readiness probes.
func NewClient(httpClient *http.Client, info mcp.Implementation, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:   httpClient,
		info:   info,
		logger: logger.With("component", "backend_client"),
	}
}

// AuthHeaders returns the headers that authenticate the gateway to a backend.
func AuthHeaders(b *store.Backend) http.Header {
	h := http.Header{}
	if b.AuthToken == "" {
		return h
	}
	name := b.AuthHeader
	if name == "" {
		name = "Authorization"
	}
	h.Set(name, b.AuthToken)
	return h
}

// Post sends one JSON-RPC request. Connection failures return *TransportError,
// non-2xx replies return the reply together with *StatusError.
func (c *Client) Post(ctx context.Context, endpoint string, headers http.Header, req Request, timeout time.Duration) (*Reply, error) {
	if req.JSONRPC == "" {
		req.JSONRPC = "2.0"
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", req.Method, err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for name, values := range headers {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &TransportError{URL: endpoint, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, &TransportError{URL: endpoint, Err: fmt.Errorf("reading body: %w", err)}
	}

	reply := &Reply{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
	c.logger.Debug("backend reply", "method", req.Method, "url", endpoint, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return reply, &StatusError{Code: resp.StatusCode, Body: string(data)}
	}
	return reply, nil
}

func (c *Client) newID() int64 {
	return c.nextID.Add(1)
}

func (c *Client) initializeRequest() Request {
	return Request{
		ID:     c.newID(),
		Method: "initialize",
		Params: mcp.InitializeParams{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo:      c.info,
		},
	}
}

// Initialize performs the MCP initialize handshake and extracts the session id header.
func (c *Client) Initialize(ctx context.Context, endpoint string, headers http.Header, timeout time.Duration) (*InitResult, error) {
	start := time.Now()
	reply, err := c.Post(ctx, endpoint, headers, c.initializeRequest(), timeout)
	if err != nil {
		return nil, err
	}

	result := &InitResult{
		SessionID:  ExtractSessionID(reply.Header),
		StatusCode: reply.StatusCode,
		Latency:    time.Since(start),
	}

	// The body is informational; servers that reply with nothing still count.
	if resp, err := DecodeBody(reply.Body); err == nil && resp.Error == nil && len(resp.Result) > 0 {
		var init mcp.InitializeResult
		if json.Unmarshal(resp.Result, &init) == nil {
			result.ProtocolVersion = init.ProtocolVersion
			result.ServerInfo = init.ServerInfo
		}
	}
	return result, nil
}

// Probe sends an initialize request and returns the HTTP status, following no redirects.
func (c *Client) Probe(ctx context.Context, endpoint string, headers http.Header, timeout time.Duration) (int, error) {
	reply, err := c.Post(ctx, endpoint, headers, c.initializeRequest(), timeout)
	if reply != nil {
		return reply.StatusCode, nil
	}
	return 0, err
}

// ListTools calls tools/list and returns the raw tool definitions.
func (c *Client) ListTools(ctx context.Context, endpoint string, headers http.Header, sessionID string, timeout time.Duration) ([]json.RawMessage, error) {
	h := withSession(headers, sessionID)
	reply, err := c.Post(ctx, endpoint, h, Request{
		ID:     c.newID(),
		Method: "tools/list",
		Params: struct{}{},
	}, timeout)
	if err != nil {
		return nil, err
	}

	resp, err := DecodeBody(reply.Body)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
	}

	var result struct {
		Tools []json.RawMessage `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("%w: tools/list result: %v", ErrInvalidResponse, err)
	}
	return result.Tools, nil
}

// CallTool sends tools/call with the session header.
func (c *Client) CallTool(ctx context.Context, endpoint string, headers http.Header, sessionID, name string, args json.RawMessage, timeout time.Duration) (*Reply, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return c.Post(ctx, endpoint, withSession(headers, sessionID), Request{
		ID:     c.newID(),
		Method: "tools/call",
		Params: map[string]any{
			"name":      name,
			"arguments": args,
		},
	}, timeout)
}

func withSession(headers http.Header, sessionID string) http.Header {
	h := headers.Clone()
	if h == nil {
		h = http.Header{}
	}
	if sessionID != "" {
		h.Set(SessionHeader, sessionID)
	}
	return h
}

// ExtractSessionID finds the mcp-session-id header regardless of case.
func ExtractSessionID(h http.Header) string {
	for name, values := range h {
		if strings.EqualFold(name, SessionHeader) && len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}
