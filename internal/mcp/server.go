// ABOUTME: MCP front door: JSON-RPC 2.0 over HTTP POST answered as plain JSON or SSE frames
// ABOUTME: Public methods skip auth, everything else requires a credential; every exchange is logged

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/switchboard/internal/auth"
	"github.com/2389/switchboard/internal/builtins"
	"github.com/2389/switchboard/internal/registry"
	"github.com/2389/switchboard/internal/router"
	"github.com/2389/switchboard/internal/store"
)

// Advertised identity.
const (
	ProtocolVersion = "2024-11-05"
	ServerName      = "switchboard-mcp"
	ServerVersion   = "1.0.0"
)

// SessionHeader carries the client's MCP session id in both directions.
const SessionHeader = "Mcp-Session-Id"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes, plus the server-defined auth failure.
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
	JSONRPCAuthRequired   = -32000
)

// publicMethods answer without a credential.
var publicMethods = map[string]bool{
	"initialize": true,
	"tools/list": true,
	"ping":       true,
}

// MCP result shapes

type initializeResult struct {
	ProtocolVersion string               `json:"protocolVersion"`
	Capabilities    serverCapabilities   `json:"capabilities"`
	ServerInfo      mcpgo.Implementation `json:"serverInfo"`
}

type serverCapabilities struct {
	Tools toolsCapability `json:"tools"`
}

type toolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

type listToolsResult struct {
	Tools []json.RawMessage `json:"tools"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// callToolResult always serializes isError, unlike mcpgo.CallToolResult.
type callToolResult struct {
	Content []mcpgo.Content `json:"content"`
	IsError bool            `json:"isError"`
}

// Authenticator resolves the caller of a request from its headers.
type Authenticator interface {
	Authenticate(ctx context.Context, h http.Header) (*auth.Caller, error)
}

// ToolAggregator returns the namespaced backend tools a caller may use.
type ToolAggregator interface {
	Aggregate(ctx context.Context, caller *auth.Caller) ([]json.RawMessage, error)
}

// RequestLogger persists front door exchanges.
type RequestLogger interface {
	SaveRequestLog(ctx context.Context, entry *store.RequestLog) error
}

// TokenSetter stores an account's legacy API token.
type TokenSetter interface {
	SetAccountAPIToken(ctx context.Context, id, token string) error
}

// Config holds configuration for the MCP server.
type Config struct {
	Auth     Authenticator
	Builtins *builtins.Registry
	Tools    ToolAggregator
	Router   *router.Router
	Logs     RequestLogger
	Accounts TokenSetter
	// BaseURL is the externally visible origin used in client configuration snippets.
	BaseURL           string
	HeartbeatInterval time.Duration
	StreamMax         time.Duration
	Now               func() time.Time
	Logger            *slog.Logger
}

// Server implements the MCP HTTP endpoints.
type Server struct {
	auth      Authenticator
	builtins  *builtins.Registry
	tools     ToolAggregator
	router    *router.Router
	logs      RequestLogger
	accounts  TokenSetter
	baseURL   string
	heartbeat time.Duration
	streamMax time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Auth == nil {
		return nil, errors.New("authenticator is required")
	}
	if cfg.Builtins == nil {
		return nil, errors.New("builtins registry is required")
	}
	if cfg.Router == nil {
		return nil, errors.New("router is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 5 * time.Second
	}
	streamMax := cfg.StreamMax
	if streamMax <= 0 {
		streamMax = 30 * time.Second
	}

	return &Server{
		auth:      cfg.Auth,
		builtins:  cfg.Builtins,
		tools:     cfg.Tools,
		router:    cfg.Router,
		logs:      cfg.Logs,
		accounts:  cfg.Accounts,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		heartbeat: heartbeat,
		streamMax: streamMax,
		now:       now,
		logger:    logger.With("component", "mcp"),
	}, nil
}

// RegisterRoutes registers the MCP endpoints on the given ServeMux.
// /mcp and /mcp/message are the same JSON-RPC endpoint.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/mcp/message", s.handleMCP)
	mux.HandleFunc("/mcp/health", s.handleHealth)
	mux.HandleFunc("/mcp/config", s.handleConfig)
	mux.HandleFunc("/mcp/token", s.handleToken)
	mux.HandleFunc("/mcp/index", s.handleIndex)
}

// MCPURL is the JSON-RPC endpoint clients should be configured with.
func (s *Server) MCPURL() string {
	return s.baseURL + "/mcp"
}

// handleMCP is the single MCP endpoint. Every response carries the session header.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	w.Header().Set(SessionHeader, sessionID)
	setCORSHeaders(w.Header())

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		s.handleStream(w, r)
	case http.MethodPost:
		s.handlePost(w, r, sessionID)
	default:
		w.Header().Set("Allow", "POST, GET, OPTIONS")
		x := &exchange{w: w, sse: wantsSSE(r.Header.Get("Accept"))}
		s.sendError(x, nil, JSONRPCInvalidRequest, "Method not allowed. Use POST.", http.StatusMethodNotAllowed)
	}
}

// exchange is the state of one POSTed JSON-RPC message.
type exchange struct {
	w      http.ResponseWriter
	sse    bool
	method string
	caller *auth.Caller
	errMsg string
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request, sessionID string) {
	start := s.now()
	tw := newTeeWriter(w)
	x := &exchange{w: tw, sse: wantsSSE(r.Header.Get("Accept"))}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	defer func() { s.logExchange(r, x, tw, body, sessionID, start) }()
	if err != nil {
		s.sendError(x, nil, JSONRPCParseError, "failed to read request body", http.StatusOK)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendError(x, nil, JSONRPCInvalidRequest, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendError(x, nil, JSONRPCParseError, "Parse error: Invalid JSON", http.StatusOK)
		return
	}
	x.method = req.Method

	ctx := r.Context()
	isNotification := strings.HasPrefix(req.Method, "notifications/")
	if publicMethods[req.Method] || isNotification {
		// Opportunistic: a caller that does authenticate gets its scoped view.
		if caller, err := s.auth.Authenticate(ctx, r.Header); err == nil {
			x.caller = caller
		}
	} else {
		caller, err := s.auth.Authenticate(ctx, r.Header)
		if err != nil {
			s.sendError(x, req.ID, JSONRPCAuthRequired, "Authentication required", http.StatusUnauthorized)
			return
		}
		x.caller = caller
	}

	s.logger.Debug("MCP request",
		"method", req.Method,
		"session_id", sessionID,
		"account_id", x.caller.AccountID(),
	)

	if isNotification {
		tw.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(x, req)
	case "tools/list":
		s.handleToolsList(ctx, x, req)
	case "tools/call":
		s.handleToolsCall(ctx, x, req, clientIP(r))
	case "ping":
		s.sendResult(x, req.ID, map[string]bool{"pong": true})
	default:
		s.sendError(x, req.ID, JSONRPCMethodNotFound, "Method not found: "+req.Method, http.StatusOK)
	}
}

// handleInitialize answers the MCP handshake.
func (s *Server) handleInitialize(x *exchange, req JSONRPCRequest) {
	var params mcpgo.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err == nil && params.ClientInfo.Name != "" {
			s.logger.Info("MCP client connected",
				"client_name", params.ClientInfo.Name,
				"client_version", params.ClientInfo.Version,
				"protocol_version", params.ProtocolVersion,
			)
		}
	}

	s.sendResult(x, req.ID, initializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    serverCapabilities{Tools: toolsCapability{ListChanged: false}},
		ServerInfo:      mcpgo.Implementation{Name: ServerName, Version: ServerVersion},
	})
}

// handleToolsList returns built-in tools under their bare names followed by
// every accessible backend's namespaced tools.
func (s *Server) handleToolsList(ctx context.Context, x *exchange, req JSONRPCRequest) {
	defs := s.builtins.Definitions()
	tools := make([]json.RawMessage, 0, len(defs))
	for _, def := range defs {
		data, err := json.Marshal(def)
		if err == nil {
			data, err = registry.NormalizeDefinition(data)
		}
		if err != nil {
			s.logger.Warn("failed to encode built-in tool", "tool_name", def.Name, "error", err)
			continue
		}
		tools = append(tools, data)
	}

	if s.tools != nil {
		backendTools, err := s.tools.Aggregate(ctx, x.caller)
		if err != nil {
			s.logger.Warn("failed to aggregate backend tools", "error", err)
		}
		tools = append(tools, backendTools...)
	}

	s.sendResult(x, req.ID, listToolsResult{Tools: tools})
}

// handleToolsCall routes the call. Tool failures are results with isError set.
func (s *Server) handleToolsCall(ctx context.Context, x *exchange, req JSONRPCRequest, ip string) {
	var params callToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendError(x, req.ID, JSONRPCInvalidParams, "Invalid params: "+err.Error(), http.StatusOK)
			return
		}
	}
	if params.Name == "" {
		s.sendError(x, req.ID, JSONRPCInvalidParams, "Invalid params: tool name is required", http.StatusOK)
		return
	}

	result := s.router.Route(ctx, router.Call{
		Name:      params.Name,
		Arguments: params.Arguments,
		Caller:    x.caller,
		ClientIP:  ip,
	})
	if result.IsError {
		x.errMsg = result.Text
	}

	s.sendResult(x, req.ID, callToolResult{
		Content: []mcpgo.Content{mcpgo.NewTextContent(result.Text)},
		IsError: result.IsError,
	})
}

// sendResult sends a successful JSON-RPC response.
func (s *Server) sendResult(x *exchange, id json.RawMessage, result any) {
	s.send(x, http.StatusOK, JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
}

// sendError sends a JSON-RPC error response with the given HTTP status.
func (s *Server) sendError(x *exchange, id json.RawMessage, code int, message string, status int) {
	x.errMsg = message
	s.send(x, status, JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
	})
}

func (s *Server) send(x *exchange, status int, resp JSONRPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
		data, _ = json.Marshal(JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      resp.ID,
			Error:   &JSONRPCError{Code: JSONRPCInternalError, Message: "failed to encode response"},
		})
	}
	if err := writeMessage(x.w, x.sse, status, data); err != nil {
		s.logger.Debug("failed to write JSON-RPC response", "error", err)
	}
}

// logExchange persists the request and the captured response. Failures are only logged.
func (s *Server) logExchange(r *http.Request, x *exchange, tw *teeWriter, body []byte, sessionID string, start time.Time) {
	if s.logs == nil {
		return
	}
	entry := &store.RequestLog{
		ID:           uuid.New().String(),
		Method:       x.method,
		RequestBody:  string(body),
		ResponseBody: tw.Captured(),
		HTTPCode:     tw.Status(),
		DurationMS:   s.now().Sub(start).Milliseconds(),
		Error:        x.errMsg,
		SessionID:    sessionID,
		AccountID:    x.caller.AccountID(),
		ClientIP:     clientIP(r),
		UserAgent:    r.UserAgent(),
		CreatedAt:    start.UTC(),
	}
	// The request context may already be canceled once the client has its answer.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
	defer cancel()
	if err := s.logs.SaveRequestLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record request log", "method", x.method, "error", err)
	}
}

// clientIP prefers the first X-Forwarded-For hop, then the connection's remote host.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
