// ABOUTME: Long-lived MCP session over the SSE transport, built on mcp-go's SSE client
// ABOUTME: Tracks the session lifecycle and notices a dropped stream from the first failed read

package persistent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/switchboard/internal/backend"
)

// clientProtocolVersion is what the SSE transport's servers expect to negotiate.
const clientProtocolVersion = "2025-03-26"

// State is the lifecycle position of a Client.
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateReady
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrDisconnected is returned for requests on, or pending on, a dropped stream.
	ErrDisconnected = errors.New("SSE connection closed")
	// ErrNoEndpoint means the stream never announced where to POST messages.
	ErrNoEndpoint = errors.New("no endpoint event received")
	// ErrTimeout means no response with the request's id arrived in time.
	ErrTimeout = errors.New("timeout waiting for response")
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the server origin; the stream is opened at BaseURL + "/sse".
	BaseURL string
	Headers http.Header
	// HTTPClient must not set an overall Timeout, the stream is long-lived.
	HTTPClient       *http.Client
	Info             mcp.Implementation
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Client is one SSE session with a backend.
type Client struct {
	base             string
	headers          map[string]string
	http             *http.Client
	info             mcp.Implementation
	handshakeTimeout time.Duration
	logger           *slog.Logger

	state        atomic.Int32
	lastActivity atomic.Int64 // unix nanoseconds

	conn      *mcpclient.Client
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewClient creates a Client. Call Connect before sending requests.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	headers := make(map[string]string, len(cfg.Headers))
	for name := range cfg.Headers {
		headers[name] = cfg.Headers.Get(name)
	}
	c := &Client{
		base:             strings.TrimRight(cfg.BaseURL, "/"),
		headers:          headers,
		info:             cfg.Info,
		handshakeTimeout: timeout,
		logger:           logger.With("component", "sse_client", "base_url", cfg.BaseURL),
	}
	c.http = c.watch(cfg.HTTPClient)
	c.state.Store(int32(StateConnecting))
	c.touch()
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Connected reports whether the client is ready for requests.
func (c *Client) Connected() bool {
	return c.State() == StateReady
}

// LastActivity is when the stream last delivered data or a request completed.
func (c *Client) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// Connect opens the event stream, waits for the endpoint event, and performs
// the initialize handshake followed by notifications/initialized.
func (c *Client) Connect(ctx context.Context) error {
	mc, err := mcpclient.NewSSEMCPClient(c.base+"/sse",
		mcpclient.WithHTTPClient(c.http),
		mcpclient.WithHeaders(c.headers),
	)
	if err != nil {
		c.Close()
		return fmt.Errorf("creating SSE client: %w", err)
	}
	c.conn = mc
	mc.OnConnectionLost(c.dropped)

	// The stream outlives Connect, so it runs on its own context. Both the
	// handshake bound and the caller's ctx cancel it only until Start returns.
	streamCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	timer := time.AfterFunc(c.handshakeTimeout, cancel)
	detach := context.AfterFunc(ctx, cancel)
	err = mc.Start(streamCtx)
	timer.Stop()
	detach()
	if err == nil && streamCtx.Err() != nil {
		err = streamCtx.Err()
	}
	if err != nil {
		err = c.startError(ctx, streamCtx, err)
		c.Close()
		return err
	}

	c.state.Store(int32(StateHandshaking))
	initCtx, cancelInit := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancelInit()

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = clientProtocolVersion
	req.Params.ClientInfo = c.info
	if _, err := mc.Initialize(initCtx, req); err != nil {
		err = c.requestError(ctx, initCtx, err)
		c.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	c.state.Store(int32(StateReady))
	c.touch()
	c.logger.Info("SSE session ready")
	return nil
}

// startError classifies a failed stream open. Only a refused or unreachable
// connection becomes a TransportError, so only that leads to auto-start.
func (c *Client) startError(ctx, streamCtx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if streamCtx.Err() != nil {
		return fmt.Errorf("%w after %s", ErrNoEndpoint, c.handshakeTimeout)
	}
	if c.State() == StateDisconnected {
		return fmt.Errorf("%w: stream ended", ErrNoEndpoint)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &backend.TransportError{URL: c.base + "/sse", Err: urlErr.Err}
	}
	return fmt.Errorf("opening stream: %w", err)
}

// requestError maps an mcp-go request failure onto the gateway's errors.
// callCtx is the per-request context derived from ctx.
func (c *Client) requestError(ctx, callCtx context.Context, err error) error {
	if c.State() == StateDisconnected {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	var transportErr *transport.Error
	if errors.As(err, &transportErr) {
		return &backend.TransportError{URL: c.base, Err: transportErr.Err}
	}
	// JSON-RPC error replies arrive as plain errors carrying only the message.
	return &backend.RPCError{Message: err.Error()}
}

// CallTool invokes a tool, waiting at most timeout for its result.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage, timeout time.Duration) (*mcp.CallToolResult, error) {
	if !c.Connected() {
		return nil, ErrDisconnected
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	if len(args) > 0 {
		req.Params.Arguments = args
	} else {
		req.Params.Arguments = map[string]any{}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := c.conn.CallTool(callCtx, req)
	if err != nil {
		err = c.requestError(ctx, callCtx, err)
		if errors.Is(err, ErrTimeout) {
			err = fmt.Errorf("%w: tools/call after %s", ErrTimeout, timeout)
		}
		return nil, err
	}
	c.touch()
	return result, nil
}

// ListTools returns the server's tool definitions as raw JSON.
func (c *Client) ListTools(ctx context.Context, timeout time.Duration) ([]json.RawMessage, error) {
	if !c.Connected() {
		return nil, ErrDisconnected
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := c.conn.ListTools(callCtx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, c.requestError(ctx, callCtx, err)
	}
	c.touch()

	tools := make([]json.RawMessage, 0, len(result.Tools))
	for _, tool := range result.Tools {
		raw, err := json.Marshal(tool)
		if err != nil {
			return nil, fmt.Errorf("%w: tool %s: %v", backend.ErrInvalidResponse, tool.Name, err)
		}
		tools = append(tools, raw)
	}
	return tools, nil
}

// ResultText returns the text blocks of a tool result joined by newlines.
func ResultText(result *mcp.CallToolResult) string {
	raw, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return backend.ExtractText(raw)
}

// dropped marks the session gone and fails every pending request.
func (c *Client) dropped(err error) {
	if c.State() != StateDisconnected {
		c.logger.Debug("SSE stream ended", "error", err)
	}
	c.Close()
}

// Close disconnects the stream and fails pending requests. It is safe to call repeatedly.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateDisconnected))
		if c.conn != nil {
			_ = c.conn.Close()
		}
		if c.cancel != nil {
			c.cancel()
		}
	})
}

// watch returns a copy of hc whose event-stream bodies report reads and the end of the stream.
func (c *Client) watch(hc *http.Client) *http.Client {
	watched := &http.Client{}
	if hc != nil {
		*watched = *hc
	}
	next := watched.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	watched.Transport = &streamWatcher{next: next, onRead: c.touch, onEnd: c.dropped}
	return watched
}

// streamWatcher wraps the GET that carries the event stream. mcp-go only
// reports HTTP/2 idle disconnects, so a plain EOF is caught here.
type streamWatcher struct {
	next   http.RoundTripper
	onRead func()
	onEnd  func(error)
}

func (w *streamWatcher) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := w.next.RoundTrip(req)
	if err != nil || req.Method != http.MethodGet || req.Header.Get("Accept") != "text/event-stream" {
		return resp, err
	}
	resp.Body = &watchedBody{ReadCloser: resp.Body, onRead: w.onRead, onEnd: w.onEnd}
	return resp, nil
}

type watchedBody struct {
	io.ReadCloser
	onRead func()
	onEnd  func(error)
	once   sync.Once
}

func (b *watchedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.onRead()
	}
	if err != nil {
		b.once.Do(func() { b.onEnd(err) })
	}
	return n, err
}
