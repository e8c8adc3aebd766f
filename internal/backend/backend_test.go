// ABOUTME: Shared fakes for backend package tests
// ABOUTME: A scriptable httptest MCP server that counts methods and can fail tool calls

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/switchboard/internal/store"
)

// fakeBackend is an MCP server that hands out numbered sessions.
type fakeBackend struct {
	mu sync.Mutex
	// failCalls answers that many tools/call requests with failStatus.
	failCalls  int
	failStatus int
	// sse frames replies as Server-Sent Events.
	sse      bool
	calls    map[string]int
	sessions []string // session header seen on each tools/call
	authSeen string
	reply    func(name string, args json.RawMessage) string
	server   *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	f := &fakeBackend{
		calls:      make(map[string]int),
		failStatus: http.StatusNotFound,
		reply: func(name string, _ json.RawMessage) string {
			return fmt.Sprintf(`{"content":[{"type":"text","text":"called %s"}]}`, name)
		},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"params"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.calls[req.Method]++
	count := f.calls[req.Method]
	f.authSeen = r.Header.Get("Authorization")
	var result string
	switch req.Method {
	case "initialize":
		w.Header().Set(SessionHeader, fmt.Sprintf("sess-%d", count))
		result = `{"protocolVersion":"2024-11-05","capabilities":{},"serverInfo":{"name":"fake","version":"0.1"}}`
	case "tools/list":
		result = `{"tools":[{"name":"forecast","description":"Weather","inputSchema":{"type":"object","properties":[]}}]}`
	case "tools/call":
		f.sessions = append(f.sessions, r.Header.Get(SessionHeader))
		if f.failCalls > 0 {
			f.failCalls--
			f.mu.Unlock()
			http.Error(w, "unknown session", f.failStatus)
			return
		}
		result = f.reply(req.Params.Name, req.Params.Arguments)
	}
	sse := f.sse
	f.mu.Unlock()

	payload := fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":%s}`, req.ID, result)
	if sse {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, payload)
}

func (f *fakeBackend) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeBackend) lastAuth() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authSeen
}

func (f *fakeBackend) seenSessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sessions...)
}

func newTestClient() *Client {
	return NewClient(nil, mcp.Implementation{Name: "switchboard-mcp", Version: "test"}, nil)
}

func testBackend(slug, endpoint string) *store.Backend {
	return &store.Backend{
		ID:           "id-" + slug,
		Slug:         slug,
		Name:         slug,
		EndpointURL:  endpoint,
		Status:       store.BackendStatusActive,
		ProxyEnabled: true,
	}
}

// unreachableURL returns the URL of a server that has already shut down.
func unreachableURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/mcp"
	srv.Close()
	return url
}

func requireNoSpawn(t *testing.T) SpawnFunc {
	return func(_ context.Context, script string) (int, error) {
		t.Errorf("unexpected spawn: %s", script)
		return 0, fmt.Errorf("spawn not allowed in this test")
	}
}
