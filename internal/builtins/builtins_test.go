// ABOUTME: Tests for built-in tool handlers
// ABOUTME: Uses the in-memory store and a fixed clock

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/2389/switchboard/internal/auth"
	"github.com/2389/switchboard/internal/store"
)

var fixedNow = time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

// storeBackends adapts the mock store to BackendLister without access filtering.
type storeBackends struct{ s *store.MockStore }

func (b storeBackends) List(ctx context.Context, caller *auth.Caller, filter store.BackendFilter) ([]*store.Backend, error) {
	all, err := b.s.ListBackends(ctx, filter)
	if err != nil {
		return nil, err
	}
	var out []*store.Backend
	for _, be := range all {
		if caller.CanAccessBackend(be.Slug) {
			out = append(out, be)
		}
	}
	return out, nil
}

type storeSessions struct{ s *store.MockStore }

func (s storeSessions) List(ctx context.Context, owner string) ([]*store.BackendSession, error) {
	return s.s.ListBackendSessions(ctx, owner)
}

func newTestRegistry(t *testing.T) (*Registry, *store.MockStore) {
	t.Helper()
	s := store.NewMockStore()
	return NewRegistry(Deps{
		Accounts: s,
		Backends: storeBackends{s},
		Sessions: storeSessions{s},
		Now:      func() time.Time { return fixedNow },
	}), s
}

func run(t *testing.T, r *Registry, name, args string, caller *auth.Caller) (string, error) {
	t.Helper()
	tool, ok := r.Get(name)
	if !ok {
		t.Fatalf("tool %s not registered", name)
	}
	return tool.Execute(context.Background(), json.RawMessage(args), caller)
}

func member() *auth.Caller {
	return &auth.Caller{Account: &store.Account{ID: "acct-1", Username: "alice", Level: store.LevelMember}}
}

func admin() *auth.Caller {
	return &auth.Caller{Account: &store.Account{ID: "acct-root", Username: "root", Level: store.LevelRoot}}
}

func TestRegistry_Definitions(t *testing.T) {
	r, _ := newTestRegistry(t)

	want := []string{"hello", "echo", "get_time", "add_numbers", "list_users", "list_mcp_servers", "mcp_session_info"}
	defs := r.Definitions()
	if len(defs) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(defs))
	}
	for i, def := range defs {
		if def.Name != want[i] {
			t.Errorf("tool %d: expected %s, got %s", i, want[i], def.Name)
		}
		data, err := json.Marshal(def)
		if err != nil {
			t.Fatalf("marshal %s: %v", def.Name, err)
		}
		if strings.Contains(string(data), `"properties":[]`) {
			t.Errorf("%s has array properties: %s", def.Name, data)
		}
	}
}

func TestHello(t *testing.T) {
	r, _ := newTestRegistry(t)

	got, err := run(t, r, "hello", `{}`, nil)
	if err != nil {
		t.Fatalf("hello: %v", err)
	}
	if got != "Hello, World! Welcome to the switchboard MCP server." {
		t.Errorf("unexpected greeting: %q", got)
	}

	got, _ = run(t, r, "hello", `{"name":"Ada"}`, nil)
	if !strings.HasPrefix(got, "Hello, Ada!") {
		t.Errorf("unexpected greeting: %q", got)
	}
}

func TestEcho(t *testing.T) {
	r, _ := newTestRegistry(t)

	got, err := run(t, r, "echo", `{"message":"ping"}`, nil)
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	if got != "Echo: ping" {
		t.Errorf("expected 'Echo: ping', got %q", got)
	}

	for _, args := range []string{`{}`, `{"message":""}`, ``} {
		if _, err := run(t, r, "echo", args, nil); err == nil || err.Error() != "Message is required" {
			t.Errorf("args %q: expected 'Message is required', got %v", args, err)
		}
	}

	if _, err := run(t, r, "echo", `{"message":`, nil); err == nil {
		t.Error("expected error for malformed arguments")
	}
}

func TestGetTime(t *testing.T) {
	r, _ := newTestRegistry(t)

	got, err := run(t, r, "get_time", `{"timezone":"UTC"}`, nil)
	if err != nil {
		t.Fatalf("get_time: %v", err)
	}
	var resp struct {
		Datetime      string `json:"datetime"`
		Timezone      string `json:"timezone"`
		UnixTimestamp int64  `json:"unix_timestamp"`
	}
	if err := json.Unmarshal([]byte(got), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Datetime != "2026-03-01 12:30:00" {
		t.Errorf("unexpected datetime %q", resp.Datetime)
	}
	if resp.Timezone != "UTC" || resp.UnixTimestamp != fixedNow.Unix() {
		t.Errorf("unexpected response %+v", resp)
	}

	got, err = run(t, r, "get_time", `{"timezone":"Asia/Tokyo","format":"15:04"}`, nil)
	if err != nil {
		t.Fatalf("get_time tokyo: %v", err)
	}
	if !strings.Contains(got, `"datetime": "21:30"`) {
		t.Errorf("expected Tokyo time 21:30 in %s", got)
	}

	_, err = run(t, r, "get_time", `{"timezone":"Mars/Olympus"}`, nil)
	if err == nil || err.Error() != "Invalid timezone: Mars/Olympus" {
		t.Errorf("expected invalid timezone error, got %v", err)
	}
}

func TestAddNumbers(t *testing.T) {
	r, _ := newTestRegistry(t)

	got, err := run(t, r, "add_numbers", `{"a":2.5,"b":-1}`, nil)
	if err != nil {
		t.Fatalf("add_numbers: %v", err)
	}
	var resp map[string]any
	if err := json.Unmarshal([]byte(got), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["result"] != 1.5 || resp["operation"] != "addition" {
		t.Errorf("unexpected response %v", resp)
	}

	// Zero is a valid operand
	if _, err := run(t, r, "add_numbers", `{"a":0,"b":0}`, nil); err != nil {
		t.Errorf("zero operands: %v", err)
	}

	_, err = run(t, r, "add_numbers", `{"a":1}`, nil)
	if err == nil || err.Error() != "Both 'a' and 'b' parameters are required" {
		t.Errorf("expected missing parameter error, got %v", err)
	}
}

func TestListUsers(t *testing.T) {
	r, s := newTestRegistry(t)
	ctx := context.Background()
	for _, name := range []string{"alice", "bob", "carol"} {
		if err := s.CreateAccount(ctx, &store.Account{ID: "acct-" + name, Username: name, Level: store.LevelMember, CreatedAt: fixedNow}); err != nil {
			t.Fatalf("create account: %v", err)
		}
	}

	_, err := run(t, r, "list_users", `{}`, member())
	if !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("expected ErrAdminRequired, got %v", err)
	}
	if _, err := run(t, r, "list_users", `{}`, nil); !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("nil caller: expected ErrAdminRequired, got %v", err)
	}

	got, err := run(t, r, "list_users", `{"limit":2}`, admin())
	if err != nil {
		t.Fatalf("list_users: %v", err)
	}
	var resp struct {
		Count int           `json:"count"`
		Users []userSummary `json:"users"`
	}
	if err := json.Unmarshal([]byte(got), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 || len(resp.Users) != 2 {
		t.Errorf("expected 2 users, got %+v", resp)
	}
}

func TestListMCPServers(t *testing.T) {
	r, s := newTestRegistry(t)
	ctx := context.Background()

	backends := []*store.Backend{
		{ID: "1", Slug: "weather", Name: "Weather", Status: store.BackendStatusActive, AuthType: "none",
			Tags: []string{"api"}, ToolsCache: `[{"name":"forecast"},{"name":"alerts"}]`, CreatedAt: fixedNow},
		{ID: "2", Slug: "github", Name: "GitHub", Status: store.BackendStatusActive, AuthType: "bearer", Featured: true, CreatedAt: fixedNow},
		{ID: "3", Slug: "legacy", Name: "Legacy", Status: store.BackendStatusDeprecated, CreatedAt: fixedNow},
	}
	for _, b := range backends {
		if err := s.CreateBackend(ctx, b); err != nil {
			t.Fatalf("create backend: %v", err)
		}
	}

	type response struct {
		Count   int             `json:"count"`
		Servers []serverSummary `json:"servers"`
	}
	list := func(args string, caller *auth.Caller) response {
		t.Helper()
		got, err := run(t, r, "list_mcp_servers", args, caller)
		if err != nil {
			t.Fatalf("list_mcp_servers %s: %v", args, err)
		}
		var resp response
		if err := json.Unmarshal([]byte(got), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return resp
	}

	active := list(`{}`, member())
	if active.Count != 2 || active.Servers[0].Slug != "github" {
		t.Fatalf("expected github first among 2 active servers, got %+v", active)
	}
	weather := active.Servers[1]
	if weather.ToolCount == nil || *weather.ToolCount != 2 || strings.Join(weather.ToolNames, ",") != "forecast,alerts" {
		t.Errorf("unexpected tool summary %+v", weather)
	}

	if all := list(`{"status":"all"}`, member()); all.Count != 3 {
		t.Errorf("expected 3 servers with status all, got %d", all.Count)
	}
	if tagged := list(`{"tag":"api"}`, member()); tagged.Count != 1 {
		t.Errorf("expected 1 tagged server, got %d", tagged.Count)
	}
	if featured := list(`{"featured_only":true}`, member()); featured.Count != 1 || featured.Servers[0].Slug != "github" {
		t.Errorf("unexpected featured list %+v", featured)
	}

	withTools := list(`{"include_tools":true,"tag":"api"}`, member())
	if len(withTools.Servers[0].Tools) != 2 || withTools.Servers[0].ToolCount != nil {
		t.Errorf("expected full tool definitions, got %+v", withTools.Servers[0])
	}

	scoped := &auth.Caller{
		Account:    &store.Account{ID: "acct-1"},
		Credential: &store.APICredential{ID: "cred-1", AllowedBackends: []string{"weather"}},
	}
	if only := list(`{}`, scoped); only.Count != 1 || only.Servers[0].Slug != "weather" {
		t.Errorf("scoped caller should only see weather, got %+v", only)
	}

	if _, err := run(t, r, "list_mcp_servers", `{"status":"bogus"}`, member()); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestMCPSessionInfo(t *testing.T) {
	r, s := newTestRegistry(t)
	ctx := context.Background()

	if err := s.UpsertBackendSession(ctx, &store.BackendSession{
		OwnerKey: "cred-1", BackendSlug: "weather", SessionID: "sess-abc",
		ExpiresAt: fixedNow.Add(30 * time.Minute), UpdatedAt: fixedNow,
	}); err != nil {
		t.Fatalf("upsert session: %v", err)
	}

	caller := &auth.Caller{
		Account:    &store.Account{ID: "acct-1", Username: "alice"},
		Credential: &store.APICredential{ID: "cred-1", Scopes: []string{store.ScopeTools}},
		Method:     auth.MethodBearer,
	}
	got, err := run(t, r, "mcp_session_info", `{}`, caller)
	if err != nil {
		t.Fatalf("mcp_session_info: %v", err)
	}
	for _, want := range []string{`"credential_id": "cred-1"`, `"sess-abc"`, `"auth_method": "bearer"`, `"mcp:tools"`} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %s in %s", want, got)
		}
	}

	if _, err := run(t, r, "mcp_session_info", `{}`, nil); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated for anonymous caller, got %v", err)
	}
}
