// ABOUTME: Registry of built-in tools keyed by name
// ABOUTME: Each tool pairs an mcp.Tool definition with a uniform Execute handler

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/switchboard/internal/auth"
	"github.com/2389/switchboard/internal/store"
)

// ErrAdminRequired is returned by tools that need an administrative caller.
var ErrAdminRequired = errors.New("Admin access required for this tool")

// Handler executes a tool call for the authenticated caller.
type Handler func(ctx context.Context, args json.RawMessage, caller *auth.Caller) (string, error)

// Tool is a built-in tool.
type Tool struct {
	Definition mcp.Tool
	Handler    Handler
}

// Execute runs the tool.
func (t *Tool) Execute(ctx context.Context, args json.RawMessage, caller *auth.Caller) (string, error) {
	return t.Handler(ctx, args, caller)
}

// AccountLister lists accounts for list_users.
type AccountLister interface {
	ListAccounts(ctx context.Context, limit int) ([]*store.Account, error)
}

// BackendLister lists registry entries visible to a caller.
type BackendLister interface {
	List(ctx context.Context, caller *auth.Caller, filter store.BackendFilter) ([]*store.Backend, error)
}

// SessionLister lists a caller's live backend sessions.
type SessionLister interface {
	List(ctx context.Context, ownerKey string) ([]*store.BackendSession, error)
}

// Deps are the collaborators built-in tools read from.
type Deps struct {
	Accounts AccountLister
	Backends BackendLister
	Sessions SessionLister
	// ServerName is used in greetings.
	ServerName string
	Now        func() time.Time
}

// Registry maps tool names to built-in tools, keeping registration order.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry registers every built-in tool.
func NewRegistry(deps Deps) *Registry {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ServerName == "" {
		deps.ServerName = "switchboard"
	}

	r := &Registry{tools: make(map[string]*Tool)}
	for _, t := range basicTools(deps) {
		r.Register(t)
	}
	for _, t := range adminTools(deps) {
		r.Register(t)
	}
	for _, t := range registryTools(deps) {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t *Tool) {
	name := t.Definition.Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns every tool definition in registration order.
func (r *Registry) Definitions() []mcp.Tool {
	defs := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// decodeArgs unmarshals tool arguments, treating an empty payload as {}.
func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func toJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
