// ABOUTME: Routes namespaced tool calls to built-in tools or backend MCP servers
// ABOUTME: Every call is recorded in the usage log; failures become isError results, never transport errors

package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/switchboard/internal/auth"
	"github.com/2389/switchboard/internal/builtins"
	"github.com/2389/switchboard/internal/store"
)

// ErrUnknownTool is returned for a built-in namespace call naming no registered tool.
var ErrUnknownTool = errors.New("Unknown tool")

// Backend forwards a tool call to the backend identified by slug.
type Backend interface {
	Call(ctx context.Context, caller *auth.Caller, slug, tool string, args json.RawMessage) (string, error)
}

// UsageRecorder persists usage log entries.
type UsageRecorder interface {
	SaveUsage(ctx context.Context, entry *store.UsageEntry) error
}

// Config configures a Router.
type Config struct {
	Builtins *builtins.Registry
	Backend  Backend
	Usage    UsageRecorder
	// SelfSlug is the namespace of built-in tools and the default for bare names.
	SelfSlug string
	Now      func() time.Time
	Logger   *slog.Logger
}

// Router dispatches tools/call requests.
type Router struct {
	builtins *builtins.Registry
	backend  Backend
	usage    UsageRecorder
	selfSlug string
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Router.
func New(cfg Config) *Router {
	r := &Router{
		builtins: cfg.Builtins,
		backend:  cfg.Backend,
		usage:    cfg.Usage,
		selfSlug: cfg.SelfSlug,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}
	if r.selfSlug == "" {
		r.selfSlug = "switchboard"
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "router")
	return r
}

// Call is one tools/call invocation.
type Call struct {
	Name      string
	Arguments json.RawMessage
	Caller    *auth.Caller
	ClientIP  string
}

// Result is the outcome of a tool call as reported to the client.
type Result struct {
	Text    string
	IsError bool
}

// SplitName splits "namespace:tool" on the first colon. A name without a colon
// belongs to defaultNamespace.
func SplitName(full, defaultNamespace string) (namespace, tool string) {
	ns, name, found := strings.Cut(full, ":")
	if !found {
		return defaultNamespace, full
	}
	return ns, name
}

// Route executes the call and records it in the usage log.
func (r *Router) Route(ctx context.Context, call Call) Result {
	start := r.now()
	namespace, tool := SplitName(call.Name, r.selfSlug)

	text, err := r.dispatch(ctx, namespace, tool, call)
	elapsed := r.now().Sub(start)

	entry := &store.UsageEntry{
		ID:           uuid.New().String(),
		CredentialID: call.Caller.CredentialID(),
		AccountID:    call.Caller.AccountID(),
		BackendSlug:  namespace,
		ToolName:     tool,
		RequestData:  string(call.Arguments),
		Status:       store.UsageSuccess,
		DurationMS:   elapsed.Milliseconds(),
		ClientIP:     call.ClientIP,
		CreatedAt:    start.UTC(),
	}

	logger := r.logger.With("backend_slug", namespace, "tool_name", tool, "duration_ms", entry.DurationMS)
	result := Result{Text: text}
	if err != nil {
		entry.Status = store.UsageError
		entry.ErrorMessage = err.Error()
		result = Result{Text: "Error: " + err.Error(), IsError: true}
		logger.Warn("tool call failed", "error", err)
	} else {
		logger.Info("tool call succeeded")
	}

	if r.usage != nil {
		if err := r.usage.SaveUsage(ctx, entry); err != nil {
			logger.Warn("failed to record usage", "error", err)
		}
	}
	return result
}

func (r *Router) dispatch(ctx context.Context, namespace, tool string, call Call) (string, error) {
	if namespace == r.selfSlug {
		t, ok := r.builtins.Get(tool)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownTool, tool)
		}
		return t.Execute(ctx, call.Arguments, call.Caller)
	}
	if r.backend == nil {
		return "", fmt.Errorf("MCP server not found: %s", namespace)
	}
	return r.backend.Call(ctx, call.Caller, namespace, tool, call.Arguments)
}
