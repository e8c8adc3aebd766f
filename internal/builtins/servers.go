// ABOUTME: Built-in tools describing the backend registry and the caller's sessions
// ABOUTME: list_mcp_servers reads stored tool caches only and never contacts backends

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/switchboard/internal/auth"
	"github.com/2389/switchboard/internal/store"
)

const (
	defaultServerLimit = 50
	maxServerLimit     = 100
)

func registryTools(deps Deps) []*Tool {
	return []*Tool{
		{
			Definition: mcp.NewTool("list_mcp_servers",
				mcp.WithDescription("Lists registered MCP servers. Returns server names, endpoints, versions, and available tools."),
				mcp.WithString("status",
					mcp.Description("Filter by status. Defaults to active only."),
					mcp.Enum("active", "inactive", "deprecated", "all"),
				),
				mcp.WithString("auth_type",
					mcp.Description("Filter by authentication type"),
					mcp.Enum("none", "basic", "bearer", "apikey"),
				),
				mcp.WithString("tag", mcp.Description("Filter by tag")),
				mcp.WithBoolean("featured_only", mcp.Description("Return only featured servers")),
				mcp.WithBoolean("include_tools", mcp.Description("Include full tool definitions. Defaults to false.")),
				mcp.WithNumber("limit", mcp.Description("Maximum number of servers to return (default: 50, max: 100)")),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: listServers(deps.Backends),
		},
		{
			Definition: mcp.NewTool("mcp_session_info",
				mcp.WithDescription("Returns the authenticated identity and its stored backend sessions, for debugging."),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: sessionInfo(deps.Sessions, deps.Now),
		},
	}
}

type serverSummary struct {
	Slug          string            `json:"slug"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	EndpointURL   string            `json:"endpoint_url"`
	Version       string            `json:"version"`
	Status        string            `json:"status"`
	Author        string            `json:"author"`
	AuthType      string            `json:"auth_type"`
	Documentation string            `json:"documentation"`
	Featured      bool              `json:"featured"`
	Tags          []string          `json:"tags"`
	Tools         []json.RawMessage `json:"tools,omitempty"`
	ToolCount     *int              `json:"tool_count,omitempty"`
	ToolNames     []string          `json:"tool_names,omitempty"`
}

func listServers(backends BackendLister) Handler {
	return func(ctx context.Context, args json.RawMessage, caller *auth.Caller) (string, error) {
		var in struct {
			Status       string `json:"status"`
			AuthType     string `json:"auth_type"`
			Tag          string `json:"tag"`
			FeaturedOnly bool   `json:"featured_only"`
			IncludeTools bool   `json:"include_tools"`
			Limit        int    `json:"limit"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}

		filter := store.BackendFilter{
			AuthType:     in.AuthType,
			Tag:          in.Tag,
			FeaturedOnly: in.FeaturedOnly,
			Limit:        in.Limit,
		}
		switch in.Status {
		case "", string(store.BackendStatusActive):
			filter.Status = store.BackendStatusActive
		case "all":
		case string(store.BackendStatusInactive), string(store.BackendStatusDeprecated):
			filter.Status = store.BackendStatus(in.Status)
		default:
			return "", fmt.Errorf("Invalid status: %s", in.Status)
		}
		if filter.Limit <= 0 {
			filter.Limit = defaultServerLimit
		}
		if filter.Limit > maxServerLimit {
			filter.Limit = maxServerLimit
		}

		list, err := backends.List(ctx, caller, filter)
		if err != nil {
			return "", err
		}

		servers := make([]serverSummary, 0, len(list))
		for _, b := range list {
			s := serverSummary{
				Slug:          b.Slug,
				Name:          b.Name,
				Description:   b.Description,
				EndpointURL:   b.EndpointURL,
				Version:       b.Version,
				Status:        string(b.Status),
				Author:        b.Author,
				AuthType:      b.AuthType,
				Documentation: b.Documentation,
				Featured:      b.Featured,
				Tags:          b.Tags,
			}
			if s.Tags == nil {
				s.Tags = []string{}
			}

			tools := cachedTools(b)
			if in.IncludeTools {
				s.Tools = tools
			} else {
				count := len(tools)
				s.ToolCount = &count
				s.ToolNames = toolNames(tools)
			}
			servers = append(servers, s)
		}
		return toJSON(map[string]any{"count": len(servers), "servers": servers})
	}
}

func cachedTools(b *store.Backend) []json.RawMessage {
	if b.ToolsCache == "" {
		return []json.RawMessage{}
	}
	var tools []json.RawMessage
	if err := json.Unmarshal([]byte(b.ToolsCache), &tools); err != nil {
		return []json.RawMessage{}
	}
	return tools
}

func toolNames(tools []json.RawMessage) []string {
	names := make([]string, 0, len(tools))
	for _, raw := range tools {
		var t struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(raw, &t) != nil || t.Name == "" {
			names = append(names, "unknown")
			continue
		}
		names = append(names, t.Name)
	}
	return names
}

type sessionSummary struct {
	BackendSlug string    `json:"backend_slug"`
	SessionID   string    `json:"session_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func sessionInfo(sessions SessionLister, now func() time.Time) Handler {
	return func(ctx context.Context, _ json.RawMessage, caller *auth.Caller) (string, error) {
		if caller == nil || caller.Account == nil {
			return "", auth.ErrUnauthenticated
		}

		live, err := sessions.List(ctx, caller.OwnerKey())
		if err != nil {
			return "", fmt.Errorf("listing sessions: %w", err)
		}
		summaries := make([]sessionSummary, 0, len(live))
		for _, s := range live {
			summaries = append(summaries, sessionSummary{
				BackendSlug: s.BackendSlug,
				SessionID:   s.SessionID,
				ExpiresAt:   s.ExpiresAt.UTC(),
				UpdatedAt:   s.UpdatedAt.UTC(),
			})
		}

		info := map[string]any{
			"account_id":    caller.AccountID(),
			"username":      caller.Account.Username,
			"auth_method":   string(caller.Method),
			"credential_id": caller.CredentialID(),
			"sessions":      summaries,
			"current_time":  now().UTC(),
		}
		if cred := caller.Credential; cred != nil {
			info["scopes"] = nonNil(cred.Scopes)
			info["allowed_backends"] = nonNil(cred.AllowedBackends)
		}
		return toJSON(info)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
