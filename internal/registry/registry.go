// ABOUTME: Backend registry with a TTL tool cache and parallel tool aggregation
// ABOUTME: Serves cached tool lists, refreshes them live from backends, and degrades to the old cache on failure

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/2389/switchboard/internal/auth"
	"github.com/2389/switchboard/internal/backend"
	"github.com/2389/switchboard/internal/store"
)

// DefaultToolCacheTTL is how long a fetched tool list is served without refetching.
const DefaultToolCacheTTL = time.Hour

// aggregateConcurrency bounds parallel backend fetches during tools/list.
const aggregateConcurrency = 8

// ToolFetcher retrieves a backend's live tool list.
type ToolFetcher interface {
	ListTools(ctx context.Context, b *store.Backend) ([]json.RawMessage, error)
	TestConnection(ctx context.Context, b *store.Backend) (*backend.InitResult, error)
}

// Config configures a Registry.
type Config struct {
	Backends store.BackendStore
	Fetcher  ToolFetcher
	TTL      time.Duration
	// SelfSlug names the gateway's own registration, which aggregation skips.
	SelfSlug string
	Now      func() time.Time
	Logger   *slog.Logger
}

// Registry is the catalog of backend MCP servers.
type Registry struct {
	backends store.BackendStore
	fetcher  ToolFetcher
	ttl      time.Duration
	selfSlug string
	now      func() time.Time
	logger   *slog.Logger

	// refreshes collapses concurrent live fetches for one backend.
	refreshes singleflight.Group
}

// New creates a Registry.
func New(cfg Config) *Registry {
	r := &Registry{
		backends: cfg.Backends,
		fetcher:  cfg.Fetcher,
		ttl:      cfg.TTL,
		selfSlug: cfg.SelfSlug,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}
	if r.ttl <= 0 {
		r.ttl = DefaultToolCacheTTL
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// List returns backends matching the filter that the caller may access,
// in display order (featured first, then sort order, then name).
func (r *Registry) List(ctx context.Context, caller *auth.Caller, filter store.BackendFilter) ([]*store.Backend, error) {
	limit := filter.Limit
	filter.Limit = 0

	all, err := r.backends.ListBackends(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing backends: %w", err)
	}

	allowed := make([]*store.Backend, 0, len(all))
	for _, b := range all {
		if !caller.CanAccessBackend(b.Slug) {
			continue
		}
		allowed = append(allowed, b)
		if limit > 0 && len(allowed) == limit {
			break
		}
	}
	return allowed, nil
}

// ListAllowed returns the active, proxy-enabled backends the caller may use.
func (r *Registry) ListAllowed(ctx context.Context, caller *auth.Caller) ([]*store.Backend, error) {
	return r.List(ctx, caller, store.BackendFilter{
		Status:       store.BackendStatusActive,
		ProxyEnabled: true,
	})
}

// Get looks up a backend by slug.
func (r *Registry) Get(ctx context.Context, slug string) (*store.Backend, error) {
	return r.backends.GetBackendBySlug(ctx, slug)
}

// GetTools returns the backend's raw tool definitions. A cache younger than the
// TTL is served as is. Backends with a local endpoint only ever serve their stored
// tools. Otherwise the list is fetched live; a failed fetch is logged and the
// previous cache is returned.
func (r *Registry) GetTools(ctx context.Context, b *store.Backend) []json.RawMessage {
	if b.ToolsCachedAt != nil && b.ToolsCache != "" && r.now().Sub(*b.ToolsCachedAt) < r.ttl {
		return r.parseCache(b)
	}
	if !isRemote(b.EndpointURL) {
		return r.parseCache(b)
	}

	tools, err := r.Refresh(ctx, b)
	if err != nil {
		r.logger.Warn("tool refresh failed, serving cached tools",
			"backend_slug", b.Slug,
			"error", err,
		)
		return r.parseCache(b)
	}
	return tools
}

// Refresh fetches the backend's tools live and stores them with a fresh timestamp.
func (r *Registry) Refresh(ctx context.Context, b *store.Backend) ([]json.RawMessage, error) {
	v, err, _ := r.refreshes.Do(b.Slug, func() (any, error) {
		tools, err := r.fetcher.ListTools(ctx, b)
		if err != nil {
			return nil, err
		}
		if tools == nil {
			tools = []json.RawMessage{}
		}

		data, err := json.Marshal(tools)
		if err != nil {
			return nil, fmt.Errorf("encoding tools: %w", err)
		}
		cachedAt := r.now().UTC()
		if err := r.backends.UpdateBackendTools(ctx, b.Slug, string(data), cachedAt); err != nil {
			r.logger.Warn("failed to store tool cache", "backend_slug", b.Slug, "error", err)
		} else {
			b.ToolsCache = string(data)
			b.ToolsCachedAt = &cachedAt
		}

		r.logger.Info("refreshed backend tools", "backend_slug", b.Slug, "count", len(tools))
		return tools, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]json.RawMessage), nil
}

// Fetch forces a live refresh of the backend with the given slug.
func (r *Registry) Fetch(ctx context.Context, slug string) ([]json.RawMessage, error) {
	b, err := r.backends.GetBackendBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return r.Refresh(ctx, b)
}

// TestConnection handshakes with the backend with the given slug.
func (r *Registry) TestConnection(ctx context.Context, slug string) (*backend.InitResult, error) {
	b, err := r.backends.GetBackendBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return r.fetcher.TestConnection(ctx, b)
}

// Aggregate returns the namespaced tools of every backend the caller may use,
// fetched in parallel and kept in registry order. The gateway's own slug is skipped.
func (r *Registry) Aggregate(ctx context.Context, caller *auth.Caller) ([]json.RawMessage, error) {
	backends, err := r.ListAllowed(ctx, caller)
	if err != nil {
		return nil, err
	}

	perBackend := make([][]json.RawMessage, len(backends))
	var g errgroup.Group
	g.SetLimit(aggregateConcurrency)
	for i, b := range backends {
		if b.Slug == r.selfSlug {
			continue
		}
		g.Go(func() error {
			raw := r.GetTools(ctx, b)
			tools := make([]json.RawMessage, 0, len(raw))
			for _, def := range raw {
				tool, err := NormalizeTool(b, def)
				if err != nil {
					r.logger.Warn("skipping malformed tool", "backend_slug", b.Slug, "error", err)
					continue
				}
				tools = append(tools, tool)
			}
			perBackend[i] = tools
			return nil
		})
	}
	_ = g.Wait()

	var all []json.RawMessage
	for _, tools := range perBackend {
		all = append(all, tools...)
	}
	return all, nil
}

func (r *Registry) parseCache(b *store.Backend) []json.RawMessage {
	if b.ToolsCache == "" {
		return nil
	}
	var tools []json.RawMessage
	if err := json.Unmarshal([]byte(b.ToolsCache), &tools); err != nil {
		r.logger.Warn("ignoring unreadable tool cache", "backend_slug", b.Slug, "error", err)
		return nil
	}
	return tools
}

// NormalizeTool namespaces a backend tool definition for the aggregated list.
// The name gains the "slug:" prefix and the description the "[Name] " prefix.
// An input schema whose properties are an empty array (or missing) gets an
// empty object instead, and schema keywords clients reject are dropped.
func NormalizeTool(b *store.Backend, raw json.RawMessage) (json.RawMessage, error) {
	var tool map[string]any
	if err := json.Unmarshal(raw, &tool); err != nil {
		return nil, fmt.Errorf("decoding tool: %w", err)
	}
	name, _ := tool["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("tool has no name")
	}

	label := b.Name
	if label == "" {
		label = b.Slug
	}
	description, _ := tool["description"].(string)

	tool["name"] = b.Slug + ":" + name
	tool["description"] = "[" + label + "] " + description
	tool["inputSchema"] = normalizeSchema(tool["inputSchema"])

	return json.Marshal(tool)
}

// NormalizeDefinition applies the inputSchema normalization to a tool that
// keeps its own name, such as a gateway built-in.
func NormalizeDefinition(raw json.RawMessage) (json.RawMessage, error) {
	var tool map[string]any
	if err := json.Unmarshal(raw, &tool); err != nil {
		return nil, fmt.Errorf("decoding tool: %w", err)
	}
	tool["inputSchema"] = normalizeSchema(tool["inputSchema"])
	return json.Marshal(tool)
}

func normalizeSchema(v any) map[string]any {
	schema, ok := v.(map[string]any)
	if !ok {
		schema = map[string]any{}
	}
	if t, _ := schema["type"].(string); t == "" {
		schema["type"] = "object"
	}
	if props, ok := schema["properties"].(map[string]any); !ok || props == nil {
		schema["properties"] = map[string]any{}
	}
	delete(schema, "$schema")
	delete(schema, "additionalProperties")
	return schema
}

var (
	slugPattern  = regexp.MustCompile(`^[a-z0-9-]+$`)
	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
)

// ValidSlug reports whether s is a usable backend slug.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}

// GenerateSlug derives a slug from a display name: lowercased, runs of other
// characters collapsed to "-", and trimmed of leading and trailing dashes.
func GenerateSlug(name string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(slug, "-")
}

func isRemote(endpoint string) bool {
	return strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
}
