// ABOUTME: Admin JSON API for the backend registry, credentials, logs, and persistent sessions
// ABOUTME: Every route requires a JWT for an admin-level account; disabled without auth.jwt_secret

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/switchboard/internal/auth"
	"github.com/2389/switchboard/internal/backend"
	"github.com/2389/switchboard/internal/registry"
	"github.com/2389/switchboard/internal/store"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// BackendRequest is the JSON body for creating or updating a backend.
// Nil fields are left unchanged on update.
type BackendRequest struct {
	Slug              *string   `json:"slug"`
	Name              *string   `json:"name"`
	Description       *string   `json:"description"`
	Version           *string   `json:"version"`
	Author            *string   `json:"author"`
	EndpointURL       *string   `json:"endpoint_url"`
	Status            *string   `json:"status"`
	AuthType          *string   `json:"auth_type"`
	AuthHeader        *string   `json:"auth_header"`
	AuthToken         *string   `json:"auth_token"`
	Tags              *[]string `json:"tags"`
	Featured          *bool     `json:"featured"`
	SortOrder         *int      `json:"sort_order"`
	ProxyEnabled      *bool     `json:"proxy_enabled"`
	StartupCommand    *string   `json:"startup_command"`
	StartupArgs       *[]string `json:"startup_args"`
	StartupWorkingDir *string   `json:"startup_working_dir"`
	StartupPort       *int      `json:"startup_port"`
	Documentation     *string   `json:"documentation"`
}

// BackendResponse is the JSON view of a backend. The auth token is never returned.
type BackendResponse struct {
	ID                string     `json:"id"`
	Slug              string     `json:"slug"`
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	Version           string     `json:"version,omitempty"`
	Author            string     `json:"author,omitempty"`
	EndpointURL       string     `json:"endpoint_url"`
	Status            string     `json:"status"`
	AuthType          string     `json:"auth_type,omitempty"`
	AuthHeader        string     `json:"auth_header,omitempty"`
	HasAuthToken      bool       `json:"has_auth_token"`
	Tags              []string   `json:"tags"`
	Featured          bool       `json:"featured"`
	SortOrder         int        `json:"sort_order"`
	ProxyEnabled      bool       `json:"proxy_enabled"`
	ToolCount         int        `json:"tool_count"`
	ToolsCachedAt     *time.Time `json:"tools_cached_at,omitempty"`
	StartupCommand    string     `json:"startup_command,omitempty"`
	StartupArgs       []string   `json:"startup_args,omitempty"`
	StartupWorkingDir string     `json:"startup_working_dir,omitempty"`
	StartupPort       int        `json:"startup_port,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// RequestLogResponse is the JSON view of one front door exchange.
type RequestLogResponse struct {
	ID           string    `json:"id"`
	Method       string    `json:"method"`
	RequestBody  string    `json:"request_body"`
	ResponseBody string    `json:"response_body"`
	HTTPCode     int       `json:"http_code"`
	DurationMS   int64     `json:"duration_ms"`
	Error        string    `json:"error,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	AccountID    string    `json:"account_id,omitempty"`
	ClientIP     string    `json:"client_ip,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// UsageResponse is the JSON view of one tool call.
type UsageResponse struct {
	ID           string    `json:"id"`
	CredentialID string    `json:"credential_id,omitempty"`
	AccountID    string    `json:"account_id,omitempty"`
	BackendSlug  string    `json:"backend_slug"`
	ToolName     string    `json:"tool_name"`
	Status       string    `json:"status"`
	DurationMS   int64     `json:"duration_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ClientIP     string    `json:"client_ip,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// CredentialResponse is the JSON view of a credential. Token is only set on creation.
type CredentialResponse struct {
	ID              string     `json:"id"`
	AccountID       string     `json:"account_id"`
	Name            string     `json:"name"`
	Token           string     `json:"token,omitempty"`
	Scopes          []string   `json:"scopes"`
	AllowedBackends []string   `json:"allowed_backends"`
	Active          bool       `json:"active"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	UsageCount      int64      `json:"usage_count"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// createCredentialRequest is the JSON body for POST /api/credentials.
type createCredentialRequest struct {
	CredentialRequest
	ExpiresIn string `json:"expires_in"`
}

// registerAdminRoutes mounts /api/* behind JWT and admin-level checks.
func (g *Gateway) registerAdminRoutes(mux *http.ServeMux) {
	if g.jwt == nil {
		g.logger.Warn("admin API disabled - no jwt_secret configured")
		return
	}
	authMiddleware := auth.HTTPAuthMiddleware(g.store, g.jwt)
	adminMiddleware := auth.RequireAdminHTTP()
	admin := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(adminMiddleware(h))
	}

	mux.Handle("GET /api/backends", admin(g.handleListBackends))
	mux.Handle("POST /api/backends", admin(g.handleCreateBackend))
	mux.Handle("GET /api/backends/{slug}", admin(g.handleGetBackend))
	mux.Handle("PUT /api/backends/{slug}", admin(g.handleUpdateBackend))
	mux.Handle("DELETE /api/backends/{slug}", admin(g.handleDeleteBackend))
	mux.Handle("POST /api/backends/{slug}/fetch", admin(g.handleFetchTools))
	mux.Handle("POST /api/backends/{slug}/test", admin(g.handleTestConnection))
	mux.Handle("POST /api/backends/{slug}/start", admin(g.handleStartBackend))
	mux.Handle("POST /api/backends/{slug}/stop", admin(g.handleStopBackend))
	mux.Handle("GET /api/backends/{slug}/status", admin(g.handleBackendStatus))

	mux.Handle("GET /api/credentials", admin(g.handleListCredentials))
	mux.Handle("POST /api/credentials", admin(g.handleCreateCredential))
	mux.Handle("DELETE /api/credentials/{id}", admin(g.handleRevokeCredential))

	mux.Handle("GET /api/logs", admin(g.handleListLogs))
	mux.Handle("DELETE /api/logs", admin(g.handlePruneLogs))
	mux.Handle("GET /api/usage", admin(g.handleListUsage))

	mux.Handle("GET /api/sessions", admin(g.handleListSessions))
	mux.Handle("DELETE /api/sessions/{owner}/{slug}", admin(g.handleClearSession))

	g.logger.Info("admin API enabled at /api/")
}

func toBackendResponse(b *store.Backend) BackendResponse {
	tags := b.Tags
	if tags == nil {
		tags = []string{}
	}
	var tools []json.RawMessage
	_ = json.Unmarshal([]byte(b.ToolsCache), &tools)
	return BackendResponse{
		ID:                b.ID,
		Slug:              b.Slug,
		Name:              b.Name,
		Description:       b.Description,
		Version:           b.Version,
		Author:            b.Author,
		EndpointURL:       b.EndpointURL,
		Status:            string(b.Status),
		AuthType:          b.AuthType,
		AuthHeader:        b.AuthHeader,
		HasAuthToken:      b.AuthToken != "",
		Tags:              tags,
		Featured:          b.Featured,
		SortOrder:         b.SortOrder,
		ProxyEnabled:      b.ProxyEnabled,
		ToolCount:         len(tools),
		ToolsCachedAt:     b.ToolsCachedAt,
		StartupCommand:    b.StartupCommand,
		StartupArgs:       b.StartupArgs,
		StartupWorkingDir: b.StartupWorkingDir,
		StartupPort:       b.StartupPort,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

// handleListBackends handles GET /api/backends with optional status, tag,
// auth_type and featured query filters.
func (g *Gateway) handleListBackends(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.BackendFilter{
		Status:       store.BackendStatus(q.Get("status")),
		Tag:          q.Get("tag"),
		AuthType:     q.Get("auth_type"),
		FeaturedOnly: q.Get("featured") == "true",
	}
	backends, err := g.store.ListBackends(r.Context(), filter)
	if err != nil {
		g.logger.Error("failed to list backends", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list backends")
		return
	}

	out := make([]BackendResponse, 0, len(backends))
	for _, b := range backends {
		out = append(out, toBackendResponse(b))
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"backends": out, "count": len(out)})
}

// handleCreateBackend handles POST /api/backends. The slug is derived from the
// name when omitted.
func (g *Gateway) handleCreateBackend(w http.ResponseWriter, r *http.Request) {
	var req BackendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.EndpointURL == nil || *req.EndpointURL == "" {
		g.sendJSONError(w, http.StatusBadRequest, "endpoint_url is required")
		return
	}

	now := time.Now().UTC()
	b := &store.Backend{
		ID:           uuid.New().String(),
		Status:       store.BackendStatusActive,
		ProxyEnabled: true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	applyBackendRequest(b, &req)
	if b.Slug == "" {
		b.Slug = registry.GenerateSlug(b.Name)
	}
	if !registry.ValidSlug(b.Slug) {
		g.sendJSONError(w, http.StatusBadRequest, "slug must match ^[a-z0-9-]+$")
		return
	}
	if !validStatus(b.Status) {
		g.sendJSONError(w, http.StatusBadRequest, "status must be active, inactive, or deprecated")
		return
	}

	if err := g.store.CreateBackend(r.Context(), b); err != nil {
		if errors.Is(err, store.ErrDuplicateSlug) {
			g.sendJSONError(w, http.StatusConflict, "slug already registered: "+b.Slug)
			return
		}
		g.logger.Error("failed to create backend", "backend_slug", b.Slug, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to create backend")
		return
	}
	g.logger.Info("registered backend", "backend_slug", b.Slug, "endpoint", b.EndpointURL)
	g.sendJSON(w, http.StatusCreated, toBackendResponse(b))
}

// applyBackendRequest copies every non-nil field of req onto b.
func applyBackendRequest(b *store.Backend, req *BackendRequest) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setString(&b.Slug, req.Slug)
	setString(&b.Name, req.Name)
	setString(&b.Description, req.Description)
	setString(&b.Version, req.Version)
	setString(&b.Author, req.Author)
	setString(&b.EndpointURL, req.EndpointURL)
	setString(&b.AuthType, req.AuthType)
	setString(&b.AuthHeader, req.AuthHeader)
	setString(&b.AuthToken, req.AuthToken)
	setString(&b.StartupCommand, req.StartupCommand)
	setString(&b.StartupWorkingDir, req.StartupWorkingDir)
	setString(&b.Documentation, req.Documentation)
	if req.Status != nil {
		b.Status = store.BackendStatus(*req.Status)
	}
	if req.Tags != nil {
		b.Tags = *req.Tags
	}
	if req.Featured != nil {
		b.Featured = *req.Featured
	}
	if req.SortOrder != nil {
		b.SortOrder = *req.SortOrder
	}
	if req.ProxyEnabled != nil {
		b.ProxyEnabled = *req.ProxyEnabled
	}
	if req.StartupArgs != nil {
		b.StartupArgs = *req.StartupArgs
	}
	if req.StartupPort != nil {
		b.StartupPort = *req.StartupPort
	}
}

func validStatus(s store.BackendStatus) bool {
	switch s {
	case store.BackendStatusActive, store.BackendStatusInactive, store.BackendStatusDeprecated:
		return true
	}
	return false
}

// loadBackend fetches the {slug} path backend, writing 404 when it does not exist.
func (g *Gateway) loadBackend(w http.ResponseWriter, r *http.Request) (*store.Backend, bool) {
	slug := r.PathValue("slug")
	b, err := g.store.GetBackendBySlug(r.Context(), slug)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "backend not found: "+slug)
		return nil, false
	}
	if err != nil {
		g.logger.Error("failed to load backend", "backend_slug", slug, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to load backend")
		return nil, false
	}
	return b, true
}

// handleGetBackend handles GET /api/backends/{slug}.
func (g *Gateway) handleGetBackend(w http.ResponseWriter, r *http.Request) {
	b, ok := g.loadBackend(w, r)
	if !ok {
		return
	}
	g.sendJSON(w, http.StatusOK, toBackendResponse(b))
}

// handleUpdateBackend handles PUT /api/backends/{slug}. The slug itself cannot change.
func (g *Gateway) handleUpdateBackend(w http.ResponseWriter, r *http.Request) {
	b, ok := g.loadBackend(w, r)
	if !ok {
		return
	}
	var req BackendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Slug = nil
	applyBackendRequest(b, &req)
	if !validStatus(b.Status) {
		g.sendJSONError(w, http.StatusBadRequest, "status must be active, inactive, or deprecated")
		return
	}
	b.UpdatedAt = time.Now().UTC()

	if err := g.store.UpdateBackend(r.Context(), b); err != nil {
		g.logger.Error("failed to update backend", "backend_slug", b.Slug, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to update backend")
		return
	}
	g.sendJSON(w, http.StatusOK, toBackendResponse(b))
}

// handleDeleteBackend handles DELETE /api/backends/{slug}.
func (g *Gateway) handleDeleteBackend(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	err := g.store.DeleteBackend(r.Context(), slug)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "backend not found: "+slug)
		return
	}
	if err != nil {
		g.logger.Error("failed to delete backend", "backend_slug", slug, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to delete backend")
		return
	}
	g.logger.Info("deleted backend", "backend_slug", slug)
	w.WriteHeader(http.StatusNoContent)
}

// handleFetchTools handles POST /api/backends/{slug}/fetch: a forced live tool refresh.
func (g *Gateway) handleFetchTools(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	tools, err := g.registry.Fetch(r.Context(), slug)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "backend not found: "+slug)
		return
	}
	if err != nil {
		g.sendJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"slug": slug, "tool_count": len(tools), "tools": tools})
}

// handleTestConnection handles POST /api/backends/{slug}/test.
func (g *Gateway) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	result, err := g.registry.TestConnection(r.Context(), slug)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "backend not found: "+slug)
		return
	}
	if err != nil {
		g.sendJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"protocol_version": result.ProtocolVersion,
		"server_info":      result.ServerInfo,
		"status_code":      result.StatusCode,
		"latency_ms":       result.Latency.Milliseconds(),
	})
}

// handleStartBackend handles POST /api/backends/{slug}/start.
func (g *Gateway) handleStartBackend(w http.ResponseWriter, r *http.Request) {
	b, ok := g.loadBackend(w, r)
	if !ok {
		return
	}
	result, err := g.launcher.Start(r.Context(), b, g.config.Autostart.AsyncPollTimeout)
	switch {
	case errors.Is(err, backend.ErrNoStartupCommand), errors.Is(err, backend.ErrCommandNotAllowed):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil && result == nil:
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{
		"success":         err == nil,
		"pid":             result.PID,
		"already_running": result.AlreadyRunning,
		"log_file":        result.LogFile,
	}
	if err != nil {
		resp["error"] = err.Error()
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleStopBackend handles POST /api/backends/{slug}/stop.
func (g *Gateway) handleStopBackend(w http.ResponseWriter, r *http.Request) {
	b, ok := g.loadBackend(w, r)
	if !ok {
		return
	}
	err := g.launcher.Stop(b)
	if errors.Is(err, backend.ErrNotRunning) {
		g.sendJSONError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleBackendStatus handles GET /api/backends/{slug}/status.
func (g *Gateway) handleBackendStatus(w http.ResponseWriter, r *http.Request) {
	b, ok := g.loadBackend(w, r)
	if !ok {
		return
	}
	st := g.launcher.Status(r.Context(), b)
	g.sendJSON(w, http.StatusOK, map[string]any{
		"slug":        b.Slug,
		"running":     st.Running,
		"pid":         st.PID,
		"reachable":   st.Reachable,
		"status_code": st.StatusCode,
		"log_file":    st.LogFile,
	})
}

func toCredentialResponse(c *store.APICredential, withToken bool) CredentialResponse {
	resp := CredentialResponse{
		ID:              c.ID,
		AccountID:       c.AccountID,
		Name:            c.Name,
		Scopes:          c.Scopes,
		AllowedBackends: c.AllowedBackends,
		Active:          c.Active,
		ExpiresAt:       c.ExpiresAt,
		UsageCount:      c.UsageCount,
		LastUsedAt:      c.LastUsedAt,
		CreatedAt:       c.CreatedAt,
	}
	if resp.AllowedBackends == nil {
		resp.AllowedBackends = []string{}
	}
	if withToken {
		resp.Token = c.Token
	}
	return resp
}

// handleListCredentials handles GET /api/credentials?account_id=X.
func (g *Gateway) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	creds, err := g.store.ListCredentials(r.Context(), accountID)
	if err != nil {
		g.logger.Error("failed to list credentials", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list credentials")
		return
	}
	out := make([]CredentialResponse, 0, len(creds))
	for _, c := range creds {
		out = append(out, toCredentialResponse(c, false))
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"credentials": out})
}

// handleCreateCredential handles POST /api/credentials. The token is only ever shown here.
func (g *Gateway) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	var req createCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "expires_in must be a positive duration")
			return
		}
		req.CredentialRequest.ExpiresIn = d
	}

	cred, err := IssueCredential(r.Context(), g.store, req.CredentialRequest, time.Now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "account not found")
		return
	case errors.Is(err, ErrInvalidScope):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		g.logger.Error("failed to issue credential", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to issue credential")
		return
	}
	g.sendJSON(w, http.StatusCreated, toCredentialResponse(cred, true))
}

// handleRevokeCredential handles DELETE /api/credentials/{id} by deactivating it.
func (g *Gateway) handleRevokeCredential(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := g.store.DeactivateCredential(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "credential not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to revoke credential", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to revoke credential")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseLimit reads ?limit=N, defaulting and clamping to the log bounds.
func parseLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultLogLimit
	}
	return min(limit, maxLogLimit)
}

// handleListLogs handles GET /api/logs?limit=N, newest first.
func (g *Gateway) handleListLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := g.store.ListRequestLogs(r.Context(), parseLimit(r))
	if err != nil {
		g.logger.Error("failed to list request logs", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list request logs")
		return
	}
	out := make([]RequestLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, RequestLogResponse{
			ID:           l.ID,
			Method:       l.Method,
			RequestBody:  l.RequestBody,
			ResponseBody: l.ResponseBody,
			HTTPCode:     l.HTTPCode,
			DurationMS:   l.DurationMS,
			Error:        l.Error,
			SessionID:    l.SessionID,
			AccountID:    l.AccountID,
			ClientIP:     l.ClientIP,
			UserAgent:    l.UserAgent,
			CreatedAt:    l.CreatedAt,
		})
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"logs": out, "count": len(out)})
}

// handlePruneLogs handles DELETE /api/logs?days=N.
func (g *Gateway) handlePruneLogs(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days < 1 {
		g.sendJSONError(w, http.StatusBadRequest, "days must be a positive integer")
		return
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	n, err := g.store.PruneLogs(r.Context(), cutoff)
	if err != nil {
		g.logger.Error("failed to prune logs", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to prune logs")
		return
	}
	g.logger.Info("pruned logs", "days", days, "deleted", n)
	g.sendJSON(w, http.StatusOK, map[string]any{"deleted": n, "before": cutoff.UTC()})
}

// handleListUsage handles GET /api/usage?account_id=X&backend=Y&limit=N.
func (g *Gateway) handleListUsage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := g.store.ListUsage(r.Context(), store.UsageFilter{
		AccountID:   q.Get("account_id"),
		BackendSlug: q.Get("backend"),
		Limit:       parseLimit(r),
	})
	if err != nil {
		g.logger.Error("failed to list usage", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list usage")
		return
	}
	out := make([]UsageResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, UsageResponse{
			ID:           e.ID,
			CredentialID: e.CredentialID,
			AccountID:    e.AccountID,
			BackendSlug:  e.BackendSlug,
			ToolName:     e.ToolName,
			Status:       e.Status,
			DurationMS:   e.DurationMS,
			ErrorMessage: e.ErrorMessage,
			ClientIP:     e.ClientIP,
			CreatedAt:    e.CreatedAt,
		})
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"usage": out, "count": len(out)})
}

// handleListSessions handles GET /api/sessions: live persistent SSE sessions.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if g.persistent == nil {
		g.sendJSON(w, http.StatusOK, map[string]any{"enabled": false, "sessions": []any{}})
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{
		"enabled":       true,
		"start_timeout": g.persistent.StartTimeout().String(),
		"sessions":      g.persistent.ListSessions(),
	})
}

// handleClearSession handles DELETE /api/sessions/{owner}/{slug}.
func (g *Gateway) handleClearSession(w http.ResponseWriter, r *http.Request) {
	owner, slug := r.PathValue("owner"), r.PathValue("slug")
	if g.persistent != nil {
		g.persistent.ClearSession(owner, slug)
	}
	if err := g.sessions.Clear(r.Context(), owner, slug); err != nil {
		g.logger.Warn("failed to clear backend session", "backend_slug", slug, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// sendJSON writes v as a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
