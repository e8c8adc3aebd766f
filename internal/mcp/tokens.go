// ABOUTME: Legacy per-account API token endpoint and client configuration snippets
// ABOUTME: POST /mcp/token regenerates the caller's token; GET /mcp/config shows how to connect with it

package mcp

import (
	"encoding/json"
	"net/http"

	"github.com/2389/switchboard/internal/auth"
)

// tokenPlaceholder stands in for a real token in anonymous config snippets.
const tokenPlaceholder = "YOUR_API_TOKEN"

// ClientConfig is the mcpServers block understood by MCP clients.
type ClientConfig struct {
	MCPServers map[string]ClientServer `json:"mcpServers"`
	Note       string                  `json:"_note,omitempty"`
}

// ClientServer describes one HTTP MCP server entry.
type ClientServer struct {
	Type    string            `json:"type"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// clientConfig renders a snippet that authenticates with token.
func (s *Server) clientConfig(token string) ClientConfig {
	return ClientConfig{
		MCPServers: map[string]ClientServer{
			ServerName: {
				Type:    "http",
				URL:     s.MCPURL(),
				Headers: map[string]string{"Authorization": "Bearer " + token},
			},
		},
	}
}

// handleConfig returns a client configuration, personalized when the caller
// authenticates and already has a legacy token.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w.Header())
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	caller, err := s.auth.Authenticate(r.Context(), r.Header)
	if err == nil && caller.Account != nil && caller.Account.APIToken != "" {
		writeJSON(w, http.StatusOK, s.clientConfig(caller.Account.APIToken))
		return
	}

	cfg := s.clientConfig(tokenPlaceholder)
	cfg.Note = "Authenticate to get your personalized config with API token"
	writeJSON(w, http.StatusOK, cfg)
}

type tokenResponse struct {
	Success  bool         `json:"success"`
	APIToken string       `json:"api_token"`
	Config   ClientConfig `json:"config"`
}

// handleToken regenerates the caller's legacy API token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	caller, err := s.auth.Authenticate(r.Context(), r.Header)
	if err != nil || caller.Account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authentication required"})
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Use POST to generate a new token"})
		return
	}
	if s.accounts == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "token generation is not available"})
		return
	}

	token, err := auth.GenerateLegacyToken()
	if err != nil {
		s.logger.Error("failed to generate api token", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate token"})
		return
	}
	if err := s.accounts.SetAccountAPIToken(r.Context(), caller.Account.ID, token); err != nil {
		s.logger.Error("failed to store api token", "account_id", caller.Account.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store token"})
		return
	}

	s.logger.Info("MCP token generated", "account_id", caller.Account.ID)
	writeJSON(w, http.StatusOK, tokenResponse{
		Success:  true,
		APIToken: token,
		Config:   s.clientConfig(token),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
