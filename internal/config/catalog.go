// ABOUTME: TOML backend catalog loading for bulk registry imports
// ABOUTME: Parses [[backend]] tables describing MCP servers and their startup commands

package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// BackendCatalog is the top-level shape of a backend catalog file.
//
//	[[backend]]
//	slug = "github"
//	name = "GitHub"
//	endpoint_url = "http://localhost:3001/mcp"
//	startup_command = "npx"
//	startup_args = ["-y", "@modelcontextprotocol/server-github"]
type BackendCatalog struct {
	Backends []BackendEntry `toml:"backend"`
}

// BackendEntry describes a single backend MCP server.
type BackendEntry struct {
	Slug              string   `toml:"slug"`
	Name              string   `toml:"name"`
	Description       string   `toml:"description"`
	Version           string   `toml:"version"`
	Author            string   `toml:"author"`
	EndpointURL       string   `toml:"endpoint_url"`
	Status            string   `toml:"status"`
	AuthType          string   `toml:"auth_type"`
	Tags              []string `toml:"tags"`
	Featured          bool     `toml:"featured"`
	SortOrder         int      `toml:"sort_order"`
	ProxyEnabled      *bool    `toml:"proxy_enabled"`
	AuthHeader        string   `toml:"auth_header"`
	AuthToken         string   `toml:"auth_token"`
	StartupCommand    string   `toml:"startup_command"`
	StartupArgs       []string `toml:"startup_args"`
	StartupWorkingDir string   `toml:"startup_working_dir"`
	StartupPort       int      `toml:"startup_port"`
	Documentation     string   `toml:"documentation"`
	// Tools holds a static tool list (JSON array) for backends that cannot be queried live.
	Tools string `toml:"tools"`
}

// LoadBackendCatalog reads a TOML catalog file. Environment variables are
// expanded the same way as in the main config so tokens can stay out of the file.
func LoadBackendCatalog(path string) (*BackendCatalog, error) {
	var catalog BackendCatalog
	md, err := toml.DecodeFile(path, &catalog)
	if err != nil {
		return nil, fmt.Errorf("parsing catalog file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown catalog keys: %v", undecoded)
	}

	seen := make(map[string]bool, len(catalog.Backends))
	for i := range catalog.Backends {
		b := &catalog.Backends[i]
		b.AuthToken = expandEnvVars(b.AuthToken)
		b.EndpointURL = expandEnvVars(b.EndpointURL)

		if b.Name == "" {
			return nil, fmt.Errorf("backend #%d: name is required", i+1)
		}
		if b.Slug != "" && !slugPattern.MatchString(b.Slug) {
			return nil, fmt.Errorf("backend %q: slug must match %s", b.Name, slugPattern.String())
		}
		if b.Slug != "" {
			if seen[b.Slug] {
				return nil, fmt.Errorf("backend %q: duplicate slug %q", b.Name, b.Slug)
			}
			seen[b.Slug] = true
		}
	}

	return &catalog, nil
}
