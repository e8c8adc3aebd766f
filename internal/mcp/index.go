// ABOUTME: Health check and HTML tool documentation for the MCP endpoint
// ABOUTME: The documentation page is written as Markdown and rendered with goldmark

package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

type healthResponse struct {
	Status    string `json:"status"`
	Server    string `json:"server"`
	Version   string `json:"version"`
	Protocol  string `json:"protocol"`
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Server:    ServerName,
		Version:   ServerVersion,
		Protocol:  ProtocolVersion,
		URL:       s.MCPURL(),
		Timestamp: s.now().Format(time.RFC3339),
	})
}

// markdown renders documentation with GitHub tables.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
{{.Content}}
</body>
</html>
`))

// handleIndex renders the built-in tool reference.
func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	var html bytes.Buffer
	if err := markdown.Convert([]byte(s.indexMarkdown()), &html); err != nil {
		s.logger.Error("failed to convert markdown", "error", err)
		html.Reset()
		html.WriteString("<p>Failed to render documentation.</p>")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := indexTemplate.Execute(w, struct {
		Title   string
		Content template.HTML
	}{
		Title:   ServerName,
		Content: template.HTML(html.String()),
	})
	if err != nil {
		s.logger.Error("failed to render MCP index", "error", err)
	}
}

// indexMarkdown documents the endpoint and every built-in tool's parameters.
func (s *Server) indexMarkdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", ServerName)
	fmt.Fprintf(&b, "Version `%s`, protocol `%s`.\n\n", ServerVersion, ProtocolVersion)
	fmt.Fprintf(&b, "Endpoint: `%s`\n\n", s.MCPURL())
	b.WriteString("Authenticate with `Authorization: Bearer <token>`, `X-MCP-Token: <token>`, or Basic auth.\n")
	b.WriteString("Backend tools are named `<server>:<tool>`; names without a server run here.\n\n")
	b.WriteString("## Built-in tools\n\n")

	for _, tool := range s.builtins.Definitions() {
		fmt.Fprintf(&b, "### %s\n\n%s\n\n", tool.Name, tool.Description)
		props := tool.InputSchema.Properties
		if len(props) == 0 {
			b.WriteString("No parameters.\n\n")
			continue
		}
		required := make(map[string]bool, len(tool.InputSchema.Required))
		for _, name := range tool.InputSchema.Required {
			required[name] = true
		}
		b.WriteString("| Parameter | Type | Required | Description |\n|---|---|---|---|\n")
		for _, name := range slices.Sorted(maps.Keys(props)) {
			typ, desc := describeProperty(props[name])
			fmt.Fprintf(&b, "| `%s` | %s | %t | %s |\n", name, typ, required[name], desc)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func describeProperty(v any) (typ, desc string) {
	prop, ok := v.(map[string]any)
	if !ok {
		data, _ := json.Marshal(v)
		return "", string(data)
	}
	typ, _ = prop["type"].(string)
	desc, _ = prop["description"].(string)
	return typ, strings.ReplaceAll(desc, "|", `\|`)
}
