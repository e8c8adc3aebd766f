// ABOUTME: Tests for the terminal log handler and level parsing
// ABOUTME: Verifies level filtering, attribute rendering, and group prefixes

package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := slog.New(newColorHandler(&buf, slog.LevelInfo))

	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	logger.With("component", "proxy").WithGroup("call").Info("tool called", "backend", "github", "ms", 12)
	line := buf.String()
	assert.Contains(t, line, "INF tool called")
	assert.Contains(t, line, " component=proxy")
	assert.Contains(t, line, " call.backend=github")
	assert.Contains(t, line, " call.ms=12")
	assert.True(t, strings.HasSuffix(line, "\n"))

	buf.Reset()
	logger.Error("boom", slog.Group("req", "id", 7))
	assert.Contains(t, buf.String(), "ERR boom")
	assert.Contains(t, buf.String(), " req.id=7")
}

func TestListFlag(t *testing.T) {
	var l listFlag
	assert.NoError(t, l.Set("mcp:read"))
	assert.NoError(t, l.Set("mcp:tools"))
	assert.Equal(t, "mcp:read,mcp:tools", l.String())
}
