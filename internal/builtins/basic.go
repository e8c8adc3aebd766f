// ABOUTME: General-purpose built-in tools: hello, echo, get_time, add_numbers
// ABOUTME: None of them touch storage; get_time reads the injected clock

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/switchboard/internal/auth"
)

// DefaultTimeLayout is the get_time format when none is given.
const DefaultTimeLayout = "2006-01-02 15:04:05"

func basicTools(deps Deps) []*Tool {
	return []*Tool{
		{
			Definition: mcp.NewTool("hello",
				mcp.WithDescription("Returns a friendly greeting."),
				mcp.WithString("name", mcp.Description("Name to greet. Defaults to World.")),
			),
			Handler: hello(deps.ServerName),
		},
		{
			Definition: mcp.NewTool("echo",
				mcp.WithDescription("Echoes back the provided message."),
				mcp.WithString("message", mcp.Required(), mcp.Description("Message to echo")),
			),
			Handler: echo,
		},
		{
			Definition: mcp.NewTool("get_time",
				mcp.WithDescription("Returns the current server date and time."),
				mcp.WithString("timezone", mcp.Description(`IANA timezone such as "America/New_York" or "UTC". Defaults to the server timezone.`)),
				mcp.WithString("format", mcp.Description(`Go time layout. Defaults to "2006-01-02 15:04:05".`)),
			),
			Handler: getTime(deps.Now),
		},
		{
			Definition: mcp.NewTool("add_numbers",
				mcp.WithDescription("Adds two numbers together and returns the result."),
				mcp.WithNumber("a", mcp.Required(), mcp.Description("First number")),
				mcp.WithNumber("b", mcp.Required(), mcp.Description("Second number")),
			),
			Handler: addNumbers,
		},
	}
}

func hello(serverName string) Handler {
	return func(_ context.Context, args json.RawMessage, _ *auth.Caller) (string, error) {
		var in struct {
			Name string `json:"name"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		if in.Name == "" {
			in.Name = "World"
		}
		return fmt.Sprintf("Hello, %s! Welcome to the %s MCP server.", in.Name, serverName), nil
	}
}

func echo(_ context.Context, args json.RawMessage, _ *auth.Caller) (string, error) {
	var in struct {
		Message string `json:"message"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if in.Message == "" {
		return "", errors.New("Message is required")
	}
	return "Echo: " + in.Message, nil
}

func getTime(now func() time.Time) Handler {
	return func(_ context.Context, args json.RawMessage, _ *auth.Caller) (string, error) {
		var in struct {
			Timezone string `json:"timezone"`
			Format   string `json:"format"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}

		t := now()
		zone := t.Location().String()
		if in.Timezone != "" {
			loc, err := time.LoadLocation(in.Timezone)
			if err != nil {
				return "", fmt.Errorf("Invalid timezone: %s", in.Timezone)
			}
			t = t.In(loc)
			zone = in.Timezone
		}
		layout := in.Format
		if layout == "" {
			layout = DefaultTimeLayout
		}

		return toJSON(map[string]any{
			"datetime":       t.Format(layout),
			"timezone":       zone,
			"unix_timestamp": t.Unix(),
		})
	}
}

func addNumbers(_ context.Context, args json.RawMessage, _ *auth.Caller) (string, error) {
	var in struct {
		A *float64 `json:"a"`
		B *float64 `json:"b"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if in.A == nil || in.B == nil {
		return "", errors.New("Both 'a' and 'b' parameters are required")
	}
	return toJSON(map[string]any{
		"a":         *in.A,
		"b":         *in.B,
		"operation": "addition",
		"result":    *in.A + *in.B,
	})
}
