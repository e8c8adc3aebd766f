// ABOUTME: Administrative built-in tools
// ABOUTME: list_users requires an account at admin privilege or better

package builtins

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/switchboard/internal/auth"
)

const (
	defaultUserLimit = 10
	maxUserLimit     = 100
)

func adminTools(deps Deps) []*Tool {
	return []*Tool{
		{
			Definition: mcp.NewTool("list_users",
				mcp.WithDescription("Lists user accounts (admin only)."),
				mcp.WithNumber("limit", mcp.Description("Maximum number of users to return (default: 10, max: 100)")),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: listUsers(deps.Accounts),
		},
	}
}

type userSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Level    int    `json:"level"`
}

func listUsers(accounts AccountLister) Handler {
	return func(ctx context.Context, args json.RawMessage, caller *auth.Caller) (string, error) {
		if !caller.IsAdmin() {
			return "", ErrAdminRequired
		}
		var in struct {
			Limit int `json:"limit"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		limit := in.Limit
		if limit <= 0 {
			limit = defaultUserLimit
		}
		if limit > maxUserLimit {
			limit = maxUserLimit
		}

		list, err := accounts.ListAccounts(ctx, limit)
		if err != nil {
			return "", fmt.Errorf("listing users: %w", err)
		}
		users := make([]userSummary, 0, len(list))
		for _, a := range list {
			users = append(users, userSummary{ID: a.ID, Username: a.Username, Email: a.Email, Level: a.Level})
		}
		return toJSON(map[string]any{"count": len(users), "users": users})
	}
}
