// ABOUTME: HTTP middleware for JWT authentication on admin API endpoints
// ABOUTME: Extracts JWT from Authorization header and adds the account to context

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/2389/switchboard/internal/store"
)

// AccountGetter loads accounts by id.
type AccountGetter interface {
	GetAccount(ctx context.Context, id string) (*store.Account, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// HTTPAuthMiddleware creates an HTTP middleware that validates admin API JWTs.
// The token subject is an account id; the account is attached as a Caller.
func HTTPAuthMiddleware(accounts AccountGetter, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeJSONError(w, errMsg, http.StatusUnauthorized)
				return
			}

			accountID, err := verifier.Verify(token)
			if err != nil {
				writeJSONError(w, "invalid token", http.StatusUnauthorized)
				return
			}

			account, err := accounts.GetAccount(r.Context(), accountID)
			if err != nil {
				writeJSONError(w, "account not found", http.StatusUnauthorized)
				return
			}

			caller := &Caller{Account: account, Method: MethodBearer}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// RequireAdminHTTP creates an HTTP middleware that requires an admin-level account.
// Must be used after HTTPAuthMiddleware.
func RequireAdminHTTP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := FromContext(r.Context())
			if caller == nil {
				writeJSONError(w, "not authenticated", http.StatusUnauthorized)
				return
			}

			if !caller.IsAdmin() {
				writeJSONError(w, "admin access required", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
