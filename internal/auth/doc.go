// Package auth authenticates callers of switchboard.
//
// # MCP Credentials
//
// Verifier.Authenticate accepts three credential forms, tried in order:
//
//   - Authorization: Basic base64(identity:password), where identity is a
//     username or email and the password is checked against a bcrypt hash.
//   - Authorization: Bearer <token>
//   - X-MCP-Token: <token>
//
// Tokens are looked up in the API credential table first (active rows only,
// expiry enforced, usage recorded on success). When auth.legacy_tokens is on,
// an unknown token falls back to the single per-account api_token.
//
// The result is a Caller. A Caller authenticated by an API credential is scoped
// by that credential's allowed backends unless it carries the mcp:* scope.
// Callers without a credential have full backend access.
//
// # Admin API
//
// The JSON admin API uses HS256 JWTs whose subject is an account id:
//
//	verifier, err := NewJWTVerifier(secret)
//	token, err := verifier.Generate(accountID, 24*time.Hour)
//
// HTTPAuthMiddleware validates the token and RequireAdminHTTP enforces an
// admin-level account (level 50 or lower).
package auth
