// Package store provides persistent storage for switchboard using SQLite.
//
// # Architecture
//
// The store package splits persistence into narrow interfaces:
//
//   - AccountStore: Accounts, password hashes, and legacy API tokens
//   - CredentialStore: Scoped API credentials with usage tracking
//   - BackendStore: The backend MCP server registry and its tool cache
//   - SessionStore: Upstream MCP session ids per (owner, backend)
//   - LogStore: Append-only usage and request logs
//
// SQLiteStore implements all of them in a single struct. Consumers depend on
// the narrowest interface they need.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// Timestamps are stored as RFC3339 text in UTC. List-valued columns (tags,
// scopes, allowed backends, startup args) are stored as JSON arrays.
//
// # Error Handling
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateSlug: Backend slug already registered
//   - ErrDuplicateIdentity: Username or token already taken
//
// # Testing
//
// Use NewMockStore() for unit tests of upper layers. Use NewSQLiteStore with a
// path under t.TempDir() for integration tests against real SQLite.
package store
