// Package registry is the catalog of backend MCP servers the gateway proxies.
//
// A backend's tool list is cached on its row for one hour by default. GetTools
// never fails: a backend that cannot be reached serves its previous cache, and
// backends registered with a local (non-http) endpoint serve their stored tools
// without a network round-trip.
//
// Aggregate builds the backend half of tools/list. Backends are fetched in
// parallel, each tool is renamed to "slug:name", and its description gains the
// "[Backend Name] " prefix.
package registry
