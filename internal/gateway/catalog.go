// ABOUTME: Imports a TOML backend catalog into the registry
// ABOUTME: New slugs are created, existing ones updated in place keeping their id and tool cache

package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/switchboard/internal/config"
	"github.com/2389/switchboard/internal/registry"
	"github.com/2389/switchboard/internal/store"
)

// ImportResult counts what ImportCatalog changed.
type ImportResult struct {
	Created []string
	Updated []string
}

// ImportCatalog upserts every catalog entry by slug. Entries without a slug get
// one generated from their name.
func ImportCatalog(ctx context.Context, backends store.BackendStore, catalog *config.BackendCatalog, now time.Time) (*ImportResult, error) {
	result := &ImportResult{}
	now = now.UTC()

	for _, entry := range catalog.Backends {
		slug := entry.Slug
		if slug == "" {
			slug = registry.GenerateSlug(entry.Name)
		}
		if !registry.ValidSlug(slug) {
			return result, fmt.Errorf("backend %q: cannot derive a valid slug", entry.Name)
		}

		existing, err := backends.GetBackendBySlug(ctx, slug)
		switch {
		case errors.Is(err, store.ErrNotFound):
			b := &store.Backend{ID: uuid.New().String(), Slug: slug, CreatedAt: now, UpdatedAt: now}
			applyCatalogEntry(b, entry, now)
			if err := backends.CreateBackend(ctx, b); err != nil {
				return result, fmt.Errorf("creating backend %s: %w", slug, err)
			}
			result.Created = append(result.Created, slug)
		case err != nil:
			return result, fmt.Errorf("loading backend %s: %w", slug, err)
		default:
			applyCatalogEntry(existing, entry, now)
			existing.UpdatedAt = now
			if err := backends.UpdateBackend(ctx, existing); err != nil {
				return result, fmt.Errorf("updating backend %s: %w", slug, err)
			}
			if entry.Tools != "" {
				if err := backends.UpdateBackendTools(ctx, slug, entry.Tools, now); err != nil {
					return result, fmt.Errorf("storing tools for %s: %w", slug, err)
				}
			}
			result.Updated = append(result.Updated, slug)
		}
	}
	return result, nil
}

func applyCatalogEntry(b *store.Backend, e config.BackendEntry, now time.Time) {
	b.Name = e.Name
	b.Description = e.Description
	b.Version = e.Version
	b.Author = e.Author
	b.EndpointURL = e.EndpointURL
	b.Status = store.BackendStatus(e.Status)
	if b.Status == "" {
		b.Status = store.BackendStatusActive
	}
	b.AuthType = e.AuthType
	b.Tags = e.Tags
	b.Featured = e.Featured
	b.SortOrder = e.SortOrder
	b.ProxyEnabled = e.ProxyEnabled == nil || *e.ProxyEnabled
	b.AuthHeader = e.AuthHeader
	b.AuthToken = e.AuthToken
	b.StartupCommand = e.StartupCommand
	b.StartupArgs = e.StartupArgs
	b.StartupWorkingDir = e.StartupWorkingDir
	b.StartupPort = e.StartupPort
	b.Documentation = e.Documentation
	if e.Tools != "" {
		b.ToolsCache = e.Tools
		b.ToolsCachedAt = &now
	}
}
