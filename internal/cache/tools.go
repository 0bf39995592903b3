package cache

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/MEKXH/orchestra/internal/catalog"
	"github.com/MEKXH/orchestra/internal/mcp"
)

// Discoverer runs a discovery fan-out.
type Discoverer interface {
	Discover(ctx context.Context, serverURLs []string, timeout time.Duration) catalog.Discovery
}

// Key derives the cache key for a server set: sorted, de-duplicated, normalized URLs.
func Key(serverURLs []string) string {
	seen := make(map[string]bool, len(serverURLs))
	urls := make([]string, 0, len(serverURLs))
	for _, raw := range serverURLs {
		u := strings.TrimRight(strings.TrimSpace(raw), "/")
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return strings.Join(urls, ",")
}

// ToolCache caches discovery results per server set.
type ToolCache struct {
	entries    *TTL[catalog.Discovery]
	discoverer Discoverer
	timeout    time.Duration
}

// NewToolCache creates a discovery cache. timeout bounds each server fetch.
func NewToolCache(discoverer Discoverer, ttl, timeout time.Duration) *ToolCache {
	return &ToolCache{
		entries:    NewTTL[catalog.Discovery](ttl),
		discoverer: discoverer,
		timeout:    timeout,
	}
}

// Resolve returns the discovery for serverURLs, running one on a miss.
// A discovery in which every server failed is returned but not stored. The
// error is ctx.Err() when the caller stopped waiting; the discovery itself
// carries on, bounded by the per-server timeout, and lands in the cache.
func (c *ToolCache) Resolve(ctx context.Context, serverURLs []string) (catalog.Discovery, bool, error) {
	key := Key(serverURLs)
	if key == "" {
		return catalog.Discovery{Errors: map[string]error{}}, false, nil
	}

	return c.entries.GetOrLoad(ctx, key, func(ctx context.Context) (catalog.Discovery, bool, error) {
		d := c.discoverer.Discover(ctx, serverURLs, c.timeout)
		store := !d.Interrupted && len(d.Servers) > len(d.Errors)
		return d, store, nil
	})
}

// GetOrDiscover returns the tool list for serverURLs.
func (c *ToolCache) GetOrDiscover(ctx context.Context, serverURLs []string) []catalog.ToolDescriptor {
	d, _, _ := c.Resolve(ctx, serverURLs)
	return d.Tools
}

// Invalidate forces the next access to rediscover.
func (c *ToolCache) Invalidate() {
	c.entries.Invalidate()
}

// SchemaCache caches per-tool parameter schemas.
type SchemaCache struct {
	entries *TTL[map[string]any]
	client  mcp.Client
	timeout time.Duration
}

// NewSchemaCache creates a schema cache backed by client.
func NewSchemaCache(client mcp.Client, ttl, timeout time.Duration) *SchemaCache {
	return &SchemaCache{
		entries: NewTTL[map[string]any](ttl),
		client:  client,
		timeout: timeout,
	}
}

// GetSchema returns the parameter schema of one tool. A failed fetch is
// cached as a nil schema for the ttl, telling callers to fall back to the
// discovered schema without asking the server again.
func (c *SchemaCache) GetSchema(ctx context.Context, serverURL, toolName string) (map[string]any, error) {
	server := strings.TrimRight(strings.TrimSpace(serverURL), "/")
	key := server + "\x00" + toolName

	schema, _, err := c.entries.GetOrLoad(ctx, key, func(ctx context.Context) (map[string]any, bool, error) {
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		schema, err := c.client.ToolSchema(ctx, server, toolName)
		if err != nil {
			slog.Debug("schema fetch failed, caching fallback", "server", server, "tool", toolName, "error", err)
			return nil, true, nil
		}
		return schema, true, nil
	})
	return schema, err
}

// Invalidate drops every cached schema.
func (c *SchemaCache) Invalidate() {
	c.entries.Invalidate()
}
