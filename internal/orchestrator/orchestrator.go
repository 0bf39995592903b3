// Package orchestrator wires discovery, health, caching, selection and
// execution into the client surface used by the chat layer.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MEKXH/orchestra/internal/audit"
	"github.com/MEKXH/orchestra/internal/cache"
	"github.com/MEKXH/orchestra/internal/catalog"
	"github.com/MEKXH/orchestra/internal/config"
	"github.com/MEKXH/orchestra/internal/executor"
	"github.com/MEKXH/orchestra/internal/health"
	"github.com/MEKXH/orchestra/internal/mcp"
	"github.com/MEKXH/orchestra/internal/selector"
	"github.com/MEKXH/orchestra/internal/stats"
	"github.com/MEKXH/orchestra/internal/store"
)

// Option customizes an Orchestrator.
type Option func(*options)

type options struct {
	client     mcp.Client
	httpClient *http.Client
}

// WithClient replaces the HTTP tool-server client.
func WithClient(client mcp.Client) Option {
	return func(o *options) { o.client = client }
}

// WithHTTPClient sets the transport used by the default tool-server client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) { o.httpClient = httpClient }
}

// Orchestrator is the tool-orchestration client.
type Orchestrator struct {
	cfg     *config.Config
	servers []config.ServerConfig
	urls    []string
	mode    selector.Mode

	client   mcp.Client
	monitor  *health.Monitor
	tools    *cache.ToolCache
	schemas  *cache.SchemaCache
	registry *catalog.Registry
	selector *selector.Selector
	executor *executor.Executor
	stats    *stats.Collector
	usage    *store.Store
	audit    *audit.Writer

	refreshMu sync.Mutex
	applied   uint64

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped chan struct{}
	running bool
}

// New validates cfg and wires every component. Only configuration errors are
// fatal; an unusable state directory degrades to in-memory usage counts.
func New(cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	servers := cfg.EnabledServers()
	urls := make([]string, 0, len(servers))
	headers := make(map[string]map[string]string)
	for _, server := range servers {
		urls = append(urls, server.URL)
		if len(server.Headers) > 0 {
			headers[server.URL] = server.Headers
		}
	}

	client := o.client
	if client == nil {
		client = mcp.NewHTTPClient(o.httpClient, headers)
	}

	oc := cfg.Orchestrator
	orc := &Orchestrator{
		cfg:     cfg,
		servers: servers,
		urls:    urls,
		mode:    selector.ModeLegacy,
		client:  client,
		stats:   stats.NewCollector(cfg.State.Dir),
		audit:   audit.NewWriter(cfg.State.Dir),
	}
	if cfg.Selection.Intelligent {
		orc.mode = selector.ModeIntelligent
	}

	orc.monitor = health.NewMonitor(health.Config{
		Interval:         oc.HealthCheckIntervalDuration(),
		ProbeTimeout:     oc.ProbeTimeoutDuration(),
		FailureThreshold: oc.FailureThreshold,
	}, client, urls)

	discoverer := catalog.NewDiscoverer(client, orc.monitor)
	orc.tools = cache.NewToolCache(discoverer, oc.CacheTTLDuration(), oc.DiscoveryTimeoutDuration())
	orc.schemas = cache.NewSchemaCache(client, oc.CacheTTLDuration(), oc.DiscoveryTimeoutDuration())
	orc.registry = catalog.NewRegistry(oc.DiscoveryFailureLimit)

	selOpts := selector.Options{MinConfidence: cfg.Selection.MinConfidence}
	usage, err := store.Open(cfg.UsageDBPath())
	if err != nil {
		slog.Warn("usage store unavailable, usage counts will not persist", "path", cfg.UsageDBPath(), "error", err)
	} else {
		orc.usage = usage
		selOpts.Usage = usage
		if seeded, err := usage.LoadUsage(context.Background()); err != nil {
			slog.Warn("failed to load persisted usage", "error", err)
		} else {
			orc.registry.Seed(seeded)
		}
	}
	orc.selector = selector.New(selOpts)

	orc.executor = executor.New(client, executor.Config{
		ExecutionTimeout: oc.ExecutionTimeoutDuration(),
		MaxRetries:       oc.MaxRetries,
		RetryBackoff:     oc.RetryBackoffDuration(),
		ParallelLimit:    oc.ParallelLimit,
	},
		executor.WithSchemas(orc.schemas),
		executor.WithUsage(orc.registry),
		executor.WithObserver(orc),
	)

	return orc, nil
}

// Mode returns the active selection strategy.
func (o *Orchestrator) Mode() selector.Mode {
	return o.mode
}

// Start launches the health monitor and the catalog refresh cycle.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return nil
	}
	if err := o.monitor.Start(); err != nil {
		return fmt.Errorf("start health monitor: %w", err)
	}

	o.stopCh = make(chan struct{})
	o.stopped = make(chan struct{})
	o.running = true
	go o.loop(o.stopCh, o.stopped)
	slog.Info("orchestrator started", "servers", len(o.urls), "mode", string(o.mode))
	return nil
}

// Stop halts background work, flushes statistics and closes the usage store.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	stopCh, stopped, running := o.stopCh, o.stopped, o.running
	o.running = false
	o.stopCh = nil
	o.stopped = nil
	o.mu.Unlock()

	if running {
		close(stopCh)
		<-stopped
		o.monitor.Stop()
	}

	var firstErr error
	if err := o.stats.Flush(); err != nil {
		firstErr = fmt.Errorf("flush stats: %w", err)
	}
	if o.usage != nil {
		if err := o.usage.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close usage store: %w", err)
		}
		o.usage = nil
	}
	if running {
		slog.Info("orchestrator stopped")
	}
	return firstErr
}

func (o *Orchestrator) loop(stopCh <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stopCh
		cancel()
	}()

	o.cycle(ctx)

	ticker := time.NewTicker(o.cfg.Orchestrator.HealthCheckIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			o.cycle(ctx)
		}
	}
}

func (o *Orchestrator) cycle(ctx context.Context) {
	if err := o.Refresh(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("catalog refresh degraded", "error", err)
	}
	if err := o.stats.Flush(); err != nil {
		slog.Warn("failed to persist runtime stats", "error", err)
	}
}

// Refresh rediscovers the healthy servers through the cache and folds the
// result into the registry. Each discovery is applied once, so cache hits and
// callers sharing one discovery do not count failures twice. A caller whose
// ctx ends first gets ctx.Err(); the discovery still completes and the next
// Refresh applies it.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()

	healthy := o.monitor.HealthyURLs()
	d, _, err := o.tools.Resolve(ctx, healthy)
	if err == nil && d.Seq > o.applied && len(d.Servers) > 0 {
		o.registry.Apply(d)
		o.applied = d.Seq
	}
	o.registry.Retain(o.urls)
	o.dropUnreachable()

	switch {
	case len(healthy) == 0:
		return fmt.Errorf("no healthy tool servers out of %d", len(o.urls))
	case err != nil:
		return fmt.Errorf("discover tools: %w", err)
	case len(d.Servers) > 0 && len(d.Errors) == len(d.Servers):
		return fmt.Errorf("discovery failed on all %d healthy servers", len(d.Servers))
	}
	return nil
}

// dropUnreachable removes the tools of servers whose consecutive health
// failures reached the discovery failure limit. Unhealthy servers are not
// rediscovered, so their failed health checks stand in for failed listings.
// Cached discoveries still listing the dropped tools are discarded.
func (o *Orchestrator) dropUnreachable() {
	limit := o.cfg.Orchestrator.DiscoveryFailureLimit
	var unreachable []string
	for _, rec := range o.monitor.Snapshot() {
		if !rec.Healthy && limit > 0 && rec.ConsecutiveFailures >= limit {
			unreachable = append(unreachable, rec.URL)
		}
	}
	if len(unreachable) > 0 && o.registry.Drop(unreachable...) > 0 {
		o.tools.Invalidate()
	}
}

// Invalidate drops cached discoveries and schemas.
func (o *Orchestrator) Invalidate() {
	o.tools.Invalidate()
	o.schemas.Invalidate()
}

// Servers returns the health record of every configured server.
func (o *Orchestrator) Servers() []health.ServerRecord {
	return o.monitor.Snapshot()
}

// CheckHealth runs one health check cycle now.
func (o *Orchestrator) CheckHealth(ctx context.Context) error {
	return o.monitor.RunOnce(ctx)
}

// Tools returns every catalogued tool, healthy or not.
func (o *Orchestrator) Tools() []catalog.ToolDescriptor {
	return o.registry.Tools()
}

// ToolsByCategory returns the catalogued tools in category.
func (o *Orchestrator) ToolsByCategory(category string) []catalog.ToolDescriptor {
	return o.registry.ByCategory(category)
}

// ToolsByTags returns the catalogued tools carrying any of tags.
func (o *Orchestrator) ToolsByTags(tags ...string) []catalog.ToolDescriptor {
	return o.registry.ByTags(tags...)
}

// AvailableTools returns the tools of healthy servers.
func (o *Orchestrator) AvailableTools() []catalog.ToolDescriptor {
	return o.registry.ToolsFor(o.monitor.HealthyURLs())
}

// Stats returns a copy of the collected statistics.
func (o *Orchestrator) Stats() stats.Snapshot {
	return o.stats.Snapshot()
}

// Recommendations returns the tools most often ranked first recently.
func (o *Orchestrator) Recommendations(limit int) []selector.Recommendation {
	return o.selector.Recommendations(limit)
}

// TopTools returns the most used tools from the usage store.
func (o *Orchestrator) TopTools(ctx context.Context, limit int) ([]store.UsageRow, error) {
	if o.usage == nil {
		return nil, nil
	}
	return o.usage.TopTools(ctx, limit)
}

// ServerName returns the configured name of a server URL.
func (o *Orchestrator) ServerName(serverURL string) string {
	url := config.NormalizeURL(serverURL)
	for _, server := range o.servers {
		if server.URL == url {
			return server.Name
		}
	}
	return url
}
