package catalog

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/MEKXH/orchestra/internal/mcp"
)

// FailureReporter is told about servers that could not be listed.
type FailureReporter interface {
	ReportFailure(serverURL string, err error)
}

// Discovery is the merged result of one fan-out over servers.
type Discovery struct {
	// Seq increases with every discovery run of one Discoverer.
	Seq uint64
	// Servers lists the queried servers in configuration order. Servers cut
	// off by the caller's context are left out.
	Servers    []string
	Tools      []ToolDescriptor
	Errors     map[string]error
	Duplicates []Duplicate
	Collisions []NameCollision
	Duration   time.Duration
	// Interrupted is set when the caller's context ended before every server
	// answered.
	Interrupted bool
}

// Failed reports whether a server contributed nothing because of an error.
func (d Discovery) Failed(serverURL string) bool {
	_, ok := d.Errors[normalizeURL(serverURL)]
	return ok
}

// Discoverer lists tools from every server concurrently.
type Discoverer struct {
	client   mcp.Client
	reporter FailureReporter
	seq      atomic.Uint64
}

// NewDiscoverer creates a discoverer. reporter may be nil.
func NewDiscoverer(client mcp.Client, reporter FailureReporter) *Discoverer {
	return &Discoverer{client: client, reporter: reporter}
}

type serverListing struct {
	defs []mcp.ToolDefinition
	err  error
}

// Discover queries every server with its own timeout and merges the answers.
// It never blocks longer than timeout past the slowest server's deadline.
// Failures seen after ctx is done are not the server's fault: they are neither
// recorded nor reported, and the server is left out of Servers.
func (d *Discoverer) Discover(ctx context.Context, serverURLs []string, timeout time.Duration) Discovery {
	start := time.Now()
	servers := uniqueURLs(serverURLs)
	listings := make([]serverListing, len(servers))

	p := pool.New()
	for i, server := range servers {
		p.Go(func() {
			callCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			defs, err := d.client.ListTools(callCtx, server)
			listings[i] = serverListing{defs: defs, err: err}
		})
	}
	p.Wait()

	result := Discovery{
		Seq:    d.seq.Add(1),
		Errors: make(map[string]error),
	}
	cancelled := ctx.Err() != nil
	kept := make(map[ToolKey]int)
	for i, server := range servers {
		listing := listings[i]
		if listing.err != nil && cancelled {
			result.Interrupted = true
			slog.Debug("tool discovery interrupted", "server", server, "error", listing.err)
			continue
		}
		result.Servers = append(result.Servers, server)
		if listing.err != nil {
			result.Errors[server] = listing.err
			slog.Warn("tool discovery failed", "server", server, "error", listing.err)
			if d.reporter != nil {
				d.reporter.ReportFailure(server, listing.err)
			}
			continue
		}
		for _, def := range listing.defs {
			desc := describe(server, def)
			key := desc.Key()
			if at, ok := kept[key]; ok {
				dup := Duplicate{Key: key, Kept: result.Tools[at].Description, Dropped: desc.Description}
				result.Duplicates = append(result.Duplicates, dup)
				slog.Warn("duplicate tool dropped", "server", server, "tool", def.Name)
				continue
			}
			kept[key] = len(result.Tools)
			result.Tools = append(result.Tools, desc)
		}
	}
	result.Collisions = nameCollisions(result.Tools)
	for _, c := range result.Collisions {
		slog.Debug("tool name served by several servers", "tool", c.Name, "servers", c.Servers)
	}
	result.Duration = time.Since(start)
	return result
}

func describe(server string, def mcp.ToolDefinition) ToolDescriptor {
	return ToolDescriptor{
		ServerURL:       server,
		Name:            def.Name,
		Description:     def.Description,
		ParameterSchema: def.Parameters,
		Category:        NormalizeCategory(def.Category, def.Name, def.Description),
		Tags:            ExtractTags(def.Name, def.Description),
	}
}

func nameCollisions(tools []ToolDescriptor) []NameCollision {
	servers := make(map[string][]string)
	var names []string
	for _, tool := range tools {
		if _, ok := servers[tool.Name]; !ok {
			names = append(names, tool.Name)
		}
		servers[tool.Name] = append(servers[tool.Name], tool.ServerURL)
	}

	var out []NameCollision
	for _, name := range names {
		if len(servers[name]) < 2 {
			continue
		}
		list := append([]string(nil), servers[name]...)
		sort.Strings(list)
		out = append(out, NameCollision{Name: name, Servers: list})
	}
	return out
}

func uniqueURLs(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		u := normalizeURL(raw)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
