package catalog

import (
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

const defaultDiscoveryFailureLimit = 3

type snapshot struct {
	tools    []ToolDescriptor
	index    map[ToolKey]int
	failures map[string]int
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		tools:    append([]ToolDescriptor(nil), s.tools...),
		index:    make(map[ToolKey]int, len(s.index)),
		failures: make(map[string]int, len(s.failures)),
	}
	for k, v := range s.index {
		next.index[k] = v
	}
	for k, v := range s.failures {
		next.failures[k] = v
	}
	return next
}

func (s *snapshot) reindex() {
	s.index = make(map[ToolKey]int, len(s.tools))
	for i, tool := range s.tools {
		s.index[tool.Key()] = i
	}
}

// Registry holds the current tool catalog. Readers see an immutable snapshot
// that writers replace atomically.
type Registry struct {
	mu           sync.Mutex
	current      atomic.Pointer[snapshot]
	seeded       map[ToolKey]int64
	failureLimit int
}

// NewRegistry creates an empty registry. A server's tools are dropped after
// failureLimit consecutive discovery failures.
func NewRegistry(failureLimit int) *Registry {
	if failureLimit <= 0 {
		failureLimit = defaultDiscoveryFailureLimit
	}
	r := &Registry{
		seeded:       make(map[ToolKey]int64),
		failureLimit: failureLimit,
	}
	r.current.Store(&snapshot{
		index:    map[ToolKey]int{},
		failures: map[string]int{},
	})
	return r
}

// Seed loads persisted usage counts. Tools already in the catalog pick them up
// immediately; others receive them when first discovered.
func (r *Registry) Seed(usage map[ToolKey]int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.current.Load().clone()
	for key, count := range usage {
		r.seeded[key] = count
		if i, ok := next.index[key]; ok && next.tools[i].UsageCount < count {
			next.tools[i].UsageCount = count
		}
	}
	r.current.Store(next)
}

// Apply merges a discovery result. Servers that answered have their tools
// replaced; servers that failed keep their previous tools until they reach the
// failure limit.
func (r *Registry) Apply(d Discovery) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	answered := make(map[string]bool, len(d.Servers))
	for _, server := range d.Servers {
		if _, failed := d.Errors[server]; !failed {
			answered[server] = true
		}
	}

	failures := make(map[string]int, len(prev.failures))
	for server, count := range prev.failures {
		failures[server] = count
	}
	dropped := make(map[string]bool)
	for server := range answered {
		delete(failures, server)
	}
	for server := range d.Errors {
		failures[server]++
		if failures[server] >= r.failureLimit {
			dropped[server] = true
		}
	}

	byServer := make(map[string][]ToolDescriptor)
	var order []string
	for _, tool := range prev.tools {
		if _, ok := byServer[tool.ServerURL]; !ok {
			order = append(order, tool.ServerURL)
		}
		byServer[tool.ServerURL] = append(byServer[tool.ServerURL], tool)
	}

	next := &snapshot{failures: failures}
	queried := make(map[string]bool, len(d.Servers))
	for _, server := range d.Servers {
		queried[server] = true
		switch {
		case dropped[server]:
		case answered[server]:
			for _, tool := range d.Tools {
				if tool.ServerURL != server {
					continue
				}
				key := tool.Key()
				if i, ok := prev.index[key]; ok {
					tool.UsageCount = prev.tools[i].UsageCount
				} else if seeded, ok := r.seeded[key]; ok {
					tool.UsageCount = seeded
				}
				next.tools = append(next.tools, tool)
			}
		default:
			next.tools = append(next.tools, byServer[server]...)
		}
	}
	for _, server := range order {
		if !queried[server] {
			next.tools = append(next.tools, byServer[server]...)
		}
	}
	next.tools = dedupe(next.tools)
	next.reindex()

	for server := range dropped {
		slog.Warn("dropping tools of unreachable server",
			"server", server, "consecutive_failures", failures[server])
	}
	r.current.Store(next)
}

// Retain removes every tool whose server is not in urls.
func (r *Registry) Retain(urls []string) {
	keep := make(map[string]bool, len(urls))
	for _, u := range urls {
		keep[normalizeURL(u)] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	next := &snapshot{failures: make(map[string]int)}
	for server, count := range prev.failures {
		if keep[server] {
			next.failures[server] = count
		}
	}
	for _, tool := range prev.tools {
		if keep[tool.ServerURL] {
			next.tools = append(next.tools, tool)
		}
	}
	next.reindex()
	r.current.Store(next)
}

// Drop removes every tool of the given servers and returns how many went.
// The servers come back with their next successful discovery.
func (r *Registry) Drop(serverURLs ...string) int {
	gone := make(map[string]bool, len(serverURLs))
	for _, u := range serverURLs {
		gone[normalizeURL(u)] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	next := &snapshot{failures: prev.failures}
	removed := make(map[string]int)
	for _, tool := range prev.tools {
		if gone[tool.ServerURL] {
			removed[tool.ServerURL]++
			continue
		}
		next.tools = append(next.tools, tool)
	}
	if len(removed) == 0 {
		return 0
	}
	next.reindex()
	r.current.Store(next)

	total := 0
	for server, n := range removed {
		slog.Warn("dropping tools of unreachable server", "server", server, "tools", n)
		total += n
	}
	return total
}

// IncrementUsage bumps the usage count of one tool and returns the new value.
func (r *Registry) IncrementUsage(key ToolKey) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	i, ok := prev.index[key]
	if !ok {
		return 0, false
	}
	next := prev.clone()
	next.tools[i].UsageCount++
	r.current.Store(next)
	return next.tools[i].UsageCount, true
}

// Tools returns the catalog in discovery order.
func (r *Registry) Tools() []ToolDescriptor {
	return append([]ToolDescriptor(nil), r.current.Load().tools...)
}

// ToolsFor returns the tools served by the given servers.
func (r *Registry) ToolsFor(urls []string) []ToolDescriptor {
	allowed := make(map[string]bool, len(urls))
	for _, u := range urls {
		allowed[normalizeURL(u)] = true
	}
	var out []ToolDescriptor
	for _, tool := range r.current.Load().tools {
		if allowed[tool.ServerURL] {
			out = append(out, tool)
		}
	}
	return out
}

// ByCategory returns the tools in category. Aliases such as "computation"
// resolve to their canonical category.
func (r *Registry) ByCategory(category string) []ToolDescriptor {
	want := canonicalCategory(category)
	if want == "" {
		return nil
	}
	var out []ToolDescriptor
	for _, tool := range r.current.Load().tools {
		if tool.Category == want {
			out = append(out, tool)
		}
	}
	return out
}

// ByTags returns the tools carrying any of tags.
func (r *Registry) ByTags(tags ...string) []ToolDescriptor {
	want := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
			want = append(want, tag)
		}
	}
	if len(want) == 0 {
		return nil
	}
	var out []ToolDescriptor
	for _, tool := range r.current.Load().tools {
		if slices.ContainsFunc(tool.Tags, func(tag string) bool { return slices.Contains(want, tag) }) {
			out = append(out, tool)
		}
	}
	return out
}

// Get looks up one tool by identity.
func (r *Registry) Get(key ToolKey) (ToolDescriptor, bool) {
	snap := r.current.Load()
	i, ok := snap.index[key]
	if !ok {
		return ToolDescriptor{}, false
	}
	return snap.tools[i], true
}

// Find returns every tool with the given name, ordered by server URL.
func (r *Registry) Find(name string) []ToolDescriptor {
	var out []ToolDescriptor
	for _, tool := range r.current.Load().tools {
		if tool.Name == name {
			out = append(out, tool)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerURL < out[j].ServerURL })
	return out
}

// Usage returns the usage counts of every catalogued tool.
func (r *Registry) Usage() map[ToolKey]int64 {
	snap := r.current.Load()
	out := make(map[ToolKey]int64, len(snap.tools))
	for _, tool := range snap.tools {
		out[tool.Key()] = tool.UsageCount
	}
	return out
}

// DiscoveryFailures returns the consecutive discovery failure count of a server.
func (r *Registry) DiscoveryFailures(serverURL string) int {
	return r.current.Load().failures[normalizeURL(serverURL)]
}

// Len returns the number of catalogued tools.
func (r *Registry) Len() int {
	return len(r.current.Load().tools)
}

func dedupe(tools []ToolDescriptor) []ToolDescriptor {
	seen := make(map[ToolKey]bool, len(tools))
	out := tools[:0]
	for _, tool := range tools {
		key := tool.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tool)
	}
	return out
}
