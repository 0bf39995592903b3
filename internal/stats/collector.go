package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const snapshotFileName = "runtime_stats.json"

// Weight of the newest sample in the rolling latency average.
const rollingAlpha = 0.2

var latencyBucketUpperBoundsMs = []int64{
	10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000,
}

// Counters aggregates executions of one tool, one category or all tools.
type Counters struct {
	Invocations       int64            `json:"invocations"`
	Successes         int64            `json:"successes"`
	Failures          int64            `json:"failures"`
	FailuresByKind    map[string]int64 `json:"failures_by_kind,omitempty"`
	TotalLatencyMs    int64            `json:"total_latency_ms"`
	MaxLatencyMs      int64            `json:"max_latency_ms"`
	LastLatencyMs     int64            `json:"last_latency_ms"`
	RollingAvgMs      float64          `json:"rolling_avg_ms"`
	P95ProxyLatencyMs int64            `json:"p95_proxy_latency_ms"`
}

// SuccessRate returns successes/invocations in [0,1].
func (c Counters) SuccessRate() float64 {
	if c.Invocations <= 0 {
		return 0
	}
	return float64(c.Successes) / float64(c.Invocations)
}

// AvgLatencyMs returns the mean latency in milliseconds.
func (c Counters) AvgLatencyMs() float64 {
	if c.Invocations <= 0 {
		return 0
	}
	return float64(c.TotalLatencyMs) / float64(c.Invocations)
}

func (c Counters) clone() Counters {
	out := c
	if c.FailuresByKind != nil {
		out.FailuresByKind = make(map[string]int64, len(c.FailuresByKind))
		for k, v := range c.FailuresByKind {
			out.FailuresByKind[k] = v
		}
	}
	return out
}

// SelectionStats aggregates selection events.
type SelectionStats struct {
	Events          int64            `json:"events"`
	Empty           int64            `json:"empty"`
	Candidates      int64            `json:"candidates"`
	TotalConfidence float64          `json:"total_confidence"`
	Executed        int64            `json:"executed"`
	Succeeded       int64            `json:"succeeded"`
	ByMode          map[string]int64 `json:"by_mode,omitempty"`
	ByIntent        map[string]int64 `json:"by_intent,omitempty"`
}

// AvgConfidence returns the mean confidence of every selected candidate.
func (s SelectionStats) AvgConfidence() float64 {
	if s.Candidates <= 0 {
		return 0
	}
	return s.TotalConfidence / float64(s.Candidates)
}

// SuccessRate returns the share of executed selections that succeeded.
func (s SelectionStats) SuccessRate() float64 {
	if s.Executed <= 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Executed)
}

// Snapshot is an immutable copy of everything collected.
type Snapshot struct {
	UpdatedAt  time.Time           `json:"updated_at"`
	Overall    Counters            `json:"overall"`
	Tools      map[string]Counters `json:"tools"`
	Categories map[string]Counters `json:"categories"`
	Selection  SelectionStats      `json:"selection"`
}

// HasData reports whether anything was recorded.
func (s Snapshot) HasData() bool {
	return s.Overall.Invocations > 0 || s.Selection.Events > 0
}

type series struct {
	counters Counters
	buckets  []int64
}

func newSeries() *series {
	return &series{buckets: make([]int64, len(latencyBucketUpperBoundsMs)+1)}
}

func (s *series) record(latencyMs int64, failureKind string) {
	c := &s.counters
	c.Invocations++
	c.TotalLatencyMs += latencyMs
	c.LastLatencyMs = latencyMs
	if latencyMs > c.MaxLatencyMs {
		c.MaxLatencyMs = latencyMs
	}
	if c.Invocations == 1 {
		c.RollingAvgMs = float64(latencyMs)
	} else {
		c.RollingAvgMs = rollingAlpha*float64(latencyMs) + (1-rollingAlpha)*c.RollingAvgMs
	}
	if failureKind == "" {
		c.Successes++
	} else {
		c.Failures++
		if c.FailuresByKind == nil {
			c.FailuresByKind = make(map[string]int64)
		}
		c.FailuresByKind[failureKind]++
	}
	s.buckets[latencyBucketIndex(latencyMs)]++
	c.P95ProxyLatencyMs = p95ProxyFromBuckets(s.buckets, c.Invocations)
}

// Collector accumulates execution and selection statistics. Producers hold
// the lock only to bump counters; readers get deep copies.
type Collector struct {
	path string
	now  func() time.Time

	mu         sync.Mutex
	updatedAt  time.Time
	overall    *series
	tools      map[string]*series
	categories map[string]*series
	selection  SelectionStats
}

// NewCollector creates a collector persisting to <stateDir>/runtime_stats.json.
// An empty stateDir disables persistence.
func NewCollector(stateDir string) *Collector {
	path := ""
	if strings.TrimSpace(stateDir) != "" {
		path = snapshotPath(stateDir)
	}
	return &Collector{
		path:       path,
		now:        time.Now,
		overall:    newSeries(),
		tools:      make(map[string]*series),
		categories: make(map[string]*series),
	}
}

// RecordExecution counts one finished tool call. failureKind is empty on success.
func (c *Collector) RecordExecution(tool, category string, duration time.Duration, failureKind string) {
	if c == nil {
		return
	}
	latencyMs := duration.Milliseconds()
	if latencyMs < 0 {
		latencyMs = 0
	}
	if category == "" {
		category = "general"
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.updatedAt = c.now().UTC()
	c.overall.record(latencyMs, failureKind)
	toolSeries, ok := c.tools[tool]
	if !ok {
		toolSeries = newSeries()
		c.tools[tool] = toolSeries
	}
	toolSeries.record(latencyMs, failureKind)
	catSeries, ok := c.categories[category]
	if !ok {
		catSeries = newSeries()
		c.categories[category] = catSeries
	}
	catSeries.record(latencyMs, failureKind)
}

// RecordSelection counts one selection event and the confidences it returned.
func (c *Collector) RecordSelection(mode, intent string, confidences []float64) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.updatedAt = c.now().UTC()
	sel := &c.selection
	sel.Events++
	if len(confidences) == 0 {
		sel.Empty++
	}
	for _, conf := range confidences {
		sel.Candidates++
		sel.TotalConfidence += conf
	}
	if mode != "" {
		if sel.ByMode == nil {
			sel.ByMode = make(map[string]int64)
		}
		sel.ByMode[mode]++
	}
	if intent != "" {
		if sel.ByIntent == nil {
			sel.ByIntent = make(map[string]int64)
		}
		sel.ByIntent[intent]++
	}
}

// RecordSelectionOutcome counts how many selected tools ran and how many succeeded.
func (c *Collector) RecordSelectionOutcome(executed, succeeded int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection.Executed += int64(executed)
	c.selection.Succeeded += int64(succeeded)
}

// Snapshot returns a deep copy of the current statistics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		UpdatedAt:  c.updatedAt,
		Overall:    c.overall.counters.clone(),
		Tools:      make(map[string]Counters, len(c.tools)),
		Categories: make(map[string]Counters, len(c.categories)),
		Selection:  c.selection,
	}
	for name, s := range c.tools {
		snap.Tools[name] = s.counters.clone()
	}
	for name, s := range c.categories {
		snap.Categories[name] = s.counters.clone()
	}
	snap.Selection.ByMode = cloneCounts(c.selection.ByMode)
	snap.Selection.ByIntent = cloneCounts(c.selection.ByIntent)
	return snap
}

// Flush persists the current snapshot atomically.
func (c *Collector) Flush() error {
	if c == nil || c.path == "" {
		return nil
	}
	return persistSnapshot(c.path, c.Snapshot())
}

// ReadSnapshot reads the persisted snapshot from stateDir. A missing file
// yields a zero snapshot and nil error.
func ReadSnapshot(stateDir string) (Snapshot, error) {
	raw, err := os.ReadFile(snapshotPath(stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("read runtime stats: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode runtime stats: %w", err)
	}
	return snap, nil
}

func snapshotPath(stateDir string) string {
	return filepath.Join(stateDir, snapshotFileName)
}

func persistSnapshot(path string, snapshot Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create runtime stats dir: %w", err)
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode runtime stats: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, payload, 0o644); err != nil {
		return fmt.Errorf("write runtime stats temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename runtime stats file: %w", err)
	}
	return nil
}

func cloneCounts(in map[string]int64) map[string]int64 {
	if in == nil {
		return nil
	}
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func latencyBucketIndex(latencyMs int64) int {
	for i, upper := range latencyBucketUpperBoundsMs {
		if latencyMs <= upper {
			return i
		}
	}
	return len(latencyBucketUpperBoundsMs)
}

func p95ProxyFromBuckets(buckets []int64, total int64) int64 {
	if total <= 0 {
		return 0
	}
	target := int64(float64(total) * 0.95)
	if target <= 0 {
		target = 1
	}

	var cumulative int64
	for i, count := range buckets {
		cumulative += count
		if cumulative < target {
			continue
		}
		if i >= len(latencyBucketUpperBoundsMs) {
			return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
		}
		return latencyBucketUpperBoundsMs[i]
	}
	return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
}
