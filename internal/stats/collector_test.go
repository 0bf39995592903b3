package stats

import (
	"sync"
	"testing"
	"time"
)

func TestCollector_AggregatesPerToolAndCategory(t *testing.T) {
	c := NewCollector(t.TempDir())

	c.RecordExecution("http://a:calculator", "math", 120*time.Millisecond, "")
	c.RecordExecution("http://a:calculator", "math", 250*time.Millisecond, "timeout")
	c.RecordExecution("http://b:web_search", "web", 2*time.Second, "")
	c.RecordExecution("http://b:web_search", "web", 1500*time.Millisecond, "network")

	snap := c.Snapshot()
	if snap.Overall.Invocations != 4 || snap.Overall.Successes != 2 || snap.Overall.Failures != 2 {
		t.Fatalf("unexpected overall counters: %+v", snap.Overall)
	}
	calc := snap.Tools["http://a:calculator"]
	if calc.Invocations != 2 || calc.FailuresByKind["timeout"] != 1 {
		t.Fatalf("unexpected calculator counters: %+v", calc)
	}
	if got := calc.AvgLatencyMs(); got != 185 {
		t.Fatalf("expected mean latency 185ms, got %.2f", got)
	}
	if calc.RollingAvgMs <= 120 || calc.RollingAvgMs >= 250 {
		t.Fatalf("expected rolling average between samples, got %.2f", calc.RollingAvgMs)
	}
	if web := snap.Categories["web"]; web.Invocations != 2 || web.SuccessRate() != 0.5 {
		t.Fatalf("unexpected web category counters: %+v", web)
	}
	if snap.Overall.P95ProxyLatencyMs != 2000 {
		t.Fatalf("expected p95 proxy 2000ms, got %d", snap.Overall.P95ProxyLatencyMs)
	}
}

func TestCollector_SelectionStats(t *testing.T) {
	c := NewCollector("")
	c.RecordSelection("intelligent", "calculation", []float64{0.6, 0.4})
	c.RecordSelection("legacy", "", nil)
	c.RecordSelectionOutcome(2, 1)

	sel := c.Snapshot().Selection
	if sel.Events != 2 || sel.Empty != 1 || sel.Candidates != 2 {
		t.Fatalf("unexpected selection stats: %+v", sel)
	}
	if got := sel.AvgConfidence(); got < 0.49 || got > 0.51 {
		t.Fatalf("expected average confidence 0.5, got %.3f", got)
	}
	if sel.SuccessRate() != 0.5 || sel.ByMode["legacy"] != 1 || sel.ByIntent["calculation"] != 1 {
		t.Fatalf("unexpected selection breakdown: %+v", sel)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush without state dir should be a no-op, got %v", err)
	}
}

func TestCollector_SnapshotIsDeepCopy(t *testing.T) {
	c := NewCollector("")
	c.RecordExecution("t", "general", time.Millisecond, "timeout")
	snap := c.Snapshot()
	snap.Tools["t"].FailuresByKind["timeout"] = 99

	if got := c.Snapshot().Tools["t"].FailuresByKind["timeout"]; got != 1 {
		t.Fatalf("snapshot mutation leaked into collector: %d", got)
	}
}

func TestCollector_FlushAndRead(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(dir)
	c.RecordExecution("http://a:echo", "", 30*time.Millisecond, "")
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	snap, err := ReadSnapshot(dir)
	if err != nil {
		t.Fatalf("ReadSnapshot() error: %v", err)
	}
	if !snap.HasData() || snap.Categories["general"].Invocations != 1 {
		t.Fatalf("unexpected persisted snapshot: %+v", snap)
	}

	empty, err := ReadSnapshot(t.TempDir())
	if err != nil || empty.HasData() {
		t.Fatalf("expected empty snapshot for missing file, got %+v err=%v", empty, err)
	}
}

func TestCollector_ConcurrentProducers(t *testing.T) {
	c := NewCollector("")
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordExecution("t", "general", time.Millisecond, "")
			_ = c.Snapshot()
		}()
	}
	wg.Wait()

	if got := c.Snapshot().Overall.Invocations; got != 100 {
		t.Fatalf("expected 100 invocations, got %d", got)
	}
}
