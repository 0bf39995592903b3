package selector

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	defaultHistorySize = 100
	recommendWindow    = 20
	recommendMaxAge    = 7 * 24 * time.Hour
)

type selectionEvent struct {
	topTool string
	at      time.Time
}

// Recommendation is a frequently chosen tool.
type Recommendation struct {
	ToolName string `json:"tool_name"`
	Count    int    `json:"count"`
	Reason   string `json:"reason"`
}

// History is a bounded ring of recent selections.
type History struct {
	mu     sync.Mutex
	events []selectionEvent
	next   int
	full   bool
	now    func() time.Time
}

// NewHistory creates a ring holding size events.
func NewHistory(size int) *History {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &History{events: make([]selectionEvent, size), now: time.Now}
}

// Record stores the top result of one selection.
func (h *History) Record(top Result) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.events[h.next] = selectionEvent{topTool: top.Tool.Name, at: h.now()}
	h.next = (h.next + 1) % len(h.events)
	if h.next == 0 {
		h.full = true
	}
}

// recent returns up to n events, newest last.
func (h *History) recent(n int) []selectionEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	size := h.next
	if h.full {
		size = len(h.events)
	}
	if n > size {
		n = size
	}
	out := make([]selectionEvent, 0, n)
	for i := size - n; i < size; i++ {
		idx := i
		if h.full {
			idx = (h.next + i) % len(h.events)
		}
		out = append(out, h.events[idx])
	}
	return out
}

// Recommendations ranks the tools most often chosen first in the recent window.
func (h *History) Recommendations(limit int) []Recommendation {
	if limit <= 0 {
		return nil
	}
	cutoff := h.now().Add(-recommendMaxAge)
	counts := make(map[string]int)
	for _, ev := range h.recent(recommendWindow) {
		if ev.at.Before(cutoff) {
			continue
		}
		counts[ev.topTool]++
	}

	out := make([]Recommendation, 0, len(counts))
	for name, count := range counts {
		out = append(out, Recommendation{
			ToolName: name,
			Count:    count,
			Reason:   fmt.Sprintf("frequently used (%d times recently)", count),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ToolName < out[j].ToolName
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
