// Package selector ranks catalogued tools against a natural-language request.
package selector

import (
	"sort"
	"strings"

	"github.com/MEKXH/orchestra/internal/catalog"
)

const defaultMinConfidence = 0.1

// Result is one ranked candidate. It is immutable once returned.
type Result struct {
	Tool       catalog.ToolDescriptor `json:"tool"`
	Confidence float64                `json:"confidence"`
	Parameters map[string]any         `json:"parameters,omitempty"`
	Intent     Intent                 `json:"intent"`
	Reasons    []string               `json:"reasons,omitempty"`
	Mode       Mode                   `json:"mode"`
}

// Options configures a Selector.
type Options struct {
	Weights       Weights
	MinConfidence float64
	Usage         IntentUsage
	HistorySize   int
}

// Selector dispatches to a strategy and enforces ordering, threshold and budget.
type Selector struct {
	strategies    map[Mode]Strategy
	minConfidence float64
	history       *History
}

// New creates a selector with the legacy and intelligent strategies.
func New(opts Options) *Selector {
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = defaultMinConfidence
	}
	s := &Selector{
		strategies:    make(map[Mode]Strategy, 2),
		minConfidence: opts.MinConfidence,
		history:       NewHistory(opts.HistorySize),
	}
	s.Register(Legacy{})
	s.Register(&Intelligent{Weights: opts.Weights, Usage: opts.Usage})
	return s
}

// Register adds or replaces the strategy for its mode.
func (s *Selector) Register(strategy Strategy) {
	s.strategies[strategy.Mode()] = strategy
}

// Select returns at most maxTools candidates, highest confidence first, ties
// broken by tool name and then server URL. An empty message, an empty catalog
// or nothing above the confidence threshold all yield an empty result.
func (s *Selector) Select(message string, maxTools int, mode Mode, tools []catalog.ToolDescriptor) []Result {
	if strings.TrimSpace(message) == "" || maxTools <= 0 || len(tools) == 0 {
		return nil
	}
	strategy, ok := s.strategies[mode]
	if !ok {
		strategy = s.strategies[ModeIntelligent]
	}

	analysis := strategy.Analyze(message)
	results := make([]Result, 0, len(tools))
	for _, tool := range tools {
		r, ok := strategy.Score(analysis, tool)
		if !ok || r.Confidence <= s.minConfidence {
			continue
		}
		results = append(results, r)
	}

	sortResults(results)
	if len(results) > maxTools {
		results = results[:maxTools]
	}

	if len(results) > 0 {
		s.history.Record(results[0])
	}
	return results
}

// Analyze exposes the entity and intent analysis of a strategy.
func (s *Selector) Analyze(message string, mode Mode) Analysis {
	strategy, ok := s.strategies[mode]
	if !ok {
		strategy = s.strategies[ModeIntelligent]
	}
	return strategy.Analyze(message)
}

// Recommendations returns the tools most often ranked first recently.
func (s *Selector) Recommendations(limit int) []Recommendation {
	return s.history.Recommendations(limit)
}

func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Tool.Name != b.Tool.Name {
			return a.Tool.Name < b.Tool.Name
		}
		return a.Tool.ServerURL < b.Tool.ServerURL
	})
}
