package selector

import (
	"fmt"
	"strings"

	"github.com/MEKXH/orchestra/internal/catalog"
	"github.com/MEKXH/orchestra/internal/mcp"
)

// Mode picks a selection strategy.
type Mode string

const (
	ModeLegacy      Mode = "legacy"
	ModeIntelligent Mode = "intelligent"
)

// LegacyConfidence is assigned to every legacy keyword match.
const LegacyConfidence = 0.5

// Analysis is what a strategy learned about a message, shared by all tools.
type Analysis struct {
	Message  string
	Entities Entities
	Intents  []IntentScore
}

// Strategy scores one tool against an analyzed message. ok is false when the
// tool is not relevant at all.
type Strategy interface {
	Mode() Mode
	Analyze(message string) Analysis
	Score(a Analysis, tool catalog.ToolDescriptor) (Result, bool)
}

// IntentUsage reports how often a tool ran for messages of an intent.
type IntentUsage interface {
	IntentUsage(key catalog.ToolKey, intent string) int64
}

var legacyKeywords = []struct {
	keyword  string
	category string
}{
	{"calculate", catalog.CategoryMath},
	{"calculation", catalog.CategoryMath},
	{"math", catalog.CategoryMath},
	{"sum", catalog.CategoryMath},
	{"add", catalog.CategoryMath},
	{"subtract", catalog.CategoryMath},
	{"multiply", catalog.CategoryMath},
	{"divide", catalog.CategoryMath},
	{"search", catalog.CategoryWeb},
	{"web", catalog.CategoryWeb},
	{"lookup", catalog.CategoryWeb},
}

// Legacy matches a fixed keyword list against tool name, description and
// category. Relevance is binary.
type Legacy struct{}

func (Legacy) Mode() Mode { return ModeLegacy }

func (Legacy) Analyze(message string) Analysis {
	return Analysis{Message: message}
}

func (Legacy) Score(a Analysis, tool catalog.ToolDescriptor) (Result, bool) {
	msg := strings.ToLower(a.Message)
	name := strings.ToLower(tool.Name)
	desc := strings.ToLower(tool.Description)

	reason := ""
	if name != "" && strings.Contains(msg, name) {
		reason = "tool name mentioned"
	}
	for _, kw := range legacyKeywords {
		if reason != "" {
			break
		}
		if !containsWord(msg, kw.keyword) {
			continue
		}
		switch {
		case strings.Contains(name, kw.keyword):
			reason = fmt.Sprintf("keyword %q in name", kw.keyword)
		case strings.Contains(desc, kw.keyword):
			reason = fmt.Sprintf("keyword %q in description", kw.keyword)
		case tool.Category == kw.category:
			reason = fmt.Sprintf("keyword %q matches category %s", kw.keyword, kw.category)
		}
	}
	if reason == "" {
		return Result{}, false
	}

	return Result{
		Tool:       tool,
		Confidence: LegacyConfidence,
		Parameters: legacyParameters(a.Message, tool),
		Intent:     IntentNone,
		Reasons:    []string{reason},
		Mode:       ModeLegacy,
	}, true
}

func legacyParameters(message string, tool catalog.ToolDescriptor) map[string]any {
	switch {
	case tool.HasParameter("expression"):
		return map[string]any{"expression": message}
	case tool.HasParameter("query"):
		return map[string]any{"query": message}
	}
	params := make(map[string]any)
	for _, name := range mcp.SchemaRequired(tool.ParameterSchema) {
		if mcp.PropertyType(tool.ParameterSchema, name) == "string" {
			params[name] = message
		}
	}
	return params
}

func containsWord(text, keyword string) bool {
	for _, word := range strings.Fields(text) {
		if strings.Trim(word, ".,;:!?\"'()[]{}") == keyword {
			return true
		}
	}
	return false
}

// Intelligent runs entity extraction, intent detection and weighted scoring.
type Intelligent struct {
	Weights Weights
	Usage   IntentUsage
}

func (s *Intelligent) Mode() Mode { return ModeIntelligent }

func (s *Intelligent) Analyze(message string) Analysis {
	entities := ExtractEntities(message)
	return Analysis{
		Message:  message,
		Entities: entities,
		Intents:  DetectIntents(message, entities),
	}
}

func (s *Intelligent) Score(a Analysis, tool catalog.ToolDescriptor) (Result, bool) {
	w := s.Weights
	var reasons []string

	intent, matched := intentScore(a.Intents, tool)
	if intent > 0 {
		reasons = append(reasons, fmt.Sprintf("intent %s (%.2f)", matched, intent))
	}

	lexical := lexicalScore(a.Message, tool)
	if lexical > 0.3 {
		reasons = append(reasons, fmt.Sprintf("lexical overlap (%.2f)", lexical))
	}

	var intentUses int64
	primary := PrimaryIntent(a.Intents)
	if s.Usage != nil && primary != IntentNone {
		intentUses = s.Usage.IntentUsage(tool.Key(), string(primary))
	}
	usage := usageScore(tool, intentUses)
	if usage > 0.1 {
		reasons = append(reasons, fmt.Sprintf("usage prior (%.2f)", usage))
	}

	entity, aligned := entityScore(a.Entities, tool)
	for _, t := range aligned {
		reasons = append(reasons, fmt.Sprintf("entity alignment: %s", t))
	}
	// Usage only reorders tools that are relevant on their own.
	if intent == 0 && lexical == 0 && entity == 0 {
		return Result{}, false
	}

	confidence := clamp(w.Intent*intent + w.Lexical*lexical + w.Usage*usage + w.Entity*entity)
	if confidence <= 0 {
		return Result{}, false
	}
	if matched == IntentNone {
		matched = primary
	}

	return Result{
		Tool:       tool,
		Confidence: confidence,
		Parameters: candidateParameters(a.Message, a.Entities, tool),
		Intent:     matched,
		Reasons:    reasons,
		Mode:       ModeIntelligent,
	}, true
}

var textParameters = []string{"query", "text", "message", "input"}

// candidateParameters maps entities onto declared parameters and fills free
// text parameters with the message.
func candidateParameters(message string, entities Entities, tool catalog.ToolDescriptor) map[string]any {
	params := make(map[string]any)
	for _, mapping := range entityParameters {
		value, ok := entities.First(mapping.entity)
		if !ok {
			continue
		}
		for _, name := range mapping.params {
			if _, taken := params[name]; taken {
				continue
			}
			if tool.HasParameter(name) {
				params[name] = value
				break
			}
		}
	}
	for _, name := range textParameters {
		if _, taken := params[name]; !taken && tool.HasParameter(name) {
			params[name] = message
		}
	}
	return params
}
