package selector

import (
	"regexp"
	"strings"

	"github.com/MEKXH/orchestra/internal/catalog"
)

// Weights combines the component scores of the intelligent strategy.
type Weights struct {
	Intent  float64 `json:"intent"`
	Lexical float64 `json:"lexical"`
	Usage   float64 `json:"usage"`
	Entity  float64 `json:"entity"`
}

// DefaultWeights returns the stock 0.4/0.3/0.2/0.1 split.
func DefaultWeights() Weights {
	return Weights{Intent: 0.4, Lexical: 0.3, Usage: 0.2, Entity: 0.1}
}

const (
	categoryIntentFactor = 0.8
	semanticGroupFactor  = 0.3
	categoryGroupBoost   = 1.5
	usageSaturation      = 10.0
	entityAlignmentScore = 0.5
	topIntents           = 2
)

var semanticGroups = []struct {
	category string
	keywords []string
}{
	{catalog.CategoryFile, []string{
		"file", "document", "text", "data", "content", "folder", "directory",
		"path", "filename", "extension", "read", "write", "save", "open",
		"create", "delete", "move", "copy", "edit",
	}},
	{catalog.CategoryWeb, []string{
		"web", "internet", "online", "url", "website", "page", "link", "http",
		"search", "google", "query", "fetch", "download", "browse", "scrape",
	}},
	{catalog.CategorySystem, []string{
		"system", "computer", "server", "machine", "hardware", "software",
		"process", "service", "memory", "cpu", "disk", "network", "performance",
		"status", "info", "monitor", "check",
	}},
	{catalog.CategoryMath, []string{
		"calculate", "compute", "math", "number", "formula", "equation",
		"arithmetic", "solve", "result", "answer", "total", "sum",
	}},
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(text string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		out[tok] = true
	}
	return out
}

func toolText(tool catalog.ToolDescriptor) string {
	return strings.ToLower(tool.Name + " " + tool.Description)
}

// intentScore is the best match of the tool against the top intents: a
// preferred tool gets the intent confidence, a tool in the intent's category a
// fraction of it.
func intentScore(intents []IntentScore, tool catalog.ToolDescriptor) (float64, Intent) {
	best, matched := 0.0, IntentNone
	for i, is := range intents {
		if i >= topIntents {
			break
		}
		rule, ok := rulesByIntent[is.Intent]
		if !ok {
			continue
		}
		score := 0.0
		for _, name := range rule.preferred {
			if strings.EqualFold(tool.Name, name) {
				score = is.Confidence
				break
			}
		}
		if score == 0 && tool.Category == rule.category {
			score = categoryIntentFactor * is.Confidence
		}
		if score > best {
			best, matched = score, is.Intent
		}
	}
	return best, matched
}

// lexicalScore is token Jaccard overlap plus keyword-group overlap.
func lexicalScore(message string, tool catalog.ToolDescriptor) float64 {
	msgLower := strings.ToLower(message)
	text := toolText(tool)

	score := 0.0
	msgTokens, toolTokens := tokenize(msgLower), tokenize(text)
	if len(msgTokens) > 0 && len(toolTokens) > 0 {
		common := 0
		for tok := range msgTokens {
			if toolTokens[tok] {
				common++
			}
		}
		union := len(msgTokens) + len(toolTokens) - common
		score += float64(common) / float64(union)
	}

	for _, group := range semanticGroups {
		msgHits, toolHits := 0, 0
		for _, kw := range group.keywords {
			if strings.Contains(msgLower, kw) {
				msgHits++
			}
			if strings.Contains(text, kw) {
				toolHits++
			}
		}
		if msgHits == 0 || toolHits == 0 {
			continue
		}
		similarity := float64(min(msgHits, toolHits)) / float64(max(msgHits, toolHits))
		if tool.Category == group.category {
			similarity *= categoryGroupBoost
		}
		score += similarity * semanticGroupFactor
	}
	return clamp(score)
}

// usageScore is half overall usage, half usage under the same intent, each
// saturating after ten uses.
func usageScore(tool catalog.ToolDescriptor, intentUses int64) float64 {
	overall := min(float64(tool.UsageCount)/usageSaturation, 1)
	affinity := min(float64(intentUses)/usageSaturation, 1)
	return clamp(0.5*overall + 0.5*affinity)
}

// entityScore rewards tools whose parameters can take the extracted entities.
func entityScore(entities Entities, tool catalog.ToolDescriptor) (float64, []EntityType) {
	score := 0.0
	var aligned []EntityType
	for _, mapping := range entityParameters {
		if !entities.Has(mapping.entity) {
			continue
		}
		for _, param := range mapping.params {
			if tool.HasParameter(param) {
				score += entityAlignmentScore
				aligned = append(aligned, mapping.entity)
				break
			}
		}
	}
	return clamp(score), aligned
}
