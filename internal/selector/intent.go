package selector

import (
	"regexp"
	"sort"

	"github.com/MEKXH/orchestra/internal/catalog"
)

// Intent is a coarse classification of what a message asks for.
type Intent string

const (
	IntentNone              Intent = "none"
	IntentFileRead          Intent = "file_read"
	IntentFileWrite         Intent = "file_write"
	IntentFileSearch        Intent = "file_search"
	IntentWebSearch         Intent = "web_search"
	IntentWebFetch          Intent = "web_fetch"
	IntentCalculation       Intent = "calculation"
	IntentSystemInfo        Intent = "system_info"
	IntentProcessManagement Intent = "process_management"
)

// IntentScore is one detected intent with its confidence.
type IntentScore struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

type intentRule struct {
	intent    Intent
	patterns  []*regexp.Regexp
	entities  []EntityType
	preferred []string
	category  string
}

const (
	patternConfidence    = 0.8
	extraPatternBonus    = 0.1
	entityBonus          = 0.2
	entityOnlyConfidence = 0.5
)

var intentRules = []intentRule{
	{
		intent: IntentFileRead,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(read|open|show|display|view|cat|get contents?)\b.*\b(file|document)\b`),
			regexp.MustCompile(`(?i)\bwhat'?s in\b.*\bfile\b`),
			regexp.MustCompile(`(?i)\bshow me\b.*\bfile\b`),
		},
		entities:  []EntityType{EntityFilePath},
		preferred: []string{"read_file", "file_info"},
		category:  catalog.CategoryFile,
	},
	{
		intent: IntentFileWrite,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(write|save|create|make)\b.*\b(file|document)\b`),
			regexp.MustCompile(`(?i)\bput\b.*\bin\b.*\bfile\b`),
			regexp.MustCompile(`(?i)\bstore\b.*\bin\b.*\bfile\b`),
		},
		entities:  []EntityType{EntityFilePath},
		preferred: []string{"write_file", "create_directory"},
		category:  catalog.CategoryFile,
	},
	{
		intent: IntentFileSearch,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bfind\b.*\bfiles?\b`),
			regexp.MustCompile(`(?i)\bsearch\b.*\bfor\b.*\bfiles?\b`),
			regexp.MustCompile(`(?i)\blist\b.*\bfiles?\b.*\bin\b`),
		},
		entities:  []EntityType{EntityFilePath},
		preferred: []string{"search_files", "list_directory"},
		category:  catalog.CategoryFile,
	},
	{
		intent: IntentWebSearch,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(search|find|look up|google|query)\b`),
			regexp.MustCompile(`(?i)\bwhat is\b.*\?`),
			regexp.MustCompile(`(?i)\btell me about\b`),
			regexp.MustCompile(`(?i)\binformation about\b`),
		},
		entities:  []EntityType{EntitySearchQuery},
		preferred: []string{"web_search", "search_news"},
		category:  catalog.CategoryWeb,
	},
	{
		intent: IntentWebFetch,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(fetch|get|download|retrieve)\b.*\b(url|website|page)\b`),
			regexp.MustCompile(`(?i)\bopen\b.*\bhttp`),
			regexp.MustCompile(`(?i)\bget contents?\b.*\bfrom\b.*\burl\b`),
		},
		entities:  []EntityType{EntityURL},
		preferred: []string{"fetch_webpage", "url_info"},
		category:  catalog.CategoryWeb,
	},
	{
		intent: IntentCalculation,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(calculate|compute|solve|math|arithmetic)\b`),
			regexp.MustCompile(`(?i)\bwhat is\b.*\d+.*[-+*/].*\d+`),
			regexp.MustCompile(`(?i)\bhow much is\b`),
			regexp.MustCompile(`^[\d\s.()=?]*\d\s*[-+*/^%]\s*[\d\s.()+\-*/^%=?]*$`),
		},
		entities:  []EntityType{EntityMathExpression, EntityNumber},
		preferred: []string{"calculator"},
		category:  catalog.CategoryMath,
	},
	{
		intent: IntentSystemInfo,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(system|computer|machine|server)\b.*\b(info|information|status|stats)\b`),
			regexp.MustCompile(`(?i)\bhow much\b.*\b(memory|ram|disk|cpu)\b`),
			regexp.MustCompile(`(?i)\bwhat'?s\b.*\b(running|processes|system)\b`),
		},
		preferred: []string{"system_info", "system_metrics", "memory_info"},
		category:  catalog.CategorySystem,
	},
	{
		intent: IntentProcessManagement,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(kill|stop|start|restart)\b.*\b(process|service)\b`),
			regexp.MustCompile(`(?i)\blist\b.*\b(processes|running)\b`),
			regexp.MustCompile(`(?i)\bis\b.*\brunning\b`),
		},
		entities:  []EntityType{EntityProcessName},
		preferred: []string{"process_list", "check_service"},
		category:  catalog.CategorySystem,
	},
}

var rulesByIntent = func() map[Intent]intentRule {
	out := make(map[Intent]intentRule, len(intentRules))
	for _, rule := range intentRules {
		out[rule.intent] = rule
	}
	return out
}()

// DetectIntents classifies text, strongest first. Each matching pattern raises
// confidence, a present entity the intent needs strengthens it, and the
// intent's primary entity alone establishes it at a lower confidence.
func DetectIntents(text string, entities Entities) []IntentScore {
	var out []IntentScore
	for _, rule := range intentRules {
		matches := 0
		for _, re := range rule.patterns {
			if re.MatchString(text) {
				matches++
			}
		}
		hasEntity := false
		for _, t := range rule.entities {
			if entities.Has(t) {
				hasEntity = true
				break
			}
		}

		var confidence float64
		switch {
		case matches > 0:
			confidence = patternConfidence + extraPatternBonus*float64(matches-1)
			if hasEntity {
				confidence += entityBonus
			}
		case len(rule.entities) > 0 && entities.Has(rule.entities[0]):
			confidence = entityOnlyConfidence
		default:
			continue
		}
		out = append(out, IntentScore{Intent: rule.intent, Confidence: clamp(confidence)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// PrimaryIntent returns the strongest intent or IntentNone.
func PrimaryIntent(intents []IntentScore) Intent {
	if len(intents) == 0 {
		return IntentNone
	}
	return intents[0].Intent
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
