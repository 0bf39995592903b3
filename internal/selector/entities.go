package selector

import (
	"regexp"
	"sort"
	"strings"
)

// EntityType names a kind of structured token found in a message.
type EntityType string

const (
	EntityFilePath       EntityType = "file_path"
	EntityURL            EntityType = "url"
	EntityNumber         EntityType = "number"
	EntityMathExpression EntityType = "math_expression"
	EntitySearchQuery    EntityType = "search_query"
	EntityProcessName    EntityType = "process_name"
)

// Entities maps each recognized type to its values in order of appearance.
type Entities map[EntityType][]string

// Has reports whether at least one value of t was found.
func (e Entities) Has(t EntityType) bool {
	return len(e[t]) > 0
}

// First returns the first value of t.
func (e Entities) First(t EntityType) (string, bool) {
	if len(e[t]) == 0 {
		return "", false
	}
	return e[t][0], true
}

// Types returns the recognized types, sorted.
func (e Entities) Types() []EntityType {
	out := make([]EntityType, 0, len(e))
	for t, values := range e {
		if len(values) > 0 {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Patterns with a capture group contribute the group, others the whole match.
var entityPatterns = []struct {
	entity   EntityType
	patterns []*regexp.Regexp
}{
	{EntityURL, []*regexp.Regexp{
		regexp.MustCompile(`https?://[^\s"'<>]+`),
		regexp.MustCompile(`\bwww\.[^\s"'<>]+`),
		regexp.MustCompile(`\b[a-zA-Z0-9-]+(?:\.[a-zA-Z0-9-]+)*\.(?:com|org|net|io|dev|edu|gov|ai)\b`),
	}},
	{EntityFilePath, []*regexp.Regexp{
		regexp.MustCompile(`["']([^"']*\.[a-zA-Z0-9]{1,5})["']`),
		regexp.MustCompile(`\b([a-zA-Z]:\\[^\s"']+)`),
		regexp.MustCompile(`(?:^|\s)(~?/[^\s"']+)`),
		regexp.MustCompile(`\b([\w-]+\.[a-zA-Z]{2,4})\b`),
	}},
	{EntityMathExpression, []*regexp.Regexp{
		regexp.MustCompile(`\(?\d+(?:\.\d+)?\)?(?:\s*[-+*/^%]\s*\(?\d+(?:\.\d+)?\)?)+`),
		regexp.MustCompile(`(?i)\bcalculate\s+([^.!?]+)`),
		regexp.MustCompile(`(?i)\bwhat\s+is\s+([0-9+\-*/.() ]*[0-9)])`),
	}},
	{EntityNumber, []*regexp.Regexp{
		regexp.MustCompile(`\d+(?:[./]\d+)?%?`),
	}},
	{EntitySearchQuery, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bsearch\s+(?:the\s+web\s+)?for\s+["']([^"']+)["']`),
		regexp.MustCompile(`(?i)\bsearch\s+(?:the\s+web\s+)?for\s+([^"'?!.]+)`),
		regexp.MustCompile(`(?i)\bfind\s+information\s+about\s+([^?!.]+)`),
		regexp.MustCompile(`(?i)\blook\s+up\s+([^?!.]+)`),
		regexp.MustCompile(`(?i)\btell\s+me\s+about\s+([^?!.]+)`),
	}},
	{EntityProcessName, []*regexp.Regexp{
		regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9_-]*\.exe\b`),
		regexp.MustCompile(`(?i)\bprocess\s+["']([^"']+)["']`),
		regexp.MustCompile(`(?i)\bservice\s+["']([^"']+)["']`),
		regexp.MustCompile(`(?i)\bis\s+([a-zA-Z][\w-]*)\s+running\b`),
	}},
}

// ExtractEntities recognizes file paths, URLs, numbers, math expressions,
// search queries and process names in text.
func ExtractEntities(text string) Entities {
	out := make(Entities)
	if strings.TrimSpace(text) == "" {
		return out
	}

	for _, group := range entityPatterns {
		seen := make(map[string]bool)
		for _, re := range group.patterns {
			for _, m := range re.FindAllStringSubmatch(text, -1) {
				value := m[0]
				if len(m) > 1 && m[1] != "" {
					value = m[1]
				}
				value = strings.TrimSpace(strings.TrimRight(value, ".,;:!?"))
				if value == "" || seen[value] {
					continue
				}
				if group.entity == EntityFilePath && insideAny(value, out[EntityURL]) {
					continue
				}
				seen[value] = true
				out[group.entity] = append(out[group.entity], value)
			}
		}
	}
	return out
}

func insideAny(value string, containers []string) bool {
	for _, c := range containers {
		if strings.Contains(c, value) {
			return true
		}
	}
	return false
}

// Parameter names an entity type can fill, in preference order.
var entityParameters = []struct {
	entity EntityType
	params []string
}{
	{EntityFilePath, []string{"file_path", "path", "filename", "directory_path"}},
	{EntityURL, []string{"url", "web_url", "link"}},
	{EntitySearchQuery, []string{"query", "search_term", "text"}},
	{EntityMathExpression, []string{"expression", "formula", "equation"}},
	{EntityProcessName, []string{"process_name", "service_name", "name"}},
	{EntityNumber, []string{"amount", "value", "number"}},
}
