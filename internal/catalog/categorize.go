package catalog

import (
	"sort"
	"strings"
)

// Canonical tool categories.
const (
	CategoryFile    = "file"
	CategoryWeb     = "web"
	CategorySystem  = "system"
	CategoryMath    = "math"
	CategoryGeneral = "general"
)

var categoryAliases = map[string]string{
	"file":              CategoryFile,
	"files":             CategoryFile,
	"file_operations":   CategoryFile,
	"filesystem":        CategoryFile,
	"web":               CategoryWeb,
	"web_operations":    CategoryWeb,
	"search":            CategoryWeb,
	"network":           CategoryWeb,
	"system":            CategorySystem,
	"system_operations": CategorySystem,
	"os":                CategorySystem,
	"math":              CategoryMath,
	"computation":       CategoryMath,
	"calculation":       CategoryMath,
	"calculator":        CategoryMath,
	"general":           CategoryGeneral,
}

// Checked in order; the first group with a hit wins.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{CategoryFile, []string{"file", "read", "write", "directory", "folder"}},
	{CategoryWeb, []string{"web", "search", "url", "http", "internet"}},
	{CategorySystem, []string{"system", "process", "cpu", "memory", "disk"}},
	{CategoryMath, []string{"calculat", "math", "compute", "number", "arithmetic"}},
}

var tagKeywords = map[string][]string{
	"async":    {"async", "asynchronous"},
	"data":     {"data", "storage"},
	"file":     {"file"},
	"math":     {"calc", "math"},
	"monitor":  {"monitor"},
	"network":  {"network"},
	"realtime": {"realtime", "real-time"},
	"secure":   {"secure"},
	"web":      {"web", "search"},
}

// NormalizeCategory maps a server-supplied category onto the canonical set,
// inferring one from name and description when it is missing or unknown.
func NormalizeCategory(raw, name, description string) string {
	if canonical, ok := categoryAliases[categoryKey(raw)]; ok {
		return canonical
	}
	return InferCategory(name, description)
}

func categoryKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	return strings.ReplaceAll(key, " ", "_")
}

// canonicalCategory maps a user-supplied category to its catalog name,
// leaving unknown names as typed.
func canonicalCategory(raw string) string {
	key := categoryKey(raw)
	if canonical, ok := categoryAliases[key]; ok {
		return canonical
	}
	return key
}

// InferCategory guesses a category from keywords in the tool name and description.
func InferCategory(name, description string) string {
	text := strings.ToLower(name + " " + description)
	for _, group := range categoryKeywords {
		for _, keyword := range group.keywords {
			if strings.Contains(text, keyword) {
				return group.category
			}
		}
	}
	return CategoryGeneral
}

// ExtractTags returns sorted descriptive tags for a tool.
func ExtractTags(name, description string) []string {
	text := strings.ToLower(name + " " + description)
	tags := make([]string, 0, 4)
	for tag, keywords := range tagKeywords {
		for _, keyword := range keywords {
			if strings.Contains(text, keyword) {
				tags = append(tags, tag)
				break
			}
		}
	}
	sort.Strings(tags)
	return tags
}
