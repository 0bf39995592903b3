package selector

import (
	"testing"

	"github.com/MEKXH/orchestra/internal/catalog"
)

func objectSchema(required []string, props ...string) map[string]any {
	properties := make(map[string]any, len(props))
	for _, p := range props {
		properties[p] = map[string]any{"type": "string"}
	}
	req := make([]any, 0, len(required))
	for _, r := range required {
		req = append(req, r)
	}
	return map[string]any{"type": "object", "properties": properties, "required": req}
}

func sampleTools() []catalog.ToolDescriptor {
	return []catalog.ToolDescriptor{
		{
			ServerURL:       "http://localhost:8001",
			Name:            "read_file",
			Description:     "Read contents of a text file",
			Category:        catalog.CategoryFile,
			ParameterSchema: objectSchema([]string{"file_path"}, "file_path"),
		},
		{
			ServerURL:       "http://localhost:8002",
			Name:            "web_search",
			Description:     "Search the web",
			Category:        catalog.CategoryWeb,
			ParameterSchema: objectSchema([]string{"query"}, "query", "max_results"),
		},
		{
			ServerURL:       "http://localhost:8002",
			Name:            "calculator",
			Description:     "Evaluate simple math expressions",
			Category:        catalog.CategoryMath,
			ParameterSchema: objectSchema([]string{"expression"}, "expression"),
		},
		{
			ServerURL:       "http://localhost:8003",
			Name:            "system_info",
			Description:     "Report system information",
			Category:        catalog.CategorySystem,
			ParameterSchema: objectSchema(nil),
		},
	}
}

func TestSelect_SearchRanksWebSearchFirst(t *testing.T) {
	s := New(Options{})
	results := s.Select("Search for Python tutorials", 3, ModeIntelligent, sampleTools())

	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	top := results[0]
	if top.Tool.Name != "web_search" || top.Confidence <= 0 {
		t.Fatalf("expected web_search first with positive confidence, got %+v", top)
	}
	if top.Intent != IntentWebSearch {
		t.Fatalf("expected web_search intent, got %q", top.Intent)
	}
	if top.Parameters["query"] != "Python tutorials" {
		t.Fatalf("expected extracted query parameter, got %v", top.Parameters)
	}
	for _, r := range results[1:] {
		if r.Confidence > top.Confidence {
			t.Fatalf("result %s outranks top: %+v", r.Tool.Name, results)
		}
	}
}

func TestSelect_ArithmeticSelectsCalculator(t *testing.T) {
	s := New(Options{})
	results := s.Select("2+2", 3, ModeIntelligent, sampleTools())

	if len(results) == 0 || results[0].Tool.Name != "calculator" {
		t.Fatalf("expected calculator selected, got %+v", results)
	}
	if results[0].Intent != IntentCalculation {
		t.Fatalf("expected calculation intent, got %q", results[0].Intent)
	}
	if results[0].Parameters["expression"] != "2+2" {
		t.Fatalf("expected expression parameter, got %v", results[0].Parameters)
	}
}

func TestSelect_BudgetAndOrdering(t *testing.T) {
	s := New(Options{})
	tools := sampleTools()
	messages := []string{
		"Search for Python tutorials",
		"read the file config.txt and calculate 3 * 4",
		"what is the system status? search the web",
		"2+2",
	}
	for _, msg := range messages {
		for budget := 1; budget <= 4; budget++ {
			results := s.Select(msg, budget, ModeIntelligent, tools)
			if len(results) > budget {
				t.Fatalf("%q budget %d: got %d results", msg, budget, len(results))
			}
			for i := 1; i < len(results); i++ {
				if results[i].Confidence > results[i-1].Confidence {
					t.Fatalf("%q: results not sorted: %+v", msg, results)
				}
			}
			for _, r := range results {
				if r.Confidence < 0 || r.Confidence > 1 {
					t.Fatalf("confidence out of range: %+v", r)
				}
			}
		}
	}
}

func TestSelect_TiesBrokenByNameThenServer(t *testing.T) {
	tools := []catalog.ToolDescriptor{
		{ServerURL: "http://b", Name: "search_web", Description: "search", Category: catalog.CategoryWeb},
		{ServerURL: "http://a", Name: "search_web", Description: "search", Category: catalog.CategoryWeb},
		{ServerURL: "http://a", Name: "lookup_web", Description: "search", Category: catalog.CategoryWeb},
	}
	results := New(Options{}).Select("search something", 3, ModeLegacy, tools)

	if len(results) != 3 {
		t.Fatalf("expected 3 legacy matches, got %+v", results)
	}
	got := []string{
		results[0].Tool.Name + "@" + results[0].Tool.ServerURL,
		results[1].Tool.Name + "@" + results[1].Tool.ServerURL,
		results[2].Tool.Name + "@" + results[2].Tool.ServerURL,
	}
	want := []string{"lookup_web@http://a", "search_web@http://a", "search_web@http://b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order %v", got)
		}
	}
}

func TestSelect_EdgeCases(t *testing.T) {
	s := New(Options{})
	if got := s.Select("   ", 3, ModeIntelligent, sampleTools()); len(got) != 0 {
		t.Fatalf("expected no selection for empty message, got %+v", got)
	}
	if got := s.Select("Search for Python tutorials", 3, ModeIntelligent, nil); len(got) != 0 {
		t.Fatalf("expected empty result without tools, got %+v", got)
	}
	if got := s.Select("hello there", 3, ModeIntelligent, sampleTools()); len(got) != 0 {
		t.Fatalf("expected nothing above threshold, got %+v", got)
	}
	if got := s.Select("2+2", 0, ModeIntelligent, sampleTools()); len(got) != 0 {
		t.Fatalf("expected nothing with zero budget, got %+v", got)
	}
}

func TestSelect_LegacyKeywordMatch(t *testing.T) {
	s := New(Options{})
	results := s.Select("please calculate 3 * 7", 3, ModeLegacy, sampleTools())

	if len(results) != 1 || results[0].Tool.Name != "calculator" {
		t.Fatalf("expected calculator only, got %+v", results)
	}
	if results[0].Confidence != LegacyConfidence || results[0].Mode != ModeLegacy {
		t.Fatalf("expected fixed legacy confidence, got %+v", results[0])
	}
	if results[0].Parameters["expression"] != "please calculate 3 * 7" {
		t.Fatalf("expected raw message as expression, got %v", results[0].Parameters)
	}

	if got := s.Select("tell me a story", 3, ModeLegacy, sampleTools()); len(got) != 0 {
		t.Fatalf("expected no legacy match, got %+v", got)
	}
	if got := s.Select("run system_info now", 3, ModeLegacy, sampleTools()); len(got) != 1 || got[0].Tool.Name != "system_info" {
		t.Fatalf("expected tool name mention to match, got %+v", got)
	}
}

type fakeIntentUsage map[catalog.ToolKey]int64

func (f fakeIntentUsage) IntentUsage(key catalog.ToolKey, intent string) int64 {
	if intent != string(IntentCalculation) {
		return 0
	}
	return f[key]
}

func TestSelect_UsagePriorBreaksOtherwiseEqualTools(t *testing.T) {
	calc := func(server string, usage int64) catalog.ToolDescriptor {
		return catalog.ToolDescriptor{
			ServerURL:       server,
			Name:            "calculator",
			Description:     "Evaluate simple math expressions",
			Category:        catalog.CategoryMath,
			ParameterSchema: objectSchema([]string{"expression"}, "expression"),
			UsageCount:      usage,
		}
	}
	used := calc("http://b", 10)
	s := New(Options{Usage: fakeIntentUsage{used.Key(): 10}})

	results := s.Select("calculate 6 * 7", 2, ModeIntelligent, []catalog.ToolDescriptor{calc("http://a", 0), used})
	if len(results) != 2 || results[0].Tool.ServerURL != "http://b" {
		t.Fatalf("expected frequently used calculator first, got %+v", results)
	}
	if results[0].Confidence <= results[1].Confidence {
		t.Fatalf("expected usage to raise confidence, got %+v", results)
	}
}

func TestSelect_UsageAloneSelectsNothing(t *testing.T) {
	reader := catalog.ToolDescriptor{
		ServerURL:       "http://a",
		Name:            "read_file",
		Description:     "Read contents of a text file",
		Category:        catalog.CategoryFile,
		ParameterSchema: objectSchema([]string{"path"}, "path"),
		UsageCount:      25,
	}
	s := New(Options{MinConfidence: 0.1})
	if got := s.Select("hello there, how are you", 3, ModeIntelligent, []catalog.ToolDescriptor{reader}); len(got) != 0 {
		t.Fatalf("expected no selection from usage alone, got %+v", got)
	}
}

func TestRecommendations(t *testing.T) {
	s := New(Options{HistorySize: 3})
	tools := sampleTools()
	s.Select("2+2", 1, ModeIntelligent, tools)
	s.Select("Search for Go tutorials", 1, ModeIntelligent, tools)
	s.Select("3*3", 1, ModeIntelligent, tools)
	s.Select("5-1", 1, ModeIntelligent, tools)

	recs := s.Recommendations(5)
	if len(recs) != 2 || recs[0].ToolName != "calculator" || recs[0].Count != 2 {
		t.Fatalf("unexpected recommendations %+v", recs)
	}
	if got := s.Recommendations(0); got != nil {
		t.Fatalf("expected nil for zero limit, got %+v", got)
	}
}

func TestExtractEntitiesAndIntents(t *testing.T) {
	e := ExtractEntities(`read "notes.txt" from https://example.com/docs and is nginx running`)
	if v, _ := e.First(EntityFilePath); v != "notes.txt" {
		t.Fatalf("expected quoted file path, got %v", e[EntityFilePath])
	}
	if v, _ := e.First(EntityURL); v != "https://example.com/docs" {
		t.Fatalf("expected url, got %v", e[EntityURL])
	}
	for _, path := range e[EntityFilePath] {
		if path == "example.com" {
			t.Fatalf("domain must not be taken as a file: %v", e[EntityFilePath])
		}
	}
	if v, _ := e.First(EntityProcessName); v != "nginx" {
		t.Fatalf("expected process name, got %v", e[EntityProcessName])
	}

	intents := DetectIntents("show me the file config.txt", ExtractEntities("show me the file config.txt"))
	if PrimaryIntent(intents) != IntentFileRead || intents[0].Confidence != 1 {
		t.Fatalf("expected confident file_read, got %+v", intents)
	}
	if got := DetectIntents("good morning", Entities{}); PrimaryIntent(got) != IntentNone {
		t.Fatalf("expected no intent, got %+v", got)
	}
}
