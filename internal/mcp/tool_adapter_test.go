package mcp

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func TestEinoTool_InfoAndRun(t *testing.T) {
	def := ToolDefinition{
		Name:        "web_search",
		Description: "Search the web",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":       map[string]any{"type": "string", "description": "Search query"},
				"max_results": map[string]any{"type": "integer"},
			},
			"required": []any{"query"},
		},
	}

	var gotServer, gotTool string
	var gotParams map[string]any
	adapter := NewEinoTool("http://web:8002/", def, "", map[string]any{"max_results": 5}, func(ctx context.Context, serverURL, toolName string, params map[string]any) (any, error) {
		gotServer, gotTool, gotParams = serverURL, toolName, params
		return map[string]any{"hits": 3}, nil
	})

	info, err := adapter.Info(context.Background())
	if err != nil {
		t.Fatalf("Info() error: %v", err)
	}
	if info.Name != "web_search" || info.Desc != "Search the web" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Extra["server"] != "http://web:8002" {
		t.Fatalf("expected normalized server in extra, got %v", info.Extra["server"])
	}
	params := parameterInfos(def.Parameters)
	if params["query"].Type != schema.String || !params["query"].Required {
		t.Fatalf("unexpected query param info: %+v", params["query"])
	}
	if params["max_results"].Type != schema.Integer || params["max_results"].Required {
		t.Fatalf("unexpected max_results param info: %+v", params["max_results"])
	}

	out, err := adapter.InvokableRun(context.Background(), `{"query":"golang"}`)
	if err != nil {
		t.Fatalf("InvokableRun() error: %v", err)
	}
	if out != `{"hits":3}` {
		t.Fatalf("unexpected output %q", out)
	}
	if gotServer != "http://web:8002" || gotTool != "web_search" {
		t.Fatalf("unexpected routing server=%q tool=%q", gotServer, gotTool)
	}
	if gotParams["query"] != "golang" || gotParams["max_results"] != 5 {
		t.Fatalf("expected defaults merged under explicit args, got %v", gotParams)
	}
}

func TestEinoTool_RejectsInvalidArgs(t *testing.T) {
	adapter := NewEinoTool("http://x", ToolDefinition{Name: "noop"}, "x.noop", nil, func(context.Context, string, string, map[string]any) (any, error) {
		t.Fatal("invoke should not be called")
		return nil, nil
	})

	_, err := adapter.InvokableRun(context.Background(), `[1,2]`)
	if kind, _ := Classify(err); kind != KindInvalidParameters {
		t.Fatalf("expected invalid_parameters, got %q (%v)", kind, err)
	}

	info, _ := adapter.Info(context.Background())
	if info.Name != "x.noop" {
		t.Fatalf("expected exposed name override, got %q", info.Name)
	}
}

func TestNormalizeParameterSchema(t *testing.T) {
	normalized := NormalizeParameterSchema(map[string]any{
		"include_hidden": "boolean - Whether to include hidden files (default: false)",
		"directory_path": "string - Path to the directory to list",
		"weird":          "free text",
	})
	if got := PropertyType(normalized, "include_hidden"); got != "boolean" {
		t.Fatalf("expected boolean, got %q", got)
	}
	if got := PropertyType(normalized, "weird"); got != "string" {
		t.Fatalf("expected string fallback, got %q", got)
	}
	names := SchemaProperties(normalized)
	if len(names) != 3 || names[0] != "directory_path" {
		t.Fatalf("unexpected sorted properties: %v", names)
	}

	empty := NormalizeParameterSchema(nil)
	if len(SchemaProperties(empty)) != 0 {
		t.Fatalf("expected empty properties, got %v", empty)
	}
}
