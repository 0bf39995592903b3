package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// InvokeFunc runs one tool call on behalf of an adapter.
type InvokeFunc func(ctx context.Context, serverURL, toolName string, params map[string]any) (any, error)

type toolAdapter struct {
	invoke    InvokeFunc
	serverURL string
	toolName  string
	fullName  string
	desc      string
	params    map[string]any
	defaults  map[string]any
}

// NewEinoTool exposes a discovered tool as an eino InvokableTool so it can be
// bound to a chat model. exposedName overrides the tool name when two servers
// publish the same one. defaults pre-fill arguments the model leaves out.
func NewEinoTool(serverURL string, def ToolDefinition, exposedName string, defaults map[string]any, invoke InvokeFunc) tool.InvokableTool {
	toolName := strings.TrimSpace(def.Name)
	desc := strings.TrimSpace(def.Description)
	if desc == "" {
		desc = toolName
	}
	fullName := strings.TrimSpace(exposedName)
	if fullName == "" {
		fullName = toolName
	}

	return toolAdapter{
		invoke:    invoke,
		serverURL: normalizeBaseURL(serverURL),
		toolName:  toolName,
		fullName:  fullName,
		desc:      desc,
		params:    def.Parameters,
		defaults:  defaults,
	}
}

func (a toolAdapter) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name:        a.fullName,
		Desc:        a.desc,
		ParamsOneOf: schema.NewParamsOneOfByParams(parameterInfos(a.params)),
		Extra: map[string]any{
			"provider": "tool_server",
			"server":   a.serverURL,
			"tool":     a.toolName,
		},
	}, nil
}

func (a toolAdapter) InvokableRun(ctx context.Context, argsJSON string, opts ...tool.Option) (string, error) {
	if a.invoke == nil {
		return "", fmt.Errorf("tool invoker is not configured")
	}
	args, err := parseToolArgs(argsJSON)
	if err != nil {
		return "", err
	}
	for key, value := range a.defaults {
		if _, ok := args[key]; !ok {
			args[key] = value
		}
	}
	result, err := a.invoke(ctx, a.serverURL, a.toolName, args)
	if err != nil {
		return "", err
	}
	return NormalizeToolResult(result), nil
}

func parameterInfos(params map[string]any) map[string]*schema.ParameterInfo {
	required := make(map[string]bool)
	for _, name := range SchemaRequired(params) {
		required[name] = true
	}

	props, _ := params["properties"].(map[string]any)
	out := make(map[string]*schema.ParameterInfo, len(props))
	for name, raw := range props {
		prop, _ := raw.(map[string]any)
		out[name] = &schema.ParameterInfo{
			Type:     dataType(stringValue(prop["type"])),
			Desc:     strings.TrimSpace(stringValue(prop["description"])),
			Required: required[name],
		}
	}
	return out
}

func dataType(raw string) schema.DataType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "integer":
		return schema.Integer
	case "number":
		return schema.Number
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "object":
		return schema.Object
	default:
		return schema.String
	}
}

// NormalizeToolResult renders a decoded tool result as text for the model.
func NormalizeToolResult(v any) string {
	switch value := v.(type) {
	case nil:
		return "(no output)"
	case string:
		text := strings.TrimSpace(value)
		if text == "" {
			return "(no output)"
		}
		return text
	case []byte:
		text := strings.TrimSpace(string(value))
		if text == "" {
			return "(no output)"
		}
		return text
	case fmt.Stringer:
		text := strings.TrimSpace(value.String())
		if text == "" {
			return "(no output)"
		}
		return text
	default:
		data, err := json.Marshal(value)
		if err != nil {
			text := strings.TrimSpace(fmt.Sprint(value))
			if text == "" {
				return "(no output)"
			}
			return text
		}
		text := strings.TrimSpace(string(data))
		if text == "" || text == "null" {
			return "(no output)"
		}
		return text
	}
}
