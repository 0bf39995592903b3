package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

func decodeToolDefinitions(payload []byte) ([]ToolDefinition, error) {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decode tools list: %w", err)
	}

	var toolsValue any
	switch value := decoded.(type) {
	case map[string]any:
		toolsValue = value["tools"]
	default:
		toolsValue = value
	}

	items, ok := toolsValue.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected tools list shape")
	}

	defs := make([]ToolDefinition, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := strings.TrimSpace(stringValue(obj["name"]))
		if name == "" {
			continue
		}
		params := obj["parameters"]
		if params == nil {
			params = obj["inputSchema"]
		}
		defs = append(defs, ToolDefinition{
			Name:        name,
			Description: strings.TrimSpace(stringValue(obj["description"])),
			Category:    strings.TrimSpace(stringValue(obj["category"])),
			Parameters:  NormalizeParameterSchema(params),
		})
	}
	return defs, nil
}

func decodeSchema(payload []byte) (map[string]any, error) {
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decode tool schema: %w", err)
	}
	if errValue, ok := decoded["error"]; ok && errValue != nil {
		return nil, fmt.Errorf("schema request failed: %s", stringValue(errValue))
	}
	return NormalizeParameterSchema(decoded), nil
}

// decodeCallResult unwraps {"result": ...}; {"error": ...} bodies are permanent server errors.
func decodeCallResult(payload []byte) (any, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return nil, newCallError(KindInvalidResponse, false, errors.New("empty response body"))
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return nil, newCallError(KindInvalidResponse, false, fmt.Errorf("decode tool result: %w", err))
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return decoded, nil
	}
	if errValue, ok := obj["error"]; ok && errValue != nil {
		msg := strings.TrimSpace(stringValue(errValue))
		if msg == "" {
			msg = "tool reported an error"
		}
		return nil, newCallError(KindServerError, false, errors.New(msg))
	}
	if result, ok := obj["result"]; ok {
		return result, nil
	}
	return obj, nil
}

// NormalizeParameterSchema accepts either a JSON schema object or the flat
// {"param": "type - description"} map some servers publish.
func NormalizeParameterSchema(v any) map[string]any {
	obj, ok := v.(map[string]any)
	if !ok || len(obj) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if _, hasProps := obj["properties"]; hasProps {
		return obj
	}
	if typ, _ := obj["type"].(string); typ == "object" {
		out := make(map[string]any, len(obj)+1)
		for k, val := range obj {
			out[k] = val
		}
		out["properties"] = map[string]any{}
		return out
	}

	props := make(map[string]any, len(obj))
	for name, raw := range obj {
		switch value := raw.(type) {
		case map[string]any:
			props[name] = value
		case string:
			typ, desc := splitTypeDescription(value)
			prop := map[string]any{"type": typ}
			if desc != "" {
				prop["description"] = desc
			}
			props[name] = prop
		default:
			props[name] = map[string]any{"type": "string"}
		}
	}
	return map[string]any{"type": "object", "properties": props}
}

func splitTypeDescription(raw string) (string, string) {
	typ, desc, _ := strings.Cut(raw, " - ")
	typ = strings.ToLower(strings.TrimSpace(typ))
	switch typ {
	case "string", "integer", "number", "boolean", "array", "object":
	default:
		return "string", strings.TrimSpace(raw)
	}
	return typ, strings.TrimSpace(desc)
}

// SchemaProperties returns the sorted property names of a normalized schema.
func SchemaProperties(schema map[string]any) []string {
	props, _ := schema["properties"].(map[string]any)
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SchemaRequired returns the required property names of a schema.
func SchemaRequired(schema map[string]any) []string {
	switch value := schema["required"].(type) {
	case []string:
		return append([]string(nil), value...)
	case []any:
		out := make([]string, 0, len(value))
		for _, item := range value {
			if name := strings.TrimSpace(stringValue(item)); name != "" {
				out = append(out, name)
			}
		}
		return out
	default:
		return nil
	}
}

// PropertyType returns the declared JSON type of one property, or "string".
func PropertyType(schema map[string]any, name string) string {
	props, _ := schema["properties"].(map[string]any)
	prop, _ := props[name].(map[string]any)
	if typ, ok := prop["type"].(string); ok && typ != "" {
		return typ
	}
	return "string"
}

func extractErrorMessage(raw []byte) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return ""
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
		for _, key := range []string{"error", "detail", "message"} {
			if value, ok := obj[key]; ok && value != nil {
				return strings.TrimSpace(stringValue(value))
			}
		}
	}
	return trimmed
}

func parseToolArgs(argsJSON string) (map[string]any, error) {
	trimmed := strings.TrimSpace(argsJSON)
	if trimmed == "" {
		return map[string]any{}, nil
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil, InvalidParameters("invalid tool args json: %v", err)
	}
	if parsed == nil {
		return map[string]any{}, nil
	}
	return parsed, nil
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	switch value := v.(type) {
	case string:
		return value
	default:
		return fmt.Sprint(v)
	}
}
