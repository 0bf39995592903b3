package mcp

import (
	"context"
)

const (
	toolsPath         = "/tools"
	schemaPathFormat  = "/tools/%s/schema"
	executePathFormat = "/tools/%s/execute"
)

// ToolDefinition describes a tool as reported by a tool server.
type ToolDefinition struct {
	Name        string
	Description string
	Category    string
	// Parameters is always JSON-schema shaped: {"type":"object","properties":{...}}.
	Parameters map[string]any
}

// Client consumes the tool-server contract: list, schema, execute.
type Client interface {
	ListTools(ctx context.Context, serverURL string) ([]ToolDefinition, error)
	ToolSchema(ctx context.Context, serverURL, toolName string) (map[string]any, error)
	CallTool(ctx context.Context, serverURL, toolName string, params map[string]any) (any, error)
	Ping(ctx context.Context, serverURL string) error
}
