package catalog

import (
	"fmt"
	"strings"
)

// ToolKey identifies a tool across servers.
type ToolKey struct {
	ServerURL string
	Name      string
}

func (k ToolKey) String() string {
	return fmt.Sprintf("%s:%s", k.ServerURL, k.Name)
}

// ToolDescriptor is one discovered tool.
type ToolDescriptor struct {
	ServerURL       string         `json:"server_url"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	ParameterSchema map[string]any `json:"parameter_schema"`
	Category        string         `json:"category"`
	Tags            []string       `json:"tags,omitempty"`
	UsageCount      int64          `json:"usage_count"`
}

// Key returns the descriptor identity.
func (d ToolDescriptor) Key() ToolKey {
	return ToolKey{ServerURL: d.ServerURL, Name: d.Name}
}

// HasParameter reports whether the schema declares the named property.
func (d ToolDescriptor) HasParameter(name string) bool {
	props, _ := d.ParameterSchema["properties"].(map[string]any)
	_, ok := props[name]
	return ok
}

// Duplicate records a tool dropped during merge because its identity was already taken.
// The first-discovered descriptor is kept; Kept and Dropped are their descriptions.
type Duplicate struct {
	Key     ToolKey
	Kept    string
	Dropped string
}

// NameCollision records a tool name published by more than one server.
// Both descriptors stay in the catalog; only the bare name is ambiguous.
type NameCollision struct {
	Name    string
	Servers []string
}

func normalizeURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}
