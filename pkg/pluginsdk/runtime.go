package pluginsdk

import (
	"context"
	"encoding/json"
)

// ToolDefinition describes a tool exposed by a runtime plugin: its name,
// description, and the JSON Schema its arguments must satisfy.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// ToolResult contains the output from a plugin tool execution.
type ToolResult struct {
	Content string
	IsError bool
}

// ToolHandler executes a plugin tool with JSON arguments.
type ToolHandler func(ctx context.Context, params json.RawMessage) (*ToolResult, error)

// ToolRegistry allows a runtime plugin to register tools with the host.
type ToolRegistry interface {
	RegisterTool(def ToolDefinition, handler ToolHandler) error
}

// PluginLogger provides scoped logging for a plugin.
type PluginLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// PluginAPI is the host-provided surface a RuntimePlugin registers tools
// through. Config carries the plugin's settings as decoded from its
// manifest's ConfigSchema.
type PluginAPI struct {
	Tools  ToolRegistry
	Config map[string]any
	Logger PluginLogger
}

// RuntimePlugin is the interface a tool plugin must implement to be loaded
// into the host's tool registry.
type RuntimePlugin interface {
	Manifest() *Manifest
	RegisterTools(registry ToolRegistry, cfg map[string]any) error
}
