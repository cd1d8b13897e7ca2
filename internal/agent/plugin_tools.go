package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/nexus/pkg/pluginsdk"
)

// pluginTool adapts a pluginsdk-described tool (a manifest ToolDefinition
// plus its handler) into the core's Tool interface, so a RuntimePlugin's
// tools are indistinguishable from built-in ones once registered.
type pluginTool struct {
	def     pluginsdk.ToolDefinition
	handler pluginsdk.ToolHandler
}

func (t *pluginTool) Name() string        { return t.def.Name }
func (t *pluginTool) Description() string { return t.def.Description }

func (t *pluginTool) Parameters() json.RawMessage {
	if t.def.Schema == nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return json.RawMessage(t.def.Schema)
}

func (t *pluginTool) Execute(ctx context.Context, args json.RawMessage) (*ToolRawResult, error) {
	result, err := t.handler(ctx, args)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &ToolRawResult{}, nil
	}
	if result.IsError {
		return &ToolRawResult{Error: result.Content}, nil
	}
	return &ToolRawResult{Text: result.Content}, nil
}

// pluginToolRegistry implements pluginsdk.ToolRegistry over a core
// ToolRegistry, letting a RuntimePlugin register tools without knowing
// about the core's Tool interface.
type pluginToolRegistry struct {
	target *ToolRegistry
}

func (r *pluginToolRegistry) RegisterTool(def pluginsdk.ToolDefinition, handler pluginsdk.ToolHandler) error {
	if def.Name == "" {
		return fmt.Errorf("plugin tool definition requires a name")
	}
	r.target.Register(&pluginTool{def: def, handler: handler})
	return nil
}

// LoadPlugin validates cfg against the plugin's manifest config schema, then
// asks the plugin to register its tools into registry. A plugin whose
// manifest fails validation never reaches RegisterTools.
func LoadPlugin(registry *ToolRegistry, plugin pluginsdk.RuntimePlugin, cfg map[string]any) error {
	manifest := plugin.Manifest()
	if manifest == nil {
		return fmt.Errorf("plugin has no manifest")
	}
	if err := manifest.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("plugin %s: %w", manifest.ID, err)
	}
	return plugin.RegisterTools(&pluginToolRegistry{target: registry}, cfg)
}
