package config

import (
	agentctx "github.com/haasonsaas/nexus/internal/agent/context"
)

// EffectivePruningConfig converts config into the runtime pruning policy
// TurnExecutor applies between steps.
func EffectivePruningConfig(cfg ContextPruningConfig) agentctx.PruningConfig {
	settings := agentctx.DefaultPruningConfig()
	if cfg.ProtectedTokens != nil {
		settings.ProtectedTokens = clampInt(*cfg.ProtectedTokens, 0)
	}
	if cfg.PruneThresholdTokens != nil {
		settings.PruneThresholdTokens = clampInt(*cfg.PruneThresholdTokens, 0)
	}
	return settings
}

func clampInt(value int, min int) int {
	if value < min {
		return min
	}
	return value
}
