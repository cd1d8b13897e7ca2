package context

import (
	"context"

	"github.com/haasonsaas/nexus/pkg/models"
)

// PruningConfig bounds how aggressively old tool output is marked for
// placeholder substitution at format time.
type PruningConfig struct {
	// ProtectedTokens is the amount of trailing tool-output, in estimated
	// tokens, that is never eligible for pruning.
	ProtectedTokens int

	// PruneThresholdTokens is the cumulative prunable-token amount, beyond
	// ProtectedTokens, required before older tool output is marked.
	PruneThresholdTokens int
}

// DefaultPruningConfig returns the policy's stated defaults.
func DefaultPruningConfig() PruningConfig {
	return PruningConfig{ProtectedTokens: 40000, PruneThresholdTokens: 20000}
}

// Normalize clamps zero-or-negative fields to their defaults in place.
func (c *PruningConfig) Normalize() {
	if c.ProtectedTokens <= 0 {
		c.ProtectedTokens = 40000
	}
	if c.PruneThresholdTokens <= 0 {
		c.PruneThresholdTokens = 20000
	}
}

// EstimateContentTokens approximates the token cost of a content part slice:
// text parts cost ceil(len/4), image/file parts a flat 1000, and
// ui-resource parts nothing (they are opaque and not replayed to the model
// as token-bearing text).
func EstimateContentTokens(parts []models.ContentPart) int {
	total := 0
	for _, p := range parts {
		switch p.Type {
		case models.ContentText:
			total += (len(p.Text) + 3) / 4
		case models.ContentImage, models.ContentFile:
			total += 1000
		case models.ContentUIResource:
		}
	}
	return total
}

// PruneOldToolOutputs walks the log in reverse, stopping at the most recent
// summary, and marks older role=tool messages as compacted once the
// cumulative prunable tokens beyond cfg.ProtectedTokens reach
// cfg.PruneThresholdTokens. Marking is all-or-nothing per call: if the
// threshold isn't reached, nothing is marked this pass. Returns the number
// of messages marked and the estimated tokens saved.
func (m *Manager) PruneOldToolOutputs(ctx context.Context, cfg PruningConfig) (prunedCount, savedTokens int, err error) {
	cfg.Normalize()

	history, err := m.GetHistory(ctx)
	if err != nil {
		return 0, 0, err
	}

	stopAt := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].IsSummary {
			stopAt = i + 1
			break
		}
	}

	var protected int
	var candidateIDs []string
	var candidateTokens int

	for i := len(history) - 1; i >= stopAt; i-- {
		msg := history[i]
		if msg.Role != models.RoleTool || msg.CompactedAt != nil {
			continue
		}
		tokens := EstimateContentTokens(msg.Content)
		if protected < cfg.ProtectedTokens {
			protected += tokens
			continue
		}
		candidateIDs = append(candidateIDs, msg.ID)
		candidateTokens += tokens
	}

	if candidateTokens < cfg.PruneThresholdTokens {
		return 0, 0, nil
	}

	count := m.MarkMessagesAsCompacted(candidateIDs)
	return count, candidateTokens, nil
}
