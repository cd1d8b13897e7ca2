package context

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ReactiveOverflowConfig tunes ReactiveOverflowStrategy. The "4 message"
// re-compaction floor and the "≤2 message" initial guard are intentionally
// configuration, not hardcoded invariants — see DESIGN.md.
type ReactiveOverflowConfig struct {
	// OutputTokenMax caps how much of a model's maxOutput is subtracted
	// from its context window when computing the overflow predicate.
	OutputTokenMax int

	// RecompactionFloor is the minimum number of post-summary messages
	// required before a re-compaction is attempted. Default: 4.
	RecompactionFloor int

	// InitialGuard is the history length at or below which Compact is
	// always a no-op. Default: 2.
	InitialGuard int

	// PreserveLastNTurns is how many of the most recent user-led turns are
	// always kept un-summarized when a turn boundary can be found. Default: 2.
	PreserveLastNTurns int
}

// DefaultReactiveOverflowConfig returns the strategy's stated defaults.
func DefaultReactiveOverflowConfig() ReactiveOverflowConfig {
	return ReactiveOverflowConfig{
		OutputTokenMax:     32000,
		RecompactionFloor:  4,
		InitialGuard:       2,
		PreserveLastNTurns: 2,
	}
}

// Normalize clamps zero-or-negative fields to their defaults in place.
func (c *ReactiveOverflowConfig) Normalize() {
	d := DefaultReactiveOverflowConfig()
	if c.OutputTokenMax <= 0 {
		c.OutputTokenMax = d.OutputTokenMax
	}
	if c.RecompactionFloor <= 0 {
		c.RecompactionFloor = d.RecompactionFloor
	}
	if c.InitialGuard <= 0 {
		c.InitialGuard = d.InitialGuard
	}
	if c.PreserveLastNTurns <= 0 {
		c.PreserveLastNTurns = d.PreserveLastNTurns
	}
}

// IsOverflow reports whether the given post-step usage exceeds the usable
// context window: used > contextWindow − min(maxOutput, OutputTokenMax).
func IsOverflow(usage *models.TokenUsage, limits models.ModelLimits, cfg ReactiveOverflowConfig) bool {
	if usage == nil {
		return false
	}
	cfg.Normalize()
	maxOutput := limits.MaxOutput
	if cfg.OutputTokenMax < maxOutput {
		maxOutput = cfg.OutputTokenMax
	}
	used := usage.InputTokens + usage.CacheRead()
	return used > limits.ContextWindow-maxOutput
}

// SummaryProvider generates the natural-language body of a compaction
// summary from a fully-built prompt. Injectable so tests can supply a fake
// without a real LLM call.
type SummaryProvider interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// ReactiveOverflowStrategy detects context overflow from actual post-call
// token usage and produces summary messages that, combined with
// FilterCompacted, keep subsequent calls within budget without ever
// mutating history.
type ReactiveOverflowStrategy struct {
	manager  *Manager
	provider SummaryProvider
	cfg      ReactiveOverflowConfig
}

// NewReactiveOverflowStrategy returns a strategy bound to manager, using
// provider to generate summaries.
func NewReactiveOverflowStrategy(manager *Manager, provider SummaryProvider, cfg ReactiveOverflowConfig) *ReactiveOverflowStrategy {
	cfg.Normalize()
	return &ReactiveOverflowStrategy{manager: manager, provider: provider, cfg: cfg}
}

// Config returns the normalized configuration this strategy was constructed
// with, so callers computing IsOverflow can stay in sync with the same
// OutputTokenMax budget Compact() uses.
func (s *ReactiveOverflowStrategy) Config() ReactiveOverflowConfig {
	return s.cfg
}

const summaryPrefix = "[Session Compaction Summary]\n"

// Compact generates and appends a new summary message if the history
// qualifies, or returns nil if compaction is a no-op this call (too short,
// below the re-compaction floor, or the fallback split can't isolate
// anything to summarize).
func (s *ReactiveOverflowStrategy) Compact(ctx context.Context) (*models.Message, error) {
	history, err := s.manager.GetHistory(ctx)
	if err != nil {
		return nil, err
	}
	if len(history) <= s.cfg.InitialGuard {
		return nil, nil
	}

	priorIdx := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].IsSummary {
			priorIdx = i
			break
		}
	}
	postSummaryStart := 0
	isRecompaction := priorIdx != -1
	if isRecompaction {
		postSummaryStart = priorIdx + 1
	}

	scope := history[postSummaryStart:]
	if isRecompaction && len(scope) < s.cfg.RecompactionFloor {
		return nil, nil
	}

	splitIdx := findTurnBoundary(scope, s.cfg.PreserveLastNTurns)
	if splitIdx <= 0 {
		keepCount := len(scope) / 5
		if keepCount < 6 {
			keepCount = 6
		}
		if keepCount >= len(scope) {
			return nil, nil
		}
		splitIdx = len(scope) - keepCount
	}

	toSummarize := scope[:splitIdx]
	if len(toSummarize) == 0 {
		return nil, nil
	}

	currentTask := mostRecentUserText(history)
	prompt := buildSummarizationPrompt(toSummarize, currentTask)

	body, err := s.provider.Summarize(ctx, prompt)
	if err != nil {
		body = buildFallbackSummary(toSummarize, currentTask)
	}

	first := toSummarize[0]
	last := toSummarize[len(toSummarize)-1]
	summary := &models.Message{
		Role:                   models.RoleAssistant,
		Content:                models.TextContent(summaryPrefix + body),
		IsSummary:              true,
		SummarizedAt:           time.Now(),
		OriginalMessageCount:   postSummaryStart + splitIdx,
		OriginalFirstTimestamp: first.Timestamp,
		OriginalLastTimestamp:  last.Timestamp,
		IsRecompaction:         isRecompaction,
	}

	if err := s.manager.AddMessage(ctx, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// findTurnBoundary returns the index, within scope, at which the last n
// user-led turns begin. Returns -1 if scope doesn't contain at least n user
// messages (the caller should fall back to the length-based split).
func findTurnBoundary(scope []*models.Message, n int) int {
	var turnStarts []int
	for i, msg := range scope {
		if msg.Role == models.RoleUser {
			turnStarts = append(turnStarts, i)
		}
	}
	if len(turnStarts) < n {
		return -1
	}
	return turnStarts[len(turnStarts)-n]
}

func mostRecentUserText(history []*models.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return history[i].Text()
		}
	}
	return ""
}

func buildSummarizationPrompt(toSummarize []*models.Message, currentTask string) string {
	var sb strings.Builder
	sb.WriteString("Summarize the following conversation so it can replace the original messages in future model calls.\n")
	sb.WriteString("Respond with exactly this XML envelope, with no text outside it:\n")
	sb.WriteString("<conversation_history>...</conversation_history>\n<current_task>...</current_task>\n<important_context>...</important_context>\n\n")
	sb.WriteString("Conversation to summarize:\n\n")
	writeTranscript(&sb, toSummarize)
	sb.WriteString("\nCURRENT TASK (verbatim, do not summarize this): ")
	sb.WriteString(currentTask)
	sb.WriteString("\n")
	return sb.String()
}

func buildFallbackSummary(toSummarize []*models.Message, currentTask string) string {
	var sb strings.Builder
	sb.WriteString("<conversation_history>\n")
	sb.WriteString(fmt.Sprintf("Fallback summary of %d messages (summarization call failed; context below may be incomplete):\n", len(toSummarize)))
	writeTranscript(&sb, toSummarize)
	sb.WriteString("</conversation_history>\n")
	sb.WriteString("<current_task>\n")
	sb.WriteString(currentTask)
	sb.WriteString("\n</current_task>\n")
	sb.WriteString("<important_context>\n")
	sb.WriteString("This is a Fallback summary; the original summarization call failed, so details beyond message roles and text may be missing.\n")
	sb.WriteString("</important_context>\n")
	return sb.String()
}

func writeTranscript(sb *strings.Builder, messages []*models.Message) {
	for _, msg := range messages {
		sb.WriteString(fmt.Sprintf("[%s]: %s\n", msg.Role, msg.Text()))
		for _, tc := range msg.ToolCalls {
			sb.WriteString(fmt.Sprintf("  [called tool: %s]\n", tc.Name))
		}
		if msg.Role == models.RoleTool {
			sb.WriteString(fmt.Sprintf("  [tool result: %s]\n", truncate(msg.Text(), 200)))
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
