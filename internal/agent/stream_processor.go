package agent

import (
	"context"
	"errors"
	"strings"

	agentctx "github.com/haasonsaas/nexus/internal/agent/context"
	"github.com/haasonsaas/nexus/pkg/models"
)

// replayMetadataProviders lists providers whose ProviderMetadata must be
// persisted for later replay (e.g. Anthropic's signed extended-thinking
// blocks). Providers not on this list have their metadata dropped rather
// than carried into history.
var replayMetadataProviders = map[string]bool{
	"anthropic": true,
}

const maxToolResultPartChars = 50000

// StreamResult is what TurnExecutor sees after a step's stream is fully
// consumed.
type StreamResult struct {
	Text         string
	Reasoning    string
	FinishReason string
	Usage        *models.TokenUsage
	HasToolCalls bool
	ToolCalls    []models.ToolCall
}

// StreamProcessor consumes a provider's event stream exactly once and is the
// sole writer of streamed assistant text and tool results during a step.
type StreamProcessor struct {
	manager  *agentctx.Manager
	bus      *EventBus
	provider string
	model    string
	started  bool
}

// NewStreamProcessor returns a processor bound to manager for persistence
// and bus for event emission. provider/model identify the step for
// llm:response and the replay-metadata allowlist.
func NewStreamProcessor(manager *agentctx.Manager, bus *EventBus, provider, model string) *StreamProcessor {
	return &StreamProcessor{manager: manager, bus: bus, provider: provider, model: model}
}

// Process drains events to completion (the channel is closed by the
// provider after a finish, abort, or unrecoverable error event), persisting
// assistant text/reasoning/tool-calls as they arrive and returning the
// accumulated result. streaming controls whether llm:chunk events are
// emitted as text arrives, independent of persistence, which always happens.
func (p *StreamProcessor) Process(ctx context.Context, events <-chan *ProviderEvent, streaming bool) (*StreamResult, error) {
	if p.started {
		return nil, errors.New("stream processor: process called more than once")
	}
	p.started = true

	var text strings.Builder
	var reasoning strings.Builder
	var toolCalls []models.ToolCall
	startedReasoning := false

	finalize := func(finishReason string, usage *models.TokenUsage, reasoningMeta []byte) (*StreamResult, error) {
		if _, err := p.manager.FinalizeAssistantMessage(ctx, usage, finishReason, reasoningMeta); err != nil {
			return nil, err
		}
		return &StreamResult{
			Text:         text.String(),
			Reasoning:    reasoning.String(),
			FinishReason: finishReason,
			Usage:        usage,
			HasToolCalls: len(toolCalls) > 0,
			ToolCalls:    toolCalls,
		}, nil
	}

	for {
		select {
		case <-ctx.Done():
			p.manager.DiscardAssistantMessage()
			return nil, ctx.Err()

		case ev, ok := <-events:
			if !ok {
				// The provider contract guarantees a finish/abort/error
				// event precedes channel close; a bare close without one
				// is a malformed provider but must not hang the step.
				return finalize("unknown", nil, nil)
			}

			switch ev.Type {
			case ProviderEventTextDelta:
				if ev.TextDelta == "" {
					continue
				}
				text.WriteString(ev.TextDelta)
				p.manager.AppendAssistantText(ev.TextDelta)
				if streaming && p.bus != nil {
					p.bus.LLMChunk(ctx, models.ChunkPayload{ChunkType: "text", Content: ev.TextDelta})
				}

			case ProviderEventReasoningDelta:
				if ev.ReasoningDelta == "" {
					continue
				}
				if !startedReasoning && p.bus != nil {
					p.bus.LLMThinking(ctx)
					startedReasoning = true
				}
				reasoning.WriteString(ev.ReasoningDelta)
				p.manager.AppendAssistantReasoning(ev.ReasoningDelta)

			case ProviderEventToolCall:
				if ev.ToolCall == nil {
					continue
				}
				call := *ev.ToolCall
				if !replayMetadataProviders[p.provider] {
					call.ProviderMetadata = nil
				}
				toolCalls = append(toolCalls, call)
				p.manager.AddToolCall(call)
				// llm:tool-call is emitted by ToolManager at execution
				// time, never here — see tool_registry.go.

			case ProviderEventToolResult:
				if ev.ToolResult == nil {
					continue
				}
				sanitized := truncateToolResult(*ev.ToolResult)
				sanitized.Meta.Success = true
				if _, err := p.manager.AddToolResult(ctx, sanitized.Meta.ToolCallID, sanitized.Meta.ToolName, &sanitized); err != nil {
					return nil, err
				}
				if p.bus != nil {
					p.bus.LLMToolResult(ctx, models.ToolResultPayload{
						ToolName:        sanitized.Meta.ToolName,
						CallID:          sanitized.Meta.ToolCallID,
						Success:         true,
						Sanitized:       &sanitized,
						RequireApproval: sanitized.Meta.RequireApprove,
						ApprovalStatus:  sanitized.Meta.ApprovalStatus,
					})
				}

			case ProviderEventError:
				err := ev.Err
				if err == nil {
					err = errors.New("provider stream reported an error with no detail")
				}
				if p.bus != nil {
					p.bus.LLMError(ctx, models.ErrorPayload{Error: err.Error(), Context: "stream", Recoverable: false})
				}
				result, finalizeErr := finalize("error", ev.TokenUsage, nil)
				if finalizeErr != nil {
					return nil, finalizeErr
				}
				return result, err

			case ProviderEventAbort:
				return finalize("cancelled", ev.TokenUsage, nil)

			case ProviderEventFinish:
				usage := normalizeFinishUsage(ev)
				var reasoningMeta []byte
				if replayMetadataProviders[p.provider] && len(ev.ProviderMetadata) > 0 {
					reasoningMeta = ev.ProviderMetadata
				}
				result, err := finalize(ev.FinishReason, usage, reasoningMeta)
				if err != nil {
					return nil, err
				}
				if p.bus != nil {
					p.bus.LLMResponse(ctx, models.ResponsePayload{
						Content:      result.Text,
						Reasoning:    result.Reasoning,
						Provider:     p.provider,
						Model:        p.model,
						TokenUsage:   usage,
						FinishReason: ev.FinishReason,
					})
				}
				return result, nil
			}
		}
	}
}

// normalizeFinishUsage applies the data model's cache-accounting rule:
// cache-read tokens are subtracted out of the provider's reported
// InputTokens, and a distinct cache-write count is only attached when the
// provider actually reported one.
func normalizeFinishUsage(ev *ProviderEvent) *models.TokenUsage {
	if ev.TokenUsage == nil {
		return nil
	}
	usage := *ev.TokenUsage
	if ev.CachedInputTokens > 0 {
		input := usage.InputTokens - ev.CachedInputTokens
		if input < 0 {
			input = 0
		}
		usage.InputTokens = input
		cacheRead := ev.CachedInputTokens
		usage.CacheReadTokens = &cacheRead
	}
	if ev.CacheWriteTokens != nil {
		usage.CacheWriteTokens = ev.CacheWriteTokens
	}
	return &usage
}

func truncateToolResult(result models.SanitizedToolResult) models.SanitizedToolResult {
	out := result
	out.Content = make([]models.ContentPart, len(result.Content))
	for i, part := range result.Content {
		if part.Type == models.ContentText && len(part.Text) > maxToolResultPartChars {
			part.Text = part.Text[:maxToolResultPartChars] + "...[truncated]"
		}
		out.Content[i] = part
	}
	return out
}
