package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/nexus/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations handle the specifics of communicating with a given LLM API
// (Anthropic, OpenAI, etc.) while presenting the provider event stream
// StreamProcessor expects. The core does not depend on any specific
// transport; a provider is free to implement this over SSE, websockets, or a
// plain unary call fanned out into the event channel itself.
//
// Implementations must be safe for concurrent use — multiple goroutines may
// call Complete for different sessions simultaneously.
type LLMProvider interface {
	// Complete sends a request and returns the provider's event stream.
	// The channel is closed after a finish, abort, or unrecoverable error
	// event has been sent.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *ProviderEvent, error)

	// Name returns the provider name, used as part of the tool-support
	// probe cache key (provider:model:baseURL).
	Name() string

	// Models returns the provider's catalog of available models.
	Models() []Model

	// SupportsTools reports whether this provider advertises tool-call
	// support at all. TurnExecutor still runs the cached per-model probe
	// even when this is true, since some models behind a custom endpoint
	// silently reject tool definitions.
	SupportsTools() bool
}

// ToolProbe is implemented by providers whose tool-call support must be
// probed empirically rather than assumed from SupportsTools. A native
// provider hit with no custom base URL can skip the probe entirely.
type ToolProbe interface {
	// ProbeToolSupport issues a minimal, non-streaming call with a single
	// no-op tool and reports whether the model accepted it. Any error other
	// than a "tools not supported" indication should fall through as
	// supported=true (fail open).
	ProbeToolSupport(ctx context.Context, model string) (supported bool, err error)
}

// CompletionRequest contains all parameters for a single provider step call.
// TurnExecutor always requests exactly one step (stop_when = step_count_is(1))
// and relies on its own loop, not the provider, to decide whether to continue.
type CompletionRequest struct {
	// Model selects which model to use. Empty means the provider default.
	Model string `json:"model"`

	// System is the system prompt.
	System string `json:"system,omitempty"`

	// Messages is the formatted conversation history, already passed
	// through ContextManager's read-time compaction filter and prune
	// transformation.
	Messages []CompletionMessage `json:"messages"`

	// Tools lists the tool definitions available this step. Omitted
	// entirely once the tool-support probe has determined the model
	// rejects tool definitions.
	Tools []Tool `json:"tools,omitempty"`

	// MaxTokens bounds the generated response length. Zero means the
	// provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// EnableThinking requests extended/reasoning output on models that
	// support it.
	EnableThinking bool `json:"enable_thinking,omitempty"`

	// ThinkingBudgetTokens bounds the reasoning token budget when
	// EnableThinking is set. Zero means the provider default.
	ThinkingBudgetTokens int `json:"thinking_budget_tokens,omitempty"`
}

// CompletionMessage is one formatted history entry sent to the provider.
// It mirrors models.Message's shape closely enough for providers to adapt
// directly, but carries only what a step call needs — no compaction or
// queueing metadata.
type CompletionMessage struct {
	Role    models.Role          `json:"role"`
	Content []models.ContentPart `json:"content,omitempty"`

	// ToolCalls is populated on assistant messages that requested tool
	// execution.
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name identify which call a tool-role message answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`

	// Reasoning and ReasoningMetadata carry prior assistant reasoning back
	// to providers that require it to be replayed (see the provider-replay
	// metadata allowlist in StreamProcessor).
	Reasoning         string          `json:"reasoning,omitempty"`
	ReasoningMetadata json.RawMessage `json:"reasoning_metadata,omitempty"`
}

// ProviderEventType enumerates the event set a provider's stream may emit.
type ProviderEventType string

const (
	ProviderEventTextDelta      ProviderEventType = "text-delta"
	ProviderEventReasoningDelta ProviderEventType = "reasoning-delta"
	ProviderEventToolCall       ProviderEventType = "tool-call"
	ProviderEventToolResult     ProviderEventType = "tool-result"
	ProviderEventError          ProviderEventType = "error"
	ProviderEventFinish         ProviderEventType = "finish"
	ProviderEventAbort          ProviderEventType = "abort"
)

// ProviderEvent is one item from a provider's streaming response.
// StreamProcessor consumes this stream exactly once, in order.
type ProviderEvent struct {
	Type ProviderEventType

	// TextDelta / ReasoningDelta carry incremental text for their
	// respective event types.
	TextDelta      string
	ReasoningDelta string

	// ToolCall is populated for ProviderEventToolCall: the provider has
	// finished emitting one complete tool invocation.
	ToolCall *models.ToolCall

	// ToolResult is populated for providers that execute a tool
	// server-side and report the outcome directly in-stream (e.g. a
	// built-in web-search tool), rather than round-tripping through the
	// core's ToolManager.
	ToolResult *models.SanitizedToolResult

	// Err is populated for ProviderEventError.
	Err error

	// FinishReason, TokenUsage, and the cache-token fields are populated
	// on ProviderEventFinish. CacheWriteTokens is only set when the
	// provider reports a write count distinct from the read count.
	FinishReason      string
	TokenUsage        *models.TokenUsage
	CachedInputTokens int
	CacheWriteTokens  *int

	// ProviderMetadata carries provider-specific replay data (e.g. signed
	// reasoning tokens). StreamProcessor persists this only for providers
	// on the replay-metadata allowlist.
	ProviderMetadata json.RawMessage
}

// Model describes an available LLM model and its capabilities.
type Model struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Limits         models.ModelLimits `json:"limits"`
	SupportsVision bool               `json:"supports_vision"`
	SupportsTools  bool               `json:"supports_tools"`
}

// Tool is the core's tool contract: a name, an optional description, a JSON
// Schema for its parameters, and an executor returning a raw result. The
// core's formatter (ToolManager) translates the raw result into the
// provider-consumable shape and into a models.SanitizedToolResult for
// history.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (*ToolRawResult, error)
}

// ToolRawResult is the union described by the tool contract: a plain string
// result, a structured error (optionally denied or timed out), or a set of
// mixed content parts. Exactly one of Text, Content, or Error should be
// meaningful for a given result; Denied/TimedOut refine an Error result.
type ToolRawResult struct {
	Text     string               `json:"text,omitempty"`
	Content  []models.ContentPart `json:"content,omitempty"`
	Error    string               `json:"error,omitempty"`
	Denied   bool                 `json:"denied,omitempty"`
	TimedOut bool                 `json:"timed_out,omitempty"`
}

// IsError reports whether this raw result represents a failure.
func (r *ToolRawResult) IsError() bool {
	return r != nil && r.Error != ""
}
