package models

import (
	"encoding/json"
	"time"
)

// AgentEvent is the canonical event emitted on the EventBus during turn
// execution. Exactly one payload field is non-nil for a given Type.
//
// Design principles mirror the event model this was adapted from:
//   - versioned and forward-compatible (add fields, never rename/remove)
//   - single Type discriminator with optional payload pointers
//   - monotonic Sequence for ordering guarantees across goroutines
type AgentEvent struct {
	Version int            `json:"version"`
	Type    AgentEventType `json:"type"`
	Time    time.Time      `json:"time"`
	// Sequence is monotonic within a run/session for ordering guarantees.
	Sequence  uint64 `json:"seq"`
	SessionID string `json:"session_id,omitempty"`
	RunID     string `json:"run_id,omitempty"`

	Chunk             *ChunkPayload             `json:"chunk,omitempty"`
	Response          *ResponsePayload          `json:"response,omitempty"`
	ToolCall          *ToolCallPayload          `json:"tool_call,omitempty"`
	ToolResult        *ToolResultPayload        `json:"tool_result,omitempty"`
	ToolRunning       *ToolRunningPayload       `json:"tool_running,omitempty"`
	Error             *ErrorPayload             `json:"error,omitempty"`
	ContextCompacting *ContextCompactingPayload `json:"context_compacting,omitempty"`
	ContextCompacted  *ContextCompactedPayload  `json:"context_compacted,omitempty"`
	ContextPruned     *ContextPrunedPayload     `json:"context_pruned,omitempty"`
	MessageQueued     *MessageQueuedPayload     `json:"message_queued,omitempty"`
	MessageDequeued   *MessageDequeuedPayload   `json:"message_dequeued,omitempty"`
	MessageRemoved    *MessageRemovedPayload    `json:"message_removed,omitempty"`
	RunComplete       *RunCompletePayload       `json:"run_complete,omitempty"`
	Approval          *ApprovalPayload          `json:"approval,omitempty"`
}

// AgentEventType identifies the kind of event on the bus. Names match the
// streaming/integration event taxonomy exactly (colon-separated namespace).
type AgentEventType string

const (
	EventLLMThinking   AgentEventType = "llm:thinking"
	EventLLMChunk      AgentEventType = "llm:chunk"
	EventLLMResponse   AgentEventType = "llm:response"
	EventLLMToolCall   AgentEventType = "llm:tool-call"
	EventLLMToolResult AgentEventType = "llm:tool-result"
	EventLLMError      AgentEventType = "llm:error"

	EventToolRunning AgentEventType = "tool:running"

	EventContextCompacting AgentEventType = "context:compacting"
	EventContextCompacted  AgentEventType = "context:compacted"
	EventContextPruned     AgentEventType = "context:pruned"

	EventMessageQueued   AgentEventType = "message:queued"
	EventMessageDequeued AgentEventType = "message:dequeued"
	EventMessageRemoved  AgentEventType = "message:removed"

	EventRunComplete AgentEventType = "run:complete"

	EventApprovalRequest  AgentEventType = "approval:request"
	EventApprovalResponse AgentEventType = "approval:response"
)

// ChunkPayload is a streamed text or reasoning delta.
type ChunkPayload struct {
	ChunkType  string `json:"chunk_type"` // "text" | "reasoning"
	Content    string `json:"content"`
	IsComplete bool   `json:"is_complete,omitempty"`
}

// ResponsePayload is the single terminal event for a completed step.
type ResponsePayload struct {
	Content              string      `json:"content"`
	Reasoning            string      `json:"reasoning,omitempty"`
	Provider             string      `json:"provider"`
	Model                string      `json:"model"`
	TokenUsage           *TokenUsage `json:"token_usage,omitempty"`
	FinishReason         string      `json:"finish_reason"`
	EstimatedInputTokens int         `json:"estimated_input_tokens,omitempty"`
}

// ToolCallPayload announces an attempted tool execution. Emitted by
// ToolManager at execution start, never by StreamProcessor.
type ToolCallPayload struct {
	ToolName string          `json:"tool_name"`
	Args     json.RawMessage `json:"args"`
	CallID   string          `json:"call_id"`
}

// ToolResultPayload reports the outcome of a tool execution.
type ToolResultPayload struct {
	ToolName        string               `json:"tool_name"`
	CallID          string               `json:"call_id"`
	Success         bool                 `json:"success"`
	Sanitized       *SanitizedToolResult `json:"sanitized,omitempty"`
	Error           string               `json:"error,omitempty"`
	RequireApproval bool                 `json:"require_approval,omitempty"`
	ApprovalStatus  string               `json:"approval_status,omitempty"`
}

// ToolRunningPayload marks that execution actually began, after approval.
type ToolRunningPayload struct {
	ToolName   string `json:"tool_name"`
	ToolCallID string `json:"tool_call_id"`
}

// ErrorPayload standardizes a fatal or recoverable error for the bus.
type ErrorPayload struct {
	Error       string `json:"error"`
	Context     string `json:"context,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
	ToolCallID  string `json:"tool_call_id,omitempty"`
}

// ContextCompactingPayload is emitted before a summarization call begins.
type ContextCompactingPayload struct {
	EstimatedTokens int `json:"estimated_tokens"`
}

// ContextCompactedPayload reports the effect of a completed compaction.
type ContextCompactedPayload struct {
	OriginalTokens    int    `json:"original_tokens"`
	CompactedTokens   int    `json:"compacted_tokens"`
	OriginalMessages  int    `json:"original_messages"`
	CompactedMessages int    `json:"compacted_messages"`
	Strategy          string `json:"strategy"`
	Reason            string `json:"reason"` // "overflow" | "manual"
}

// ContextPrunedPayload reports old tool output marked for placeholder
// substitution.
type ContextPrunedPayload struct {
	PrunedCount int `json:"pruned_count"`
	SavedTokens int `json:"saved_tokens"`
}

// MessageQueuedPayload is emitted when a user message is enqueued.
type MessageQueuedPayload struct {
	Position int    `json:"position"`
	ID       string `json:"id"`
}

// MessageDequeuedPayload is emitted when the queue is atomically drained.
type MessageDequeuedPayload struct {
	Count     int              `json:"count"`
	IDs       []string         `json:"ids"`
	Coalesced bool             `json:"coalesced"`
	Content   []ContentPart    `json:"content,omitempty"`
	Messages  []*QueuedMessage `json:"messages,omitempty"`
}

// MessageRemovedPayload is emitted when a specific queued message is
// discarded without being dequeued.
type MessageRemovedPayload struct {
	ID string `json:"id"`
}

// RunCompletePayload is the terminal event for one TurnExecutor.Execute call.
type RunCompletePayload struct {
	FinishReason string `json:"finish_reason"`
	StepCount    int    `json:"step_count"`
	DurationMs   int64  `json:"duration_ms"`
	Error        string `json:"error,omitempty"`
}

// ApprovalPayload is a pass-through payload shared by approval:request and
// approval:response events; the core only relays it.
type ApprovalPayload struct {
	RequestID  string          `json:"request_id"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Decision   string          `json:"decision,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// RunStats is an aggregated summary of one TurnExecutor run, derived by
// folding the event stream rather than tracked separately by the executor
// itself.
type RunStats struct {
	RunID string `json:"run_id,omitempty"`

	StartedAt  time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	WallTime   time.Duration `json:"wall_time,omitempty"`

	Steps int `json:"steps,omitempty"`

	ToolCalls    int           `json:"tool_calls,omitempty"`
	ToolWallTime time.Duration `json:"tool_wall_time,omitempty"`
	ToolTimeouts int           `json:"tool_timeouts,omitempty"`

	ModelWallTime time.Duration `json:"model_wall_time,omitempty"`
	InputTokens   int           `json:"input_tokens,omitempty"`
	OutputTokens  int           `json:"output_tokens,omitempty"`

	Errors    int  `json:"errors,omitempty"`
	TimedOut  bool `json:"timed_out,omitempty"`
	Cancelled bool `json:"cancelled,omitempty"`
}
