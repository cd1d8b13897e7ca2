package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type in a turn-execution conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPartType discriminates the kind of content carried by a ContentPart.
type ContentPartType string

const (
	ContentText       ContentPartType = "text"
	ContentImage      ContentPartType = "image"
	ContentFile       ContentPartType = "file"
	ContentUIResource ContentPartType = "ui-resource"
)

// ContentPart is one element of a message's ordered content. Exactly the
// fields relevant to its Type are populated; the rest are zero.
type ContentPart struct {
	Type ContentPartType `json:"type"`

	// Text holds the payload for ContentText.
	Text string `json:"text,omitempty"`

	// MimeType/URL/Data describe ContentImage and ContentFile parts. Data
	// holds inline bytes; URL holds a reference (including blob references
	// produced by sanitization) when the content isn't inlined.
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Filename string `json:"filename,omitempty"`

	// Name/Resource describe ContentUIResource parts: an opaque, provider-
	// defined resource payload identified by Name.
	Name     string          `json:"name,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// TextPart constructs a single ContentText part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: ContentText, Text: text}
}

// TextContent wraps a plain string into a single-part content slice.
func TextContent(text string) []ContentPart {
	return []ContentPart{TextPart(text)}
}

// ConcatText concatenates every text part's Text field, in order, ignoring
// non-text parts.
func ConcatText(parts []ContentPart) string {
	var out string
	for _, p := range parts {
		if p.Type == ContentText {
			out += p.Text
		}
	}
	return out
}

// FirstTextIndex returns the index of the first ContentText part, or -1 if
// none exists.
func FirstTextIndex(parts []ContentPart) int {
	for i, p := range parts {
		if p.Type == ContentText {
			return i
		}
	}
	return -1
}

// ToolCall is an assistant-issued request to execute a tool.
type ToolCall struct {
	ID   string `json:"id"`
	Type string `json:"type"` // always "function"
	Name string `json:"name"`
	// Arguments is the JSON-encoded argument object, matching how providers
	// round-trip tool call input.
	Arguments string `json:"arguments"`

	// ProviderMetadata is opaque, provider-specific data (e.g. signed
	// reasoning tokens) persisted only for providers that require it for
	// replay. See StreamProcessor's providerMetadata allowlist.
	ProviderMetadata json.RawMessage `json:"provider_metadata,omitempty"`
}

// TokenUsage reports token accounting for a single step. Optional fields use
// pointers so "not reported by this provider" is distinguishable from zero.
type TokenUsage struct {
	InputTokens      int  `json:"input_tokens"`
	OutputTokens     int  `json:"output_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	ReasoningTokens  *int `json:"reasoning_tokens,omitempty"`
	CacheReadTokens  *int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens *int `json:"cache_write_tokens,omitempty"`
}

// CacheRead returns the cache-read token count, or 0 if unreported.
func (u *TokenUsage) CacheRead() int {
	if u == nil || u.CacheReadTokens == nil {
		return 0
	}
	return *u.CacheReadTokens
}

// ModelLimits describes the usable context budget for a given model.
type ModelLimits struct {
	ContextWindow int `json:"context_window"`
	MaxOutput     int `json:"max_output"`
}

// ToolResultMeta carries the fields attached to a sanitized tool result.
type ToolResultMeta struct {
	ToolName       string `json:"tool_name"`
	ToolCallID     string `json:"tool_call_id"`
	Success        bool   `json:"success"`
	RequireApprove bool   `json:"require_approval,omitempty"`
	ApprovalStatus string `json:"approval_status,omitempty"`
}

// SanitizedToolResult is the canonical, persistable shape of a tool's raw
// output after oversized/binary content has been replaced with references
// and provider-specific fields stripped.
type SanitizedToolResult struct {
	Content []ContentPart  `json:"content"`
	Meta    ToolResultMeta `json:"meta"`
}

// Message is one entry in a session's append-only history.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   []ContentPart `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Assistant-only.
	ToolCalls         []ToolCall      `json:"tool_calls,omitempty"`
	Reasoning         string          `json:"reasoning,omitempty"`
	ReasoningMetadata json.RawMessage `json:"reasoning_metadata,omitempty"`
	TokenUsage        *TokenUsage     `json:"token_usage,omitempty"`
	FinishReason      string          `json:"finish_reason,omitempty"`

	// Tool-role only.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ToolResult *SanitizedToolResult `json:"tool_result,omitempty"`

	// Compaction metadata (assistant-only; see ReactiveOverflowStrategy).
	IsSummary              bool      `json:"is_summary,omitempty"`
	SummarizedAt           time.Time `json:"summarized_at,omitempty"`
	OriginalMessageCount   int       `json:"original_message_count,omitempty"`
	OriginalFirstTimestamp time.Time `json:"original_first_timestamp,omitempty"`
	OriginalLastTimestamp  time.Time `json:"original_last_timestamp,omitempty"`
	IsRecompaction         bool      `json:"is_recompaction,omitempty"`

	// CompactedAt marks a message pruned at format time; nil means not
	// pruned. Setting it never erases Content.
	CompactedAt *time.Time `json:"compacted_at,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Text returns the concatenation of the message's text parts.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	return ConcatText(m.Content)
}

// NewUserMessage builds a plain-text user message.
func NewUserMessage(id, text string) *Message {
	return &Message{ID: id, Role: RoleUser, Content: TextContent(text), Timestamp: time.Now()}
}

// QueuedMessage is a user message waiting in the MessageQueue for the next
// step boundary.
type QueuedMessage struct {
	ID        string         `json:"id"`
	Content   []ContentPart  `json:"content"`
	QueuedAt  time.Time      `json:"queued_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// CoalescedMessage is the result of draining the MessageQueue: one or more
// QueuedMessages combined into a single injectable user message.
type CoalescedMessage struct {
	Messages        []*QueuedMessage `json:"messages"`
	CombinedContent []ContentPart    `json:"combined_content"`
	FirstQueuedAt   time.Time        `json:"first_queued_at"`
	LastQueuedAt    time.Time        `json:"last_queued_at"`
}

// Count returns the number of queued messages that were coalesced.
func (c *CoalescedMessage) Count() int {
	if c == nil {
		return 0
	}
	return len(c.Messages)
}

// IDs returns the ids of every coalesced message, in FIFO order.
func (c *CoalescedMessage) IDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, len(c.Messages))
	for i, m := range c.Messages {
		ids[i] = m.ID
	}
	return ids
}
