// Package context implements the history store, compaction filter, and
// pruning policy ContextManager exposes to TurnExecutor and StreamProcessor.
package context

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Manager owns one session's message log: the exclusive writer during a
// turn is StreamProcessor; TurnExecutor calls its marker/mutation methods
// between steps; all other readers see the log through its query methods.
// The on-disk log, via Store, is append-only — Manager is the only thing
// that ever mutates a message in place, and only the in-memory copy of a
// message that hasn't been persisted yet (the in-flight assistant message).
type Manager struct {
	store     sessions.Store
	sessionID string

	mu      sync.Mutex
	history []*models.Message
	current *models.Message // in-flight streaming assistant message, not yet persisted
	loaded  bool
}

// NewManager returns a Manager backed by store for the given session. The
// history is lazily loaded from store on first use.
func NewManager(store sessions.Store, sessionID string) *Manager {
	return &Manager{store: store, sessionID: sessionID}
}

func (m *Manager) ensureLoaded(ctx context.Context) error {
	if m.loaded {
		return nil
	}
	history, err := m.store.GetHistory(ctx, m.sessionID, 0)
	if err != nil {
		return err
	}
	m.history = history
	m.loaded = true
	return nil
}

// GetHistory returns the full log, including compacted and pruned messages,
// in append order. The returned slice is a shallow copy safe for the caller
// to range over; messages themselves are not cloned.
func (m *Manager) GetHistory(ctx context.Context) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	out := make([]*models.Message, len(m.history))
	copy(out, m.history)
	return out, nil
}

// AddMessage appends an already-constructed message (e.g. a user message, or
// a ReactiveOverflowStrategy summary) to the log and persists it.
func (m *Manager) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLoaded(ctx); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.history = append(m.history, msg)
	return m.store.AppendMessage(ctx, m.sessionID, msg)
}

// AddUserMessage builds and appends a user-role message from coalesced
// queue content.
func (m *Manager) AddUserMessage(ctx context.Context, content []models.ContentPart) (*models.Message, error) {
	msg := &models.Message{Role: models.RoleUser, Content: content}
	if err := m.AddMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// EnsureAssistantMessage returns the in-flight assistant message for the
// current step, allocating an empty one if none exists yet. At most one
// streaming assistant message exists per session at any instant.
func (m *Manager) EnsureAssistantMessage() *models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		m.current = &models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Timestamp: time.Now(),
		}
	}
	return m.current
}

// AppendAssistantText appends a text-delta to the in-flight assistant
// message, allocating it first if needed.
func (m *Manager) AppendAssistantText(delta string) {
	m.EnsureAssistantMessage()
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := models.FirstTextIndex(m.current.Content)
	if idx == -1 {
		m.current.Content = append(m.current.Content, models.TextPart(delta))
		return
	}
	m.current.Content[idx].Text += delta
}

// AppendAssistantReasoning appends a reasoning-delta to the in-flight
// assistant message's reasoning accumulator. Reasoning text never becomes
// part of Content.
func (m *Manager) AppendAssistantReasoning(delta string) {
	m.EnsureAssistantMessage()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Reasoning += delta
}

// AddToolCall records a tool call against the in-flight assistant message,
// allocating it first if needed.
func (m *Manager) AddToolCall(call models.ToolCall) {
	m.EnsureAssistantMessage()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ToolCalls = append(m.current.ToolCalls, call)
}

// FinalizeAssistantMessage stamps the in-flight assistant message with its
// terminal usage/finish-reason/reasoning metadata, persists it, and clears
// the in-flight slot. Returns nil if no assistant message was ever started
// (e.g. a step that produced only a tool-result with no text or tool call).
func (m *Manager) FinalizeAssistantMessage(ctx context.Context, usage *models.TokenUsage, finishReason string, reasoningMetadata []byte) (*models.Message, error) {
	m.mu.Lock()
	msg := m.current
	if msg == nil {
		m.mu.Unlock()
		return nil, nil
	}
	msg.TokenUsage = usage
	msg.FinishReason = finishReason
	if len(reasoningMetadata) > 0 {
		msg.ReasoningMetadata = reasoningMetadata
	}
	m.current = nil
	if err := m.ensureLoaded(ctx); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	m.history = append(m.history, msg)
	m.mu.Unlock()

	if err := m.store.AppendMessage(ctx, m.sessionID, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// DiscardAssistantMessage drops the in-flight assistant message without
// persisting it, for the error/abort path where no content survives.
func (m *Manager) DiscardAssistantMessage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
}

// AddToolResult builds and appends a tool-role message carrying a sanitized
// tool result, returning the stored result.
func (m *Manager) AddToolResult(ctx context.Context, toolCallID, toolName string, sanitized *models.SanitizedToolResult) (*models.SanitizedToolResult, error) {
	msg := &models.Message{
		Role:       models.RoleTool,
		Content:    sanitized.Content,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		ToolResult: sanitized,
	}
	if err := m.AddMessage(ctx, msg); err != nil {
		return nil, err
	}
	return sanitized, nil
}

// MarkMessagesAsCompacted sets CompactedAt on every message in ids whose
// CompactedAt is still nil. Returns the count actually updated (marking an
// already-marked message twice has no additional effect).
func (m *Manager) MarkMessagesAsCompacted(ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	count := 0
	for _, msg := range m.history {
		if _, ok := want[msg.ID]; !ok {
			continue
		}
		if msg.CompactedAt != nil {
			continue
		}
		at := now
		msg.CompactedAt = &at
		count++
	}
	return count
}

// FormattedView returns the view the provider should see for the next step:
// filterCompacted applied to the full log, with any compactedAt-marked
// message's content replaced by a placeholder. The on-disk log and the
// messages within GetHistory's result are never mutated by this call —
// FormattedView works on copies.
func (m *Manager) FormattedView(ctx context.Context) ([]*models.Message, error) {
	history, err := m.GetHistory(ctx)
	if err != nil {
		return nil, err
	}
	filtered := FilterCompacted(history)
	out := make([]*models.Message, len(filtered))
	for i, msg := range filtered {
		if msg.CompactedAt == nil {
			out[i] = msg
			continue
		}
		clone := *msg
		clone.Content = models.TextContent(prunedPlaceholder)
		out[i] = &clone
	}
	return out, nil
}

const prunedPlaceholder = "[tool output pruned]"
