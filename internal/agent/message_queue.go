package agent

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/pkg/models"
)

// MessageQueue buffers user input that arrives while TurnExecutor is mid-step
// and has no safe point to inject it. Enqueue is safe from any goroutine;
// DequeueAll is only ever called by the owning TurnExecutor between steps.
type MessageQueue struct {
	bus *EventBus

	mu      sync.Mutex
	pending []*models.QueuedMessage
}

// NewMessageQueue returns an empty queue that publishes queued/dequeued
// events on bus.
func NewMessageQueue(bus *EventBus) *MessageQueue {
	return &MessageQueue{bus: bus}
}

// Enqueue appends content to the back of the queue and returns its assigned
// position (0-based, among currently pending messages).
func (q *MessageQueue) Enqueue(ctx context.Context, content []models.ContentPart, metadata map[string]any) *models.QueuedMessage {
	msg := &models.QueuedMessage{
		ID:       uuid.NewString(),
		Content:  append([]models.ContentPart{}, content...),
		QueuedAt: time.Now(),
		Metadata: metadata,
	}

	q.mu.Lock()
	position := len(q.pending)
	q.pending = append(q.pending, msg)
	q.mu.Unlock()

	if q.bus != nil {
		q.bus.MessageQueuedEvent(ctx, models.MessageQueuedPayload{Position: position, ID: msg.ID})
	}
	return msg
}

// HasPending reports whether any message is waiting to be dequeued.
func (q *MessageQueue) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) > 0
}

// PendingCount returns the number of messages currently waiting.
func (q *MessageQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DequeueAll atomically drains every pending message and coalesces them into
// a single injectable user message, in FIFO order. Returns nil if the queue
// was empty.
func (q *MessageQueue) DequeueAll(ctx context.Context) *models.CoalescedMessage {
	q.mu.Lock()
	drained := q.pending
	q.pending = nil
	q.mu.Unlock()

	if len(drained) == 0 {
		return nil
	}

	coalesced := coalesce(drained)

	if q.bus != nil {
		ids := make([]string, len(drained))
		for i, m := range drained {
			ids[i] = m.ID
		}
		q.bus.MessageDequeuedEvent(ctx, models.MessageDequeuedPayload{
			Count:     len(drained),
			IDs:       ids,
			Coalesced: len(drained) > 1,
			Content:   coalesced.CombinedContent,
			Messages:  drained,
		})
	}
	return coalesced
}

// Clear discards every pending message without injecting them, emitting the
// same dequeue event shape with Coalesced=false.
func (q *MessageQueue) Clear(ctx context.Context) {
	q.mu.Lock()
	drained := q.pending
	q.pending = nil
	q.mu.Unlock()

	if len(drained) == 0 {
		return
	}

	if q.bus != nil {
		ids := make([]string, len(drained))
		for i, m := range drained {
			ids[i] = m.ID
		}
		q.bus.MessageDequeuedEvent(ctx, models.MessageDequeuedPayload{
			Count:     len(drained),
			IDs:       ids,
			Coalesced: false,
		})
	}
}

// coalesce combines one or more queued messages into a single user message,
// per the queue's verbatim/First-Also/numbered-prefix rules:
//
//   - 1 message: content is used verbatim.
//   - 2 messages: "First: " is prepended to the first message's leading text
//     part, "Also: " to the second's.
//   - 3+ messages: "[1]: ", "[2]: ", ... are prepended instead.
//
// If a message has no text part, the prefix is inserted as a standalone
// leading text part. Messages are separated by a lone "\n\n" text part.
// Non-text parts are preserved in their original position within each
// message's own content.
func coalesce(msgs []*models.QueuedMessage) *models.CoalescedMessage {
	out := &models.CoalescedMessage{
		Messages:      msgs,
		FirstQueuedAt: msgs[0].QueuedAt,
		LastQueuedAt:  msgs[len(msgs)-1].QueuedAt,
	}

	if len(msgs) == 1 {
		out.CombinedContent = append([]models.ContentPart{}, msgs[0].Content...)
		return out
	}

	var combined []models.ContentPart
	for i, m := range msgs {
		if i > 0 {
			combined = append(combined, models.TextPart("\n\n"))
		}
		prefix := prefixFor(i, len(msgs))
		combined = append(combined, prefixMessage(prefix, m.Content)...)
	}
	out.CombinedContent = combined
	return out
}

func prefixFor(index, total int) string {
	if total == 2 {
		if index == 0 {
			return "First: "
		}
		return "Also: "
	}
	return "[" + strconv.Itoa(index+1) + "]: "
}

func prefixMessage(prefix string, content []models.ContentPart) []models.ContentPart {
	idx := models.FirstTextIndex(content)
	if idx == -1 {
		out := make([]models.ContentPart, 0, len(content)+1)
		out = append(out, models.TextPart(prefix))
		out = append(out, content...)
		return out
	}
	out := append([]models.ContentPart{}, content...)
	out[idx].Text = prefix + out[idx].Text
	return out
}
