package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// EventBus sequences and publishes AgentEvents to subscribers. It is the
// typed, session-scoped event bus described by the external interfaces:
// subscribers provide a callback and an optional cancellation signal; the
// bus removes the subscription when that signal fires. Handlers must not
// throw; a panicking subscriber is recovered and does not reach the caller
// or affect other subscribers.
type EventBus struct {
	sessionID string
	runID     string
	sequence  uint64

	mu      sync.Mutex
	subs    map[uint64]*subscription
	nextSub uint64

	sink EventSink // optional additional dispatch target (e.g. BackpressureSink, trace file)
}

type subscription struct {
	fn     func(ctx context.Context, e models.AgentEvent)
	cancel <-chan struct{}
}

// NewEventBus creates a bus for one session/run. If sink is non-nil, every
// published event is also forwarded to it (in addition to subscribers).
func NewEventBus(sessionID, runID string, sink EventSink) *EventBus {
	return &EventBus{
		sessionID: sessionID,
		runID:     runID,
		subs:      make(map[uint64]*subscription),
		sink:      sink,
	}
}

// Subscribe registers fn to receive every published event until cancel
// fires (if non-nil) or the returned unsubscribe func is called.
func (b *EventBus) Subscribe(fn func(ctx context.Context, e models.AgentEvent), cancel <-chan struct{}) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = &subscription{fn: fn, cancel: cancel}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// SubscribeSink is a convenience wrapper registering an EventSink as a subscriber.
func (b *EventBus) SubscribeSink(sink EventSink, cancel <-chan struct{}) (unsubscribe func()) {
	return b.Subscribe(func(ctx context.Context, e models.AgentEvent) { sink.Emit(ctx, e) }, cancel)
}

func (b *EventBus) nextSeq() uint64 {
	return atomic.AddUint64(&b.sequence, 1)
}

func (b *EventBus) base(t models.AgentEventType) models.AgentEvent {
	return models.AgentEvent{
		Version:   1,
		Type:      t,
		Time:      time.Now(),
		Sequence:  b.nextSeq(),
		SessionID: b.sessionID,
		RunID:     b.runID,
	}
}

// publish sequences the event and fans it out to every live subscriber plus
// the optional sink, pruning subscriptions whose cancel signal has fired.
func (b *EventBus) publish(ctx context.Context, e models.AgentEvent) models.AgentEvent {
	if b.sink != nil {
		b.safeEmit(ctx, b.sink.Emit, e)
	}

	b.mu.Lock()
	live := make([]*subscription, 0, len(b.subs))
	for id, sub := range b.subs {
		select {
		case <-sub.cancel:
			delete(b.subs, id)
			continue
		default:
		}
		live = append(live, sub)
	}
	b.mu.Unlock()

	for _, sub := range live {
		b.safeEmit(ctx, sub.fn, e)
	}
	return e
}

// safeEmit recovers a panicking handler so one bad subscriber can never take
// down the turn-execution loop.
func (b *EventBus) safeEmit(ctx context.Context, fn func(context.Context, models.AgentEvent), e models.AgentEvent) {
	defer func() {
		_ = recover()
	}()
	fn(ctx, e)
}

// --- streaming tier ---

func (b *EventBus) LLMThinking(ctx context.Context) models.AgentEvent {
	return b.publish(ctx, b.base(models.EventLLMThinking))
}

func (b *EventBus) LLMChunk(ctx context.Context, p models.ChunkPayload) models.AgentEvent {
	e := b.base(models.EventLLMChunk)
	e.Chunk = &p
	return b.publish(ctx, e)
}

func (b *EventBus) LLMResponse(ctx context.Context, p models.ResponsePayload) models.AgentEvent {
	e := b.base(models.EventLLMResponse)
	e.Response = &p
	return b.publish(ctx, e)
}

// LLMToolCall is emitted by ToolManager when execution is actually
// attempted, never by StreamProcessor at parse time ("emit at execution").
func (b *EventBus) LLMToolCall(ctx context.Context, p models.ToolCallPayload) models.AgentEvent {
	e := b.base(models.EventLLMToolCall)
	e.ToolCall = &p
	return b.publish(ctx, e)
}

func (b *EventBus) LLMToolResult(ctx context.Context, p models.ToolResultPayload) models.AgentEvent {
	e := b.base(models.EventLLMToolResult)
	e.ToolResult = &p
	return b.publish(ctx, e)
}

func (b *EventBus) LLMError(ctx context.Context, p models.ErrorPayload) models.AgentEvent {
	e := b.base(models.EventLLMError)
	e.Error = &p
	return b.publish(ctx, e)
}

func (b *EventBus) ToolRunning(ctx context.Context, p models.ToolRunningPayload) models.AgentEvent {
	e := b.base(models.EventToolRunning)
	e.ToolRunning = &p
	return b.publish(ctx, e)
}

// --- context / compaction tier ---

func (b *EventBus) ContextCompacting(ctx context.Context, p models.ContextCompactingPayload) models.AgentEvent {
	e := b.base(models.EventContextCompacting)
	e.ContextCompacting = &p
	return b.publish(ctx, e)
}

func (b *EventBus) ContextCompacted(ctx context.Context, p models.ContextCompactedPayload) models.AgentEvent {
	e := b.base(models.EventContextCompacted)
	e.ContextCompacted = &p
	return b.publish(ctx, e)
}

func (b *EventBus) ContextPruned(ctx context.Context, p models.ContextPrunedPayload) models.AgentEvent {
	e := b.base(models.EventContextPruned)
	e.ContextPruned = &p
	return b.publish(ctx, e)
}

// --- message queue tier ---

func (b *EventBus) MessageQueuedEvent(ctx context.Context, p models.MessageQueuedPayload) models.AgentEvent {
	e := b.base(models.EventMessageQueued)
	e.MessageQueued = &p
	return b.publish(ctx, e)
}

func (b *EventBus) MessageDequeuedEvent(ctx context.Context, p models.MessageDequeuedPayload) models.AgentEvent {
	e := b.base(models.EventMessageDequeued)
	e.MessageDequeued = &p
	return b.publish(ctx, e)
}

func (b *EventBus) MessageRemovedEvent(ctx context.Context, p models.MessageRemovedPayload) models.AgentEvent {
	e := b.base(models.EventMessageRemoved)
	e.MessageRemoved = &p
	return b.publish(ctx, e)
}

// --- run lifecycle ---

func (b *EventBus) RunComplete(ctx context.Context, p models.RunCompletePayload) models.AgentEvent {
	e := b.base(models.EventRunComplete)
	e.RunComplete = &p
	return b.publish(ctx, e)
}

// --- approval pass-through ---

func (b *EventBus) ApprovalRequest(ctx context.Context, p models.ApprovalPayload) models.AgentEvent {
	e := b.base(models.EventApprovalRequest)
	e.Approval = &p
	return b.publish(ctx, e)
}

func (b *EventBus) ApprovalResponse(ctx context.Context, p models.ApprovalPayload) models.AgentEvent {
	e := b.base(models.EventApprovalResponse)
	e.Approval = &p
	return b.publish(ctx, e)
}
