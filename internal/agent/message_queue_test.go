package agent

import (
	"context"
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestMessageQueue_EnqueueSingleDequeueVerbatim(t *testing.T) {
	q := NewMessageQueue(NewEventBus("s1", "r1", nil))
	ctx := context.Background()

	q.Enqueue(ctx, models.TextContent("hello"), nil)
	coalesced := q.DequeueAll(ctx)
	if coalesced == nil {
		t.Fatal("expected a coalesced message")
	}
	if coalesced.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", coalesced.Count())
	}
	if got := models.ConcatText(coalesced.CombinedContent); got != "hello" {
		t.Errorf("CombinedContent text = %q, want %q", got, "hello")
	}
}

func TestMessageQueue_TwoMessagesUseFirstAlsoPrefixes(t *testing.T) {
	q := NewMessageQueue(NewEventBus("s1", "r1", nil))
	ctx := context.Background()

	q.Enqueue(ctx, models.TextContent("one"), nil)
	q.Enqueue(ctx, models.TextContent("two"), nil)

	coalesced := q.DequeueAll(ctx)
	got := models.ConcatText(coalesced.CombinedContent)
	want := "First: one\n\nAlso: two"
	if got != want {
		t.Errorf("CombinedContent = %q, want %q", got, want)
	}
}

func TestMessageQueue_ThreeOrMoreMessagesUseNumberedPrefixes(t *testing.T) {
	q := NewMessageQueue(NewEventBus("s1", "r1", nil))
	ctx := context.Background()

	q.Enqueue(ctx, models.TextContent("a"), nil)
	q.Enqueue(ctx, models.TextContent("b"), nil)
	q.Enqueue(ctx, models.TextContent("c"), nil)

	coalesced := q.DequeueAll(ctx)
	got := models.ConcatText(coalesced.CombinedContent)
	want := "[1]: a\n\n[2]: b\n\n[3]: c"
	if got != want {
		t.Errorf("CombinedContent = %q, want %q", got, want)
	}
}

func TestMessageQueue_PrefixInsertedWhenNoTextPart(t *testing.T) {
	q := NewMessageQueue(NewEventBus("s1", "r1", nil))
	ctx := context.Background()

	image := models.ContentPart{Type: models.ContentImage, MimeType: "image/png", URL: "blob://1"}
	q.Enqueue(ctx, []models.ContentPart{image}, nil)
	q.Enqueue(ctx, models.TextContent("text"), nil)

	coalesced := q.DequeueAll(ctx)
	if len(coalesced.CombinedContent) == 0 {
		t.Fatal("expected non-empty combined content")
	}
	first := coalesced.CombinedContent[0]
	if first.Type != models.ContentText || first.Text != "First: " {
		t.Errorf("expected standalone prefix part, got %+v", first)
	}
	if coalesced.CombinedContent[1].Type != models.ContentImage {
		t.Errorf("expected original image part preserved after prefix, got %+v", coalesced.CombinedContent[1])
	}
}

func TestMessageQueue_DequeueAllOnEmptyQueueReturnsNil(t *testing.T) {
	q := NewMessageQueue(NewEventBus("s1", "r1", nil))
	if got := q.DequeueAll(context.Background()); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestMessageQueue_HasPendingAndPendingCount(t *testing.T) {
	q := NewMessageQueue(NewEventBus("s1", "r1", nil))
	ctx := context.Background()

	if q.HasPending() {
		t.Fatal("expected empty queue to report no pending messages")
	}
	q.Enqueue(ctx, models.TextContent("x"), nil)
	q.Enqueue(ctx, models.TextContent("y"), nil)
	if !q.HasPending() {
		t.Fatal("expected pending messages after enqueue")
	}
	if got := q.PendingCount(); got != 2 {
		t.Fatalf("PendingCount() = %d, want 2", got)
	}
}

func TestMessageQueue_ClearDiscardsWithoutCoalescing(t *testing.T) {
	q := NewMessageQueue(NewEventBus("s1", "r1", nil))
	ctx := context.Background()

	q.Enqueue(ctx, models.TextContent("x"), nil)
	q.Clear(ctx)
	if q.HasPending() {
		t.Fatal("expected queue to be empty after Clear")
	}
	if got := q.DequeueAll(ctx); got != nil {
		t.Fatalf("expected nil after Clear, got %+v", got)
	}
}

func TestMessageQueue_EnqueueEventsCarrySequentialPositions(t *testing.T) {
	var positions []int
	bus := NewEventBus("s1", "r1", nil)
	unsubscribe := bus.Subscribe(func(ctx context.Context, e models.AgentEvent) {
		if e.MessageQueued != nil {
			positions = append(positions, e.MessageQueued.Position)
		}
	}, nil)
	defer unsubscribe()

	q := NewMessageQueue(bus)
	ctx := context.Background()
	q.Enqueue(ctx, models.TextContent("a"), nil)
	q.Enqueue(ctx, models.TextContent("b"), nil)
	q.Enqueue(ctx, models.TextContent("c"), nil)

	if len(positions) != 3 || positions[0] != 0 || positions[1] != 1 || positions[2] != 2 {
		t.Fatalf("positions = %v, want [0 1 2]", positions)
	}
}

func TestMessageQueue_DequeueEmitsCoalescedFlagAndIDsInOrder(t *testing.T) {
	var payload *models.MessageDequeuedPayload
	bus := NewEventBus("s1", "r1", nil)
	unsubscribe := bus.Subscribe(func(ctx context.Context, e models.AgentEvent) {
		if e.MessageDequeued != nil {
			payload = e.MessageDequeued
		}
	}, nil)
	defer unsubscribe()

	q := NewMessageQueue(bus)
	ctx := context.Background()
	m1 := q.Enqueue(ctx, models.TextContent("a"), nil)
	m2 := q.Enqueue(ctx, models.TextContent("b"), nil)

	q.DequeueAll(ctx)

	if payload == nil {
		t.Fatal("expected message:dequeued event")
	}
	if !payload.Coalesced {
		t.Error("expected Coalesced=true for 2 messages")
	}
	if len(payload.IDs) != 2 || payload.IDs[0] != m1.ID || payload.IDs[1] != m2.ID {
		t.Fatalf("IDs = %v, want [%s %s]", payload.IDs, m1.ID, m2.ID)
	}
}

func TestMessageQueue_ConcurrentEnqueueIsAtomic(t *testing.T) {
	q := NewMessageQueue(NewEventBus("s1", "r1", nil))
	ctx := context.Background()

	const writers = 20
	done := make(chan struct{}, writers)
	for i := 0; i < writers; i++ {
		go func() {
			q.Enqueue(ctx, models.TextContent("m"), nil)
			done <- struct{}{}
		}()
	}
	for i := 0; i < writers; i++ {
		<-done
	}

	if got := q.PendingCount(); got != writers {
		t.Fatalf("PendingCount() = %d, want %d", got, writers)
	}
	coalesced := q.DequeueAll(ctx)
	if coalesced.Count() != writers {
		t.Fatalf("Count() = %d, want %d", coalesced.Count(), writers)
	}
}
