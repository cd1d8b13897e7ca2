// Package sessions provides the persistence backend ContextManager uses to
// keep one session's message log durable across process restarts.
package sessions

import (
	"context"

	"github.com/haasonsaas/nexus/pkg/models"
)

// Store is the append-only message log a ContextManager instance persists
// to. A session's full ordering and compaction state lives in the messages
// themselves (Message.IsSummary, Message.CompactedAt, ...); Store only needs
// to append and replay them in order.
type Store interface {
	// AppendMessage adds one message to the named session's log.
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error

	// GetHistory returns the session's log in append order. limit <= 0 means
	// no limit; otherwise only the most recent limit messages are returned.
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
}
