package context

import "github.com/haasonsaas/nexus/pkg/models"

// FilterCompacted returns the read-time view of history that collapses
// everything before the most recent summary. If no message has
// IsSummary=true, history is returned unchanged.
//
// OriginalMessageCount is always an index into "history with the located
// summary spliced out" (any earlier, superseded summary stays in place for
// counting purposes — it's just an ordinary message from this point of
// view). For a first compaction it equals the count of messages summarized;
// for a recompaction, ReactiveOverflowStrategy computes it as the prior
// summary's own cut index plus the number of post-summary messages newly
// folded in, which is exactly the index the kept tail starts at in that
// same spliced array — so the cut is applied identically in both cases.
// Either way, at most one summary is ever returned, and it is always the
// most recent one, at index 0.
func FilterCompacted(history []*models.Message) []*models.Message {
	idx := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].IsSummary {
			idx = i
			break
		}
	}
	if idx == -1 {
		return history
	}
	if idx == 0 {
		// Already filtered: the summary is the first message and nothing
		// precedes it. Re-cutting here would double-apply OriginalMessageCount
		// against a shorter base and over-truncate, so this is a no-op —
		// the property that makes repeated application idempotent.
		return history
	}

	summary := history[idx]
	rest := make([]*models.Message, 0, len(history)-1)
	rest = append(rest, history[:idx]...)
	rest = append(rest, history[idx+1:]...)

	cut := summary.OriginalMessageCount
	if cut < 0 {
		cut = 0
	}
	if cut > len(rest) {
		cut = len(rest)
	}

	out := make([]*models.Message, 0, 1+len(rest)-cut)
	out = append(out, summary)
	out = append(out, rest[cut:]...)
	return out
}
