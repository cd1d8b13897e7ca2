package agent

import "github.com/haasonsaas/nexus/pkg/models"

// repairTranscript drops orphaned entries from a history slice before it is
// sent to a provider: a tool-role message whose ToolCallID doesn't match a
// pending call from the preceding assistant message (or that arrives with no
// pending calls at all) would otherwise violate every provider's requirement
// that every tool result corresponds to an immediately preceding tool call.
func repairTranscript(history []*models.Message) []*models.Message {
	if len(history) == 0 {
		return history
	}

	pending := make(map[string]struct{})
	repaired := make([]*models.Message, 0, len(history))

	for _, msg := range history {
		if msg == nil {
			continue
		}

		switch msg.Role {
		case models.RoleAssistant:
			for k := range pending {
				delete(pending, k)
			}
			for _, call := range msg.ToolCalls {
				if call.ID != "" {
					pending[call.ID] = struct{}{}
				}
			}
			repaired = append(repaired, msg)
		case models.RoleTool:
			if msg.ToolCallID == "" {
				continue
			}
			if _, ok := pending[msg.ToolCallID]; !ok {
				continue
			}
			delete(pending, msg.ToolCallID)
			repaired = append(repaired, msg)
		default:
			repaired = append(repaired, msg)
		}
	}

	return repaired
}
