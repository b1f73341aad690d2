package memory

import (
	"context"
	"slices"
	"sync"

	"momentum/internal/domain"
)

// History keeps conversation messages in memory.
type History struct {
	mu   sync.Mutex
	msgs map[string][]domain.Message
}

func NewHistory() *History {
	return &History{msgs: make(map[string][]domain.Message)}
}

// AppendMessage adds msg, replacing an existing entry with the same id.
func (h *History) AppendMessage(ctx context.Context, conversationID string, msg domain.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.msgs[conversationID]
	for i := range list {
		if list[i].ID == msg.ID {
			list[i] = msg
			return nil
		}
	}
	h.msgs[conversationID] = append(list, msg)
	return nil
}

func (h *History) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.msgs[conversationID]), nil
}

func (h *History) DeleteMessages(ctx context.Context, conversationID string, ids []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs[conversationID] = slices.DeleteFunc(h.msgs[conversationID], func(m domain.Message) bool {
		return slices.Contains(ids, m.ID)
	})
	return nil
}
