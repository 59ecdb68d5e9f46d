package bridge

import "sync"

// Hub fans memory sync/clear broadcasts out to every context attached to
// the same tool. Both in-process subscribers (local-mode memory clients)
// and websocket peers attach through it.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Message]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Message]struct{})}
}

// Subscribe attaches to broadcasts for toolID. The returned cancel func
// must be called when the subscriber's context tears down.
func (h *Hub) Subscribe(toolID string) (<-chan Message, func()) {
	ch := make(chan Message, 16)

	h.mu.Lock()
	if h.subs[toolID] == nil {
		h.subs[toolID] = make(map[chan Message]struct{})
	}
	h.subs[toolID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[toolID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, toolID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers msg to every subscriber of msg.ToolID. Slow subscribers
// are skipped rather than blocking the publisher; they resync on their
// next list anyway.
func (h *Hub) Publish(msg Message) {
	if msg.ToolID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[msg.ToolID] {
		select {
		case ch <- msg:
		default:
		}
	}
}
