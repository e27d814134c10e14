package realtime

import (
	"sync"

	"github.com/hrygo/concierge/store"
)

// Hub is an in-process Feed. The store publishes every inserted message to
// it, so it only sees writes made by this process.
type Hub struct {
	mu       sync.Mutex
	channels map[string]map[*hubChannel]struct{}
	closed   bool
}

func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*hubChannel]struct{})}
}

type hubChannel struct {
	*baseChannel
	hub *Hub
}

// Subscribe opens a channel that reports SUBSCRIBED immediately.
func (h *Hub) Subscribe(conversationID string, onInsert func(*store.Message)) (Channel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := &hubChannel{baseChannel: newBaseChannel(conversationID, onInsert), hub: h}
	if h.closed {
		ch.emit(StatusEvent{Status: StatusClosed})
		ch.shut()
		return ch, nil
	}
	if h.channels[conversationID] == nil {
		h.channels[conversationID] = make(map[*hubChannel]struct{})
	}
	h.channels[conversationID][ch] = struct{}{}
	ch.subscribed = true
	ch.emit(StatusEvent{Status: StatusSubscribed})
	return ch, nil
}

// Publish delivers m to every channel of its conversation.
func (h *Hub) Publish(m *store.Message) {
	if m == nil {
		return
	}
	h.mu.Lock()
	targets := make([]func(*store.Message), 0, len(h.channels[m.ConversationID]))
	for ch := range h.channels[m.ConversationID] {
		targets = append(targets, ch.onInsert)
	}
	h.mu.Unlock()

	for _, onInsert := range targets {
		onInsert(m)
	}
}

// Subscribers returns the number of open channels for conversationID.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[conversationID])
}

// Close reports CLOSED on every open channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, set := range h.channels {
		for ch := range set {
			ch.emit(StatusEvent{Status: StatusClosed})
			ch.shut()
		}
		delete(h.channels, id)
	}
}

func (c *hubChannel) Close() error {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if set := c.hub.channels[c.conversationID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(c.hub.channels, c.conversationID)
		}
	}
	c.shut()
	return nil
}
