// Package realtime delivers newly inserted messages to subscribers, either
// from a change feed or, when the feed is unavailable, by polling.
package realtime

import (
	"github.com/hrygo/concierge/store"
)

// ChannelName is the Postgres NOTIFY channel carrying inserted message rows.
const ChannelName = "chat_messages"

// ChannelStatus is reported by a feed channel over its lifetime.
type ChannelStatus string

const (
	StatusSubscribed   ChannelStatus = "SUBSCRIBED"
	StatusChannelError ChannelStatus = "CHANNEL_ERROR"
	StatusTimedOut     ChannelStatus = "TIMED_OUT"
	StatusClosed       ChannelStatus = "CLOSED"
)

// Failed reports whether the status ends the channel.
func (s ChannelStatus) Failed() bool {
	return s == StatusChannelError || s == StatusTimedOut || s == StatusClosed
}

// StatusEvent carries a status and the error that caused it, if any.
type StatusEvent struct {
	Status ChannelStatus
	Err    error
}

// Channel is one feed subscription for one conversation.
type Channel interface {
	// Statuses yields the channel's status transitions. It is closed when
	// the channel is closed.
	Statuses() <-chan StatusEvent
	Close() error
}

// Feed opens change-feed channels filtered by conversation id.
type Feed interface {
	Subscribe(conversationID string, onInsert func(*store.Message)) (Channel, error)
}

// statusBuffer is large enough that a channel never blocks its feed while
// the manager is busy.
const statusBuffer = 4

// baseChannel implements Channel for the feeds in this package.
type baseChannel struct {
	conversationID string
	onInsert       func(*store.Message)
	statuses       chan StatusEvent
	closed         bool
	subscribed     bool
}

func newBaseChannel(conversationID string, onInsert func(*store.Message)) *baseChannel {
	return &baseChannel{
		conversationID: conversationID,
		onInsert:       onInsert,
		statuses:       make(chan StatusEvent, statusBuffer),
	}
}

func (c *baseChannel) Statuses() <-chan StatusEvent {
	return c.statuses
}

// emit must be called with the owning feed's lock held.
func (c *baseChannel) emit(ev StatusEvent) {
	if c.closed {
		return
	}
	select {
	case c.statuses <- ev:
	default:
		// The reader has fallen behind; only the latest state matters.
	}
}

// shut must be called with the owning feed's lock held.
func (c *baseChannel) shut() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.statuses)
}
