package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/concierge/store"
)

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	listenerPingInterval = 90 * time.Second
	loadTimeout          = 5 * time.Second
)

// MessageFinder loads the rows named by notifications.
type MessageFinder interface {
	ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error)
}

// notification is the payload of a chat_messages NOTIFY. Bodies are not
// carried since a payload is limited to 8000 bytes.
type notification struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
}

// PGFeed is a Feed backed by LISTEN chat_messages. One listener connection
// is shared by every channel; notifications are filtered by conversation id.
type PGFeed struct {
	listener *pq.Listener
	finder   MessageFinder
	logger   *slog.Logger

	mu        sync.Mutex
	connected bool
	channels  map[string]map[*pgChannel]struct{}

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type pgChannel struct {
	*baseChannel
	feed *PGFeed
}

// NewPGFeed starts listening on ChannelName. The connection is established
// in the background; channels report SUBSCRIBED once it is up. Notified
// messages are loaded through finder.
func NewPGFeed(dsn string, finder MessageFinder) (*PGFeed, error) {
	if finder == nil {
		return nil, errors.New("message finder is required")
	}
	f := &PGFeed{
		finder:   finder,
		logger:   slog.Default().With("component", "pgfeed"),
		channels: make(map[string]map[*pgChannel]struct{}),
		done:     make(chan struct{}),
	}
	f.listener = pq.NewListener(dsn, minReconnectInterval, maxReconnectInterval, f.onEvent)
	if err := f.listener.Listen(ChannelName); err != nil {
		f.listener.Close()
		return nil, errors.Wrapf(err, "failed to listen on %s", ChannelName)
	}

	f.wg.Add(1)
	go f.run()
	return f, nil
}

func (f *PGFeed) Subscribe(conversationID string, onInsert func(*store.Message)) (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	select {
	case <-f.done:
		return nil, errors.New("feed is closed")
	default:
	}

	ch := &pgChannel{baseChannel: newBaseChannel(conversationID, onInsert), feed: f}
	if f.channels[conversationID] == nil {
		f.channels[conversationID] = make(map[*pgChannel]struct{})
	}
	f.channels[conversationID][ch] = struct{}{}
	if f.connected {
		ch.subscribed = true
		ch.emit(StatusEvent{Status: StatusSubscribed})
	}
	return ch, nil
}

func (f *PGFeed) onEvent(ev pq.ListenerEventType, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch ev {
	case pq.ListenerEventConnected, pq.ListenerEventReconnected:
		f.connected = true
		for _, set := range f.channels {
			for ch := range set {
				if !ch.subscribed {
					ch.subscribed = true
					ch.emit(StatusEvent{Status: StatusSubscribed})
				}
			}
		}
		f.logger.Info("listener connected", "channel", ChannelName)
	case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
		f.connected = false
		if err == nil {
			err = errors.New("listener disconnected")
		}
		// Notifications may have been lost; every channel must fall back.
		for id, set := range f.channels {
			for ch := range set {
				ch.emit(StatusEvent{Status: StatusChannelError, Err: err})
				ch.shut()
			}
			delete(f.channels, id)
		}
		f.logger.Warn("listener connection lost", "error", err)
	}
}

func (f *PGFeed) run() {
	defer f.wg.Done()

	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case n, ok := <-f.listener.Notify:
			if !ok {
				return
			}
			// A nil notification follows a reconnect.
			if n == nil {
				continue
			}
			f.dispatch(n.Extra)
		case <-ticker.C:
			go func() {
				if err := f.listener.Ping(); err != nil {
					f.logger.Warn("listener ping failed", "error", err)
				}
			}()
		}
	}
}

func (f *PGFeed) dispatch(payload string) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		f.logger.Warn("dropping malformed notification", "error", err)
		return
	}
	if n.ID == "" || n.ConversationID == "" {
		f.logger.Warn("dropping notification without ids", "payload", payload)
		return
	}

	f.mu.Lock()
	targets := make([]func(*store.Message), 0, len(f.channels[n.ConversationID]))
	for ch := range f.channels[n.ConversationID] {
		targets = append(targets, ch.onInsert)
	}
	f.mu.Unlock()
	if len(targets) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	messages, err := f.finder.ListMessages(ctx, &store.FindMessage{ID: &n.ID})
	if err != nil {
		f.logger.Warn("failed to load notified message", "message_id", n.ID, "error", err)
		return
	}
	if len(messages) == 0 {
		f.logger.Warn("notified message not found", "message_id", n.ID)
		return
	}
	for _, onInsert := range targets {
		onInsert(messages[0])
	}
}

// Close stops the listener and reports CLOSED on every open channel.
func (f *PGFeed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.listener.Close()
		f.wg.Wait()

		f.mu.Lock()
		defer f.mu.Unlock()
		for id, set := range f.channels {
			for ch := range set {
				ch.emit(StatusEvent{Status: StatusClosed})
				ch.shut()
			}
			delete(f.channels, id)
		}
	})
	return err
}

func (c *pgChannel) Close() error {
	c.feed.mu.Lock()
	defer c.feed.mu.Unlock()
	if set := c.feed.channels[c.conversationID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(c.feed.channels, c.conversationID)
		}
	}
	c.shut()
	return nil
}
