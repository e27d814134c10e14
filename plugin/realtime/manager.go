package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/concierge/store"
)

// State is the health of one conversation's subscription.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateSubscribed State = "subscribed"
	StatePolling    State = "polling"
	StateError      State = "error"
	StateClosed     State = "closed"
)

const (
	DefaultPollInterval     = 7 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// ErrManagerClosed is returned by Subscribe after Close.
var ErrManagerClosed = errors.New("realtime manager is closed")

// Health is a snapshot of a subscription. Err keeps the reason of the last
// fallback to polling for display.
type Health struct {
	State     State
	Err       string
	UpdatedAt time.Time
}

// Sink receives messages for one conversation, either a single insert from
// the feed or a full page from polling.
type Sink func([]*store.Message)

// PollFunc fetches the newest page of a conversation.
type PollFunc func(ctx context.Context, conversationID string) ([]*store.Message, error)

// GateFunc reports whether the change feed may be used at all.
type GateFunc func(ctx context.Context) bool

type Options struct {
	// Feed may be nil, in which case every subscription polls.
	Feed Feed
	Poll PollFunc
	Gate GateFunc

	PollInterval     time.Duration
	HandshakeTimeout time.Duration

	// OnHealthChange is called without the manager lock held.
	OnHealthChange func(conversationID string, health Health)
}

// Manager shares one feed channel (or one poll loop) per conversation among
// any number of sinks.
type Manager struct {
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[string]*subscription
	last   map[string]Health
	closed bool
	wg     sync.WaitGroup
}

type subscription struct {
	id     string
	sinks  map[int]Sink
	nextID int
	health Health

	// generation invalidates watchers and poll loops of earlier attempts.
	generation int
	channel    Channel
	stopWatch  chan struct{}
	stopPoll   context.CancelFunc
}

func NewManager(opts Options) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:   opts,
		logger: slog.Default().With("component", "realtime"),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]*subscription),
		last:   make(map[string]Health),
	}
}

// Subscribe attaches sink to conversationID and returns an idempotent
// unsubscribe func. Only the first subscriber opens the feed or poll loop,
// and only the last unsubscribe tears it down.
func (m *Manager) Subscribe(ctx context.Context, conversationID string, sink Sink) (func(), error) {
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}

	// Consult the gate before taking the lock; it may hit the database.
	realtime := m.opts.Feed != nil && (m.opts.Gate == nil || m.opts.Gate(ctx))

	var notify []func()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	sub, ok := m.subs[conversationID]
	if !ok {
		sub = &subscription{id: conversationID, sinks: make(map[int]Sink)}
		m.subs[conversationID] = sub
		delete(m.last, conversationID)
	}
	sinkID := sub.nextID
	sub.nextID++
	sub.sinks[sinkID] = sink
	if !ok {
		if realtime {
			notify = m.startFeed(sub)
		} else {
			reason := "realtime disabled"
			if m.opts.Feed == nil {
				reason = "no change feed configured"
			}
			notify = m.startPolling(sub, reason)
		}
	}
	m.mu.Unlock()
	runAll(notify)

	var once sync.Once
	return func() {
		once.Do(func() { m.unsubscribe(sub, sinkID) })
	}, nil
}

func (m *Manager) unsubscribe(sub *subscription, sinkID int) {
	var notify []func()
	m.mu.Lock()
	delete(sub.sinks, sinkID)
	if len(sub.sinks) == 0 && m.subs[sub.id] == sub {
		m.teardown(sub)
		delete(m.subs, sub.id)
		m.last[sub.id] = sub.health
		notify = append(notify, m.healthNotifier(sub))
	}
	m.mu.Unlock()
	runAll(notify)
}

// Health returns the current health of conversationID. A conversation that
// was never subscribed is idle.
func (m *Manager) Health(conversationID string) Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[conversationID]; ok {
		return sub.health
	}
	if h, ok := m.last[conversationID]; ok {
		return h
	}
	return Health{State: StateIdle}
}

// Retry stops polling and attempts the change feed again. It is a no-op
// unless the subscription is polling or in error.
func (m *Manager) Retry(conversationID string) {
	var notify []func()
	m.mu.Lock()
	sub, ok := m.subs[conversationID]
	if ok && m.opts.Feed != nil && (sub.health.State == StatePolling || sub.health.State == StateError) {
		notify = m.startFeed(sub)
	}
	m.mu.Unlock()
	runAll(notify)
}

// Close tears down every subscription. Later Subscribe calls fail.
func (m *Manager) Close() {
	var notify []func()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for id, sub := range m.subs {
		m.teardown(sub)
		m.last[id] = sub.health
		notify = append(notify, m.healthNotifier(sub))
		delete(m.subs, id)
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	runAll(notify)
}

// startFeed must be called with m.mu held.
func (m *Manager) startFeed(sub *subscription) []func() {
	m.stopAttempt(sub)
	sub.generation++
	generation := sub.generation
	m.setHealth(sub, StateConnecting, "")
	notify := []func(){m.healthNotifier(sub)}

	id := sub.id
	channel, err := m.opts.Feed.Subscribe(id, func(msg *store.Message) {
		m.deliver(id, generation, []*store.Message{msg})
	})
	if err != nil {
		m.logger.Warn("feed subscribe failed, polling", "conversation_id", id, "error", err)
		return append(notify, m.startPolling(sub, err.Error())...)
	}
	sub.channel = channel
	sub.stopWatch = make(chan struct{})

	m.wg.Add(1)
	go m.watch(id, generation, channel, sub.stopWatch)
	return notify
}

// startPolling must be called with m.mu held. Any open feed channel is
// closed first so that at most one source feeds the sinks.
func (m *Manager) startPolling(sub *subscription, reason string) []func() {
	m.stopAttempt(sub)
	sub.generation++
	generation := sub.generation
	m.setHealth(sub, StatePolling, reason)

	ctx, cancel := context.WithCancel(m.ctx)
	sub.stopPoll = cancel
	m.wg.Add(1)
	go m.pollLoop(ctx, sub.id, generation)
	return []func(){m.healthNotifier(sub)}
}

// stopAttempt must be called with m.mu held.
func (m *Manager) stopAttempt(sub *subscription) {
	if sub.stopWatch != nil {
		close(sub.stopWatch)
		sub.stopWatch = nil
	}
	if sub.channel != nil {
		if err := sub.channel.Close(); err != nil {
			m.logger.Warn("failed to close feed channel", "conversation_id", sub.id, "error", err)
		}
		sub.channel = nil
	}
	if sub.stopPoll != nil {
		sub.stopPoll()
		sub.stopPoll = nil
	}
}

// teardown must be called with m.mu held.
func (m *Manager) teardown(sub *subscription) {
	m.stopAttempt(sub)
	sub.generation++
	m.setHealth(sub, StateClosed, "")
}

func (m *Manager) watch(id string, generation int, channel Channel, stop <-chan struct{}) {
	defer m.wg.Done()

	timer := time.NewTimer(m.opts.HandshakeTimeout)
	defer timer.Stop()
	timeout := timer.C
	statuses := channel.Statuses()

	for {
		select {
		case <-stop:
			return
		case <-m.ctx.Done():
			return
		case <-timeout:
			m.handleStatus(id, generation, StatusEvent{
				Status: StatusTimedOut,
				Err:    errors.Errorf("no subscription confirmation within %s", m.opts.HandshakeTimeout),
			})
			return
		case ev, ok := <-statuses:
			if !ok {
				ev = StatusEvent{Status: StatusClosed}
			}
			if ev.Status == StatusSubscribed {
				timeout = nil
			}
			m.handleStatus(id, generation, ev)
			if ev.Status.Failed() {
				return
			}
		}
	}
}

func (m *Manager) handleStatus(id string, generation int, ev StatusEvent) {
	var notify []func()
	m.mu.Lock()
	sub, ok := m.subs[id]
	if !ok || sub.generation != generation {
		m.mu.Unlock()
		return
	}
	switch {
	case ev.Status == StatusSubscribed:
		if sub.health.State == StateConnecting {
			m.setHealth(sub, StateSubscribed, "")
			notify = append(notify, m.healthNotifier(sub))
		}
	case ev.Status.Failed():
		reason := string(ev.Status)
		if ev.Err != nil {
			reason = reason + ": " + ev.Err.Error()
		}
		m.logger.Warn("feed channel failed, polling", "conversation_id", id, "status", ev.Status, "error", ev.Err)
		notify = append(notify, m.startPolling(sub, reason)...)
	}
	m.mu.Unlock()
	runAll(notify)
}

func (m *Manager) pollLoop(ctx context.Context, id string, generation int) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	m.pollOnce(ctx, id, generation)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx, id, generation)
		}
	}
}

func (m *Manager) pollOnce(ctx context.Context, id string, generation int) {
	if m.opts.Poll == nil {
		return
	}
	messages, err := m.opts.Poll(ctx, id)
	if ctx.Err() != nil {
		return
	}

	var notify []func()
	m.mu.Lock()
	sub, ok := m.subs[id]
	if !ok || sub.generation != generation {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.logger.Warn("poll failed", "conversation_id", id, "error", err)
		if sub.health.State != StateError {
			m.setHealth(sub, StateError, err.Error())
			notify = append(notify, m.healthNotifier(sub))
		}
	} else if sub.health.State == StateError {
		m.setHealth(sub, StatePolling, sub.health.Err)
		notify = append(notify, m.healthNotifier(sub))
	}
	sinks := sub.sinkList()
	m.mu.Unlock()
	runAll(notify)

	if err == nil && len(messages) > 0 {
		for _, sink := range sinks {
			sink(messages)
		}
	}
}

func (m *Manager) deliver(id string, generation int, messages []*store.Message) {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if !ok || sub.generation != generation {
		m.mu.Unlock()
		return
	}
	sinks := sub.sinkList()
	m.mu.Unlock()

	for _, sink := range sinks {
		sink(messages)
	}
}

// setHealth must be called with m.mu held.
func (m *Manager) setHealth(sub *subscription, state State, reason string) {
	sub.health = Health{State: state, Err: reason, UpdatedAt: time.Now()}
}

// healthNotifier captures the current health for delivery after unlock.
func (m *Manager) healthNotifier(sub *subscription) func() {
	if m.opts.OnHealthChange == nil {
		return nil
	}
	id, health := sub.id, sub.health
	return func() { m.opts.OnHealthChange(id, health) }
}

func (s *subscription) sinkList() []Sink {
	sinks := make([]Sink, 0, len(s.sinks))
	for _, sink := range s.sinks {
		sinks = append(sinks, sink)
	}
	return sinks
}

func runAll(fns []func()) {
	for _, fn := range fns {
		if fn != nil {
			fn()
		}
	}
}
