// Package chat is the conversation and message store used by chat surfaces.
// It keeps a local view of conversations and their messages, merges inserts
// arriving from sends, pages and the realtime manager, and dispatches side
// effects without blocking the caller.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hrygo/concierge/plugin/ai/autoreply"
	"github.com/hrygo/concierge/plugin/realtime"
	"github.com/hrygo/concierge/store"
)

const (
	// DefaultCooldown is the minimum interval between two sends of a client.
	DefaultCooldown = 3 * time.Second
	// DefaultPageSize is used by FetchMessages when no limit is given.
	DefaultPageSize = 50

	errPublicConversationNotFound = "public conversation not found"
)

// Backend is the persistence the client reads and writes through.
type Backend interface {
	MessageWriter
	ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	CreateConversation(ctx context.Context, create *store.Conversation) (*store.Conversation, error)
	UpdateConversation(ctx context.Context, update *store.UpdateConversation) (*store.Conversation, error)
	ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error)
}

// AutoReplier runs after a customer message was stored.
type AutoReplier interface {
	Run(ctx context.Context, trigger autoreply.Trigger) (*store.Message, error)
}

// IdentityFunc resolves the authenticated caller. It returns nil for
// anonymous callers.
type IdentityFunc func(ctx context.Context) (*Identity, error)

// StaticIdentity always resolves to identity.
func StaticIdentity(identity *Identity) IdentityFunc {
	return func(context.Context) (*Identity, error) {
		return identity, nil
	}
}

type Options struct {
	Backend Backend
	// Sender defaults to a DirectSender over Backend.
	Sender MessageSender
	// Manager may be nil, in which case SubscribeToConversation fails.
	Manager   *realtime.Manager
	AutoReply AutoReplier
	// Effects defaults to a runner owned by the client.
	Effects  *Effects
	Identity IdentityFunc

	// GuestID identifies an anonymous caller to the send endpoint.
	GuestID  string
	Language string
	Cooldown time.Duration
	Now      func() time.Time
}

type Client struct {
	backend     Backend
	sender      MessageSender
	manager     *realtime.Manager
	autoReply   AutoReplier
	effects     *Effects
	ownsEffects bool
	identity    IdentityFunc
	guestID     string
	language    string
	cooldown    time.Duration
	now         func() time.Time

	mu            sync.Mutex
	conversations map[string]*store.Conversation
	messages      map[string][]*store.Message
	hasMore       map[string]bool
	lastError     string
	lastSendAt    time.Time
	subscriptions map[int]func()
	nextSubID     int
}

func NewClient(opts Options) (*Client, error) {
	if opts.Backend == nil {
		return nil, errors.New("chat client requires a backend")
	}
	c := &Client{
		backend:       opts.Backend,
		sender:        opts.Sender,
		manager:       opts.Manager,
		autoReply:     opts.AutoReply,
		effects:       opts.Effects,
		identity:      opts.Identity,
		guestID:       opts.GuestID,
		language:      opts.Language,
		cooldown:      opts.Cooldown,
		now:           opts.Now,
		conversations: make(map[string]*store.Conversation),
		messages:      make(map[string][]*store.Message),
		hasMore:       make(map[string]bool),
		subscriptions: make(map[int]func()),
	}
	if c.effects == nil {
		c.effects = NewEffects(DefaultEffectConcurrency, DefaultEffectTimeout)
		c.ownsEffects = true
	}
	if c.sender == nil {
		c.sender = NewDirectSender(c.backend, c.effects)
	}
	if c.identity == nil {
		c.identity = StaticIdentity(nil)
	}
	if c.cooldown <= 0 {
		c.cooldown = DefaultCooldown
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// GetPublicConversation returns the earliest public conversation.
func (c *Client) GetPublicConversation(ctx context.Context) (*store.Conversation, error) {
	conversation, err := c.firstConversation(ctx, &store.FindConversation{
		Type:    typePtr(store.ConversationTypePublic),
		OrderBy: store.ConversationOrderCreatedAsc,
	})
	if err != nil {
		return nil, c.fail("failed to get public conversation", err)
	}
	if conversation == nil {
		c.setLastError(errPublicConversationNotFound)
		return nil, errors.Wrap(ErrConversationNotFound, "public")
	}
	c.upsertConversations(conversation)
	return conversation, nil
}

// GetOrCreatePrivateConversation returns the caller's most recent private
// conversation, creating one when there is none.
func (c *Client) GetOrCreatePrivateConversation(ctx context.Context) (*store.Conversation, error) {
	identity, err := c.requireIdentity(ctx)
	if err != nil {
		return nil, err
	}
	conversation, err := c.firstConversation(ctx, &store.FindConversation{
		Type:       typePtr(store.ConversationTypePrivate),
		CustomerID: &identity.UserID,
		OrderBy:    store.ConversationOrderCreatedDesc,
	})
	if err != nil {
		return nil, c.fail("failed to get private conversation", err)
	}
	if conversation == nil {
		customerID := identity.UserID
		conversation, err = c.backend.CreateConversation(ctx, &store.Conversation{
			Type:       store.ConversationTypePrivate,
			CustomerID: &customerID,
		})
		if err != nil {
			return nil, c.fail("failed to create private conversation", err)
		}
	}
	c.upsertConversations(conversation)
	return conversation, nil
}

// FetchMessages merges the newest limit messages older than before (or the
// newest overall when before is nil) and reports whether older ones may
// exist.
func (c *Client) FetchMessages(ctx context.Context, conversationID string, limit int, before *time.Time) (bool, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	page, err := c.backend.ListMessages(ctx, &store.FindMessage{
		ConversationID: &conversationID,
		Before:         before,
		Limit:          &limit,
	})
	if err != nil {
		return false, c.fail("failed to fetch messages", err)
	}
	hasMore := len(page) == limit

	c.mu.Lock()
	c.messages[conversationID] = MergeMessages(c.messages[conversationID], page)
	c.hasMore[conversationID] = hasMore
	c.mu.Unlock()
	return hasMore, nil
}

// SendMessage writes body into the conversation as mode demands. A blank
// body is a no-op returning (nil, nil). The returned message is already
// merged into the local state; the auto reply, if any, arrives later.
func (c *Client) SendMessage(ctx context.Context, conversationID, body string, mode Mode) (*store.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(body) > store.MaxMessageLength {
		c.setLastError("message is too long")
		return nil, errors.Errorf("message exceeds %d characters", store.MaxMessageLength)
	}

	identity, err := c.identity(ctx)
	if err != nil {
		return nil, c.fail("failed to resolve identity", err)
	}
	senderType, senderID, err := ResolveSender(mode, identity)
	if err != nil {
		c.setLastError(err.Error())
		return nil, err
	}

	c.mu.Lock()
	if !c.lastSendAt.IsZero() && c.now().Sub(c.lastSendAt) < c.cooldown {
		c.lastError = ErrRateLimited.Error()
		c.mu.Unlock()
		return nil, ErrRateLimited
	}
	c.mu.Unlock()

	req := &SendRequest{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Body:           body,
		Mode:           mode,
		SenderType:     senderType,
		SenderID:       senderID,
		GuestID:        c.guestID,
		Language:       c.language,
	}
	if identity != nil {
		req.Token = identity.Token
	}
	result, err := c.sender.Send(ctx, req)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			c.setLastError(ErrRateLimited.Error())
			return nil, err
		}
		return nil, c.fail("failed to send message", err)
	}

	message := result.Message

	c.mu.Lock()
	c.lastSendAt = c.now()
	c.lastError = ""
	c.messages[conversationID] = MergeMessages(c.messages[conversationID], []*store.Message{message})
	conversationType := c.applyPreviewLocked(message)
	c.mu.Unlock()

	// The endpoint or an earlier attempt has already dispatched the reply.
	if message.SenderType == store.SenderTypeUser && c.autoReply != nil && !result.AutoReplyHandled && !result.Replayed {
		c.dispatchAutoReply(message, conversationType)
	}
	return message, nil
}

func (c *Client) dispatchAutoReply(message *store.Message, conversationType store.ConversationType) {
	trigger := autoreply.Trigger{
		Message:          message,
		ConversationType: conversationType,
		Language:         c.language,
	}
	c.effects.Go("auto_reply", func(ctx context.Context) error {
		reply, err := c.autoReply.Run(ctx, trigger)
		if reply != nil {
			c.mergeMessages(reply.ConversationID, []*store.Message{reply})
		}
		return err
	})
}

// SubscribeToConversation delivers inserts of the conversation into the
// local state until the returned function is called. The function is safe to
// call more than once.
func (c *Client) SubscribeToConversation(ctx context.Context, conversationID string) (func(), error) {
	if c.manager == nil {
		return nil, errors.New("realtime is not configured")
	}
	unsubscribe, err := c.manager.Subscribe(ctx, conversationID, func(messages []*store.Message) {
		c.mergeMessages(conversationID, messages)
	})
	if err != nil {
		return nil, c.fail("failed to subscribe", err)
	}

	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	var once sync.Once
	release := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscriptions, id)
			c.mu.Unlock()
			unsubscribe()
		})
	}
	c.subscriptions[id] = release
	c.mu.Unlock()
	return release, nil
}

// RetrySubscription attempts the change feed again after a fallback to
// polling.
func (c *Client) RetrySubscription(conversationID string) {
	if c.manager != nil {
		c.manager.Retry(conversationID)
	}
}

// MarkConversationReadForUser zeroes the customer's unread counter. Failures
// are logged only.
func (c *Client) MarkConversationReadForUser(ctx context.Context, conversationID string) {
	zero := 0
	c.markRead(ctx, &store.UpdateConversation{ID: conversationID, UnreadCountUser: &zero})
}

// MarkConversationReadForAdmin zeroes the staff unread counter. Failures are
// logged only.
func (c *Client) MarkConversationReadForAdmin(ctx context.Context, conversationID string) {
	zero := 0
	c.markRead(ctx, &store.UpdateConversation{ID: conversationID, UnreadCountAdmin: &zero})
}

func (c *Client) markRead(ctx context.Context, update *store.UpdateConversation) {
	conversation, err := c.backend.UpdateConversation(ctx, update)
	if err != nil {
		logger().Warn("failed to mark conversation read",
			"conversation_id", update.ID,
			"error", err)
		return
	}
	c.upsertConversations(conversation)
}

// AdminFetchConversations lists conversations by most recent activity.
func (c *Client) AdminFetchConversations(ctx context.Context, limit int) ([]*store.Conversation, error) {
	if _, err := c.requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	list, err := c.backend.ListConversations(ctx, &store.FindConversation{
		OrderBy: store.ConversationOrderActivityDesc,
		Limit:   &limit,
	})
	if err != nil {
		return nil, c.fail("failed to list conversations", err)
	}
	c.upsertConversations(list...)
	return list, nil
}

func (c *Client) AdminGetConversationByID(ctx context.Context, id string) (*store.Conversation, error) {
	if _, err := c.requireAdmin(ctx); err != nil {
		return nil, err
	}
	conversation, err := c.backend.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.setLastError(ErrConversationNotFound.Error())
			return nil, errors.Wrap(ErrConversationNotFound, id)
		}
		return nil, c.fail("failed to get conversation", err)
	}
	c.upsertConversations(conversation)
	return conversation, nil
}

// AdminCreatePublicConversationIfMissing returns the earliest public
// conversation, creating it first when there is none.
func (c *Client) AdminCreatePublicConversationIfMissing(ctx context.Context) (*store.Conversation, error) {
	if _, err := c.requireAdmin(ctx); err != nil {
		return nil, err
	}
	conversation, err := c.firstConversation(ctx, &store.FindConversation{
		Type:    typePtr(store.ConversationTypePublic),
		OrderBy: store.ConversationOrderCreatedAsc,
	})
	if err != nil {
		return nil, c.fail("failed to get public conversation", err)
	}
	if conversation == nil {
		conversation, err = c.backend.CreateConversation(ctx, &store.Conversation{Type: store.ConversationTypePublic})
		if err != nil {
			return nil, c.fail("failed to create public conversation", err)
		}
	}
	c.upsertConversations(conversation)
	return conversation, nil
}

// Messages returns the local messages of a conversation in display order.
func (c *Client) Messages(conversationID string) []*store.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*store.Message(nil), c.messages[conversationID]...)
}

func (c *Client) Conversation(conversationID string) *store.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conversation, ok := c.conversations[conversationID]; ok {
		copied := *conversation
		return &copied
	}
	return nil
}

func (c *Client) HasMore(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore[conversationID]
}

// LastError is the message of the last failed primary operation, "" after a
// successful send.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

func (c *Client) Health(conversationID string) realtime.Health {
	if c.manager == nil {
		return realtime.Health{State: realtime.StateIdle}
	}
	return c.manager.Health(conversationID)
}

// Close releases the subscriptions opened through the client and waits for
// dispatched side effects.
func (c *Client) Close() {
	c.mu.Lock()
	releases := make([]func(), 0, len(c.subscriptions))
	for _, release := range c.subscriptions {
		releases = append(releases, release)
	}
	c.mu.Unlock()
	for _, release := range releases {
		release()
	}

	if c.ownsEffects {
		c.effects.Close()
	} else {
		c.effects.Wait()
	}
}

func (c *Client) firstConversation(ctx context.Context, find *store.FindConversation) (*store.Conversation, error) {
	limit := 1
	find.Limit = &limit
	list, err := c.backend.ListConversations(ctx, find)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

func (c *Client) requireIdentity(ctx context.Context) (*Identity, error) {
	identity, err := c.identity(ctx)
	if err != nil {
		return nil, c.fail("failed to resolve identity", err)
	}
	if identity == nil || identity.UserID == "" {
		c.setLastError(ErrUnauthenticated.Error())
		return nil, ErrUnauthenticated
	}
	return identity, nil
}

func (c *Client) requireAdmin(ctx context.Context) (*Identity, error) {
	identity, err := c.requireIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if !identity.IsAdmin() {
		c.setLastError(ErrForbidden.Error())
		return nil, ErrForbidden
	}
	return identity, nil
}

func (c *Client) mergeMessages(conversationID string, messages []*store.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[conversationID] = MergeMessages(c.messages[conversationID], messages)
}

func (c *Client) upsertConversations(conversations ...*store.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conversation := range conversations {
		if conversation != nil {
			c.conversations[conversation.ID] = conversation
		}
	}
}

// applyPreviewLocked mirrors the preview update on the cached conversation
// and returns its type, empty when the conversation is not cached.
func (c *Client) applyPreviewLocked(m *store.Message) store.ConversationType {
	conversation, ok := c.conversations[m.ConversationID]
	if !ok {
		return ""
	}
	updated := *conversation
	createdAt := m.CreatedAt
	senderType := m.SenderType
	updated.LastMessageAt = &createdAt
	updated.LastMessagePreview = store.PreviewOf(m.Body)
	updated.LastSenderType = &senderType
	c.conversations[m.ConversationID] = &updated
	return updated.Type
}

func (c *Client) setLastError(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = message
}

// fail records err as the last error and logs it with its context.
func (c *Client) fail(msg string, err error) error {
	c.setLastError(err.Error())
	logger().Error(msg, "error", err)
	return errors.Wrap(err, msg)
}

// PollLatest returns a realtime.PollFunc fetching the newest page of a
// conversation from b.
func PollLatest(b Backend, pageSize int) realtime.PollFunc {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return func(ctx context.Context, conversationID string) ([]*store.Message, error) {
		limit := pageSize
		return b.ListMessages(ctx, &store.FindMessage{ConversationID: &conversationID, Limit: &limit})
	}
}

func typePtr(t store.ConversationType) *store.ConversationType {
	return &t
}

func logger() *slog.Logger {
	return slog.Default().With("component", "chat")
}
