package chat

import (
	"context"
	"errors"
	"net/http"

	"github.com/hrygo/concierge/store"
)

// SendRequest is a message ready to be written. Sender fields are resolved
// by the client; Token and GuestID are only used by senders that cross a
// trust boundary and resolve the sender themselves.
type SendRequest struct {
	// ID is minted by the caller so that a send retried on another path
	// stores one row. Empty lets the store mint it.
	ID             string
	ConversationID string
	Body           string
	Mode           Mode

	SenderType store.SenderType
	SenderID   *string

	Token    string
	GuestID  string
	Language string
}

// SendResult is the stored row and what the write path already did with it.
type SendResult struct {
	Message *store.Message
	// AutoReplyHandled is set when the server that stored the message
	// dispatches the auto reply itself.
	AutoReplyHandled bool
	// Replayed is set when the row had already been stored under the
	// request's ID by an earlier attempt.
	Replayed bool
}

// MessageSender writes a message and returns the stored row.
type MessageSender interface {
	Send(ctx context.Context, req *SendRequest) (*SendResult, error)
}

// MessageWriter is the persistence DirectSender writes through.
type MessageWriter interface {
	CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error)
	TouchConversation(ctx context.Context, m *store.Message) (*store.Conversation, error)
	ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error)
}

// DirectSender writes the row through the store, then updates the
// conversation preview as a best-effort effect.
type DirectSender struct {
	store   MessageWriter
	effects *Effects
}

// NewDirectSender creates a direct sender. With a nil effects runner the
// preview update runs inline and its failure is only logged.
func NewDirectSender(s MessageWriter, effects *Effects) *DirectSender {
	return &DirectSender{store: s, effects: effects}
}

func (s *DirectSender) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	message, err := s.store.CreateMessage(ctx, &store.Message{
		ID:             req.ID,
		ConversationID: req.ConversationID,
		SenderType:     req.SenderType,
		SenderID:       req.SenderID,
		Body:           req.Body,
	})
	if err != nil {
		existing, lookupErr := s.stored(ctx, req)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing == nil {
			return nil, err
		}
		return &SendResult{Message: existing, Replayed: true}, nil
	}

	touch := func(ctx context.Context) error {
		_, err := s.store.TouchConversation(ctx, message)
		return err
	}
	if s.effects == nil || !s.effects.Go("conversation_preview", touch) {
		if err := touch(ctx); err != nil {
			logger().Warn("failed to update conversation preview",
				"conversation_id", message.ConversationID,
				"error", err)
		}
	}
	return &SendResult{Message: message}, nil
}

// stored returns the row an earlier attempt stored under req.ID, nil when
// there is none. A row under that id with other content is ErrMessageIDTaken.
func (s *DirectSender) stored(ctx context.Context, req *SendRequest) (*store.Message, error) {
	if req.ID == "" {
		return nil, nil
	}
	list, err := s.store.ListMessages(ctx, &store.FindMessage{ID: &req.ID})
	if err != nil || len(list) == 0 {
		return nil, nil
	}
	m := list[0]
	if m.ConversationID != req.ConversationID || m.SenderType != req.SenderType ||
		m.Body != req.Body || !sameSenderID(m.SenderID, req.SenderID) {
		return nil, ErrMessageIDTaken
	}
	return m, nil
}

func sameSenderID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// FallbackSender tries Primary and, when ShouldFallback approves the error,
// Secondary. Both must produce equivalent rows. The request keeps its ID
// across both, so a primary that stored the row before failing is not
// written twice.
type FallbackSender struct {
	Primary   MessageSender
	Secondary MessageSender
	// ShouldFallback defaults to DefaultShouldFallback.
	ShouldFallback func(err error) bool
}

func (s *FallbackSender) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	result, err := s.Primary.Send(ctx, req)
	if err == nil {
		return result, nil
	}
	decide := s.ShouldFallback
	if decide == nil {
		decide = DefaultShouldFallback
	}
	if ctx.Err() != nil || !decide(err) {
		return nil, err
	}
	logger().Info("send endpoint unavailable, writing directly",
		"conversation_id", req.ConversationID,
		"error", err)
	return s.Secondary.Send(ctx, req)
}

// DefaultShouldFallback falls back when the endpoint could not be reached or
// answered 5xx or 404. Validation, auth and rate limit answers are final.
func DefaultShouldFallback(err error) bool {
	var endpointErr *EndpointError
	if errors.As(err, &endpointErr) {
		return endpointErr.Status >= http.StatusInternalServerError || endpointErr.Status == http.StatusNotFound
	}
	return !errors.Is(err, context.Canceled)
}
