package store

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Wire rows are the snake_case JSON shapes exchanged with the change feed and
// the HTTP surface. Every field is nullable on the wire; Decode applies the
// defaults and rejects rows without identity.

// ErrInvalidRow is returned by Decode when a row cannot identify its entity.
var ErrInvalidRow = errors.New("invalid row")

// WireTimeLayout is the timestamp format written to the wire.
const WireTimeLayout = time.RFC3339Nano

type MessageRow struct {
	ID             *string `json:"id"`
	ConversationID *string `json:"conversation_id"`
	SenderType     *string `json:"sender_type"`
	SenderID       *string `json:"sender_id"`
	Body           *string `json:"body"`
	CreatedAt      *string `json:"created_at"`
}

// Decode converts the row into a Message. Missing timestamps default to now,
// a missing sender type defaults to user and a missing body to "".
func (r *MessageRow) Decode(now time.Time) (*Message, error) {
	if r == nil {
		return nil, errors.Wrap(ErrInvalidRow, "message row is nil")
	}
	if isBlank(r.ID) {
		return nil, errors.Wrap(ErrInvalidRow, "message row has no id")
	}
	if isBlank(r.ConversationID) {
		return nil, errors.Wrapf(ErrInvalidRow, "message %s has no conversation_id", *r.ID)
	}

	senderType := SenderTypeUser
	if !isBlank(r.SenderType) {
		senderType = SenderType(*r.SenderType)
		if !senderType.Valid() {
			return nil, errors.Wrapf(ErrInvalidRow, "message %s has unknown sender_type %q", *r.ID, *r.SenderType)
		}
	}

	m := &Message{
		ID:             *r.ID,
		ConversationID: *r.ConversationID,
		SenderType:     senderType,
		CreatedAt:      parseWireTime(r.CreatedAt, now),
	}
	if !isBlank(r.SenderID) {
		id := *r.SenderID
		m.SenderID = &id
	}
	if r.Body != nil {
		m.Body = *r.Body
	}
	return m, nil
}

// NewMessageRow encodes m for the wire.
func NewMessageRow(m *Message) *MessageRow {
	if m == nil {
		return nil
	}
	senderType := string(m.SenderType)
	createdAt := m.CreatedAt.UTC().Format(WireTimeLayout)
	row := &MessageRow{
		ID:             stringPtr(m.ID),
		ConversationID: stringPtr(m.ConversationID),
		SenderType:     &senderType,
		Body:           stringPtr(m.Body),
		CreatedAt:      &createdAt,
	}
	if m.SenderID != nil {
		row.SenderID = stringPtr(*m.SenderID)
	}
	return row
}

type ConversationRow struct {
	ID                 *string `json:"id"`
	Type               *string `json:"type"`
	CustomerID         *string `json:"customer_id"`
	CreatedAt          *string `json:"created_at"`
	LastMessageAt      *string `json:"last_message_at"`
	LastMessagePreview *string `json:"last_message_preview"`
	LastSenderType     *string `json:"last_sender_type"`
	UnreadCountAdmin   *int    `json:"unread_count_admin"`
	UnreadCountUser    *int    `json:"unread_count_user"`
}

// Decode converts the row into a Conversation. The type is required since it
// drives authorization; counters default to zero.
func (r *ConversationRow) Decode(now time.Time) (*Conversation, error) {
	if r == nil {
		return nil, errors.Wrap(ErrInvalidRow, "conversation row is nil")
	}
	if isBlank(r.ID) {
		return nil, errors.Wrap(ErrInvalidRow, "conversation row has no id")
	}
	if r.Type == nil || !ConversationType(*r.Type).Valid() {
		return nil, errors.Wrapf(ErrInvalidRow, "conversation %s has no valid type", *r.ID)
	}

	c := &Conversation{
		ID:        *r.ID,
		Type:      ConversationType(*r.Type),
		CreatedAt: parseWireTime(r.CreatedAt, now),
	}
	if !isBlank(r.CustomerID) {
		id := *r.CustomerID
		c.CustomerID = &id
	}
	if !isBlank(r.LastMessageAt) {
		t := parseWireTime(r.LastMessageAt, now)
		c.LastMessageAt = &t
	}
	if r.LastMessagePreview != nil {
		c.LastMessagePreview = *r.LastMessagePreview
	}
	if !isBlank(r.LastSenderType) && SenderType(*r.LastSenderType).Valid() {
		st := SenderType(*r.LastSenderType)
		c.LastSenderType = &st
	}
	if r.UnreadCountAdmin != nil {
		c.UnreadCountAdmin = *r.UnreadCountAdmin
	}
	if r.UnreadCountUser != nil {
		c.UnreadCountUser = *r.UnreadCountUser
	}
	return c, nil
}

// NewConversationRow encodes c for the wire.
func NewConversationRow(c *Conversation) *ConversationRow {
	if c == nil {
		return nil
	}
	convType := string(c.Type)
	createdAt := c.CreatedAt.UTC().Format(WireTimeLayout)
	row := &ConversationRow{
		ID:                 stringPtr(c.ID),
		Type:               &convType,
		CreatedAt:          &createdAt,
		LastMessagePreview: stringPtr(c.LastMessagePreview),
		UnreadCountAdmin:   intPtr(c.UnreadCountAdmin),
		UnreadCountUser:    intPtr(c.UnreadCountUser),
	}
	if c.CustomerID != nil {
		row.CustomerID = stringPtr(*c.CustomerID)
	}
	if c.LastMessageAt != nil {
		row.LastMessageAt = stringPtr(c.LastMessageAt.UTC().Format(WireTimeLayout))
	}
	if c.LastSenderType != nil {
		row.LastSenderType = stringPtr(string(*c.LastSenderType))
	}
	return row
}

func parseWireTime(v *string, fallback time.Time) time.Time {
	if isBlank(v) {
		return fallback
	}
	s := strings.TrimSpace(*v)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}

func isBlank(v *string) bool {
	return v == nil || strings.TrimSpace(*v) == ""
}

func stringPtr(s string) *string {
	return &s
}

func intPtr(i int) *int {
	return &i
}
