package store

import "time"

// ConversationType is immutable once the conversation is created.
type ConversationType string

const (
	ConversationTypePublic  ConversationType = "public"
	ConversationTypePrivate ConversationType = "private"
)

func (t ConversationType) Valid() bool {
	return t == ConversationTypePublic || t == ConversationTypePrivate
}

type Conversation struct {
	ID   string
	Type ConversationType
	// CustomerID is nil for public conversations.
	CustomerID *string

	CreatedAt          time.Time
	LastMessageAt      *time.Time
	LastMessagePreview string
	LastSenderType     *SenderType

	UnreadCountAdmin int
	UnreadCountUser  int
}

// ConversationOrder selects the ordering of ListConversations.
type ConversationOrder int

const (
	// ConversationOrderCreatedAsc returns the oldest conversation first.
	ConversationOrderCreatedAsc ConversationOrder = iota
	// ConversationOrderCreatedDesc returns the newest conversation first.
	ConversationOrderCreatedDesc
	// ConversationOrderActivityDesc orders by last message time, falling back to creation time.
	ConversationOrderActivityDesc
)

type FindConversation struct {
	ID         *string
	Type       *ConversationType
	CustomerID *string

	OrderBy ConversationOrder
	Limit   *int
}

type UpdateConversation struct {
	ID string

	LastMessageAt      *time.Time
	LastMessagePreview *string
	LastSenderType     *SenderType
	UnreadCountAdmin   *int
	UnreadCountUser    *int

	// IncrementUnreadAdmin and IncrementUnreadUser add one to the counter
	// in the same statement. They are ignored when the matching absolute
	// value is set.
	IncrementUnreadAdmin bool
	IncrementUnreadUser  bool
}
