package store

import (
	"strings"
	"time"
	"unicode/utf8"
)

type SenderType string

const (
	SenderTypeUser   SenderType = "user"
	SenderTypeAdmin  SenderType = "admin"
	SenderTypeSystem SenderType = "system"
	SenderTypeAI     SenderType = "ai"
)

func (t SenderType) Valid() bool {
	switch t {
	case SenderTypeUser, SenderTypeAdmin, SenderTypeSystem, SenderTypeAI:
		return true
	}
	return false
}

const (
	// MaxPreviewLength is the rune limit of Conversation.LastMessagePreview.
	MaxPreviewLength = 80
	// MaxMessageLength is the rune limit of a message body.
	MaxMessageLength = 2000
)

type Message struct {
	ID             string
	ConversationID string
	SenderType     SenderType
	// SenderID is nil for guests, system and ai messages.
	SenderID  *string
	Body      string
	CreatedAt time.Time
}

type FindMessage struct {
	ID             *string
	ConversationID *string
	// Before restricts the result to messages created strictly earlier.
	Before *time.Time

	// Limit returns the newest Limit messages. The result is always
	// ordered by creation time ascending.
	Limit *int
}

// PreviewOf returns body trimmed and truncated to MaxPreviewLength runes.
func PreviewOf(body string) string {
	body = strings.TrimSpace(body)
	if utf8.RuneCountInString(body) <= MaxPreviewLength {
		return body
	}
	runes := []rune(body)
	return string(runes[:MaxPreviewLength])
}
