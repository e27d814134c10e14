package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// Conversation model related methods.
	CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error)
	ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error)

	// Message model related methods.
	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)

	// GetAISettings returns the logical settings row, or nil when none exists.
	GetAISettings(ctx context.Context) (*AISettings, error)
	UpsertAISettings(ctx context.Context, upsert *AISettings) (*AISettings, error)

	// AILog model related methods.
	CreateAILog(ctx context.Context, create *AILog) (*AILog, error)
	ListAILogs(ctx context.Context, find *FindAILog) ([]*AILog, error)

	// SystemSetting model related methods.
	UpsertSystemSetting(ctx context.Context, upsert *SystemSetting) (*SystemSetting, error)
	GetSystemSetting(ctx context.Context, find *FindSystemSetting) (*SystemSetting, error)
}
