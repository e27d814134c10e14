package store

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/concierge/internal/profile"
)

// ErrNotFound is returned by the Get helpers when no row matches.
var ErrNotFound = errors.New("not found")

// MessageListener observes every message created through the store.
type MessageListener func(*Message)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	mu        sync.RWMutex
	listeners []MessageListener
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// AddMessageListener registers l to run after every successful CreateMessage.
func (s *Store) AddMessageListener(l MessageListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error) {
	if !create.Type.Valid() {
		return nil, errors.Errorf("invalid conversation type %q", create.Type)
	}
	if create.Type == ConversationTypePrivate && (create.CustomerID == nil || *create.CustomerID == "") {
		return nil, errors.New("private conversation requires a customer id")
	}
	if create.Type == ConversationTypePublic {
		create.CustomerID = nil
	}
	if create.ID == "" {
		create.ID = uuid.NewString()
	}
	if create.CreatedAt.IsZero() {
		create.CreatedAt = time.Now().UTC()
	}
	return s.driver.CreateConversation(ctx, create)
}

func (s *Store) ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error) {
	return s.driver.ListConversations(ctx, find)
}

// GetConversation returns the conversation with id or ErrNotFound.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	limit := 1
	list, err := s.driver.ListConversations(ctx, &FindConversation{ID: &id, Limit: &limit})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "conversation %s", id)
	}
	return list[0], nil
}

func (s *Store) UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error) {
	return s.driver.UpdateConversation(ctx, update)
}

// TouchConversation records m as the latest message of its conversation:
// timestamp, preview, sender type, and the unread counter of the audience
// that did not write it.
func (s *Store) TouchConversation(ctx context.Context, m *Message) (*Conversation, error) {
	preview := PreviewOf(m.Body)
	senderType := m.SenderType
	createdAt := m.CreatedAt
	update := &UpdateConversation{
		ID:                 m.ConversationID,
		LastMessageAt:      &createdAt,
		LastMessagePreview: &preview,
		LastSenderType:     &senderType,
	}
	if m.SenderType == SenderTypeUser {
		update.IncrementUnreadAdmin = true
	} else {
		update.IncrementUnreadUser = true
	}
	return s.driver.UpdateConversation(ctx, update)
}

func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	if !create.SenderType.Valid() {
		return nil, errors.Errorf("invalid sender type %q", create.SenderType)
	}
	if strings.TrimSpace(create.Body) == "" {
		return nil, errors.New("message body is empty")
	}
	if create.ID == "" {
		create.ID = uuid.NewString()
	}
	if create.CreatedAt.IsZero() {
		create.CreatedAt = time.Now().UTC()
	}
	message, err := s.driver.CreateMessage(ctx, create)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	listeners := append([]MessageListener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, l := range listeners {
		l(message)
	}
	return message, nil
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

func (s *Store) GetAISettings(ctx context.Context) (*AISettings, error) {
	return s.driver.GetAISettings(ctx)
}

func (s *Store) UpsertAISettings(ctx context.Context, upsert *AISettings) (*AISettings, error) {
	if upsert.Mode == "" {
		upsert.Mode = AIModeOff
	}
	if !upsert.Mode.Valid() {
		return nil, errors.Errorf("invalid ai mode %q", upsert.Mode)
	}
	if upsert.Key == nil {
		key := DefaultAISettingsKey
		upsert.Key = &key
	}
	if upsert.ID == "" {
		upsert.ID = uuid.NewString()
	}
	if upsert.Prompts == nil {
		upsert.Prompts = map[string]string{}
	}
	upsert.UpdatedAt = time.Now().UTC()
	return s.driver.UpsertAISettings(ctx, upsert)
}

func (s *Store) CreateAILog(ctx context.Context, create *AILog) (*AILog, error) {
	if create.ID == "" {
		create.ID = shortuuid.New()
	}
	if create.CreatedAt.IsZero() {
		create.CreatedAt = time.Now().UTC()
	}
	if create.RequestJSON == "" {
		create.RequestJSON = "{}"
	}
	return s.driver.CreateAILog(ctx, create)
}

func (s *Store) ListAILogs(ctx context.Context, find *FindAILog) ([]*AILog, error) {
	return s.driver.ListAILogs(ctx, find)
}

func (s *Store) logger() *slog.Logger {
	return slog.Default().With("component", "store")
}
