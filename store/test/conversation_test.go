package test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/concierge/store"
)

func TestConversationStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	first, err := ts.CreateConversation(ctx, &store.Conversation{Type: store.ConversationTypePublic, CreatedAt: base})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	assert.Nil(t, first.CustomerID)
	assert.Equal(t, 0, first.UnreadCountAdmin)
	assert.True(t, base.Equal(first.CreatedAt))

	_, err = ts.CreateConversation(ctx, &store.Conversation{Type: store.ConversationTypePublic, CreatedAt: base.Add(time.Hour)})
	require.NoError(t, err)

	publicType := store.ConversationTypePublic
	limit := 1
	list, err := ts.ListConversations(ctx, &store.FindConversation{Type: &publicType, Limit: &limit})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID, "earliest public conversation comes first")

	got, err := ts.GetConversation(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ConversationTypePublic, got.Type)

	_, err = ts.GetConversation(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestConversationStoreValidation(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	_, err := ts.CreateConversation(ctx, &store.Conversation{Type: "group"})
	assert.Error(t, err)

	_, err = ts.CreateConversation(ctx, &store.Conversation{Type: store.ConversationTypePrivate})
	assert.Error(t, err, "private conversation needs a customer")

	customer := "cust-1"
	public, err := ts.CreateConversation(ctx, &store.Conversation{Type: store.ConversationTypePublic, CustomerID: &customer})
	require.NoError(t, err)
	assert.Nil(t, public.CustomerID, "public conversations never carry a customer")
}

func TestPrivateConversationLookup(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	alice, bob := "alice", "bob"
	older, err := ts.CreateConversation(ctx, &store.Conversation{Type: store.ConversationTypePrivate, CustomerID: &alice, CreatedAt: base})
	require.NoError(t, err)
	newer, err := ts.CreateConversation(ctx, &store.Conversation{Type: store.ConversationTypePrivate, CustomerID: &alice, CreatedAt: base.Add(time.Minute)})
	require.NoError(t, err)
	_, err = ts.CreateConversation(ctx, &store.Conversation{Type: store.ConversationTypePrivate, CustomerID: &bob, CreatedAt: base.Add(time.Hour)})
	require.NoError(t, err)

	privateType := store.ConversationTypePrivate
	limit := 1
	list, err := ts.ListConversations(ctx, &store.FindConversation{
		Type:       &privateType,
		CustomerID: &alice,
		OrderBy:    store.ConversationOrderCreatedDesc,
		Limit:      &limit,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.NotEqual(t, older.ID, list[0].ID)
	require.NotNil(t, list[0].CustomerID)
	assert.Equal(t, alice, *list[0].CustomerID)
}

func TestTouchConversation(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	conversation, err := ts.CreateConversation(ctx, &store.Conversation{Type: store.ConversationTypePublic})
	require.NoError(t, err)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	updated, err := ts.TouchConversation(ctx, &store.Message{
		ConversationID: conversation.ID,
		SenderType:     store.SenderTypeUser,
		Body:           "  Hello there  ",
		CreatedAt:      at,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", updated.LastMessagePreview)
	require.NotNil(t, updated.LastMessageAt)
	assert.True(t, at.Equal(*updated.LastMessageAt))
	require.NotNil(t, updated.LastSenderType)
	assert.Equal(t, store.SenderTypeUser, *updated.LastSenderType)
	assert.Equal(t, 1, updated.UnreadCountAdmin)
	assert.Equal(t, 0, updated.UnreadCountUser)

	updated, err = ts.TouchConversation(ctx, &store.Message{
		ConversationID: conversation.ID,
		SenderType:     store.SenderTypeAdmin,
		Body:           "Hi!",
		CreatedAt:      at.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.UnreadCountAdmin)
	assert.Equal(t, 1, updated.UnreadCountUser)

	zero := 0
	updated, err = ts.UpdateConversation(ctx, &store.UpdateConversation{ID: conversation.ID, UnreadCountAdmin: &zero})
	require.NoError(t, err)
	assert.Equal(t, 0, updated.UnreadCountAdmin)
	assert.Equal(t, 1, updated.UnreadCountUser)

	_, err = ts.UpdateConversation(ctx, &store.UpdateConversation{ID: "missing", UnreadCountAdmin: &zero})
	assert.Error(t, err)
}

func TestConversationsByActivity(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	quiet, err := ts.CreateConversation(ctx, &store.Conversation{Type: store.ConversationTypePublic, CreatedAt: base.Add(time.Hour)})
	require.NoError(t, err)
	busy, err := ts.CreateConversation(ctx, &store.Conversation{Type: store.ConversationTypePublic, CreatedAt: base})
	require.NoError(t, err)

	_, err = ts.TouchConversation(ctx, &store.Message{ConversationID: busy.ID, SenderType: store.SenderTypeUser, Body: "ping", CreatedAt: base.Add(2 * time.Hour)})
	require.NoError(t, err)

	list, err := ts.ListConversations(ctx, &store.FindConversation{OrderBy: store.ConversationOrderActivityDesc})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, busy.ID, list[0].ID)
	assert.Equal(t, quiet.ID, list[1].ID)
}
