package test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/concierge/store"
)

func TestMessageStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	conversation, err := ts.CreateConversation(ctx, &store.Conversation{Type: store.ConversationTypePublic})
	require.NoError(t, err)

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	created := make([]*store.Message, 0, 5)
	for i := 0; i < 5; i++ {
		m, err := ts.CreateMessage(ctx, &store.Message{
			ConversationID: conversation.ID,
			SenderType:     store.SenderTypeUser,
			Body:           fmt.Sprintf("message %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		require.NotEmpty(t, m.ID)
		created = append(created, m)
	}

	t.Run("all ascending", func(t *testing.T) {
		list, err := ts.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID})
		require.NoError(t, err)
		require.Len(t, list, 5)
		for i, m := range list {
			assert.Equal(t, created[i].ID, m.ID)
		}
	})

	t.Run("limit returns newest page ascending", func(t *testing.T) {
		limit := 2
		list, err := ts.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID, Limit: &limit})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "message 3", list[0].Body)
		assert.Equal(t, "message 4", list[1].Body)
	})

	t.Run("before is exclusive", func(t *testing.T) {
		limit := 10
		before := created[2].CreatedAt
		list, err := ts.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID, Before: &before, Limit: &limit})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "message 0", list[0].Body)
		assert.Equal(t, "message 1", list[1].Body)
	})

	t.Run("sender id round trips", func(t *testing.T) {
		sender := "user-42"
		m, err := ts.CreateMessage(ctx, &store.Message{
			ConversationID: conversation.ID,
			SenderType:     store.SenderTypeUser,
			SenderID:       &sender,
			Body:           "with sender",
			CreatedAt:      base.Add(time.Minute),
		})
		require.NoError(t, err)
		list, err := ts.ListMessages(ctx, &store.FindMessage{ID: &m.ID})
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.NotNil(t, list[0].SenderID)
		assert.Equal(t, sender, *list[0].SenderID)
		assert.True(t, m.CreatedAt.Equal(list[0].CreatedAt))
	})
}

func TestMessageStoreLongestBody(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	conversation, err := ts.CreateConversation(ctx, &store.Conversation{Type: store.ConversationTypePublic})
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
	}{
		{"four byte runes", strings.Repeat("😀", store.MaxMessageLength)},
		{"control characters", strings.Repeat("\x01", store.MaxMessageLength)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ts.CreateMessage(ctx, &store.Message{
				ConversationID: conversation.ID,
				SenderType:     store.SenderTypeUser,
				Body:           tt.body,
			})
			require.NoError(t, err)
			list, err := ts.ListMessages(ctx, &store.FindMessage{ID: &m.ID})
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, tt.body, list[0].Body)
		})
	}
}

func TestMessageStoreValidation(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	conversation, err := ts.CreateConversation(ctx, &store.Conversation{Type: store.ConversationTypePublic})
	require.NoError(t, err)

	_, err = ts.CreateMessage(ctx, &store.Message{ConversationID: conversation.ID, SenderType: "bot", Body: "hi"})
	assert.Error(t, err)

	_, err = ts.CreateMessage(ctx, &store.Message{ConversationID: conversation.ID, SenderType: store.SenderTypeUser, Body: "   "})
	assert.Error(t, err)

	_, err = ts.CreateMessage(ctx, &store.Message{ConversationID: "missing", SenderType: store.SenderTypeUser, Body: "hi"})
	assert.Error(t, err, "foreign key to conversations is enforced")
}

func TestMessageListener(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	var (
		mu   sync.Mutex
		seen []string
	)
	ts.AddMessageListener(func(m *store.Message) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, m.ID)
	})

	conversation, err := ts.CreateConversation(ctx, &store.Conversation{Type: store.ConversationTypePublic})
	require.NoError(t, err)
	m, err := ts.CreateMessage(ctx, &store.Message{ConversationID: conversation.ID, SenderType: store.SenderTypeUser, Body: "hi"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{m.ID}, seen)
}
