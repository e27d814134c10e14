package realtime

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/concierge/store"
)

type fakeFinder struct {
	messages map[string]*store.Message
	lookups  int
}

func (f *fakeFinder) ListMessages(_ context.Context, find *store.FindMessage) ([]*store.Message, error) {
	f.lookups++
	if find.ID == nil {
		return nil, nil
	}
	if m, ok := f.messages[*find.ID]; ok {
		return []*store.Message{m}, nil
	}
	return nil, nil
}

func newDetachedPGFeed(finder MessageFinder) *PGFeed {
	return &PGFeed{
		finder:   finder,
		logger:   slog.Default(),
		channels: make(map[string]map[*pgChannel]struct{}),
		done:     make(chan struct{}),
	}
}

func TestPGFeedDispatchLoadsNotifiedRow(t *testing.T) {
	finder := &fakeFinder{messages: map[string]*store.Message{
		"m1": {ID: "m1", ConversationID: "c1", SenderType: store.SenderTypeUser, Body: "hello"},
	}}
	f := newDetachedPGFeed(finder)

	var got []*store.Message
	ch, err := f.Subscribe("c1", func(m *store.Message) { got = append(got, m) })
	require.NoError(t, err)
	defer ch.Close()

	f.dispatch(`{"id":"m2","conversation_id":"other","created_at":"2025-03-01T10:00:00Z"}`)
	assert.Equal(t, 0, finder.lookups, "conversations without channels are not loaded")

	f.dispatch(`{"id":"m1","conversation_id":"c1","created_at":"2025-03-01T10:00:00Z"}`)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Body)

	f.dispatch(`{"id":"gone","conversation_id":"c1"}`)
	f.dispatch(`{"conversation_id":"c1"}`)
	f.dispatch(`not json`)
	assert.Len(t, got, 1)
}

func TestNewPGFeedRequiresFinder(t *testing.T) {
	_, err := NewPGFeed("postgres://localhost/none", nil)
	assert.Error(t, err)
}
