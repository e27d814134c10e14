package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/concierge/store"
)

func TestAISettingsStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	settings, err := ts.GetAISettings(ctx)
	require.NoError(t, err)
	assert.Nil(t, settings, "no row means fully off")

	upserted, err := ts.UpsertAISettings(ctx, &store.AISettings{
		IsEnabled:         true,
		Mode:              store.AIModeAutoReply,
		PublicChatEnabled: true,
		RealtimeEnabled:   true,
		SystemPrompt:      "Be helpful.",
		Prompts:           map[string]string{"de": "Sei hilfreich."},
	})
	require.NoError(t, err)
	require.NotNil(t, upserted.Key)
	assert.Equal(t, store.DefaultAISettingsKey, *upserted.Key)

	settings, err = ts.GetAISettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.Equal(t, upserted.ID, settings.ID)
	assert.True(t, settings.Active())
	assert.True(t, settings.AllowsConversation(store.ConversationTypePublic))
	assert.False(t, settings.AllowsConversation(store.ConversationTypePrivate))
	assert.Equal(t, "Sei hilfreich.", settings.PromptFor("de"))
	assert.Equal(t, "Be helpful.", settings.PromptFor("ar"))

	// A second upsert updates the same logical row.
	again, err := ts.UpsertAISettings(ctx, &store.AISettings{Mode: store.AIModeHumanHandoff, IsEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, upserted.ID, again.ID)
	assert.Equal(t, store.AIModeHumanHandoff, again.Mode)
	assert.False(t, again.RealtimeEnabled)

	_, err = ts.UpsertAISettings(ctx, &store.AISettings{Mode: "always"})
	assert.Error(t, err)
}

func TestAISettingsFallsBackToMostRecentRow(t *testing.T) {
	if getDriverFromEnv() != "sqlite" {
		t.Skip("raw inserts use SQLite placeholders and timestamp text")
	}
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02T15:04:05.000000000Z07:00")
	newer := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02T15:04:05.000000000Z07:00")
	db := ts.GetDriver().GetDB()
	for _, row := range []struct {
		id, mode, updatedAt string
	}{
		{"legacy-1", "off", older},
		{"legacy-2", "auto_reply", newer},
	} {
		_, err := db.ExecContext(ctx,
			`INSERT INTO ai_settings (id, is_enabled, mode, updated_at) VALUES (?, 1, ?, ?)`,
			row.id, row.mode, row.updatedAt)
		require.NoError(t, err)
	}

	settings, err := ts.GetAISettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.Equal(t, "legacy-2", settings.ID)
	assert.Nil(t, settings.Key)
	assert.Equal(t, store.AIModeAutoReply, settings.Mode)
	assert.True(t, settings.RealtimeEnabled, "column default")
}

func TestAISettingsWithoutKeyColumn(t *testing.T) {
	if getDriverFromEnv() != "sqlite" {
		t.Skip("rebuilds the table with SQLite DDL")
	}
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	db := ts.GetDriver().GetDB()
	for _, stmt := range []string{
		`DROP TABLE ai_settings`,
		`CREATE TABLE ai_settings (
			id TEXT NOT NULL PRIMARY KEY,
			is_enabled INTEGER NOT NULL DEFAULT 0,
			mode TEXT NOT NULL DEFAULT 'off',
			public_chat_enabled INTEGER NOT NULL DEFAULT 0,
			private_chat_enabled INTEGER NOT NULL DEFAULT 0,
			system_prompt TEXT NOT NULL DEFAULT '',
			prompts TEXT NOT NULL DEFAULT '{}',
			updated_at TEXT NOT NULL
		)`,
	} {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	updatedAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02T15:04:05.000000000Z07:00")
	_, err := db.ExecContext(ctx,
		`INSERT INTO ai_settings (id, is_enabled, mode, updated_at) VALUES ('legacy', 1, 'human_handoff', ?)`,
		updatedAt)
	require.NoError(t, err)

	settings, err := ts.GetAISettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.Equal(t, "legacy", settings.ID)
	assert.Nil(t, settings.Key, "a missing key column must not read back as the literal \"key\"")
	assert.Equal(t, store.AIModeHumanHandoff, settings.Mode)
	assert.True(t, settings.RealtimeEnabled)
}

func TestAILogStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := ts.CreateAILog(ctx, &store.AILog{Status: store.AILogStatusQueued, CreatedAt: base})
	require.NoError(t, err)
	skipped, err := ts.CreateAILog(ctx, &store.AILog{Status: store.AILogStatusSkipped, RequestJSON: `{"reason":"stub"}`, CreatedAt: base.Add(time.Second)})
	require.NoError(t, err)
	assert.NotEmpty(t, skipped.ID)

	logs, err := ts.ListAILogs(ctx, &store.FindAILog{})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, skipped.ID, logs[0].ID, "newest first")
	assert.Equal(t, "{}", logs[1].RequestJSON)

	status := store.AILogStatusQueued
	logs, err = ts.ListAILogs(ctx, &store.FindAILog{Status: &status})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, store.AILogStatusQueued, logs[0].Status)
}
