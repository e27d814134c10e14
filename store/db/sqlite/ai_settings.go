package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/hrygo/concierge/store"
)

// keyColumn is quoted with backticks: SQLite reads an unknown "key" as a
// string literal, which would hide a missing column.
const keyColumn = "`key`"

var aiSettingsColumns = []string{
	"id", keyColumn, "is_enabled", "mode", "public_chat_enabled", "private_chat_enabled",
	"realtime_enabled", "system_prompt", "prompts", "updated_at",
}

var aiSettingsLegacyColumns = []string{
	"id", "NULL", "is_enabled", "mode", "public_chat_enabled", "private_chat_enabled",
	"1", "system_prompt", "prompts", "updated_at",
}

func (d *DB) GetAISettings(ctx context.Context) (*store.AISettings, error) {
	keyed := d.builder.Select(aiSettingsColumns...).From("ai_settings").
		Where(sq.Eq{keyColumn: store.DefaultAISettingsKey}).
		Limit(1)
	settings, err := d.queryAISettings(ctx, keyed)
	if err == nil && settings != nil {
		return settings, nil
	}
	columns := aiSettingsColumns
	if err != nil {
		if !strings.Contains(err.Error(), "no such column") {
			return nil, err
		}
		slog.Warn("ai_settings has no key column, using the most recent row", "error", err)
		columns = aiSettingsLegacyColumns
	}

	latest := d.builder.Select(columns...).From("ai_settings").
		OrderBy("updated_at DESC").
		Limit(1)
	return d.queryAISettings(ctx, latest)
}

func (d *DB) queryAISettings(ctx context.Context, query sq.SelectBuilder) (*store.AISettings, error) {
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	var (
		s         store.AISettings
		key       sql.NullString
		mode      string
		prompts   string
		updatedAt string
	)
	err = d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&s.ID, &key, &s.IsEnabled, &mode, &s.PublicChatEnabled, &s.PrivateChatEnabled,
		&s.RealtimeEnabled, &s.SystemPrompt, &prompts, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get ai settings")
	}
	if key.Valid {
		s.Key = &key.String
	}
	s.Mode = store.AIMode(mode)
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "invalid updated_at %q", updatedAt)
	}
	s.Prompts = map[string]string{}
	if prompts != "" {
		if err := json.Unmarshal([]byte(prompts), &s.Prompts); err != nil {
			slog.Warn("ignoring malformed ai_settings.prompts", "id", s.ID, "error", err)
			s.Prompts = map[string]string{}
		}
	}
	return &s, nil
}

func (d *DB) UpsertAISettings(ctx context.Context, upsert *store.AISettings) (*store.AISettings, error) {
	prompts, err := json.Marshal(upsert.Prompts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal prompts")
	}
	stmt, args, err := d.builder.Insert("ai_settings").
		Columns(aiSettingsColumns...).
		Values(
			upsert.ID, nullString(upsert.Key), upsert.IsEnabled, string(upsert.Mode),
			upsert.PublicChatEnabled, upsert.PrivateChatEnabled, upsert.RealtimeEnabled,
			upsert.SystemPrompt, string(prompts), formatTime(upsert.UpdatedAt),
		).
		Suffix(`ON CONFLICT (`+keyColumn+`) DO UPDATE SET
			is_enabled = excluded.is_enabled,
			mode = excluded.mode,
			public_chat_enabled = excluded.public_chat_enabled,
			private_chat_enabled = excluded.private_chat_enabled,
			realtime_enabled = excluded.realtime_enabled,
			system_prompt = excluded.system_prompt,
			prompts = excluded.prompts,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "failed to upsert ai settings")
	}

	keyed := d.builder.Select(aiSettingsColumns...).From("ai_settings").
		Where(sq.Eq{keyColumn: *upsert.Key})
	return d.queryAISettings(ctx, keyed)
}
