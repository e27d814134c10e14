package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/concierge/store"
)

// pgUndefinedColumn is the SQLSTATE for a reference to a missing column.
const pgUndefinedColumn = "42703"

var aiSettingsColumns = []string{
	"id", `"key"`, "is_enabled", "mode", "public_chat_enabled", "private_chat_enabled",
	"realtime_enabled", "system_prompt", "prompts", "updated_at",
}

// aiSettingsLegacyColumns is used on databases that predate the key column.
var aiSettingsLegacyColumns = []string{
	"id", "NULL", "is_enabled", "mode", "public_chat_enabled", "private_chat_enabled",
	"TRUE", "system_prompt", "prompts", "updated_at",
}

// GetAISettings looks up the row keyed "default" and falls back to the most
// recently updated row when no keyed row exists or the key column is missing.
func (d *DB) GetAISettings(ctx context.Context) (*store.AISettings, error) {
	keyed := d.builder.Select(aiSettingsColumns...).From("ai_settings").
		Where(sq.Eq{`"key"`: store.DefaultAISettingsKey}).
		Limit(1)
	settings, err := d.queryAISettings(ctx, keyed)
	if err == nil && settings != nil {
		return settings, nil
	}
	columns := aiSettingsColumns
	if err != nil {
		var pqErr *pq.Error
		if !errors.As(err, &pqErr) || pqErr.Code != pgUndefinedColumn {
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
	settings, err := scanAISettings(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get ai settings")
	}
	return settings, nil
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
			upsert.SystemPrompt, string(prompts), upsert.UpdatedAt.UTC(),
		).
		Suffix(`ON CONFLICT ("key") DO UPDATE SET
			is_enabled = EXCLUDED.is_enabled,
			mode = EXCLUDED.mode,
			public_chat_enabled = EXCLUDED.public_chat_enabled,
			private_chat_enabled = EXCLUDED.private_chat_enabled,
			realtime_enabled = EXCLUDED.realtime_enabled,
			system_prompt = EXCLUDED.system_prompt,
			prompts = EXCLUDED.prompts,
			updated_at = EXCLUDED.updated_at
			RETURNING ` + joinColumns(aiSettingsColumns)).
		ToSql()
	if err != nil {
		return nil, err
	}
	settings, err := scanAISettings(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert ai settings: %w", err)
	}
	return settings, nil
}

func scanAISettings(row scanner) (*store.AISettings, error) {
	var (
		s       store.AISettings
		key     sql.NullString
		mode    string
		prompts string
	)
	if err := row.Scan(
		&s.ID, &key, &s.IsEnabled, &mode, &s.PublicChatEnabled, &s.PrivateChatEnabled,
		&s.RealtimeEnabled, &s.SystemPrompt, &prompts, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if key.Valid {
		s.Key = &key.String
	}
	s.Mode = store.AIMode(mode)
	s.UpdatedAt = s.UpdatedAt.UTC()
	s.Prompts = map[string]string{}
	if prompts != "" {
		if err := json.Unmarshal([]byte(prompts), &s.Prompts); err != nil {
			slog.Warn("ignoring malformed ai_settings.prompts", "id", s.ID, "error", err)
			s.Prompts = map[string]string{}
		}
	}
	return &s, nil
}
