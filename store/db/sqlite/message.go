package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	sq "github.com/Masterminds/squirrel"

	"github.com/hrygo/concierge/store"
)

var messageColumns = []string{"id", "conversation_id", "sender_type", "sender_id", "body", "created_at"}

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	stmt, args, err := d.builder.Insert("messages").
		Columns(messageColumns...).
		Values(create.ID, create.ConversationID, string(create.SenderType), nullString(create.SenderID), create.Body, formatTime(create.CreatedAt)).
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	message := *create
	message.CreatedAt = create.CreatedAt.UTC()
	return &message, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	query := d.builder.Select(messageColumns...).From("messages")
	if find.ID != nil {
		query = query.Where(sq.Eq{"id": *find.ID})
	}
	if find.ConversationID != nil {
		query = query.Where(sq.Eq{"conversation_id": *find.ConversationID})
	}
	if find.Before != nil {
		query = query.Where(sq.Lt{"created_at": formatTime(*find.Before)})
	}
	limited := find.Limit != nil && *find.Limit > 0
	if limited {
		query = query.OrderBy("created_at DESC", "id DESC").Limit(uint64(*find.Limit))
	} else {
		query = query.OrderBy("created_at ASC", "id ASC")
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Message, 0)
	for rows.Next() {
		var (
			m          store.Message
			senderType string
			senderID   sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &senderType, &senderID, &m.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.SenderType = store.SenderType(senderType)
		if senderID.Valid {
			m.SenderID = &senderID.String
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
		}
		list = append(list, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	if limited {
		slices.Reverse(list)
	}
	return list, nil
}
