package postgres

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/hrygo/concierge/store"
)

var conversationColumns = []string{
	"id", "type", "customer_id", "created_at", "last_message_at",
	"last_message_preview", "last_sender_type", "unread_count_admin", "unread_count_user",
}

func (d *DB) CreateConversation(ctx context.Context, create *store.Conversation) (*store.Conversation, error) {
	stmt, args, err := d.builder.Insert("conversations").
		Columns("id", "type", "customer_id", "created_at").
		Values(create.ID, string(create.Type), nullString(create.CustomerID), create.CreatedAt.UTC()).
		Suffix("RETURNING " + joinColumns(conversationColumns)).
		ToSql()
	if err != nil {
		return nil, err
	}
	conversation, err := scanConversation(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conversation, nil
}

func (d *DB) ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error) {
	query := d.builder.Select(conversationColumns...).From("conversations")
	if find.ID != nil {
		query = query.Where(sq.Eq{"id": *find.ID})
	}
	if find.Type != nil {
		query = query.Where(sq.Eq{"type": string(*find.Type)})
	}
	if find.CustomerID != nil {
		query = query.Where(sq.Eq{"customer_id": *find.CustomerID})
	}
	switch find.OrderBy {
	case store.ConversationOrderCreatedDesc:
		query = query.OrderBy("created_at DESC", "id DESC")
	case store.ConversationOrderActivityDesc:
		query = query.OrderBy("COALESCE(last_message_at, created_at) DESC", "id DESC")
	default:
		query = query.OrderBy("created_at ASC", "id ASC")
	}
	if find.Limit != nil && *find.Limit > 0 {
		query = query.Limit(uint64(*find.Limit))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Conversation, 0)
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		list = append(list, conversation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return list, nil
}

func (d *DB) UpdateConversation(ctx context.Context, update *store.UpdateConversation) (*store.Conversation, error) {
	query := d.builder.Update("conversations")
	changed := false
	if update.LastMessageAt != nil {
		query, changed = query.Set("last_message_at", update.LastMessageAt.UTC()), true
	}
	if update.LastMessagePreview != nil {
		query, changed = query.Set("last_message_preview", *update.LastMessagePreview), true
	}
	if update.LastSenderType != nil {
		query, changed = query.Set("last_sender_type", string(*update.LastSenderType)), true
	}
	if update.UnreadCountAdmin != nil {
		query, changed = query.Set("unread_count_admin", *update.UnreadCountAdmin), true
	} else if update.IncrementUnreadAdmin {
		query, changed = query.Set("unread_count_admin", sq.Expr("unread_count_admin + 1")), true
	}
	if update.UnreadCountUser != nil {
		query, changed = query.Set("unread_count_user", *update.UnreadCountUser), true
	} else if update.IncrementUnreadUser {
		query, changed = query.Set("unread_count_user", sq.Expr("unread_count_user + 1")), true
	}
	if !changed {
		return nil, fmt.Errorf("no fields to update")
	}

	stmt, args, err := query.
		Where(sq.Eq{"id": update.ID}).
		Suffix("RETURNING " + joinColumns(conversationColumns)).
		ToSql()
	if err != nil {
		return nil, err
	}
	conversation, err := scanConversation(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("conversation %s not found", update.ID)
		}
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	return conversation, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*store.Conversation, error) {
	var (
		c              store.Conversation
		convType       string
		customerID     sql.NullString
		lastMessageAt  sql.NullTime
		lastSenderType sql.NullString
	)
	if err := row.Scan(
		&c.ID, &convType, &customerID, &c.CreatedAt, &lastMessageAt,
		&c.LastMessagePreview, &lastSenderType, &c.UnreadCountAdmin, &c.UnreadCountUser,
	); err != nil {
		return nil, err
	}
	c.Type = store.ConversationType(convType)
	c.CreatedAt = c.CreatedAt.UTC()
	if customerID.Valid {
		c.CustomerID = &customerID.String
	}
	if lastMessageAt.Valid {
		t := lastMessageAt.Time.UTC()
		c.LastMessageAt = &t
	}
	if lastSenderType.Valid {
		st := store.SenderType(lastSenderType.String)
		c.LastSenderType = &st
	}
	return &c, nil
}
