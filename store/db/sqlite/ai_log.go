package sqlite

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/hrygo/concierge/store"
)

func (d *DB) CreateAILog(ctx context.Context, create *store.AILog) (*store.AILog, error) {
	stmt, args, err := d.builder.Insert("ai_logs").
		Columns("id", "status", "request_json", "created_at").
		Values(create.ID, string(create.Status), create.RequestJSON, formatTime(create.CreatedAt)).
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to create ai log: %w", err)
	}
	return create, nil
}

func (d *DB) ListAILogs(ctx context.Context, find *store.FindAILog) ([]*store.AILog, error) {
	query := d.builder.Select("id", "status", "request_json", "created_at").
		From("ai_logs").
		OrderBy("created_at DESC", "id DESC")
	if find.Status != nil {
		query = query.Where(sq.Eq{"status": string(*find.Status)})
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
		return nil, fmt.Errorf("failed to list ai logs: %w", err)
	}
	defer rows.Close()

	list := make([]*store.AILog, 0)
	for rows.Next() {
		var (
			l         store.AILog
			status    string
			createdAt string
		)
		if err := rows.Scan(&l.ID, &status, &l.RequestJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan ai log: %w", err)
		}
		l.Status = store.AILogStatus(status)
		if l.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
		}
		list = append(list, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ai logs: %w", err)
	}
	return list, nil
}
