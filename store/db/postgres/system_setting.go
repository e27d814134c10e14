package postgres

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/hrygo/concierge/store"
)

func (d *DB) UpsertSystemSetting(ctx context.Context, upsert *store.SystemSetting) (*store.SystemSetting, error) {
	stmt, args, err := d.builder.Insert("system_setting").
		Columns("name", "value").
		Values(upsert.Name, upsert.Value).
		Suffix("ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value").
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, errors.Wrapf(err, "failed to upsert system setting %s", upsert.Name)
	}
	return upsert, nil
}

func (d *DB) GetSystemSetting(ctx context.Context, find *store.FindSystemSetting) (*store.SystemSetting, error) {
	stmt, args, err := d.builder.Select("name", "value").
		From("system_setting").
		Where(sq.Eq{"name": find.Name}).
		ToSql()
	if err != nil {
		return nil, err
	}
	setting := &store.SystemSetting{}
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&setting.Name, &setting.Value); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to get system setting %s", find.Name)
	}
	return setting, nil
}
