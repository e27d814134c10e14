package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	// Import the pure-Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/concierge/internal/profile"
	"github.com/hrygo/concierge/store"
)

// ============================================================================
// SQLITE SUPPORT (Development / Testing)
// ============================================================================
// SQLite has no change feed; pair it with the in-process realtime hub.
// Timestamps are stored as fixed-width UTC text so that ORDER BY and range
// predicates on the text column match chronological order.
// ============================================================================

// timeLayout always renders nine fractional digits and "Z" for UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type DB struct {
	db      *sql.DB
	profile *profile.Profile
	builder sq.StatementBuilderType
}

// NewDB opens a SQLite database with foreign keys and a busy timeout enabled.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	sqliteDB, err := sql.Open("sqlite", dsnWithPragmas(profile.DSN))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	sqliteDB.SetMaxOpenConns(1)

	if err := sqliteDB.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}

	driver := DB{
		db:      sqliteDB,
		profile: profile,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
	return &driver, nil
}

func dsnWithPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = 'conversations')").Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check if database is initialized")
	}
	return exists, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by hand may use any RFC 3339 precision.
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC(), err
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

type scanner interface {
	Scan(dest ...any) error
}

func joinColumns(columns []string) string {
	return strings.Join(columns, ", ")
}
