package test

import (
	"context"
	"os"
	"testing"

	"github.com/joho/godotenv"

	"github.com/hrygo/concierge/internal/profile"
	"github.com/hrygo/concierge/store"
	"github.com/hrygo/concierge/store/db"
)

// NewTestingStore returns a migrated store. SQLite in a temp dir is the
// default; DRIVER=postgres with POSTGRES_TEST_DSN targets a real server.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()
	p := getTestingProfile(t)
	dbDriver, err := db.NewDBDriver(p)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}
	s := store.New(dbDriver, p)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Logf("failed to close store: %v", err)
		}
	})
	return s
}

func getTestingProfile(t *testing.T) *profile.Profile {
	// Optional local overrides, e.g. POSTGRES_TEST_DSN.
	_ = godotenv.Load("../../.env.test")

	driver := getDriverFromEnv()
	p := &profile.Profile{
		Mode:   "dev",
		Driver: driver,
		Data:   t.TempDir(),
	}
	if driver == "postgres" {
		dsn := os.Getenv("POSTGRES_TEST_DSN")
		if dsn == "" {
			t.Skip("POSTGRES_TEST_DSN is not set")
		}
		p.DSN = dsn
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("invalid testing profile: %v", err)
	}
	return p
}

func getDriverFromEnv() string {
	driver := os.Getenv("DRIVER")
	if driver == "" {
		driver = "sqlite"
	}
	return driver
}
