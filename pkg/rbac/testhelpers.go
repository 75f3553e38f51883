package rbac

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// NewTestDB opens an in-memory SQLite database and applies the schema
// migrations. The schema SQL is written to run on both Postgres and SQLite,
// so store, resolver and guard tests exercise the same queries production
// uses without needing a live database.
func NewTestDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	// :memory: databases are per-connection; a second pooled connection
	// would see an empty schema.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}
