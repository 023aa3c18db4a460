package migrate

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunCreatesDetectionsTable(t *testing.T) {
	db := openTestDB(t)

	applied, err := NewRunner(db).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if applied != 2 {
		t.Errorf("applied = %d, want 2", applied)
	}

	for _, table := range []string{"detections", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT table_name FROM information_schema.tables WHERE table_name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db)

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	applied, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if applied != 0 {
		t.Errorf("second Run applied %d migrations, want 0", applied)
	}

	if v := schemaVersion(t, db); v != 2 {
		t.Errorf("schema version = %d, want 2", v)
	}
}

func TestRunRecordsEachMigration(t *testing.T) {
	db := openTestDB(t)
	if _, err := NewRunner(db).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 2 {
		t.Errorf("recorded %d migrations, want 2", n)
	}
}

func TestRunHonoursCancelledContext(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewRunner(db).Run(ctx); err == nil {
		t.Fatal("expected Run to fail with a cancelled context")
	}
}

func schemaVersion(t *testing.T, db *sql.DB) int {
	t.Helper()
	var v sql.NullInt64
	if err := db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		t.Fatalf("schema version: %v", err)
	}
	return int(v.Int64)
}
