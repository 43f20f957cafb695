package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/dvloznov/ledger-importer/internal/store"
	"github.com/dvloznov/ledger-importer/internal/store/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openTestStore(t)
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ran, err := s.Migrate(ctx)
	if err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
	if len(ran) != 0 {
		t.Errorf("expected no migrations on second run, got %d", len(ran))
	}
	s.Close()

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopening failed: %v", err)
	}
	defer reopened.Close()

	var count int
	if err := reopened.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("counting migrations failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 recorded migrations, got %d", count)
	}
}

func TestReadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_second.sql":       {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"0001_first.sql":        {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"001_invalid.sql":       {Data: []byte("SELECT 1;")},
		"0003_missing_ext":      {Data: []byte("SELECT 1;")},
		"invalid_0004_test.sql": {Data: []byte("SELECT 1;")},
	}

	migrations, err := readMigrations(fsys)
	if err != nil {
		t.Fatalf("readMigrations failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "first" {
		t.Errorf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[1].Version != 2 || migrations[1].Filename != "0002_second.sql" {
		t.Errorf("unexpected second migration: %+v", migrations[1])
	}
	if migrations[0].Checksum == migrations[1].Checksum {
		t.Error("different content should produce different checksums")
	}
}

func TestMigrate_DetectsModifiedMigration(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	defer s.Close()

	if _, err := s.db.ExecContext(ctx, `UPDATE schema_migrations SET checksum = 'tampered' WHERE version = 1`); err != nil {
		t.Fatalf("tampering failed: %v", err)
	}
	if _, err := s.Migrate(ctx); err == nil {
		t.Fatal("expected error for modified migration")
	}
}
