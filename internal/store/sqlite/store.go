package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dvloznov/ledger-importer/internal/store"

	_ "modernc.org/sqlite"
)

// timeLayout is the textual form of DATETIME columns, always in UTC.
const timeLayout = "2006-01-02 15:04:05.000000"

// Store is the SQLite implementation of store.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger database at path and applies
// pending migrations. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("Open: opening %s: %w", path, err)
	}
	// A single connection serializes sessions and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: pinging %s: %w", path, err)
	}

	s := &Store{db: db}
	if _, err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: %w", err)
	}
	return s, nil
}

// Begin implements the store.Store interface.
func (s *Store) Begin(ctx context.Context) (store.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Begin: %w", err)
	}
	return &session{db: s.db, tx: tx}, nil
}

// Close implements the store.Store interface.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// timeScanner reads a DATETIME column written by formatTime. The driver may
// hand back either text or an already parsed time.
type timeScanner struct {
	dst *time.Time
}

func (ts timeScanner) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*ts.dst = v.UTC()
		return nil
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	case nil:
		*ts.dst = time.Time{}
		return nil
	}
	return fmt.Errorf("unsupported time value %T", src)
}

func (ts timeScanner) parse(s string) error {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return fmt.Errorf("parsing time %q: %w", s, err)
	}
	*ts.dst = t
	return nil
}

func scanTime(dst *time.Time) timeScanner {
	return timeScanner{dst: dst}
}

// Ensure Store implements store.Store interface.
var _ store.Store = (*Store)(nil)
