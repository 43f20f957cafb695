package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/dvloznov/ledger-importer/internal/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migrationPattern matches migration files: 0001_name.sql
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// Migration represents a single migration file.
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// readMigrations reads every migration file in fsys, ordered by version.
func readMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		matches := migrationPattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}

		version, err := strconv.Atoi(matches[1])
		if err != nil {
			return nil, fmt.Errorf("parsing version of %s: %w", entry.Name(), err)
		}

		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     matches[2],
			Filename: entry.Name(),
			SQL:      string(content),
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// Migrate applies every embedded migration that has not been applied yet and
// returns the ones it ran. A previously applied migration whose file content
// changed is an error.
func (s *Store) Migrate(ctx context.Context) ([]Migration, error) {
	log := logger.FromContext(ctx)

	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("Migrate: %w", err)
	}
	migrations, err := readMigrations(sub)
	if err != nil {
		return nil, fmt.Errorf("Migrate: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at DATETIME NOT NULL,
			checksum   TEXT
		)`); err != nil {
		return nil, fmt.Errorf("Migrate: ensuring schema_migrations table: %w", err)
	}

	applied, err := s.appliedChecksums(ctx)
	if err != nil {
		return nil, fmt.Errorf("Migrate: %w", err)
	}

	var ran []Migration
	for _, m := range migrations {
		if checksum, ok := applied[m.Version]; ok {
			if checksum != "" && checksum != m.Checksum {
				return ran, fmt.Errorf("Migrate: migration %04d_%s was modified after it was applied", m.Version, m.Name)
			}
			log.Debug().Int("version", m.Version).Str("name", m.Name).Msg("Migration already applied")
			continue
		}

		if err := s.applyMigration(ctx, m); err != nil {
			return ran, fmt.Errorf("Migrate: applying %04d_%s: %w", m.Version, m.Name, err)
		}
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Applied migration")
		ran = append(ran, m)
	}

	return ran, nil
}

func (s *Store) appliedChecksums(ctx context.Context) (map[int]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]string)
	for rows.Next() {
		var version int
		var checksum sql.NullString
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("scanning applied migration: %w", err)
		}
		applied[version] = checksum.String
	}
	return applied, rows.Err()
}

func (s *Store) applyMigration(ctx context.Context, m Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("executing: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, applied_at, checksum) VALUES (?, ?, ?, ?)`,
		m.Version, m.Name, formatTime(time.Now()), m.Checksum,
	); err != nil {
		return fmt.Errorf("recording: %w", err)
	}
	return tx.Commit()
}
