// Package sqlitestore implements remote.Store on a local SQLite file.
//
// The whole workbook lives in one table keyed by (sheet, row_key). A
// per-sheet seq column preserves insertion order so ReadAll returns rows the
// way a spreadsheet would list them. Record columns are stored as a JSON
// object.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/kopikiosk/internal/remote"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added (sheet, seq) index for ordered reads
const currentSchemaVersion = 1

// Store is a SQLite-backed remote store.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode so report reads do not block the flush writer
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// Safe to call repeatedly on the same path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ReadAll returns every row of a sheet ordered by insertion.
func (s *Store) ReadAll(ctx context.Context, sheet remote.Sheet) ([]remote.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT row_key, data FROM sheet_rows
		WHERE sheet = ?
		ORDER BY seq ASC, row_key ASC
	`, string(sheet))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sheet, err)
	}
	defer rows.Close()

	var out []remote.Row
	for rows.Next() {
		var (
			key  string
			data string
		)
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("read %s: %w", sheet, err)
		}
		rec := remote.Record{}
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("read %s: decode row %s: %w", sheet, key, err)
		}
		out = append(out, remote.Row{Key: key, Record: rec})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", sheet, err)
	}
	return out, nil
}

// AppendRow inserts rec under a new UUIDv7 key at the end of the sheet.
func (s *Store) AppendRow(ctx context.Context, sheet remote.Sheet, rec remote.Record) (string, error) {
	key := uuid.Must(uuid.NewV7()).String()
	if err := s.upsert(ctx, sheet, key, rec); err != nil {
		return "", fmt.Errorf("append %s: %w", sheet, err)
	}
	return key, nil
}

// WriteRow overwrites the row with key. A new key is appended at the end;
// an existing key keeps its position.
func (s *Store) WriteRow(ctx context.Context, sheet remote.Sheet, key string, rec remote.Record) error {
	if err := s.upsert(ctx, sheet, key, rec); err != nil {
		return fmt.Errorf("write %s/%s: %w", sheet, key, err)
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, sheet remote.Sheet, key string, rec remote.Record) error {
	if rec == nil {
		rec = remote.Record{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sheet_rows (sheet, row_key, seq, data)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM sheet_rows WHERE sheet = ?), ?)
		ON CONFLICT(sheet, row_key) DO UPDATE SET
			data = excluded.data,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	`, string(sheet), key, string(sheet), string(data))
	return err
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_sheet_rows_seq
		ON sheet_rows(sheet, seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

var _ remote.Store = (*Store)(nil)
