// Package pgstore implements remote.Store on Postgres so several kiosks can
// share one workbook.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/kopikiosk/internal/remote"
)

// Config holds connection settings.
type Config struct {
	DSN      string
	MaxConns int
}

// Store is a Postgres-backed remote store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects, pings, and ensures the table exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureTable(ctx context.Context) error {
	const stmt = `
		CREATE TABLE IF NOT EXISTS sheet_rows (
			sheet      TEXT        NOT NULL,
			row_key    TEXT        NOT NULL,
			seq        BIGSERIAL,
			data       JSONB       NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (sheet, row_key)
		);
		CREATE INDEX IF NOT EXISTS idx_sheet_rows_seq ON sheet_rows (sheet, seq);
	`
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure sheet_rows: %w", err)
	}
	return nil
}

// ReadAll returns every row of a sheet ordered by insertion.
func (s *Store) ReadAll(ctx context.Context, sheet remote.Sheet) ([]remote.Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT row_key, data FROM sheet_rows
		WHERE sheet = $1
		ORDER BY seq ASC
	`, string(sheet))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sheet, err)
	}
	defer rows.Close()

	var out []remote.Row
	for rows.Next() {
		var (
			key  string
			data []byte
		)
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("read %s: %w", sheet, err)
		}
		rec := remote.Record{}
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("read %s: decode row %s: %w", sheet, key, err)
		}
		out = append(out, remote.Row{Key: key, Record: rec})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", sheet, err)
	}
	return out, nil
}

// AppendRow inserts rec under a new UUIDv7 key.
func (s *Store) AppendRow(ctx context.Context, sheet remote.Sheet, rec remote.Record) (string, error) {
	key := uuid.Must(uuid.NewV7()).String()
	if err := s.upsert(ctx, sheet, key, rec); err != nil {
		return "", fmt.Errorf("append %s: %w", sheet, err)
	}
	return key, nil
}

// WriteRow upserts rec under key.
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
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sheet_rows (sheet, row_key, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (sheet, row_key) DO UPDATE
		SET data = EXCLUDED.data,
			updated_at = now()
	`, string(sheet), key, data)
	return err
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

var _ remote.Store = (*Store)(nil)
