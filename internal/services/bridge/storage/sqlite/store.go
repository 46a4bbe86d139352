// Package sqlite persists the event log in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/sebaaaap/hackathonavalanche/internal/platform/storage/sqlitemigrate"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/storage"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed event persistence.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.EventStore = (*Store)(nil)

// Open opens the event database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	if cleanPath == ":memory:" {
		dsn = cleanPath
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Appends trim in the same transaction; a single writer keeps that simple.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Append inserts record and deletes rows older than the newest retain.
func (s *Store) Append(ctx context.Context, record storage.EventRecord, retain int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.Kind) == "" {
		return fmt.Errorf("event kind is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO game_events (seq, id, kind, player, payload, transfer, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(record.Sequence),
		record.ID,
		record.Kind,
		record.Player,
		nullableJSON(record.Payload),
		nullableJSON(record.Transfer),
		record.CreatedAt.UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert event %d: %w", record.Sequence, err)
	}
	if retain > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM game_events WHERE seq NOT IN (SELECT seq FROM game_events ORDER BY seq DESC LIMIT ?)`,
			retain,
		); err != nil {
			return fmt.Errorf("trim events: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// Recent returns up to limit newest events, oldest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]storage.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT seq, id, kind, player, payload, transfer, created_at FROM (
    SELECT seq, id, kind, player, payload, transfer, created_at
    FROM game_events ORDER BY seq DESC LIMIT ?
) ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	records := make([]storage.EventRecord, 0, limit)
	for rows.Next() {
		var (
			record    storage.EventRecord
			seq       int64
			payload   sql.NullString
			transfer  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&seq, &record.ID, &record.Kind, &record.Player, &payload, &transfer, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		record.Sequence = uint64(seq)
		if payload.Valid {
			record.Payload = json.RawMessage(payload.String)
		}
		if transfer.Valid {
			record.Transfer = json.RawMessage(transfer.String)
		}
		record.CreatedAt = time.UnixMilli(createdAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

// LastSequence returns the highest stored sequence.
func (s *Store) LastSequence(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	var last sql.NullInt64
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT MAX(seq) FROM game_events`).Scan(&last); err != nil {
		return 0, fmt.Errorf("query last sequence: %w", err)
	}
	if !last.Valid {
		return 0, nil
	}
	return uint64(last.Int64), nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
