package blobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	sqlGetBlob = `SELECT value FROM blobs WHERE key = ?`

	sqlSetBlob = `INSERT INTO blobs (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	sqlDeleteBlob = `DELETE FROM blobs WHERE key = ?`

	// A single statement, so the row can be returned to exactly one caller.
	sqlTakeBlob = `DELETE FROM blobs WHERE key = ? RETURNING value`
)

// SQLiteStore keeps values in the blobs table of the database opened by
// storage.Open.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-migrated database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.scanOne(ctx, "get", sqlGetBlob, key)
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}

	if _, err := s.db.ExecContext(ctx, sqlSetBlob, key, value, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("blobstore: sqlite set %s: %w", key, err)
	}

	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, sqlDeleteBlob, key); err != nil {
		return fmt.Errorf("blobstore: sqlite delete %s: %w", key, err)
	}

	return nil
}

func (s *SQLiteStore) Take(ctx context.Context, key string) ([]byte, error) {
	return s.scanOne(ctx, "take", sqlTakeBlob, key)
}

func (s *SQLiteStore) scanOne(ctx context.Context, op, query, key string) ([]byte, error) {
	var v []byte

	err := s.db.QueryRowContext(ctx, query, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("blobstore: sqlite %s %s: %w", op, key, err)
	}

	return v, nil
}
