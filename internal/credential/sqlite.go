package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	sqlGetCredential = `SELECT access_token, refresh_token, expires_at, updated_at
		FROM credentials WHERE user_id = ?`

	sqlUpsertCredential = `INSERT INTO credentials
		(user_id, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`

	sqlDeleteCredential = `DELETE FROM credentials WHERE user_id = ?`
)

// SQLiteStore persists credentials in the credentials table of the shared
// database opened by storage.Open. Timestamps are stored as Unix nanoseconds;
// a NULL expires_at means no expiry is recorded.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-migrated database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (*Credential, error) {
	var (
		c         = Credential{UserID: userID}
		expiresAt sql.NullInt64
		updatedAt int64
	)

	err := s.db.QueryRowContext(ctx, sqlGetCredential, userID).
		Scan(&c.AccessToken, &c.RefreshToken, &expiresAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("credential: query %s: %w", userID, err)
	}

	if expiresAt.Valid {
		c.ExpiresAt = time.Unix(0, expiresAt.Int64).UTC()
	}

	c.UpdatedAt = time.Unix(0, updatedAt).UTC()

	return &c, nil
}

func (s *SQLiteStore) Save(ctx context.Context, c *Credential) error {
	if c.UserID == "" {
		return ErrNoUser
	}

	var expiresAt sql.NullInt64
	if !c.ExpiresAt.IsZero() {
		expiresAt = sql.NullInt64{Int64: c.ExpiresAt.UnixNano(), Valid: true}
	}

	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	if _, err := s.db.ExecContext(ctx, sqlUpsertCredential,
		c.UserID, c.AccessToken, c.RefreshToken, expiresAt, updatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("credential: upsert %s: %w", c.UserID, err)
	}

	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, sqlDeleteCredential, userID); err != nil {
		return fmt.Errorf("credential: delete %s: %w", userID, err)
	}

	return nil
}
