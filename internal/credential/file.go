package credential

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FilePerms restricts credential files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the credentials directory.
const DirPerms = 0o700

// fileRecord is the on-disk format of one credential file.
type fileRecord struct {
	UserID       string     `json:"user_id"`
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// FileStore keeps one JSON file per user in dir. File names are derived
// from sha256(userID) so arbitrary IDs never escape the directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir. The directory is created
// lazily on first Save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Get reads the credential file for userID. Returns (nil, nil) if the file
// does not exist.
func (s *FileStore) Get(_ context.Context, userID string) (*Credential, error) {
	path := s.path(userID)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("credential: reading %s: %w", path, err)
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("credential: decoding %s: %w", path, err)
	}

	if rec.UserID != userID {
		return nil, fmt.Errorf("credential: %s belongs to another user", path)
	}

	c := &Credential{
		UserID:       rec.UserID,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		UpdatedAt:    rec.UpdatedAt,
	}

	if rec.ExpiresAt != nil {
		c.ExpiresAt = *rec.ExpiresAt
	}

	return c, nil
}

// Save writes the credential atomically (write-to-temp + fsync + rename)
// with 0600 permissions.
func (s *FileStore) Save(_ context.Context, c *Credential) error {
	if c.UserID == "" {
		return ErrNoUser
	}

	rec := fileRecord{
		UserID:       c.UserID,
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		UpdatedAt:    c.UpdatedAt,
	}

	if !c.ExpiresAt.IsZero() {
		exp := c.ExpiresAt
		rec.ExpiresAt = &exp
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("credential: encoding: %w", err)
	}

	if mkErr := os.MkdirAll(s.dir, DirPerms); mkErr != nil {
		return fmt.Errorf("credential: creating directory %s: %w", s.dir, mkErr)
	}

	return writeAtomic(s.dir, s.path(c.UserID), data)
}

// Delete removes the credential file. No error if it doesn't exist.
func (s *FileStore) Delete(_ context.Context, userID string) error {
	if err := os.Remove(s.path(userID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("credential: deleting: %w", err)
	}

	return nil
}

func (s *FileStore) path(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return filepath.Join(s.dir, "cred-"+hex.EncodeToString(sum[:16])+".json")
}

// writeAtomic writes data to a temp file in dir and renames it over path.
// Same directory guarantees same filesystem for rename(2).
func writeAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".cred-*.tmp")
	if err != nil {
		return fmt.Errorf("credential: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("credential: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credential: writing: %w", err)
	}

	// Flush before rename so a crash cannot leave a partial file at path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("credential: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credential: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("credential: renaming: %w", err)
	}

	success = true

	return nil
}
