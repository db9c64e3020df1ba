// Package credential holds the per-user OAuth credential record and its
// persistence backends. A Credential is plain data: deciding whether it is
// usable and mutating it is the job of the auth package.
package credential

import (
	"context"
	"errors"
	"time"
)

// ErrNoUser is returned by Save when the credential has no user ID.
var ErrNoUser = errors.New("credential: missing user id")

// Credential is the stored OAuth token set for one user. Absent values are
// represented by zero values. ExpiresAt is meaningless when AccessToken is
// empty.
type Credential struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// HasAccessToken reports whether an access token is present.
func (c *Credential) HasAccessToken() bool {
	return c != nil && c.AccessToken != ""
}

// HasRefreshToken reports whether a refresh token is present.
func (c *Credential) HasRefreshToken() bool {
	return c != nil && c.RefreshToken != ""
}

// Connected reports whether both tokens are present, i.e. the account was
// linked with offline access and can be kept alive without the user.
func (c *Credential) Connected() bool {
	return c.HasAccessToken() && c.HasRefreshToken()
}

// Clear removes every token field. The record itself survives so the
// user ID and update time remain visible.
func (c *Credential) Clear() {
	c.AccessToken = ""
	c.RefreshToken = ""
	c.ExpiresAt = time.Time{}
}

// ClearAccess removes the access token and its expiry, keeping the refresh
// token.
func (c *Credential) ClearAccess() {
	c.AccessToken = ""
	c.ExpiresAt = time.Time{}
}

// Store persists credentials keyed by user ID. Implementations must make
// each Save an atomic whole-record overwrite.
type Store interface {
	// Get returns the credential for userID, or (nil, nil) if none exists.
	Get(ctx context.Context, userID string) (*Credential, error)
	Save(ctx context.Context, c *Credential) error
	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, userID string) error
}
