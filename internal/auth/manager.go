// Package auth keeps per-user OAuth credentials usable. Manager decides
// whether a stored token can be used, refreshes it through the provider's
// token endpoint, and clears it when the provider makes refresh impossible.
// All writes to one user's credential are serialized.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/calbridge/internal/credential"
	"github.com/tonimelisma/calbridge/internal/metrics"
)

// DefaultSafetyWindow is subtracted from the expiry so in-flight requests
// never race an imminent expiry.
const DefaultSafetyWindow = 5 * time.Minute

// Credential outcomes. Use errors.Is to check.
var (
	// ErrNotConnected means no access token was ever established (or it was
	// cleared by an earlier failure).
	ErrNotConnected = errors.New("auth: account not connected")
	// ErrRefreshFailed means the provider rejected the refresh token. The
	// credential has been cleared.
	ErrRefreshFailed = errors.New("auth: token refresh failed")
	// ErrRefreshUnavailable means the token expired and there is no refresh
	// token. The credential has been cleared.
	ErrRefreshUnavailable = errors.New("auth: token expired and cannot be refreshed")
	// ErrRemoteUnavailable means the token endpoint could not be reached.
	// The credential is untouched; the caller may retry.
	ErrRemoteUnavailable = errors.New("auth: token endpoint unavailable")
)

// Refresh outcome labels for metrics.
const (
	refreshSuccess     = "success"
	refreshRejected    = "rejected"
	refreshUnavailable = "unavailable"
	refreshNoToken     = "no_refresh_token"
)

// IsValid reports whether c can be used right now: an access token is
// present and it expires strictly after now+window.
func IsValid(c *credential.Credential, now time.Time, window time.Duration) bool {
	if !c.HasAccessToken() || c.ExpiresAt.IsZero() {
		return false
	}

	return c.ExpiresAt.After(now.Add(window))
}

// Status is a read-only view of a user's credential for display.
type Status struct {
	UserID          string
	Connected       bool
	HasRefreshToken bool
	Valid           bool
	ExpiresAt       time.Time
}

// Manager is the single writer of credential state.
type Manager struct {
	store     credential.Store
	refresher Refresher
	logger    *slog.Logger
	metrics   *metrics.Metrics

	safetyWindow time.Duration
	nowFunc      func() time.Time

	locks *userLocks
}

// Option configures a Manager.
type Option func(*Manager)

// WithSafetyWindow overrides DefaultSafetyWindow.
func WithSafetyWindow(d time.Duration) Option {
	return func(m *Manager) {
		m.safetyWindow = d
	}
}

// WithClock replaces time.Now. Tests use it to pin "now".
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

// WithMetrics records refresh outcomes.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates a Manager over store. refresher may be nil when the
// deployment has no client credentials; expired tokens then behave as if no
// refresh token existed.
func NewManager(store credential.Store, refresher Refresher, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		store:        store,
		refresher:    refresher,
		logger:       logger,
		safetyWindow: DefaultSafetyWindow,
		nowFunc:      time.Now,
		locks:        newUserLocks(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// SafetyWindow returns the configured safety window.
func (m *Manager) SafetyWindow() time.Duration {
	return m.safetyWindow
}

// Valid reports whether c is usable at the manager's current time.
func (m *Manager) Valid(c *credential.Credential) bool {
	return IsValid(c, m.nowFunc(), m.safetyWindow)
}

// EnsureFresh returns a credential that is valid for immediate use,
// refreshing it if needed. The whole read-refresh-write sequence runs under
// the user's lock, so concurrent callers trigger at most one refresh and
// the later ones observe the refreshed record.
func (m *Manager) EnsureFresh(ctx context.Context, userID string) (*credential.Credential, error) {
	unlock := m.locks.lock(userID)
	defer unlock()

	c, err := m.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("auth: loading credential: %w", err)
	}

	if !c.HasAccessToken() {
		return nil, ErrNotConnected
	}

	now := m.nowFunc()
	if IsValid(c, now, m.safetyWindow) {
		return c, nil
	}

	if !c.HasRefreshToken() || m.refresher == nil {
		m.metrics.RecordTokenRefresh(refreshNoToken)
		m.logger.Info("token expired without refresh token, clearing credential",
			slog.String("user_id", userID),
			slog.Time("expired_at", c.ExpiresAt),
		)

		// Without a refresh token nothing can bring this credential back.
		// A refresh token that is only unusable because no refresher is
		// configured survives for a later, configured run.
		if c.HasRefreshToken() {
			c.ClearAccess()
		} else {
			c.Clear()
		}

		if err := m.save(ctx, c, now); err != nil {
			return nil, err
		}

		return nil, ErrRefreshUnavailable
	}

	return m.refresh(ctx, c, now)
}

// refresh exchanges c's refresh token and persists the result. Caller holds
// the user's lock.
func (m *Manager) refresh(ctx context.Context, c *credential.Credential, now time.Time) (*credential.Credential, error) {
	m.logger.Debug("refreshing access token",
		slog.String("user_id", c.UserID),
		slog.Time("expired_at", c.ExpiresAt),
	)

	grant, err := m.refresher.Refresh(ctx, c.RefreshToken)
	if err != nil {
		var rejected *RejectedError
		if !errors.As(err, &rejected) {
			m.metrics.RecordTokenRefresh(refreshUnavailable)
			m.logger.Warn("token endpoint unreachable",
				slog.String("user_id", c.UserID),
				slog.String("error", err.Error()),
			)

			if errors.Is(err, ErrRemoteUnavailable) {
				return nil, err
			}

			return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
		}

		m.metrics.RecordTokenRefresh(refreshRejected)
		m.logger.Warn("token refresh rejected, clearing credential",
			slog.String("user_id", c.UserID),
			slog.Int("status", rejected.StatusCode),
			slog.String("code", rejected.Code),
		)

		c.Clear()
		if saveErr := m.save(ctx, c, now); saveErr != nil {
			return nil, saveErr
		}

		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	// The provider does not rotate refresh tokens; the stored one stays.
	c.AccessToken = grant.AccessToken
	c.ExpiresAt = now.Add(grant.ExpiresIn)

	if err := m.save(ctx, c, now); err != nil {
		return nil, err
	}

	m.metrics.RecordTokenRefresh(refreshSuccess)
	m.logger.Info("access token refreshed",
		slog.String("user_id", c.UserID),
		slog.Time("expires_at", c.ExpiresAt),
	)

	return c, nil
}

// Revoke clears every token field of the user's credential. Called when the
// provider reports the credential unauthorized mid-call, so the next call
// fails fast instead of retrying a dead token.
func (m *Manager) Revoke(ctx context.Context, userID string) error {
	unlock := m.locks.lock(userID)
	defer unlock()

	c, err := m.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("auth: loading credential: %w", err)
	}

	if c == nil || (!c.HasAccessToken() && !c.HasRefreshToken()) {
		return nil
	}

	m.logger.Warn("provider rejected credential, clearing",
		slog.String("user_id", userID),
	)

	c.Clear()

	return m.save(ctx, c, m.nowFunc())
}

// Connect stores a freshly exchanged token set for userID, replacing any
// previous credential. A grant without a refresh token keeps the stored one,
// since providers only issue it on first consent.
func (m *Manager) Connect(ctx context.Context, userID string, g *Grant) (*credential.Credential, error) {
	if g == nil || g.AccessToken == "" {
		return nil, errors.New("auth: grant has no access token")
	}

	unlock := m.locks.lock(userID)
	defer unlock()

	c, err := m.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("auth: loading credential: %w", err)
	}

	if c == nil {
		c = &credential.Credential{UserID: userID}
	}

	now := m.nowFunc()
	c.AccessToken = g.AccessToken
	c.ExpiresAt = now.Add(g.ExpiresIn)

	if g.RefreshToken != "" {
		c.RefreshToken = g.RefreshToken
	}

	if err := m.save(ctx, c, now); err != nil {
		return nil, err
	}

	m.logger.Info("account connected",
		slog.String("user_id", userID),
		slog.Time("expires_at", c.ExpiresAt),
		slog.Bool("offline_access", c.HasRefreshToken()),
	)

	return c, nil
}

// Disconnect deletes the user's credential record.
func (m *Manager) Disconnect(ctx context.Context, userID string) error {
	unlock := m.locks.lock(userID)
	defer unlock()

	if err := m.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("auth: deleting credential: %w", err)
	}

	m.logger.Info("account disconnected", slog.String("user_id", userID))

	return nil
}

// Status reports the stored state without refreshing or mutating anything.
func (m *Manager) Status(ctx context.Context, userID string) (Status, error) {
	c, err := m.store.Get(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("auth: loading credential: %w", err)
	}

	st := Status{UserID: userID}
	if c == nil {
		return st, nil
	}

	st.Connected = c.HasAccessToken()
	st.HasRefreshToken = c.HasRefreshToken()
	st.Valid = m.Valid(c)

	if st.Connected {
		st.ExpiresAt = c.ExpiresAt
	}

	return st, nil
}

func (m *Manager) save(ctx context.Context, c *credential.Credential, now time.Time) error {
	c.UpdatedAt = now

	if err := m.store.Save(ctx, c); err != nil {
		return fmt.Errorf("auth: saving credential: %w", err)
	}

	return nil
}
