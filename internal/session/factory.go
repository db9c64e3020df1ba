// Package session hands out provider clients bound to a user's credential.
// Asking for a client is also the moment the credential is checked and
// refreshed; a user who cannot be served gets a status, not an error.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tonimelisma/calbridge/internal/auth"
	"github.com/tonimelisma/calbridge/internal/credential"
	"github.com/tonimelisma/calbridge/internal/metrics"
	"github.com/tonimelisma/calbridge/internal/provider"
)

// ErrNotConnected matches every *NotConnectedError.
var ErrNotConnected = errors.New("session: not connected")

// Status is the outcome of a client request.
type Status int

// Client request outcomes.
const (
	Ready Status = iota
	NotConnected
	RefreshFailed
	RefreshUnavailable
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case NotConnected:
		return "not_connected"
	case RefreshFailed:
		return "refresh_failed"
	case RefreshUnavailable:
		return "refresh_unavailable"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// NotConnectedError reports that a user cannot be served until they
// reconnect the account.
type NotConnectedError struct {
	UserID     string
	Capability provider.Capability
	Status     Status
	Err        error
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("session: %s not available for user %s: %s", e.Capability, e.UserID, e.Status)
}

func (e *NotConnectedError) Is(target error) bool {
	return target == ErrNotConnected
}

func (e *NotConnectedError) Unwrap() error {
	return e.Err
}

// Result is what Factory.Client hands back. Client is non-nil only when
// Status is Ready.
type Result struct {
	Status Status
	Client *provider.Client

	userID     string
	capability provider.Capability
	cause      error
}

// Ready reports whether Client can be used.
func (r Result) Ready() bool {
	return r.Status == Ready && r.Client != nil
}

// Err converts a non-ready result into a *NotConnectedError. It returns
// nil for a ready result.
func (r Result) Err() error {
	if r.Ready() {
		return nil
	}

	return &NotConnectedError{
		UserID:     r.userID,
		Capability: r.capability,
		Status:     r.Status,
		Err:        r.cause,
	}
}

// Config holds the transport settings for created clients.
type Config struct {
	// BaseURLs overrides the API root per capability.
	BaseURLs map[provider.Capability]string
	// HTTPClient is shared by every client. Nil uses http.DefaultClient.
	HTTPClient *http.Client
	// Timeout bounds each provider request.
	Timeout time.Duration
	Metrics *metrics.Metrics
}

// Factory builds capability-scoped clients for users.
type Factory struct {
	manager *auth.Manager
	cfg     Config
	logger  *slog.Logger
}

// NewFactory creates a Factory backed by manager.
func NewFactory(manager *auth.Manager, cfg Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}

	return &Factory{manager: manager, cfg: cfg, logger: logger}
}

func (f *Factory) baseURL(c provider.Capability) string {
	if u := f.cfg.BaseURLs[c]; u != "" {
		return u
	}

	switch c {
	case provider.Sheets:
		return provider.DefaultSheetsURL
	case provider.Drive:
		return provider.DefaultDriveURL
	default:
		return provider.DefaultCalendarURL
	}
}

// statusFor maps a credential outcome to a Status. ok is false for errors
// that are not credential outcomes.
func statusFor(err error) (Status, bool) {
	switch {
	case errors.Is(err, auth.ErrNotConnected):
		return NotConnected, true
	case errors.Is(err, auth.ErrRefreshFailed):
		return RefreshFailed, true
	case errors.Is(err, auth.ErrRefreshUnavailable):
		return RefreshUnavailable, true
	default:
		return Ready, false
	}
}

// Client returns a client for capability bound to userID's credential,
// refreshing it first if needed. Credential outcomes come back in the
// Result; the error is reserved for infrastructure failures such as an
// unreachable store or token endpoint.
//
// Calendar clients carry the access token that was fresh at creation.
// Sheets and drive clients re-check the credential before each request and
// refresh it lazily. Every client clears the credential when the provider
// answers 401.
func (f *Factory) Client(ctx context.Context, userID string, capability provider.Capability) (Result, error) {
	res := Result{userID: userID, capability: capability}

	cred, err := f.manager.EnsureFresh(ctx, userID)
	if err != nil {
		status, ok := statusFor(err)
		if !ok {
			return res, fmt.Errorf("session: preparing %s client: %w", capability, err)
		}

		f.logger.Info("client unavailable",
			slog.String("user_id", userID),
			slog.String("capability", string(capability)),
			slog.String("status", status.String()),
		)

		res.Status = status
		res.cause = err

		return res, nil
	}

	var (
		source  provider.TokenSource = provider.StaticToken(cred.AccessToken)
		managed *managedSource
	)

	if capability != provider.Calendar {
		managed = &managedSource{manager: f.manager, userID: userID, capability: capability, cred: cred}
		source = managed
	}

	res.Status = Ready
	res.Client = provider.NewClient(capability, f.baseURL(capability), f.cfg.HTTPClient, source, f.logger,
		provider.WithTimeout(f.cfg.Timeout),
		provider.WithMetrics(f.cfg.Metrics),
		provider.WithUnauthorizedHook(func(ctx context.Context) error {
			if managed != nil {
				managed.forget()
			}

			return f.manager.Revoke(ctx, userID)
		}),
	)

	return res, nil
}

// Calendar returns a ready calendar client or the reason there is none.
func (f *Factory) Calendar(ctx context.Context, userID string) (*provider.CalendarClient, error) {
	c, err := f.ready(ctx, userID, provider.Calendar)
	if err != nil {
		return nil, err
	}

	return provider.NewCalendarClient(c), nil
}

// Sheets returns a ready sheets client or the reason there is none.
func (f *Factory) Sheets(ctx context.Context, userID string) (*provider.SheetsClient, error) {
	c, err := f.ready(ctx, userID, provider.Sheets)
	if err != nil {
		return nil, err
	}

	return provider.NewSheetsClient(c), nil
}

// Drive returns a ready drive client or the reason there is none.
func (f *Factory) Drive(ctx context.Context, userID string) (*provider.DriveClient, error) {
	c, err := f.ready(ctx, userID, provider.Drive)
	if err != nil {
		return nil, err
	}

	return provider.NewDriveClient(c), nil
}

func (f *Factory) ready(ctx context.Context, userID string, capability provider.Capability) (*provider.Client, error) {
	res, err := f.Client(ctx, userID, capability)
	if err != nil {
		return nil, err
	}

	if err := res.Err(); err != nil {
		return nil, err
	}

	return res.Client, nil
}

// managedSource re-validates the credential before every request so a
// long-lived client keeps working across token expiry.
type managedSource struct {
	manager    *auth.Manager
	userID     string
	capability provider.Capability

	mu   sync.Mutex
	cred *credential.Credential
}

func (s *managedSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manager.Valid(s.cred) {
		return s.cred.AccessToken, nil
	}

	cred, err := s.manager.EnsureFresh(ctx, s.userID)
	if err != nil {
		if status, ok := statusFor(err); ok {
			return "", &NotConnectedError{UserID: s.userID, Capability: s.capability, Status: status, Err: err}
		}

		return "", err
	}

	s.cred = cred

	return cred.AccessToken, nil
}

// forget drops the cached credential so the next Token call consults the
// store.
func (s *managedSource) forget() {
	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()
}
