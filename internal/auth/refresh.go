package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Provider endpoints used when the config does not override them.
const (
	DefaultAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
)

// DefaultScopes covers calendar, sheets and drive access plus the identity
// claims needed to recognize the user.
var DefaultScopes = []string{
	"openid",
	"email",
	"profile",
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/calendar.events",
	"https://www.googleapis.com/auth/spreadsheets",
	"https://www.googleapis.com/auth/drive.metadata.readonly",
	"https://www.googleapis.com/auth/drive",
}

// Grant is a token set issued by the provider's token endpoint.
// RefreshToken is empty on refresh responses from providers that do not
// rotate refresh tokens.
type Grant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// Refresher mints a new access token from a refresh token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)
}

// RejectedError reports that the token endpoint answered with a non-success
// HTTP status. The credential behind the refresh token is dead.
type RejectedError struct {
	StatusCode int
	Code       string // RFC 6749 "error" parameter, e.g. "invalid_grant"
	Err        error
}

func (e *RejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth: token endpoint rejected refresh: HTTP %d: %s", e.StatusCode, e.Code)
	}

	return fmt.Sprintf("auth: token endpoint rejected refresh: HTTP %d", e.StatusCode)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// NewOAuthConfig builds the oauth2.Config for the provider. Client
// credentials always go in the form body; the auth style is not auto-detected.
func NewOAuthConfig(clientID, clientSecret, authURL, tokenURL, redirectURL string, scopes []string) *oauth2.Config {
	if authURL == "" {
		authURL = DefaultAuthURL
	}

	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// OAuthRefresher refreshes tokens through golang.org/x/oauth2.
type OAuthRefresher struct {
	cfg        *oauth2.Config
	httpClient *http.Client
	nowFunc    func() time.Time
}

// NewOAuthRefresher creates a refresher. httpClient carries the request
// timeout; nil uses http.DefaultClient.
func NewOAuthRefresher(cfg *oauth2.Config, httpClient *http.Client) *OAuthRefresher {
	return &OAuthRefresher{
		cfg:        cfg,
		httpClient: httpClient,
		nowFunc:    time.Now,
	}
}

// Refresh POSTs grant_type=refresh_token to the token endpoint. A non-2xx
// answer is a *RejectedError; anything that never produced an HTTP answer
// wraps ErrRemoteUnavailable.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}

	// A token without an access token is never valid, so the source
	// refreshes immediately.
	tok, err := r.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, &RejectedError{
				StatusCode: re.Response.StatusCode,
				Code:       re.ErrorCode,
				Err:        err,
			}
		}

		return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}

	return grantFromToken(tok, r.nowFunc()), nil
}

// grantFromToken prefers the wire expires_in; oauth2 already turned it into
// Expiry, which is the fallback for responses that only carry an expiry.
func grantFromToken(tok *oauth2.Token, now time.Time) *Grant {
	g := &Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}

	switch {
	case tok.ExpiresIn > 0:
		g.ExpiresIn = time.Duration(tok.ExpiresIn) * time.Second
	case !tok.Expiry.IsZero():
		g.ExpiresIn = tok.Expiry.Sub(now)
	}

	return g
}
