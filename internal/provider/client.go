package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tonimelisma/calbridge/internal/metrics"
)

const (
	// DefaultTimeout bounds every request when no timeout is configured.
	DefaultTimeout = 30 * time.Second
	userAgent      = "calbridge/0.1"
	// maxErrorBody caps how much of an error response is kept for messages.
	maxErrorBody = 4096
)

// Capability names one remote service a client is scoped to.
type Capability string

// Supported capabilities.
const (
	Calendar Capability = "calendar"
	Sheets   Capability = "sheets"
	Drive    Capability = "drive"
)

// Default API base URLs per capability.
const (
	DefaultCalendarURL = "https://www.googleapis.com/calendar/v3"
	DefaultSheetsURL   = "https://sheets.googleapis.com/v4"
	DefaultDriveURL    = "https://www.googleapis.com/drive/v3"
)

// ParseCapability validates a capability name.
func ParseCapability(s string) (Capability, error) {
	switch c := Capability(s); c {
	case Calendar, Sheets, Drive:
		return c, nil
	default:
		return "", fmt.Errorf("provider: unknown capability %q", s)
	}
}

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource bound to one access token.
type StaticToken string

// Token returns the bound token.
func (s StaticToken) Token(_ context.Context) (string, error) {
	return string(s), nil
}

// Client issues authenticated JSON requests against one capability.
type Client struct {
	capability     Capability
	baseURL        string
	httpClient     *http.Client
	token          TokenSource
	logger         *slog.Logger
	metrics        *metrics.Metrics
	timeout        time.Duration
	onUnauthorized func(ctx context.Context) error
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each request. Zero or negative keeps DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMetrics records every request outcome.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithUnauthorizedHook registers fn to run whenever the provider answers
// 401. The request still fails with ErrUnauthorized.
func WithUnauthorizedHook(fn func(ctx context.Context) error) Option {
	return func(c *Client) {
		c.onUnauthorized = fn
	}
}

// NewClient creates a client for capability rooted at baseURL.
func NewClient(
	capability Capability, baseURL string, httpClient *http.Client, token TokenSource,
	logger *slog.Logger, opts ...Option,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		capability: capability,
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		timeout:    DefaultTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Capability returns the capability the client is scoped to.
func (c *Client) Capability() Capability {
	return c.capability
}

// Do executes one request. in, when non-nil, is sent as a JSON body; out,
// when non-nil, receives the decoded JSON response. Non-2xx answers become
// a *ProviderError; no retries are attempted.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("provider: encoding request body: %w", err)
		}

		body = bytes.NewReader(data)
	}

	tok, err := c.token.Token(ctx)
	if err != nil {
		return fmt.Errorf("provider: obtaining token: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, u, body)
	if err != nil {
		return fmt.Errorf("provider: creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordProviderRequest(string(c.capability), 0)

		// Caller cancellation is not a provider failure.
		if ctx.Err() != nil {
			return fmt.Errorf("provider: request canceled: %w", ctx.Err())
		}

		c.logger.Warn("provider request failed",
			slog.String("capability", string(c.capability)),
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return &ProviderError{Message: err.Error(), Err: ErrUnavailable}
	}
	defer resp.Body.Close()

	c.metrics.RecordProviderRequest(string(c.capability), resp.StatusCode)

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("provider request succeeded",
			slog.String("capability", string(c.capability)),
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)

		return c.decode(resp, out)
	}

	perr := &ProviderError{
		StatusCode: resp.StatusCode,
		Message:    readErrorMessage(resp.Body),
		Err:        classifyStatus(resp.StatusCode),
	}

	c.logger.Warn("provider request rejected",
		slog.String("capability", string(c.capability)),
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)

	if errors.Is(perr, ErrUnauthorized) && c.onUnauthorized != nil {
		if hookErr := c.onUnauthorized(ctx); hookErr != nil {
			c.logger.Warn("unauthorized hook failed",
				slog.String("capability", string(c.capability)),
				slog.String("error", hookErr.Error()),
			)
		}
	}

	return perr
}

func (c *Client) decode(resp *http.Response, out any) error {
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A body cut short by the request deadline is a timeout, not garbage.
		if errors.Is(err, context.DeadlineExceeded) {
			return &ProviderError{StatusCode: resp.StatusCode, Message: err.Error(), Err: ErrUnavailable}
		}

		return fmt.Errorf("provider: decoding %s response: %w", c.capability, err)
	}

	return nil
}

// readErrorMessage extracts the provider's error message, falling back to
// the raw (truncated) body.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return "(failed to read response body)"
	}

	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
		return eb.Error.Message
	}

	return string(raw)
}
