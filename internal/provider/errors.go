// Package provider is a thin REST client for the remote calendar,
// spreadsheet and file-listing APIs. It classifies every failure into a
// small taxonomy and never retries; retry policy belongs to callers.
package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for failure classification.
// Use errors.Is(err, provider.ErrUnauthorized) to check.
var (
	// ErrUnauthorized means the provider rejected the access token (401).
	ErrUnauthorized = errors.New("provider: unauthorized")
	// ErrClientError covers every other 4xx except throttling.
	ErrClientError = errors.New("provider: client error")
	// ErrNotFound is a ErrClientError for 404 answers.
	ErrNotFound = fmt.Errorf("%w: not found", ErrClientError)
	// ErrUnavailable covers 5xx, throttling, timeouts and network failures.
	ErrUnavailable = errors.New("provider: unavailable")
)

// ProviderError wraps a sentinel error with the HTTP status code and the
// API error message body for debugging. StatusCode is zero when no HTTP
// answer was received.
type ProviderError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Err, e.Message)
	}

	return fmt.Sprintf("%s: HTTP %d: %s", e.Err, e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return ErrUnavailable
	case code >= http.StatusInternalServerError:
		return ErrUnavailable
	default:
		return ErrClientError
	}
}

// errorBody mirrors the provider's JSON error envelope.
type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
