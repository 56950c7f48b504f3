package plexus

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Sentinel errors for the gateway domain.
var (
	ErrInvalidRequest        = errors.New("invalid request")
	ErrModelNotFound         = errors.New("model not found")
	ErrProvidersCooling      = errors.New("all providers cooled down")
	ErrQuotaExhausted        = errors.New("quota exhausted")
	ErrUnimplementedSelector = errors.New("unimplemented selector")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrNotFound              = errors.New("not found")
	ErrRateLimited           = errors.New("rate limited")
	ErrProviderError         = errors.New("provider error")
	ErrTimeout               = errors.New("timeout")
)

// APIError is an error response from an upstream provider. It carries the
// HTTP status for cooldown classification and the parsed Retry-After hint
// for rate-limit cooldowns.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

// Error returns a formatted error string including provider, status, and body.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// HTTPStatus returns the HTTP status code for cooldown classification.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// ParseAPIError reads up to 4KB from the response body and returns an
// *APIError, capturing any Retry-After header.
func ParseAPIError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	e := &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		} else if t, err := http.ParseTime(ra); err == nil {
			if d := time.Until(t); d > 0 {
				e.RetryAfter = d
			}
		}
	}
	return e
}
