package cooldown

import (
	"context"
	"errors"
	"net"
	"os"
)

// httpStatusError is an interface for errors carrying an HTTP status code.
// Satisfied by provider.APIError.
type httpStatusError interface {
	HTTPStatus() int
}

// Classify maps a provider call failure to a cooldown reason.
//
//   - 401, 403            -> auth_error
//   - 429                 -> rate_limit
//   - 408                 -> timeout
//   - 5xx                 -> server_error
//   - deadline exceeded   -> timeout
//   - network/socket      -> connection_error
//
// Classification is idempotent: re-classifying a classified error yields the
// same reason.
func Classify(err error) Reason {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ReasonTimeout
	}

	var he httpStatusError
	if errors.As(err, &he) {
		return ClassifyStatus(he.HTTPStatus())
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ReasonTimeout
		}
		return ReasonConnection
	}

	// Generic transport failures (refused connections wrapped by net/http,
	// DNS errors) behave like connection faults.
	return ReasonConnection
}

// ClassifyStatus maps an HTTP status code to a cooldown reason.
func ClassifyStatus(code int) Reason {
	switch {
	case code == 401 || code == 403:
		return ReasonAuth
	case code == 429:
		return ReasonRateLimit
	case code == 408:
		return ReasonTimeout
	case code >= 500:
		return ReasonServer
	default:
		return ReasonServer
	}
}

// StatusOf extracts an HTTP status from a classified error, or 0.
func StatusOf(err error) int {
	var he httpStatusError
	if errors.As(err, &he) {
		return he.HTTPStatus()
	}
	return 0
}
