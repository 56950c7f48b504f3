package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	plexus "github.com/plexushq/plexus/internal"
	"github.com/plexushq/plexus/internal/cooldown"
)

// apiError is the OpenAI error envelope.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorBody(msg, kind string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = kind
	return e
}

// anthropicAPIError is the Anthropic error envelope.
type anthropicAPIError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeClientError writes an error in the wire dialect the client spoke.
func writeClientError(w http.ResponseWriter, api plexus.ClientAPI, status int, msg, kind string) {
	if api == plexus.APIMessages {
		var e anthropicAPIError
		e.Type = "error"
		e.Error.Type = kind
		e.Error.Message = msg
		writeJSON(w, status, e)
		return
	}
	writeJSON(w, status, errorBody(msg, kind))
}

// errorStatus maps a domain error to the HTTP status surfaced at the boundary.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, plexus.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, plexus.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, plexus.ErrModelNotFound), errors.Is(err, plexus.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, plexus.ErrProvidersCooling), errors.Is(err, plexus.ErrQuotaExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, plexus.ErrUnimplementedSelector):
		return http.StatusNotImplemented
	case errors.Is(err, plexus.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, plexus.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var ae *plexus.APIError
	if errors.As(err, &ae) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// errorKind maps a domain error to the error type string in the response body.
func errorKind(err error) string {
	switch {
	case errors.Is(err, plexus.ErrInvalidRequest):
		return "invalid_request_error"
	case errors.Is(err, plexus.ErrModelNotFound):
		return "model_not_found"
	case errors.Is(err, plexus.ErrProvidersCooling):
		return "all_providers_cooled_down"
	case errors.Is(err, plexus.ErrQuotaExhausted):
		return "quota_exhausted"
	case errors.Is(err, plexus.ErrUnimplementedSelector):
		return "unimplemented_selector"
	case errors.Is(err, plexus.ErrUnauthorized):
		return "auth_error"
	case errors.Is(err, plexus.ErrRateLimited):
		return "rate_limit_error"
	case errors.Is(err, plexus.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	var ae *plexus.APIError
	if errors.As(err, &ae) {
		switch cooldown.ClassifyStatus(ae.StatusCode) {
		case cooldown.ReasonRateLimit:
			return "rate_limit_error"
		case cooldown.ReasonAuth:
			return "auth_error"
		case cooldown.ReasonTimeout:
			return "timeout"
		case cooldown.ReasonConnection:
			return "connection_error"
		default:
			return "server_error"
		}
	}
	return "internal_error"
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
