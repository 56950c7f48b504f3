package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/plexushq/plexus/internal/metrics"
)

// maxAdminBody is the maximum allowed admin request body size (1 MB).
const maxAdminBody = 1 << 20

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body", "invalid_request_error"))
		return false
	}
	return true
}

// --- Config ---

func (s *server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.Config.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"config":        string(snap.Raw),
		"last_modified": s.deps.Config.LastModified().UTC().Format(time.RFC3339),
		"checksum":      snap.Checksum,
	})
}

func (s *server) handleWriteConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config   string `json:"config"`
		Validate *bool  `json:"validate,omitempty"`
		Reload   *bool  `json:"reload,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Config == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("config is required", "invalid_request_error"))
		return
	}
	validate, reload := true, true
	if req.Validate != nil {
		validate = *req.Validate
	}
	if req.Reload != nil {
		reload = *req.Reload
	}

	ev, err := s.deps.Config.WriteConfig([]byte(req.Config), validate, reload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error(), "invalid_request_error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checksum":         ev.NewChecksum,
		"version":          ev.Version,
		"changed_sections": ev.ChangedSections,
		"reloaded":         reload,
	})
}

func (s *server) handleConfigStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.Config.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":       snap.Version,
		"checksum":      snap.Checksum,
		"loaded_at":     snap.LoadedAt.UTC().Format(time.RFC3339),
		"last_modified": s.deps.Config.LastModified().UTC().Format(time.RFC3339),
		"path":          s.deps.Config.Path(),
		"providers":     len(snap.Providers),
		"models":        len(snap.Models),
	})
}

func (s *server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	ev, err := s.deps.Config.Reload()
	if err != nil {
		slog.LogAttrs(r.Context(), slog.LevelError, "config reload failed",
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error(), "invalid_request_error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checksum":         ev.NewChecksum,
		"version":          ev.Version,
		"changed_sections": ev.ChangedSections,
	})
}

// handleEvents streams config_change events to admin subscribers over SSE.
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, cancelSub := s.deps.Config.Subscribe()
	defer cancelSub()

	writeSSEHeaders(w)
	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("ResponseWriter does not implement http.Flusher")
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeSSEEvent(w, "config_change", b)
			flusher.Flush()

		case <-keepAlive.C:
			writeSSEKeepAlive(w)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// --- Performance ---

func (s *server) handleGetPerformance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	providerFilter := q.Get("provider")
	modelFilter := q.Get("model")
	excludeUnknown, _ := strconv.ParseBool(q.Get("excludeUnknownProvider"))

	var enabled map[string]bool
	if raw := q.Get("enabledProviders"); raw != "" {
		enabled = make(map[string]bool)
		for _, p := range strings.Split(raw, ",") {
			enabled[strings.TrimSpace(p)] = true
		}
	}

	snap := s.deps.Config.Current()
	out := make([]metrics.TargetPerformance, 0)
	for _, tp := range s.deps.Collector.Snapshot() {
		if providerFilter != "" && tp.Provider != providerFilter {
			continue
		}
		if modelFilter != "" && tp.Model != modelFilter {
			continue
		}
		if excludeUnknown {
			if _, known := snap.Providers[tp.Provider]; !known {
				continue
			}
		}
		if enabled != nil && !enabled[tp.Provider] {
			continue
		}
		out = append(out, tp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (s *server) handleResetPerformance(w http.ResponseWriter, r *http.Request) {
	if model := r.URL.Query().Get("model"); model != "" {
		s.deps.Collector.ResetModel(model)
	} else {
		s.deps.Collector.Reset()
	}
	w.WriteHeader(http.StatusNoContent)
}
