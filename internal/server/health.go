package server

import "net/http"

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.Config.Current()
	if snap == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "loading"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.deps.Version,
	})
}

// handleReady reports ready when a snapshot is loaded, the database answers,
// and at least one provider is not on cooldown.
func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Config.Current()
	if snap == nil {
		writeNotReady(w, "no config loaded")
		return
	}
	if s.deps.DB != nil {
		if err := s.deps.DB.Ping(r.Context()); err != nil {
			writeNotReady(w, "database unreachable")
			return
		}
	}
	free := false
	for id := range snap.Providers {
		if on, _ := s.deps.Cooldowns.IsOnCooldown(id); !on {
			free = true
			break
		}
	}
	if !free {
		writeNotReady(w, "all providers cooling down")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func writeNotReady(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"ready":  false,
		"reason": reason,
	})
}
