package server

import (
	"maps"
	"net/http"
	"slices"

	plexus "github.com/plexushq/plexus/internal"
)

type modelEntry struct {
	ID            string          `json:"id"`
	Object        string          `json:"object"`
	Created       int64           `json:"created"`
	OwnedBy       string          `json:"owned_by"`
	CanonicalSlug string          `json:"canonical_slug,omitempty"`
	Provider      string          `json:"provider,omitempty"`
	ContextLength int             `json:"context_length,omitempty"`
	Pricing       *plexus.Pricing `json:"pricing,omitempty"`
}

type modelListResponse struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// handleListModels reports the aliases in the current snapshot in an
// OpenAI-compatible list shape, extended with routing metadata.
func (s *server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.Config.Current()
	created := snap.LoadedAt.Unix()

	data := make([]modelEntry, 0, len(snap.Models))
	for _, alias := range slices.Sorted(maps.Keys(snap.Models)) {
		ma := snap.Models[alias]
		e := modelEntry{
			ID:            alias,
			Object:        "model",
			Created:       created,
			OwnedBy:       "plexus",
			ContextLength: ma.ContextLength,
			Pricing:       ma.Pricing,
		}
		if len(ma.Targets) > 0 {
			e.CanonicalSlug = ma.Targets[0].Model
			e.Provider = ma.Targets[0].Provider
		}
		data = append(data, e)
	}

	writeJSON(w, http.StatusOK, modelListResponse{
		Object: "list",
		Data:   data,
	})
}
