package config

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"go.yaml.in/yaml/v3"

	plexus "github.com/plexushq/plexus/internal"
)

// Snapshot is an immutable view of the configuration. Only the Store creates
// snapshots; consumers hold a reference for the duration of one operation and
// never observe mutation.
type Snapshot struct {
	Providers map[string]*plexus.ProviderRecord
	Models    map[string]*plexus.ModelAlias
	Keys      map[string]KeyEntry
	AdminKey  string
	Quotas    map[string]QuotaCheckerEntry

	Version  int64
	LoadedAt time.Time
	Checksum string // sha256 hex of the raw YAML
	Raw      []byte // original YAML text, served by the admin API
	File     *File  // parsed settings (server, database, debug, telemetry)
}

// newSnapshot builds a Snapshot from a parsed file and its raw bytes.
// Version is assigned by the Store at publication time.
func newSnapshot(f *File, raw []byte) *Snapshot {
	snap := &Snapshot{
		Providers: make(map[string]*plexus.ProviderRecord, len(f.Providers)),
		Models:    make(map[string]*plexus.ModelAlias, len(f.Models)),
		Keys:      f.Keys,
		AdminKey:  f.Admin.APIKey,
		Quotas:    f.Quotas,
		LoadedAt:  time.Now(),
		Checksum:  checksum(raw),
		Raw:       raw,
		File:      f,
	}
	for id, p := range f.Providers {
		snap.Providers[id] = &plexus.ProviderRecord{
			ID:           id,
			Type:         plexus.ProviderType(p.Type),
			BaseURL:      p.BaseURL,
			APIKey:       p.APIKey,
			Headers:      p.Headers,
			QuotaChecker: p.QuotaChecker,
		}
	}
	for alias, m := range f.Models {
		snap.Models[alias] = &plexus.ModelAlias{
			ID:            alias,
			Targets:       m.Targets,
			Selector:      m.Selector,
			Pricing:       m.Pricing,
			ContextLength: m.ContextLength,
		}
	}
	return snap
}

func checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// sectionHashes returns a per-top-level-key digest of the raw YAML, used to
// compute ChangedSections across a replace.
func sectionHashes(raw []byte) map[string]string {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	out := make(map[string]string, len(doc))
	for key, node := range doc {
		b, err := yaml.Marshal(&node)
		if err != nil {
			continue
		}
		out[key] = checksum(b)
	}
	return out
}

// diffSections returns the sorted set of top-level keys whose serialized
// value differs between the two raw documents.
func diffSections(prevRaw, newRaw []byte) []string {
	prev := sectionHashes(prevRaw)
	next := sectionHashes(newRaw)

	seen := make(map[string]bool)
	var changed []string
	for key, h := range next {
		if prev[key] != h {
			changed = append(changed, key)
		}
		seen[key] = true
	}
	for key := range prev {
		if !seen[key] {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	return changed
}
