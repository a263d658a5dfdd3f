// Package registry persists finalized provenance records out-of-band in a
// single human-diffable YAML file per repository. The file is the source of
// truth for an artifact's full metadata while it is finalized; entries are
// created only by the Finalize transition and removed only by Reopen.
package registry

import (
	"attestor/internal/provenance"
)

// Key is the artifact identity string, "path::qualified_name".
type Key string

// KeyFor builds a Key from an artifact's path and qualified name.
func KeyFor(path, name string) Key {
	return Key(path + "::" + name)
}

// Entry is one finalized artifact record: identity, body digest at
// finalization time, and the full metadata snapshot.
type Entry struct {
	Path        string                  `yaml:"path"`
	Name        string                  `yaml:"name"`
	Digest      string                  `yaml:"digest"`
	FinalizedAt string                  `yaml:"finalized_at"`
	Meta        *provenance.TagMetadata `yaml:"metadata"`
}

// Key returns the entry's identity key.
func (e *Entry) Key() Key {
	return KeyFor(e.Path, e.Name)
}

// ArchiveRecord preserves a reopened entry in the registry's history
// section. The metadata itself is merged back inline by the reopen
// transition; the archive exists for observability only.
type ArchiveRecord struct {
	Path       string `yaml:"path"`
	Name       string `yaml:"name"`
	ArchivedAt string `yaml:"archived_at"`
	Reason     string `yaml:"reason"`
	OldDigest  string `yaml:"old_digest,omitempty"`
	NewDigest  string `yaml:"new_digest,omitempty"`
	Entry      *Entry `yaml:"entry"`
}

// Registry is the in-memory mapping of active entries plus the archive.
type Registry struct {
	Entries map[Key]*Entry
	Archive []ArchiveRecord
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{Entries: make(map[Key]*Entry)}
}

// Put inserts or replaces an entry.
func (r *Registry) Put(e *Entry) {
	if r.Entries == nil {
		r.Entries = make(map[Key]*Entry)
	}
	r.Entries[e.Key()] = e
}

// Get returns the entry for a key, or nil.
func (r *Registry) Get(k Key) *Entry {
	return r.Entries[k]
}

// Remove archives an entry and deletes it from the active mapping.
func (r *Registry) Remove(k Key, rec ArchiveRecord) {
	e := r.Entries[k]
	if e == nil {
		return
	}
	rec.Path = e.Path
	rec.Name = e.Name
	rec.Entry = e
	r.Archive = append(r.Archive, rec)
	delete(r.Entries, k)
}
