// Package reconcile detects drift between the registry and the scanned
// source tree and restores the invariant that a done artifact always has a
// registry entry whose digest matches its body. It is the only component
// allowed to execute the Reopen transition, and it completes transitions
// interrupted mid-flight by a crash.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"attestor/internal/lifecycle"
	"attestor/internal/logging"
	"attestor/internal/provenance"
	"attestor/internal/registry"
	"attestor/internal/scan"
)

// Finding kinds.
const (
	// FindingReopened: a finalized artifact's body drifted from its
	// registered digest. Full metadata was restored inline and the registry
	// entry archived.
	FindingReopened = "reopened"

	// FindingOrphaned: a registry entry whose artifact no longer exists in
	// the tree. Reported only; deletion is a human decision.
	FindingOrphaned = "orphaned"

	// FindingCompletedFinalize: a finalize crashed after the registry
	// commit but before the inline collapse. The collapse was completed.
	FindingCompletedFinalize = "completed_finalize"

	// FindingCompletedReopen: a reopen crashed after the inline restore but
	// before the registry entry was removed. The removal was completed.
	FindingCompletedReopen = "completed_reopen"

	// FindingConflict: a state the reconciler will not repair on its own,
	// such as a done annotation with no registry entry, or an entry whose
	// artifact lost its annotation entirely.
	FindingConflict = "conflict"
)

// Finding is one reconciler observation or repair.
type Finding struct {
	Kind      string `json:"kind"`
	Path      string `json:"path"`
	Name      string `json:"name"`
	OldDigest string `json:"old_digest,omitempty"`
	NewDigest string `json:"new_digest,omitempty"`
	Detail    string `json:"detail"`
}

// Reconciler compares one repository tree against its registry.
type Reconciler struct {
	Root   string
	Store  *registry.Store
	Engine *lifecycle.Engine
	Now    func() time.Time

	logger *slog.Logger
}

// New wires a reconciler for one repository root. The engine is used only
// for inline annotation writes; the reconciler holds the registry lock
// itself, so it never calls locking engine transitions.
func New(root string, store *registry.Store, engine *lifecycle.Engine) *Reconciler {
	return &Reconciler{
		Root:   root,
		Store:  store,
		Engine: engine,
		Now:    time.Now,
		logger: logging.New("reconcile"),
	}
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Reconcile scans the tree, then walks every registry entry under a single
// registry lock. A stable entry (done inline, digests equal) passes
// untouched; drift reopens the artifact; half-applied finalize and reopen
// transitions are completed. Running it twice in a row yields no findings
// the second time.
func (r *Reconciler) Reconcile(ctx context.Context) ([]Finding, error) {
	res, err := scan.New(r.Root).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: scan: %w", err)
	}
	byID := res.ByID()

	var findings []Finding
	err = r.Store.WithLock(ctx, func(reg *registry.Registry) (bool, error) {
		now := r.now()
		ts := now.UTC().Format(time.RFC3339)
		changed := false
		var inline []lifecycle.AnnotationUpdate
		reopening := make(map[registry.Key]bool)

		keys := make([]registry.Key, 0, len(reg.Entries))
		for k := range reg.Entries {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			entry := reg.Entries[k]
			a := byID[string(k)]

			switch {
			case a == nil:
				findings = append(findings, Finding{
					Kind: FindingOrphaned, Path: entry.Path, Name: entry.Name,
					OldDigest: entry.Digest,
					Detail:    "registry entry has no matching artifact in the tree",
				})

			case a.Corrupt:
				findings = append(findings, Finding{
					Kind: FindingConflict, Path: entry.Path, Name: entry.Name,
					Detail: "registry entry but the inline annotation is corrupt",
				})

			case !a.Annotated():
				findings = append(findings, Finding{
					Kind: FindingConflict, Path: entry.Path, Name: entry.Name,
					Detail: "registry entry but the inline annotation is gone",
				})

			case a.Meta.Done:
				if a.Digest == entry.Digest {
					continue
				}
				restored := entry.Meta.Clone()
				restored.Done = false
				restored.AppendHistory(restored.HistoryEntry(now, fmt.Sprintf(
					"%s digest drift %s to %s",
					provenance.ActionReopened, shortDigest(entry.Digest), shortDigest(a.Digest))))
				inline = append(inline, lifecycle.AnnotationUpdate{Artifact: a, Meta: restored})
				reg.Remove(k, registry.ArchiveRecord{
					ArchivedAt: ts,
					Reason:     "reopened: body digest drift",
					OldDigest:  entry.Digest,
					NewDigest:  a.Digest,
				})
				changed = true
				reopening[k] = true
				findings = append(findings, Finding{
					Kind: FindingReopened, Path: entry.Path, Name: entry.Name,
					OldDigest: entry.Digest, NewDigest: a.Digest,
					Detail: "finalized body changed; full metadata restored inline",
				})
				r.logger.Info("reopened", "artifact", string(k), "old", shortDigest(entry.Digest), "new", shortDigest(a.Digest))

			case a.Digest == entry.Digest:
				// Finalize committed the entry but never collapsed the
				// inline block.
				inline = append(inline, lifecycle.AnnotationUpdate{Artifact: a, Meta: entry.Meta.Projection()})
				findings = append(findings, Finding{
					Kind: FindingCompletedFinalize, Path: entry.Path, Name: entry.Name,
					NewDigest: entry.Digest,
					Detail:    "interrupted finalize; collapsed inline annotation",
				})
				r.logger.Info("completed finalize", "artifact", string(k))

			default:
				// Reopen restored the inline metadata but never dropped the
				// entry.
				reg.Remove(k, registry.ArchiveRecord{
					ArchivedAt: ts,
					Reason:     "reopened: completing interrupted reopen",
					OldDigest:  entry.Digest,
					NewDigest:  a.Digest,
				})
				changed = true
				findings = append(findings, Finding{
					Kind: FindingCompletedReopen, Path: entry.Path, Name: entry.Name,
					OldDigest: entry.Digest, NewDigest: a.Digest,
					Detail: "interrupted reopen; archived registry entry",
				})
				r.logger.Info("completed reopen", "artifact", string(k))
			}
		}

		for _, a := range res.Artifacts {
			if !a.Annotated() || !a.Meta.Done {
				continue
			}
			// The scan predates this pass's inline restores, so an artifact
			// being reopened right now still reads as done; that is not a
			// conflict.
			k := registry.KeyFor(a.Path, a.Name)
			if reopening[k] {
				continue
			}
			if reg.Get(k) == nil {
				findings = append(findings, Finding{
					Kind: FindingConflict, Path: a.Path, Name: a.Name,
					NewDigest: a.Digest,
					Detail:    "inline annotation is done but the registry has no entry",
				})
			}
		}

		// Inline writes land before the registry is saved, so a crash here
		// leaves a half-applied reopen the next run completes.
		if err := r.Engine.WriteAnnotations(inline); err != nil {
			return false, fmt.Errorf("reconcile: restore inline annotations: %w", err)
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}
	return findings, nil
}
