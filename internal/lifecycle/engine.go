// Package lifecycle implements the four-stage certification state machine:
// Pristine → Annotated → UnderReview → Finalized, plus the Reopen path
// driven by the reconciler. TagMetadata is mutated only through the named
// transitions here; every transition appends to, never removes from, the
// history.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"attestor/internal/logging"
	"attestor/internal/policy"
	"attestor/internal/provenance"
	"attestor/internal/registry"
	"attestor/internal/scan"
)

// AttributionFunc resolves source-control attribution for a declaration
// line ("last_commit=abc1234 by jane"), or returns "" when unavailable.
// Git lookups are a collaborator concern; the engine only records what it
// is handed.
type AttributionFunc func(relPath string, line int) string

// Engine applies lifecycle transitions to scanned artifacts, rewriting
// inline annotations and committing finalized records to the registry.
type Engine struct {
	Root        string
	Store       *registry.Store
	Policy      *policy.Config
	Now         func() time.Time
	Attribution AttributionFunc

	logger *slog.Logger
}

// NewEngine wires an engine for one repository root.
func NewEngine(root string, store *registry.Store, cfg *policy.Config) *Engine {
	return &Engine{
		Root:   root,
		Store:  store,
		Policy: cfg,
		Now:    time.Now,
		logger: logging.New("lifecycle"),
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) abs(rel string) string {
	return filepath.Join(e.Root, filepath.FromSlash(rel))
}

// WriteAnnotation rewrites one artifact's annotation block in place. Used
// by the reconciler, which sequences its own registry lock around inline
// writes.
func (e *Engine) WriteAnnotation(a *scan.Artifact, m *provenance.TagMetadata) error {
	return applyUpdates(e.abs(a.Path), []update{{art: a, meta: m}})
}

// WriteAnnotations batches annotation rewrites, one read/write per file.
type AnnotationUpdate struct {
	Artifact *scan.Artifact
	Meta     *provenance.TagMetadata
}

func (e *Engine) WriteAnnotations(ups []AnnotationUpdate) error {
	byFile := make(map[string][]update)
	for _, u := range ups {
		byFile[u.Artifact.Path] = append(byFile[u.Artifact.Path], update{art: u.Artifact, meta: u.Meta})
	}
	for path, fileUps := range byFile {
		if err := applyUpdates(e.abs(path), fileUps); err != nil {
			return err
		}
	}
	return nil
}

// Annotate creates the initial provenance record for a Pristine artifact
// and writes it into the source above the declaration. The single history
// entry records the insertion and, when an AttributionFunc is wired, the
// artifact's source-control attribution.
func (e *Engine) Annotate(a *scan.Artifact, agent, notes string) (*provenance.TagMetadata, error) {
	if a.Corrupt {
		return nil, fmt.Errorf("lifecycle: %s has a corrupt annotation; fix it before annotating", a.ID())
	}
	if a.Annotated() {
		return nil, fmt.Errorf("lifecycle: %s is already annotated", a.ID())
	}
	m := e.buildAnnotation(a, agent, notes)
	if err := e.WriteAnnotation(a, m); err != nil {
		return nil, err
	}
	e.logger.Info("annotated", "artifact", a.ID(), "agent", m.AIComposed)
	return m, nil
}

// AnnotateAll annotates every Pristine artifact in the slice, one file
// rewrite per affected source file. Returns the metadata created, keyed by
// artifact identity.
func (e *Engine) AnnotateAll(artifacts []*scan.Artifact, agent, notes string) (map[string]*provenance.TagMetadata, error) {
	byFile := make(map[string][]update)
	created := make(map[string]*provenance.TagMetadata)
	for _, a := range artifacts {
		if a.Annotated() || a.Corrupt {
			continue
		}
		m := e.buildAnnotation(a, agent, notes)
		byFile[a.Path] = append(byFile[a.Path], update{art: a, meta: m})
		created[a.ID()] = m
	}
	for path, ups := range byFile {
		if err := applyUpdates(e.abs(path), ups); err != nil {
			return created, err
		}
	}
	return created, nil
}

func (e *Engine) buildAnnotation(a *scan.Artifact, agent, notes string) *provenance.TagMetadata {
	m := provenance.NewTagMetadata()
	if agent != "" {
		m.AIComposed = agent
	}
	m.Notes = notes
	now := e.now()
	m.Date = now.UTC().Format(time.RFC3339)

	entry := m.HistoryEntry(now, provenance.ActionAnnotated)
	if e.Attribution != nil {
		if attr := e.Attribution(a.Path, a.DeclLine); attr != "" {
			entry += " " + attr
		}
	}
	m.AppendHistory(entry)
	return m
}

// Certify records a human review: sets the certifier, scrutiny, notes and
// timestamp, appends a reviewer entry and a history event. It never
// touches done. Already-certified or finalized artifacts are refused
// unless the caller explicitly requests a refresh.
func (e *Engine) Certify(a *scan.Artifact, reviewer string, level provenance.ScrutinyLevel, notes string, includeExisting bool) (*provenance.TagMetadata, error) {
	m, err := e.certifiable(a, includeExisting)
	if err != nil {
		return nil, err
	}
	if !level.Valid() {
		return nil, fmt.Errorf("lifecycle: unsupported scrutiny level %q", level)
	}
	if !e.Policy.KnownReviewer(reviewer) {
		return nil, fmt.Errorf("lifecycle: reviewer %q is not in the policy reviewer list", reviewer)
	}

	now := e.now()
	ts := now.UTC().Format(time.RFC3339)
	m.HumanCertified = reviewer
	m.Scrutiny = level
	m.Date = ts
	if notes != "" {
		m.Notes = notes
	}
	m.AddReviewer(provenance.ReviewerInfo{
		Kind:      provenance.ReviewerKindHuman,
		ID:        reviewer,
		Scrutiny:  level,
		Timestamp: ts,
		Notes:     notes,
	})
	m.AppendHistory(m.HistoryEntry(now, fmt.Sprintf("%s by %s (%s)", provenance.ActionCertified, reviewer, level)))

	if err := e.WriteAnnotation(a, m); err != nil {
		return nil, err
	}
	e.logger.Info("certified", "artifact", a.ID(), "reviewer", reviewer, "scrutiny", string(level))
	return m, nil
}

// CertifyAgent records an automated review. It fails closed with an
// AgentPermissionError, mutating nothing, when the agent is not
// allow-listed or the requested scrutiny exceeds its bound. An empty level
// requests the agent's maximum.
func (e *Engine) CertifyAgent(a *scan.Artifact, agentID string, level provenance.ScrutinyLevel, notes string) (*provenance.TagMetadata, error) {
	perm, ok := e.Policy.Permission(agentID)
	if !ok {
		return nil, &AgentPermissionError{AgentID: agentID, Reason: "not permitted to certify"}
	}
	if level == "" {
		level = perm.MaxScrutiny
	}
	if !level.Valid() {
		return nil, fmt.Errorf("lifecycle: unsupported scrutiny level %q", level)
	}
	if !level.AtMost(perm.MaxScrutiny) {
		return nil, &AgentPermissionError{
			AgentID: agentID,
			Reason:  fmt.Sprintf("limited to %s scrutiny, requested %s", perm.MaxScrutiny, level),
		}
	}

	m, err := e.certifiable(a, false)
	if err != nil {
		return nil, err
	}

	now := e.now()
	ts := now.UTC().Format(time.RFC3339)
	if m.AIComposed == "" || m.AIComposed == provenance.Pending {
		m.AIComposed = agentID
	}
	m.Scrutiny = level
	m.Date = ts
	if notes != "" {
		m.Notes = notes
	}
	m.AddReviewer(provenance.ReviewerInfo{
		Kind:      provenance.ReviewerKindAgent,
		ID:        agentID,
		Scrutiny:  level,
		Timestamp: ts,
		Notes:     notes,
	})
	m.AppendHistory(m.HistoryEntry(now, fmt.Sprintf("agent %s %s (%s)", agentID, provenance.ActionCertified, level)))

	if err := e.WriteAnnotation(a, m); err != nil {
		return nil, err
	}
	e.logger.Info("agent certified", "artifact", a.ID(), "agent", agentID, "scrutiny", string(level))
	return m, nil
}

// certifiable validates the certify preconditions and returns a clone safe
// to mutate.
func (e *Engine) certifiable(a *scan.Artifact, includeExisting bool) (*provenance.TagMetadata, error) {
	if !a.Annotated() {
		return nil, fmt.Errorf("lifecycle: %s is not annotated", a.ID())
	}
	if a.Meta.Done {
		return nil, fmt.Errorf("lifecycle: %s is finalized; reconcile or reopen before re-certifying", a.ID())
	}
	if !a.Meta.PendingCertification() && !includeExisting {
		return nil, fmt.Errorf("lifecycle: %s is already certified by %s", a.ID(), a.Meta.HumanCertified)
	}
	return a.Meta.Clone(), nil
}

// CanFinalize checks the Finalize preconditions without mutating anything.
func (e *Engine) CanFinalize(a *scan.Artifact) error {
	if !a.Annotated() {
		return fmt.Errorf("lifecycle: %s is not annotated", a.ID())
	}
	m := a.Meta
	if m.Done {
		return fmt.Errorf("lifecycle: %s is already finalized", a.ID())
	}
	if m.Stale() {
		return fmt.Errorf("lifecycle: %s was reopened; re-certify before finalizing", a.ID())
	}
	if m.PendingCertification() && !e.hasQualifyingAgentReview(m) {
		return fmt.Errorf("lifecycle: %s has no qualifying review", a.ID())
	}
	if last := m.LastReviewer(); last != nil && last.Kind == provenance.ReviewerKindAgent {
		perm, ok := e.Policy.Permission(last.ID)
		if !ok {
			return &AgentPermissionError{AgentID: last.ID, Reason: "certifying agent is no longer allow-listed"}
		}
		if !perm.AllowFinalize {
			return &AgentPermissionError{AgentID: last.ID, Reason: "not permitted to finalize"}
		}
	}
	return nil
}

func (e *Engine) hasQualifyingAgentReview(m *provenance.TagMetadata) bool {
	for _, r := range m.Reviewers {
		if r.Kind != provenance.ReviewerKindAgent {
			continue
		}
		perm, ok := e.Policy.Permission(r.ID)
		if ok && r.Scrutiny.AtMost(perm.MaxScrutiny) {
			return true
		}
	}
	return false
}

// Finalize moves one artifact to the Finalized stage. See FinalizeAll for
// the sequencing contract.
func (e *Engine) Finalize(ctx context.Context, a *scan.Artifact) (*registry.Entry, error) {
	entries, err := e.FinalizeAll(ctx, []*scan.Artifact{a})
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

// FinalizeAll finalizes a batch under a single registry lock: every
// precondition is validated first (no mutation on any failure), the full
// metadata snapshots are committed to the registry, and only then are the
// inline annotations collapsed to the minimal done projection. A crash
// between the registry commit and the inline collapse is recovered by the
// next reconcile run.
func (e *Engine) FinalizeAll(ctx context.Context, artifacts []*scan.Artifact) ([]*registry.Entry, error) {
	entries := make([]*registry.Entry, 0, len(artifacts))
	now := e.now()
	ts := now.UTC().Format(time.RFC3339)

	for _, a := range artifacts {
		if err := e.CanFinalize(a); err != nil {
			return nil, err
		}
		snapshot := a.Meta.Clone()
		snapshot.Done = false
		snapshot.AppendHistory(snapshot.HistoryEntry(now, provenance.ActionFinalized+" digest_body="+a.Digest[:12]))
		entries = append(entries, &registry.Entry{
			Path:        a.Path,
			Name:        a.Name,
			Digest:      a.Digest,
			FinalizedAt: ts,
			Meta:        snapshot,
		})
	}

	err := e.Store.WithLock(ctx, func(reg *registry.Registry) (bool, error) {
		for _, entry := range entries {
			reg.Put(entry)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	byFile := make(map[string][]update)
	for i, a := range artifacts {
		byFile[a.Path] = append(byFile[a.Path], update{art: a, meta: entries[i].Meta.Projection()})
	}
	for path, ups := range byFile {
		if err := applyUpdates(e.abs(path), ups); err != nil {
			return entries, fmt.Errorf("lifecycle: collapse inline after registry commit: %w", err)
		}
	}

	for _, entry := range entries {
		e.logger.Info("finalized", "artifact", string(entry.Key()), "digest", entry.Digest[:12])
	}
	return entries, nil
}
