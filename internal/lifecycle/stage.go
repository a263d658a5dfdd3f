package lifecycle

import (
	"attestor/internal/registry"
	"attestor/internal/scan"
)

// Stage names reported by the scanner-facing surfaces.
const (
	StagePristine    = "pristine"
	StageCorrupt     = "corrupt"
	StageAnnotated   = "annotated"
	StageUnderReview = "under_review"
	StageFinalized   = "finalized"
)

// EvaluationRecords prepares a scan for policy evaluation by substituting
// each finalized artifact's registry snapshot for its inline done
// projection. The projection drops ai_composed, scrutiny and the reviewer
// list, so evaluating it directly would both hide scrutiny violations and
// strip agent coverage credit from finalized artifacts. Artifacts without
// a registry entry pass through unchanged.
func EvaluationRecords(artifacts []*scan.Artifact, reg *registry.Registry) []*scan.Artifact {
	out := make([]*scan.Artifact, len(artifacts))
	for i, a := range artifacts {
		if a.Annotated() && a.Meta.Done {
			if entry := reg.Get(registry.KeyFor(a.Path, a.Name)); entry != nil {
				merged := *a
				m := entry.Meta.Clone()
				m.Done = true
				merged.Meta = m
				out[i] = &merged
				continue
			}
		}
		out[i] = a
	}
	return out
}

// Stage classifies an artifact into its lifecycle stage from the inline
// metadata alone. A finalized artifact carries only the done projection;
// the registry holds the rest.
func Stage(a *scan.Artifact) string {
	switch {
	case a.Corrupt:
		return StageCorrupt
	case !a.Annotated():
		return StagePristine
	case a.Meta.Done:
		return StageFinalized
	case !a.Meta.PendingCertification() || len(a.Meta.Reviewers) > 0:
		return StageUnderReview
	default:
		return StageAnnotated
	}
}
