package policy

import (
	"fmt"

	"attestor/internal/provenance"
	"attestor/internal/scan"
)

// Violation kinds.
const (
	ViolationScrutiny = "scrutiny"
	ViolationCoverage = "coverage"
)

// Violation is one structured policy finding. Violations are report items,
// not errors.
type Violation struct {
	Kind   string `json:"kind"`
	Path   string `json:"path,omitempty"`
	Name   string `json:"name,omitempty"`
	Detail string `json:"detail"`
}

// Report is the evaluator's verdict over one scan.
type Report struct {
	Total         int         `json:"total"`
	Eligible      int         `json:"eligible"`
	Certified     int         `json:"certified"`
	AgentCredited int         `json:"agent_credited"`
	CoverageRatio float64     `json:"coverage_ratio"`
	AgentRatio    float64     `json:"agent_ratio"`
	Pending       []string    `json:"pending,omitempty"`
	Violations    []Violation `json:"violations,omitempty"`
}

// Pass reports whether the evaluation produced no violations.
func (r *Report) Pass() bool {
	return len(r.Violations) == 0
}

// Evaluate computes coverage ratios and enforcement verdicts for the given
// artifact records under cfg. Coverage ratio is certified/eligible, where
// an artifact earns certification credit from a non-pending human
// certifier or from a qualifying allow-listed agent reviewer when the
// policy grants agent coverage credit. Pristine artifacts are excluded
// from the eligible set when ignore_unannotated is set.
func Evaluate(artifacts []*scan.Artifact, cfg *Config) *Report {
	rep := &Report{Total: len(artifacts)}

	for _, a := range artifacts {
		if !a.Annotated() {
			if cfg.Enforcement.IgnoreUnannotated {
				continue
			}
			rep.Eligible++
			rep.Pending = append(rep.Pending, a.ID())
			continue
		}
		rep.Eligible++

		humanOK, agentOK := certification(a.Meta, cfg)
		switch {
		case humanOK:
			rep.Certified++
		case agentOK:
			rep.Certified++
			rep.AgentCredited++
		default:
			rep.Pending = append(rep.Pending, a.ID())
		}

		if v := scrutinyViolation(a, cfg); v != nil {
			rep.Violations = append(rep.Violations, *v)
		}
	}

	if rep.Eligible > 0 {
		rep.CoverageRatio = float64(rep.Certified) / float64(rep.Eligible)
	}
	if rep.Certified > 0 {
		rep.AgentRatio = float64(rep.AgentCredited) / float64(rep.Certified)
	}

	if min := cfg.Enforcement.MinCoverage; min != nil && rep.Eligible > 0 && rep.CoverageRatio < *min {
		rep.Violations = append(rep.Violations, Violation{
			Kind: ViolationCoverage,
			Detail: fmt.Sprintf("coverage %d/%d (%.0f%%) below required %.0f%%",
				rep.Certified, rep.Eligible, rep.CoverageRatio*100, *min*100),
		})
	}
	return rep
}

// certification reports whether the record earns human or agent credit.
// Reviewer entries that survived a reopen are stale and earn nothing
// unless allow_stale_reviewers is set.
func certification(m *provenance.TagMetadata, cfg *Config) (humanOK, agentOK bool) {
	if m.Stale() && !cfg.Enforcement.AllowStaleReviewers {
		return false, false
	}
	humanOK = !m.PendingCertification()
	agentOK = cfg.Integrations.Agents.AllowCoverageCredit && hasQualifyingAgent(m, cfg, "")
	return humanOK, agentOK
}

// hasQualifyingAgent reports whether any agent reviewer entry is
// allow-listed with its recorded scrutiny within the agent's bound. A
// non-empty atLeast additionally requires that level or above.
func hasQualifyingAgent(m *provenance.TagMetadata, cfg *Config, atLeast provenance.ScrutinyLevel) bool {
	for _, r := range m.Reviewers {
		if r.Kind != provenance.ReviewerKindAgent {
			continue
		}
		perm, ok := cfg.Permission(r.ID)
		if !ok || !r.Scrutiny.AtMost(perm.MaxScrutiny) {
			continue
		}
		if atLeast != "" && !atLeast.AtMost(r.Scrutiny) {
			continue
		}
		return true
	}
	return false
}

// scrutinyViolation implements ai_composed_requires_high_scrutiny: an
// AI-composed artifact must carry high scrutiny or a qualifying
// high-scrutiny agent review.
func scrutinyViolation(a *scan.Artifact, cfg *Config) *Violation {
	if !cfg.Enforcement.AIComposedRequiresHighScrutiny {
		return nil
	}
	m := a.Meta
	if m.AIComposed == "" || m.AIComposed == provenance.Pending {
		return nil
	}
	if m.Scrutiny == provenance.ScrutinyHigh {
		return nil
	}
	if hasQualifyingAgent(m, cfg, provenance.ScrutinyHigh) {
		return nil
	}
	return &Violation{
		Kind:   ViolationScrutiny,
		Path:   a.Path,
		Name:   a.Name,
		Detail: fmt.Sprintf("ai_composed artifact requires high scrutiny, has %q", m.Scrutiny),
	}
}
