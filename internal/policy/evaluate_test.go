package policy

import (
	"fmt"
	"testing"

	"attestor/internal/provenance"
	"attestor/internal/scan"
)

func humanArtifact(n int) *scan.Artifact {
	return &scan.Artifact{
		Path: fmt.Sprintf("pkg/h%d.go", n), Name: "F", Kind: scan.KindFunc,
		Meta: &provenance.TagMetadata{
			AIComposed:     "pending",
			HumanCertified: "jane",
			Scrutiny:       provenance.ScrutinyMedium,
		},
	}
}

func agentArtifact(n int) *scan.Artifact {
	return &scan.Artifact{
		Path: fmt.Sprintf("pkg/a%d.go", n), Name: "F", Kind: scan.KindFunc,
		Meta: &provenance.TagMetadata{
			AIComposed:     "reviewer-bot",
			HumanCertified: "pending",
			Scrutiny:       provenance.ScrutinyMedium,
			Reviewers: []provenance.ReviewerInfo{
				{Kind: provenance.ReviewerKindAgent, ID: "reviewer-bot", Scrutiny: provenance.ScrutinyMedium},
			},
		},
	}
}

func pendingArtifact(n int) *scan.Artifact {
	m := provenance.NewTagMetadata()
	return &scan.Artifact{Path: fmt.Sprintf("pkg/p%d.go", n), Name: "F", Kind: scan.KindFunc, Meta: m}
}

func creditConfig() *Config {
	cfg := Default()
	cfg.Enforcement.AIComposedRequiresHighScrutiny = false
	cfg.Integrations.Agents.Enabled = true
	cfg.Integrations.Agents.AllowCoverageCredit = true
	cfg.Integrations.Agents.Reviewers = []AgentPermission{
		{ID: "reviewer-bot", MaxScrutiny: provenance.ScrutinyMedium},
	}
	return cfg
}

func TestCoverageArithmetic(t *testing.T) {
	var artifacts []*scan.Artifact
	for i := 0; i < 6; i++ {
		artifacts = append(artifacts, humanArtifact(i))
	}
	for i := 0; i < 2; i++ {
		artifacts = append(artifacts, agentArtifact(i))
	}
	for i := 0; i < 2; i++ {
		artifacts = append(artifacts, pendingArtifact(i))
	}

	cfg := creditConfig()
	rep := Evaluate(artifacts, cfg)

	if rep.Total != 10 || rep.Eligible != 10 {
		t.Fatalf("total/eligible = %d/%d", rep.Total, rep.Eligible)
	}
	if rep.Certified != 8 || rep.AgentCredited != 2 {
		t.Fatalf("certified/agent = %d/%d", rep.Certified, rep.AgentCredited)
	}
	if rep.CoverageRatio != 0.8 {
		t.Fatalf("coverage = %v", rep.CoverageRatio)
	}
	if rep.AgentRatio != 0.25 {
		t.Fatalf("agent ratio = %v", rep.AgentRatio)
	}
	if len(rep.Pending) != 2 {
		t.Fatalf("pending = %v", rep.Pending)
	}

	min := 0.8
	cfg.Enforcement.MinCoverage = &min
	if rep := Evaluate(artifacts, cfg); !rep.Pass() {
		t.Fatalf("coverage 0.8 should satisfy min 0.8, violations: %+v", rep.Violations)
	}

	min = 0.9
	rep = Evaluate(artifacts, cfg)
	if len(rep.Violations) != 1 || rep.Violations[0].Kind != ViolationCoverage {
		t.Fatalf("violations = %+v", rep.Violations)
	}
}

func TestAgentCreditRequiresPolicy(t *testing.T) {
	artifacts := []*scan.Artifact{agentArtifact(0)}

	cfg := creditConfig()
	cfg.Integrations.Agents.AllowCoverageCredit = false
	if rep := Evaluate(artifacts, cfg); rep.Certified != 0 {
		t.Fatal("agent credit granted without allow_coverage_credit")
	}

	cfg = creditConfig()
	cfg.Integrations.Agents.Enabled = false
	if rep := Evaluate(artifacts, cfg); rep.Certified != 0 {
		t.Fatal("agent credit granted with integration disabled")
	}

	// Recorded scrutiny above the agent's bound earns nothing.
	cfg = creditConfig()
	cfg.Integrations.Agents.Reviewers[0].MaxScrutiny = provenance.ScrutinyLow
	if rep := Evaluate(artifacts, cfg); rep.Certified != 0 {
		t.Fatal("agent credit granted beyond the scrutiny bound")
	}
}

func TestStaleReviewersEarnNothingByDefault(t *testing.T) {
	a := humanArtifact(0)
	a.Meta.History = []string{
		"t1 digest=aa certified by jane (medium)",
		"t2 digest=bb reopened digest drift",
	}

	cfg := creditConfig()
	rep := Evaluate([]*scan.Artifact{a}, cfg)
	if rep.Certified != 0 || len(rep.Pending) != 1 {
		t.Fatalf("stale artifact earned credit: %+v", rep)
	}

	cfg.Enforcement.AllowStaleReviewers = true
	rep = Evaluate([]*scan.Artifact{a}, cfg)
	if rep.Certified != 1 {
		t.Fatal("allow_stale_reviewers did not restore credit")
	}
}

func TestIgnoreUnannotated(t *testing.T) {
	artifacts := []*scan.Artifact{
		humanArtifact(0),
		{Path: "pkg/raw.go", Name: "F", Kind: scan.KindFunc},
	}

	cfg := creditConfig()
	rep := Evaluate(artifacts, cfg)
	if rep.Eligible != 2 || rep.CoverageRatio != 0.5 {
		t.Fatalf("unannotated should count by default: %+v", rep)
	}

	cfg.Enforcement.IgnoreUnannotated = true
	rep = Evaluate(artifacts, cfg)
	if rep.Eligible != 1 || rep.CoverageRatio != 1.0 {
		t.Fatalf("ignore_unannotated not applied: %+v", rep)
	}
}

func TestScrutinyViolation(t *testing.T) {
	a := &scan.Artifact{
		Path: "pkg/gen.go", Name: "F", Kind: scan.KindFunc,
		Meta: &provenance.TagMetadata{
			AIComposed:     "copilot",
			HumanCertified: "jane",
			Scrutiny:       provenance.ScrutinyLow,
		},
	}

	cfg := Default()
	rep := Evaluate([]*scan.Artifact{a}, cfg)
	if len(rep.Violations) != 1 || rep.Violations[0].Kind != ViolationScrutiny {
		t.Fatalf("violations = %+v", rep.Violations)
	}

	a.Meta.Scrutiny = provenance.ScrutinyHigh
	if rep := Evaluate([]*scan.Artifact{a}, cfg); !rep.Pass() {
		t.Fatalf("high scrutiny still flagged: %+v", rep.Violations)
	}

	// A qualifying high-scrutiny agent review also satisfies the rule.
	a.Meta.Scrutiny = provenance.ScrutinyLow
	a.Meta.Reviewers = []provenance.ReviewerInfo{
		{Kind: provenance.ReviewerKindAgent, ID: "auditor-bot", Scrutiny: provenance.ScrutinyHigh},
	}
	cfg.Integrations.Agents.Enabled = true
	cfg.Integrations.Agents.Reviewers = []AgentPermission{
		{ID: "auditor-bot", MaxScrutiny: provenance.ScrutinyHigh},
	}
	if rep := Evaluate([]*scan.Artifact{a}, cfg); !rep.Pass() {
		t.Fatalf("qualifying agent review not accepted: %+v", rep.Violations)
	}
}

func TestPendingArtifactWithAIComposedNotFlagged(t *testing.T) {
	a := pendingArtifact(0)
	rep := Evaluate([]*scan.Artifact{a}, Default())
	if !rep.Pass() {
		t.Fatalf("pending composer flagged: %+v", rep.Violations)
	}
}
