// Package mcp exposes the provenance engine to automated reviewers over
// the Model Context Protocol. The tools mirror the CLI surface; agent
// identity is an explicit input on every mutating tool and is checked
// against the policy allow-list by the lifecycle engine, which fails
// closed.
package mcp

import (
	"context"
	"fmt"
	"sort"

	"attestor/internal/audit"
	"attestor/internal/lifecycle"
	"attestor/internal/logging"
	"attestor/internal/policy"
	"attestor/internal/provenance"
	"attestor/internal/reconcile"
	"attestor/internal/registry"
	"attestor/internal/scan"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the MCP SDK server around one repository root.
type Server struct {
	MCPServer *sdkmcp.Server

	Root       string
	PolicyPath string
	Audit      *audit.Log
	Version    string
}

// NewServer creates an MCP server rooted at root. An empty policyPath
// resolves the default policy file candidates under root. The audit log is
// optional.
func NewServer(root, policyPath string, auditLog *audit.Log, version string) *Server {
	s := &Server{Root: root, PolicyPath: policyPath, Audit: auditLog, Version: version}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "attestor", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "scan_provenance",
		Description: "Scan the repository for functions, methods and types and report each artifact's lifecycle stage.",
	}, s.handleScan)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "certify_agent",
		Description: "Record an automated review on one artifact. The agent id must be allow-listed in the policy and the scrutiny level within its bound.",
	}, s.handleCertifyAgent)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "reconcile",
		Description: "Reconcile the registry against the tree: reopen drifted artifacts, complete interrupted transitions, report orphans and conflicts.",
	}, s.handleReconcile)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "policy_report",
		Description: "Evaluate certification coverage and enforcement rules without mutating anything.",
	}, s.handlePolicyReport)
}

// --- Tool input/output types ---

type artifactSummary struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Stage    string `json:"stage"`
	Scrutiny string `json:"scrutiny,omitempty"`
	Digest   string `json:"digest"`
}

type scanInput struct {
	Stage string `json:"stage,omitempty" jsonschema:"only return artifacts in this stage (pristine, annotated, under_review, finalized, corrupt)"`
}

type scanOutput struct {
	Total     int               `json:"total"`
	Artifacts []artifactSummary `json:"artifacts"`
	Errors    []string          `json:"errors,omitempty"`
}

type certifyAgentInput struct {
	AgentID  string `json:"agent_id" jsonschema:"allow-listed agent identity recording the review"`
	Artifact string `json:"artifact" jsonschema:"artifact id, path::qualified_name"`
	Scrutiny string `json:"scrutiny,omitempty" jsonschema:"scrutiny level (auto, low, medium, high); empty requests the agent's maximum"`
	Notes    string `json:"notes,omitempty" jsonschema:"free-form review notes"`
}

type certifyAgentOutput struct {
	Artifact string `json:"artifact"`
	Scrutiny string `json:"scrutiny"`
	Stage    string `json:"stage"`
}

type reconcileInput struct{}

type reconcileOutput struct {
	Findings []reconcile.Finding `json:"findings"`
	Clean    bool                `json:"clean"`
}

type policyReportInput struct{}

// --- Tool handlers ---

func (s *Server) handleScan(ctx context.Context, _ *sdkmcp.CallToolRequest, input scanInput) (*sdkmcp.CallToolResult, scanOutput, error) {
	res, err := scan.New(s.Root).Scan(ctx)
	if err != nil {
		return nil, scanOutput{}, fmt.Errorf("scan_provenance: %w", err)
	}

	out := scanOutput{Total: len(res.Artifacts)}
	for _, a := range res.Artifacts {
		stage := lifecycle.Stage(a)
		if input.Stage != "" && stage != input.Stage {
			continue
		}
		sum := artifactSummary{ID: a.ID(), Kind: a.Kind, Stage: stage, Digest: a.Digest[:12]}
		if a.Annotated() {
			sum.Scrutiny = string(a.Meta.Scrutiny)
		}
		out.Artifacts = append(out.Artifacts, sum)
	}
	for _, fe := range res.Errors {
		out.Errors = append(out.Errors, fe.Error())
	}
	sort.Slice(out.Artifacts, func(i, j int) bool { return out.Artifacts[i].ID < out.Artifacts[j].ID })
	return nil, out, nil
}

func (s *Server) handleCertifyAgent(ctx context.Context, _ *sdkmcp.CallToolRequest, input certifyAgentInput) (*sdkmcp.CallToolResult, certifyAgentOutput, error) {
	logger := logging.New("mcp")
	if input.AgentID == "" {
		return nil, certifyAgentOutput{}, fmt.Errorf("agent_id is required")
	}
	if input.Artifact == "" {
		return nil, certifyAgentOutput{}, fmt.Errorf("artifact is required")
	}

	cfg, err := policy.Load(s.Root, s.PolicyPath)
	if err != nil {
		return nil, certifyAgentOutput{}, err
	}
	res, err := scan.New(s.Root).Scan(ctx)
	if err != nil {
		return nil, certifyAgentOutput{}, fmt.Errorf("certify_agent: scan: %w", err)
	}
	a := res.ByID()[input.Artifact]
	if a == nil {
		return nil, certifyAgentOutput{}, fmt.Errorf("certify_agent: no artifact %q", input.Artifact)
	}

	eng := lifecycle.NewEngine(s.Root, registry.NewStore(s.Root), cfg)
	m, err := eng.CertifyAgent(a, input.AgentID, provenance.ScrutinyLevel(input.Scrutiny), input.Notes)
	if err != nil {
		logger.Warn("agent certify refused", "agent", input.AgentID, "artifact", input.Artifact, "err", err)
		return nil, certifyAgentOutput{}, err
	}
	s.record("certify_agent", input.AgentID, input.Artifact, string(m.Scrutiny))

	a.Meta = m
	return nil, certifyAgentOutput{
		Artifact: input.Artifact,
		Scrutiny: string(m.Scrutiny),
		Stage:    lifecycle.Stage(a),
	}, nil
}

func (s *Server) handleReconcile(ctx context.Context, _ *sdkmcp.CallToolRequest, _ reconcileInput) (*sdkmcp.CallToolResult, reconcileOutput, error) {
	cfg, err := policy.Load(s.Root, s.PolicyPath)
	if err != nil {
		return nil, reconcileOutput{}, err
	}
	store := registry.NewStore(s.Root)
	rec := reconcile.New(s.Root, store, lifecycle.NewEngine(s.Root, store, cfg))

	findings, err := rec.Reconcile(ctx)
	if err != nil {
		return nil, reconcileOutput{}, err
	}
	s.record("reconcile", "", "", fmt.Sprintf("%d findings", len(findings)))
	return nil, reconcileOutput{Findings: findings, Clean: len(findings) == 0}, nil
}

func (s *Server) handlePolicyReport(ctx context.Context, _ *sdkmcp.CallToolRequest, _ policyReportInput) (*sdkmcp.CallToolResult, *policy.Report, error) {
	cfg, err := policy.Load(s.Root, s.PolicyPath)
	if err != nil {
		return nil, nil, err
	}
	res, err := scan.New(s.Root).Scan(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("policy_report: scan: %w", err)
	}
	reg, err := registry.NewStore(s.Root).Load()
	if err != nil {
		return nil, nil, err
	}
	return nil, policy.Evaluate(lifecycle.EvaluationRecords(res.Artifacts, reg), cfg), nil
}

// record writes to the audit log when one is wired. Audit failures are
// logged, never surfaced to the tool caller.
func (s *Server) record(operation, actor, artifact, detail string) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.Record(operation, actor, artifact, detail); err != nil {
		logging.New("mcp").Warn("audit record failed", "operation", operation, "err", err)
	}
}
