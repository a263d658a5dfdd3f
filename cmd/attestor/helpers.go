package main

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"attestor/internal/audit"
	"attestor/internal/lifecycle"
	"attestor/internal/logging"
	"attestor/internal/policy"
	"attestor/internal/registry"
	"attestor/internal/scan"
)

// env bundles the wired components every command needs.
type env struct {
	root   string
	cfg    *policy.Config
	store  *registry.Store
	engine *lifecycle.Engine
	audit  *audit.Log
}

// setup resolves the root, loads the policy and wires the store, engine
// and audit log. The audit log is best-effort: a failure to open it is
// logged and the command proceeds without one.
func setup() (*env, error) {
	root, err := filepath.Abs(rootFlags.root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	cfg, err := policy.Load(root, rootFlags.policy)
	if err != nil {
		return nil, err
	}

	store := registry.NewStore(root)
	engine := lifecycle.NewEngine(root, store, cfg)
	engine.Attribution = gitAttribution(root)

	e := &env{root: root, cfg: cfg, store: store, engine: engine}
	if log, err := audit.Open(filepath.Join(root, registry.DirName, audit.FileName)); err != nil {
		logging.New("cli").Warn("audit log unavailable", "err", err)
	} else {
		e.audit = log
	}
	return e, nil
}

func (e *env) close() {
	if e.audit != nil {
		_ = e.audit.Close()
	}
}

// record appends to the audit log when one is open. Never fatal.
func (e *env) record(operation, actor, artifact, detail string) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(operation, actor, artifact, detail); err != nil {
		logging.New("cli").Warn("audit record failed", "operation", operation, "err", err)
	}
}

// scanTree runs a full scan under the root.
func (e *env) scanTree(ctx context.Context) (*scan.Result, error) {
	return scan.New(e.root).Scan(ctx)
}

// findArtifact resolves an artifact argument: either the full
// "path::qualified_name" id, or a bare name when it is unambiguous.
func findArtifact(res *scan.Result, arg string) (*scan.Artifact, error) {
	if a := res.ByID()[arg]; a != nil {
		return a, nil
	}
	var matches []*scan.Artifact
	for _, a := range res.Artifacts {
		if a.Name == arg {
			matches = append(matches, a)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, fmt.Errorf("no artifact %q in the tree", arg)
	default:
		ids := make([]string, len(matches))
		for i, a := range matches {
			ids[i] = a.ID()
		}
		return nil, fmt.Errorf("ambiguous name %q, candidates: %s", arg, strings.Join(ids, ", "))
	}
}

// gitAttribution resolves the last commit touching a file, when the root
// is a git work tree. Returns "" on any failure so annotation proceeds
// without attribution.
func gitAttribution(root string) lifecycle.AttributionFunc {
	return func(relPath string, _ int) string {
		out, err := exec.Command("git", "-C", root, "log", "-n1", "--format=%h %an", "--", relPath).Output()
		if err != nil {
			return ""
		}
		line := strings.TrimSpace(string(out))
		if line == "" {
			return ""
		}
		fields := strings.SplitN(line, " ", 2)
		attr := "last_commit=" + fields[0]
		if len(fields) == 2 {
			attr += " by " + fields[1]
		}
		return attr
	}
}
