package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	src := `package svc

// Run starts the loop.
func Run() error { return nil }
`
	if err := os.WriteFile(filepath.Join(root, "svc.go"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestScanCommand(t *testing.T) {
	root := writeFixture(t)
	out, err := runCLI(t, "scan", "--root", root)
	if err != nil {
		t.Fatalf("scan: %v\n%s", err, out)
	}
	if !strings.Contains(out, "svc.go::Run") || !strings.Contains(out, "pristine") {
		t.Fatalf("scan output:\n%s", out)
	}
}

func TestLifecycleCommands(t *testing.T) {
	root := writeFixture(t)

	out, err := runCLI(t, "annotate", "svc.go::Run", "--root", root, "--agent", "copilot")
	if err != nil {
		t.Fatalf("annotate: %v\n%s", err, out)
	}

	out, err = runCLI(t, "certify", "svc.go::Run", "--root", root, "--reviewer", "jane", "--scrutiny", "high")
	if err != nil {
		t.Fatalf("certify: %v\n%s", err, out)
	}
	if !strings.Contains(out, "certified svc.go::Run by jane (high)") {
		t.Fatalf("certify output:\n%s", out)
	}

	out, err = runCLI(t, "finalize", "svc.go::Run", "--root", root)
	if err != nil {
		t.Fatalf("finalize: %v\n%s", err, out)
	}
	if !strings.Contains(out, "finalized svc.go::Run") {
		t.Fatalf("finalize output:\n%s", out)
	}

	// The registry now exists and the tree reconciles clean.
	if _, err := os.Stat(filepath.Join(root, ".attestor", "registry.yml")); err != nil {
		t.Fatalf("registry file missing: %v", err)
	}
	out, err = runCLI(t, "reconcile", "--root", root)
	if err != nil {
		t.Fatalf("reconcile: %v\n%s", err, out)
	}
	if !strings.Contains(out, "consistent") {
		t.Fatalf("reconcile output:\n%s", out)
	}

	out, err = runCLI(t, "enforce", "--root", root)
	if err != nil {
		t.Fatalf("enforce on a certified tree: %v\n%s", err, out)
	}
	if !strings.Contains(out, "100% coverage") {
		t.Fatalf("enforce output:\n%s", out)
	}
}

func TestEnforceFailsOnViolations(t *testing.T) {
	root := writeFixture(t)
	policy := "enforcement:\n  min_coverage: 0.9\n"
	if err := os.WriteFile(filepath.Join(root, ".attestor.yml"), []byte(policy), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "enforce", "--root", root)
	if err == nil {
		t.Fatalf("enforce passed an uncovered tree:\n%s", out)
	}
	if !strings.Contains(out, "violation [coverage]") {
		t.Fatalf("enforce output:\n%s", out)
	}
}

func TestBareNameResolution(t *testing.T) {
	root := writeFixture(t)
	if out, err := runCLI(t, "annotate", "Run", "--root", root); err != nil {
		t.Fatalf("annotate by bare name: %v\n%s", err, out)
	}
	if out, err := runCLI(t, "annotate", "Missing", "--root", root); err == nil {
		t.Fatalf("annotate of unknown artifact succeeded:\n%s", out)
	}
}
