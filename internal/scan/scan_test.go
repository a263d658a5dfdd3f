package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanDiscoversArtifacts(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "svc/server.go", `package svc

// Server handles requests.
type Server struct{}

// Run starts the server.
func (s *Server) Run() error { return nil }

func helper() int { return 42 }
`)

	res, err := New(root).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}

	byID := res.ByID()
	want := map[string]string{
		"svc/server.go::Server":     KindType,
		"svc/server.go::Server.Run": KindMethod,
		"svc/server.go::helper":     KindFunc,
	}
	if len(res.Artifacts) != len(want) {
		t.Fatalf("got %d artifacts, want %d", len(res.Artifacts), len(want))
	}
	for id, kind := range want {
		a := byID[id]
		if a == nil {
			t.Fatalf("missing artifact %s", id)
		}
		if a.Kind != kind {
			t.Errorf("%s kind = %s, want %s", id, a.Kind, kind)
		}
		if a.Annotated() {
			t.Errorf("%s unexpectedly annotated", id)
		}
		if a.Digest == "" {
			t.Errorf("%s has no digest", id)
		}
	}
}

func TestScanReadsAnnotations(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg.go", `package pkg

// Parse decodes the input.
//
// attest:ai_composed copilot
// attest:human_certified jane
// attest:scrutiny high
func Parse(s string) error { return nil }
`)

	res, err := New(root).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	a := res.ByID()["pkg.go::Parse"]
	if a == nil || !a.Annotated() {
		t.Fatalf("annotation not picked up: %+v", a)
	}
	if a.Meta.AIComposed != "copilot" || a.Meta.HumanCertified != "jane" {
		t.Fatalf("meta = %+v", a.Meta)
	}
	if len(a.DirLines) != 3 {
		t.Fatalf("DirLines = %v, want 3 directive lines", a.DirLines)
	}
}

func TestScanPartialFailures(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "good.go", `package pkg

func Fine() {}
`)
	writeFile(t, root, "broken.go", "package pkg\nfunc Broken( {")
	writeFile(t, root, "corrupt.go", `package pkg

// attest:scrutiny extreme
func Tagged() {}
`)

	res, err := New(root).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if res.ByID()["good.go::Fine"] == nil {
		t.Fatal("clean file blocked by broken siblings")
	}

	var parse, annotation int
	for _, fe := range res.Errors {
		switch fe.Kind {
		case ErrKindParse:
			parse++
		case ErrKindAnnotation:
			annotation++
		}
	}
	if parse != 1 || annotation != 1 {
		t.Fatalf("errors = %v, want 1 parse + 1 annotation", res.Errors)
	}

	tagged := res.ByID()["corrupt.go::Tagged"]
	if tagged == nil || !tagged.Corrupt {
		t.Fatalf("malformed annotation should yield a corrupt artifact: %+v", tagged)
	}
}

func TestScanSkipsHiddenAndVendorDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.go", "package pkg\nfunc Keep() {}\n")
	writeFile(t, root, "vendor/dep/dep.go", "package dep\nfunc Skip() {}\n")
	writeFile(t, root, ".hidden/h.go", "package h\nfunc Skip() {}\n")
	writeFile(t, root, "_build/b.go", "package b\nfunc Skip() {}\n")

	res, err := New(root).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0].Name != "Keep" {
		t.Fatalf("artifacts = %+v", res.Artifacts)
	}
}

func TestScanDigestIgnoresMovement(t *testing.T) {
	root1 := t.TempDir()
	writeFile(t, root1, "a.go", `package pkg

func Target() int { return 7 }
`)
	root2 := t.TempDir()
	writeFile(t, root2, "a.go", `package pkg

func above() {}

// Target does a thing now, says the doc.
func Target() int { return 7 }
`)

	res1, err := New(root1).Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	res2, err := New(root2).Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	d1 := res1.ByID()["a.go::Target"].Digest
	d2 := res2.ByID()["a.go::Target"].Digest
	if d1 != d2 {
		t.Fatal("digest changed when the declaration moved within the file")
	}
}
