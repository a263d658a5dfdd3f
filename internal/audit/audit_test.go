package audit

import (
	"path/filepath"
	"testing"
)

func TestRecordAndRecent(t *testing.T) {
	log, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer log.Close()

	events := []struct{ op, actor, artifact string }{
		{"annotate", "copilot", "svc.go::Run"},
		{"certify", "jane", "svc.go::Run"},
		{"finalize", "jane", "svc.go::Run"},
	}
	for _, e := range events {
		if err := log.Record(e.op, e.actor, e.artifact, ""); err != nil {
			t.Fatalf("Record(%s): %v", e.op, err)
		}
	}

	got, err := log.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	// Most recent first.
	if got[0].Operation != "finalize" || got[2].Operation != "annotate" {
		t.Fatalf("order wrong: %+v", got)
	}
	if got[1].Actor != "jane" || got[1].Artifact != "svc.go::Run" {
		t.Fatalf("event fields lost: %+v", got[1])
	}
	if got[0].At == "" {
		t.Fatal("timestamp not recorded")
	}

	limited, err := log.Recent(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].Operation != "finalize" {
		t.Fatalf("limit not applied: %+v", limited)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".attestor", "audit.db")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	if err := log.Record("reconcile", "", "", "0 findings"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// Reopen and confirm the event persisted.
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}
	log2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer log2.Close()
	got, err := log2.Recent(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Operation != "reconcile" {
		t.Fatalf("persisted events = %+v", got)
	}
}
