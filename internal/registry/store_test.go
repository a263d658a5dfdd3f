package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"attestor/internal/provenance"
)

func testEntry(name string) *Entry {
	return &Entry{
		Path:        "svc/server.go",
		Name:        name,
		Digest:      "deadbeefdeadbeefdeadbeef",
		FinalizedAt: "2026-03-01T10:00:00Z",
		Meta: &provenance.TagMetadata{
			AIComposed:     "copilot",
			HumanCertified: "jane",
			Scrutiny:       provenance.ScrutinyHigh,
			History:        []string{"t1 digest=aa annotated"},
		},
	}
}

func TestLoadMissingFile(t *testing.T) {
	s := NewStore(t.TempDir())
	reg, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(reg.Entries) != 0 || len(reg.Archive) != 0 {
		t.Fatalf("missing file should load empty, got %+v", reg)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	reg := NewRegistry()
	reg.Put(testEntry("Server.Run"))
	reg.Put(testEntry("Server.Stop"))
	reg.Archive = append(reg.Archive, ArchiveRecord{
		Path: "svc/server.go", Name: "Old", ArchivedAt: "2026-02-01T00:00:00Z",
		Reason: "reopened: body digest drift", OldDigest: "aa", NewDigest: "bb",
		Entry: testEntry("Old"),
	})
	if err := s.Save(reg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(reg.Entries, got.Entries); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(reg.Archive, got.Archive); diff != "" {
		t.Fatalf("archive mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir, FileName), []byte("artifacts: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := s.Load()
	if !IsCorruption(err) {
		t.Fatalf("malformed yaml should yield CorruptionError, got %v", err)
	}
}

func TestLoadIncompleteEntry(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	raw := "artifacts:\n  - path: a.go\n    name: F\n"
	if err := os.WriteFile(filepath.Join(s.Dir, FileName), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := s.Load()
	if !IsCorruption(err) {
		t.Fatalf("incomplete entry should yield CorruptionError, got %v", err)
	}
}

func TestWithLockSavesOnChange(t *testing.T) {
	s := NewStore(t.TempDir())

	err := s.WithLock(context.Background(), func(reg *Registry) (bool, error) {
		reg.Put(testEntry("Server.Run"))
		return true, nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}

	reg, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if reg.Get(KeyFor("svc/server.go", "Server.Run")) == nil {
		t.Fatal("entry not persisted")
	}
}

func TestWithLockSkipsSaveWhenUnchanged(t *testing.T) {
	s := NewStore(t.TempDir())
	err := s.WithLock(context.Background(), func(reg *Registry) (bool, error) {
		return false, nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir, FileName)); !os.IsNotExist(err) {
		t.Fatal("registry file written despite changed=false")
	}
}

func TestWithLockTimesOut(t *testing.T) {
	root := t.TempDir()
	holder := NewStore(root)
	contender := NewStore(root)
	contender.LockTimeout = 200 * time.Millisecond

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = holder.WithLock(context.Background(), func(reg *Registry) (bool, error) {
			close(held)
			<-release
			return false, nil
		})
	}()
	<-held
	defer close(release)

	err := contender.WithLock(context.Background(), func(reg *Registry) (bool, error) {
		return false, nil
	})
	if !IsCorruption(err) {
		t.Fatalf("contended lock should time out with CorruptionError, got %v", err)
	}
}

func TestRemoveArchives(t *testing.T) {
	reg := NewRegistry()
	e := testEntry("Server.Run")
	reg.Put(e)

	reg.Remove(e.Key(), ArchiveRecord{ArchivedAt: "2026-03-02T00:00:00Z", Reason: "reopened: body digest drift"})
	if reg.Get(e.Key()) != nil {
		t.Fatal("entry still active after Remove")
	}
	if len(reg.Archive) != 1 {
		t.Fatalf("archive = %+v", reg.Archive)
	}
	rec := reg.Archive[0]
	if rec.Entry != e || rec.Path != e.Path || rec.Name != e.Name {
		t.Fatalf("archive record incomplete: %+v", rec)
	}

	// Removing an unknown key is a no-op.
	reg.Remove(KeyFor("x", "y"), ArchiveRecord{})
	if len(reg.Archive) != 1 {
		t.Fatal("no-op remove grew the archive")
	}
}
