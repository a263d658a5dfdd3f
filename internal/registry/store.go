package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"attestor/internal/logging"
)

// Default on-disk layout under the repository root.
const (
	DirName      = ".attestor"
	FileName     = "registry.yml"
	lockFileName = "registry.lock"
)

// DefaultLockTimeout bounds lock acquisition so concurrent invocations fail
// with a reportable error instead of deadlocking.
const DefaultLockTimeout = 10 * time.Second

// CorruptionError is fatal for any operation touching the registry: the
// file is malformed or the lock cannot be obtained. The engine never
// auto-repairs a corrupt registry by discarding it.
type CorruptionError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("registry: %s: %s", e.Path, e.Reason)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// IsCorruption reports whether err is (or wraps) a CorruptionError.
func IsCorruption(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// fileFormat is the persisted YAML shape: active entries sorted by
// identity, plus the reopen archive.
type fileFormat struct {
	Artifacts []*Entry        `yaml:"artifacts"`
	History   []ArchiveRecord `yaml:"history,omitempty"`
}

// Store reads and writes the registry file for one repository root.
type Store struct {
	Dir         string
	LockTimeout time.Duration
}

// NewStore returns a Store rooted at root/.attestor.
func NewStore(root string) *Store {
	return &Store{Dir: filepath.Join(root, DirName), LockTimeout: DefaultLockTimeout}
}

func (s *Store) path() string { return filepath.Join(s.Dir, FileName) }

// Load reads the registry. A missing file yields an empty registry; a
// malformed file yields a CorruptionError.
func (s *Store) Load() (*Registry, error) {
	data, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return NewRegistry(), nil
	}
	if err != nil {
		return nil, &CorruptionError{Path: s.path(), Reason: "unreadable", Err: err}
	}

	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, &CorruptionError{Path: s.path(), Reason: "malformed yaml", Err: err}
	}

	reg := NewRegistry()
	reg.Archive = ff.History
	for _, e := range ff.Artifacts {
		if e.Path == "" || e.Name == "" || e.Digest == "" || e.Meta == nil {
			return nil, &CorruptionError{Path: s.path(), Reason: fmt.Sprintf("incomplete entry %s::%s", e.Path, e.Name)}
		}
		reg.Put(e)
	}
	return reg, nil
}

// Save writes the registry atomically: marshal, write to a temp file in the
// same directory, then rename over the target. A crash mid-save leaves
// either the prior or the new complete file, never a truncated one.
func (s *Store) Save(reg *Registry) error {
	entries := make([]*Entry, 0, len(reg.Entries))
	for _, e := range reg.Entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key() < entries[j].Key() })

	data, err := yaml.Marshal(fileFormat{Artifacts: entries, History: reg.Archive})
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("registry: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.Dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("registry: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("registry: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("registry: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("registry: rename: %w", err)
	}
	return nil
}

// WithLock runs fn with the registry loaded under a scoped exclusive file
// lock and saves it back when fn reports a change. The lock is released on
// every exit path; acquisition is bounded by LockTimeout.
func (s *Store) WithLock(ctx context.Context, fn func(*Registry) (bool, error)) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("registry: create dir: %w", err)
	}

	timeout := s.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	lock := flock.New(filepath.Join(s.Dir, lockFileName))
	ok, err := lock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil || !ok {
		return &CorruptionError{Path: s.path(), Reason: fmt.Sprintf("lock not acquired within %s", timeout), Err: err}
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logging.New("registry").Warn("release registry lock", "path", s.path(), "err", err)
		}
	}()

	reg, err := s.Load()
	if err != nil {
		return err
	}
	changed, err := fn(reg)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.Save(reg)
}
