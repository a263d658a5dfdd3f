// Package scan walks a source tree and yields artifact descriptors for
// every function, method, and type declaration, together with any inline
// provenance annotation found in the declaration's doc comment and the
// artifact's freshly computed body digest. Per-file parse and annotation
// failures are collected alongside successful artifacts so one malformed
// file never blocks the rest of the repository.
package scan

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"attestor/internal/digest"
	"attestor/internal/logging"
	"attestor/internal/provenance"
)

// Artifact kinds.
const (
	KindFunc   = "func"
	KindMethod = "method"
	KindType   = "type"
)

// Artifact is one tracked declaration for a single source revision.
// Identity is (Path, Name); a new scan produces new instances even for
// unchanged code.
type Artifact struct {
	Path     string // slash path relative to the scan root
	Name     string // qualified name, e.g. "Store.Load" or "ParseFile"
	Kind     string
	DeclLine int   // line of the declaration keyword; annotation insert anchor
	EndLine  int   // last line of the declaration body
	DirLines []int // file lines currently holding attest directives, ascending

	Meta    *provenance.TagMetadata // nil when unannotated
	Corrupt bool                    // annotation present but unparsable
	Digest  string
}

// ID is the registry identity string for this artifact.
func (a *Artifact) ID() string {
	return a.Path + "::" + a.Name
}

// Annotated reports whether a well-formed annotation block is present.
func (a *Artifact) Annotated() bool {
	return a.Meta != nil
}

// Error kinds for partial-failure reporting.
const (
	ErrKindParse      = "parse"
	ErrKindAnnotation = "annotation"
)

// FileError is one per-file or per-artifact failure collected during a scan.
type FileError struct {
	Path     string
	Artifact string // empty for whole-file parse errors
	Kind     string
	Err      error
}

func (e *FileError) Error() string {
	if e.Artifact != "" {
		return fmt.Sprintf("scan: %s %s (%s): %v", e.Kind, e.Path, e.Artifact, e.Err)
	}
	return fmt.Sprintf("scan: %s %s: %v", e.Kind, e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Result is a complete scan: all artifacts plus collected failures.
type Result struct {
	Artifacts []*Artifact
	Errors    []*FileError
}

// ByID indexes artifacts by identity string.
func (r *Result) ByID() map[string]*Artifact {
	out := make(map[string]*Artifact, len(r.Artifacts))
	for _, a := range r.Artifacts {
		out[a.ID()] = a
	}
	return out
}

// Scanner walks a root directory. Digesting of independent files runs on a
// bounded worker pool; workers share no mutable state beyond the guarded
// result slices.
type Scanner struct {
	Root    string
	Workers int
}

// New returns a Scanner for root with one worker per CPU.
func New(root string) *Scanner {
	return &Scanner{Root: root, Workers: runtime.NumCPU()}
}

// Scan parses every .go file under the root. Vendor trees and hidden or
// underscore-prefixed directories are skipped.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	files, err := s.listFiles()
	if err != nil {
		return nil, err
	}

	logger := logging.New("scan")
	logger.Debug("scanning", "root", s.Root, "files", len(files))

	res := &Result{}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	workers := s.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for _, rel := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			artifacts, errs := parseFile(filepath.Join(s.Root, rel), filepath.ToSlash(rel))
			mu.Lock()
			res.Artifacts = append(res.Artifacts, artifacts...)
			res.Errors = append(res.Errors, errs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	sort.Slice(res.Artifacts, func(i, j int) bool {
		if res.Artifacts[i].Path != res.Artifacts[j].Path {
			return res.Artifacts[i].Path < res.Artifacts[j].Path
		}
		return res.Artifacts[i].DeclLine < res.Artifacts[j].DeclLine
	})
	sort.Slice(res.Errors, func(i, j int) bool {
		return res.Errors[i].Path < res.Errors[j].Path
	})
	return res, nil
}

func (s *Scanner) listFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == s.Root {
				return nil
			}
			if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(name, ".go") {
			return nil
		}
		rel, relErr := filepath.Rel(s.Root, path)
		if relErr != nil {
			return relErr
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan: walk %s: %w", s.Root, err)
	}
	return files, nil
}

// parseFile extracts artifacts from one file. A parse failure yields a
// single FileError and no artifacts; a malformed annotation yields a
// Corrupt artifact plus a FileError.
func parseFile(abs, rel string) ([]*Artifact, []*FileError) {
	src, err := os.ReadFile(abs)
	if err != nil {
		return nil, []*FileError{{Path: rel, Kind: ErrKindParse, Err: err}}
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, abs, src, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		return nil, []*FileError{{Path: rel, Kind: ErrKindParse, Err: err}}
	}

	var artifacts []*Artifact
	var errs []*FileError

	add := func(name, kind string, doc *ast.CommentGroup, node ast.Node, declPos, endPos token.Pos) {
		a := &Artifact{
			Path:     rel,
			Name:     name,
			Kind:     kind,
			DeclLine: fset.Position(declPos).Line,
			EndLine:  fset.Position(endPos).Line,
			Digest:   digest.Node(node),
		}
		if doc != nil {
			var lines []string
			for _, c := range doc.List {
				lines = append(lines, c.Text)
				if provenance.IsDirective(c.Text) {
					a.DirLines = append(a.DirLines, fset.Position(c.Pos()).Line)
				}
			}
			meta, found, err := provenance.ParseDirectives(lines)
			switch {
			case err != nil:
				a.Corrupt = true
				errs = append(errs, &FileError{Path: rel, Artifact: name, Kind: ErrKindAnnotation, Err: err})
			case found:
				a.Meta = meta
			}
		}
		artifacts = append(artifacts, a)
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			name := d.Name.Name
			kind := KindFunc
			if d.Recv != nil && len(d.Recv.List) > 0 {
				if recv := receiverName(d.Recv.List[0].Type); recv != "" {
					name = recv + "." + name
					kind = KindMethod
				}
			}
			add(name, kind, d.Doc, d, d.Pos(), d.End())
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				doc := ts.Doc
				if doc == nil && len(d.Specs) == 1 {
					doc = d.Doc
				}
				anchor := ts.Pos()
				if len(d.Specs) == 1 {
					anchor = d.Pos()
				}
				add(ts.Name.Name, KindType, doc, ts, anchor, ts.End())
			}
		}
	}
	return artifacts, errs
}

// receiverName unwraps pointer and generic receivers down to the base type
// identifier.
func receiverName(expr ast.Expr) string {
	for {
		switch t := expr.(type) {
		case *ast.StarExpr:
			expr = t.X
		case *ast.IndexExpr:
			expr = t.X
		case *ast.IndexListExpr:
			expr = t.X
		case *ast.Ident:
			return t.Name
		default:
			return ""
		}
	}
}
