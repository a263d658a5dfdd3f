// Package digest computes the canonical content hash of an artifact's
// implementation body. The hash is derived from a positional-data-free
// serialization of the declaration's syntax tree, so it is stable under
// reformatting, comment and docstring edits, and relocation within a file,
// while any change to control flow, expressions, signatures, or literals
// produces a different hash with overwhelming probability.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
)

// Node returns the hex SHA-256 digest of a declaration's canonical form.
// Comments (including the provenance annotation, which lives in the doc
// comment) are excluded from the traversal.
func Node(n ast.Node) string {
	h := sha256.New()
	writeCanonical(h, n)
	return hex.EncodeToString(h.Sum(nil))
}

// Source parses a standalone snippet containing one or more declarations
// and digests the whole parsed body. Used by tests and by callers that hold
// source text rather than a live AST.
func Source(src string) (string, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "snippet.go", src, parser.SkipObjectResolution)
	if err != nil {
		return "", fmt.Errorf("digest: parse snippet: %w", err)
	}
	h := sha256.New()
	for _, decl := range file.Decls {
		writeCanonical(h, decl)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeCanonical emits an s-expression-like rendering of the subtree:
// node kinds in traversal order, with identifiers, literals, and operator
// tokens interleaved. Positions never reach the hash, and comment subtrees
// are pruned.
func writeCanonical(w io.Writer, root ast.Node) {
	ast.Inspect(root, func(n ast.Node) bool {
		if n == nil {
			io.WriteString(w, ")")
			return true
		}
		switch v := n.(type) {
		case *ast.Comment, *ast.CommentGroup:
			return false
		case *ast.Ident:
			fmt.Fprintf(w, "(Ident %s)", v.Name)
			return false
		case *ast.BasicLit:
			fmt.Fprintf(w, "(Lit %s %s)", v.Kind, v.Value)
			return false
		case *ast.BinaryExpr:
			fmt.Fprintf(w, "(Binary %s", v.Op)
		case *ast.UnaryExpr:
			fmt.Fprintf(w, "(Unary %s", v.Op)
		case *ast.AssignStmt:
			fmt.Fprintf(w, "(Assign %s", v.Tok)
		case *ast.IncDecStmt:
			fmt.Fprintf(w, "(IncDec %s", v.Tok)
		case *ast.BranchStmt:
			fmt.Fprintf(w, "(Branch %s", v.Tok)
		case *ast.RangeStmt:
			fmt.Fprintf(w, "(Range %s", v.Tok)
		case *ast.GenDecl:
			fmt.Fprintf(w, "(GenDecl %s", v.Tok)
		case *ast.ChanType:
			fmt.Fprintf(w, "(Chan %d", v.Dir)
		default:
			fmt.Fprintf(w, "(%T", n)
		}
		return true
	})
}
