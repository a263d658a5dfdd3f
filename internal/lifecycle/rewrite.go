package lifecycle

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"attestor/internal/provenance"
	"attestor/internal/scan"
)

// update pairs an artifact with the metadata its annotation block should
// now carry.
type update struct {
	art  *scan.Artifact
	meta *provenance.TagMetadata
}

// applyUpdates rewrites the annotation blocks for several artifacts in one
// file with a single read and write. Updates are applied bottom-up so
// earlier artifacts' recorded line numbers stay valid while later spans
// shift.
func applyUpdates(abs string, ups []update) error {
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("lifecycle: read %s: %w", abs, err)
	}
	lines := strings.Split(string(data), "\n")

	sort.Slice(ups, func(i, j int) bool {
		return anchorLine(ups[i].art) > anchorLine(ups[j].art)
	})
	for _, u := range ups {
		lines = splice(lines, u.art.DirLines, anchorLine(u.art), provenance.FormatDirectives(u.meta))
	}

	if err := os.WriteFile(abs, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return fmt.Errorf("lifecycle: write %s: %w", abs, err)
	}
	return nil
}

// anchorLine is where an artifact's annotation block begins: the first
// existing directive line, or the declaration line for a fresh insert.
// Inserting at the declaration line lands the block between any
// pre-existing doc comment and the declaration, preserving unrelated
// comments above it.
func anchorLine(a *scan.Artifact) int {
	if len(a.DirLines) > 0 {
		return a.DirLines[0]
	}
	return a.DeclLine
}

// splice removes the old directive lines and inserts the new block at the
// anchor. Line numbers are 1-based.
func splice(lines []string, dirLines []int, anchor int, block []string) []string {
	remove := make(map[int]bool, len(dirLines))
	for _, n := range dirLines {
		remove[n] = true
	}

	out := make([]string, 0, len(lines)+len(block))
	for i, line := range lines {
		n := i + 1
		if n == anchor {
			out = append(out, block...)
		}
		if remove[n] {
			continue
		}
		out = append(out, line)
	}
	if anchor > len(lines) {
		out = append(out, block...)
	}
	return out
}
