package provenance

import (
	"fmt"
	"strings"
)

// DirectivePrefix introduces an annotation line inside a declaration's doc
// comment: "// attest:<key> <value>".
const DirectivePrefix = "attest:"

// Recognized directive keys. Anything else round-trips through Extras.
const (
	keyAIComposed     = "ai_composed"
	keyHumanCertified = "human_certified"
	keyScrutiny       = "scrutiny"
	keyDate           = "date"
	keyNotes          = "notes"
	keyHistory        = "history"
	keyReviewer       = "reviewer"
	keyDone           = "done"
)

// AnnotationError reports a malformed inline annotation payload. It is
// surfaced per artifact and never aborts a scan.
type AnnotationError struct {
	Line   string
	Reason string
}

func (e *AnnotationError) Error() string {
	return fmt.Sprintf("provenance: malformed annotation %q: %s", e.Line, e.Reason)
}

// IsDirective reports whether a raw comment line carries an attest directive.
func IsDirective(line string) bool {
	_, _, ok := splitDirective(line)
	return ok
}

// splitDirective strips comment markers and returns (key, value, ok).
func splitDirective(line string) (string, string, bool) {
	content := strings.TrimSpace(line)
	content = strings.TrimPrefix(content, "//")
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, DirectivePrefix) {
		return "", "", false
	}
	content = content[len(DirectivePrefix):]
	key, value, _ := strings.Cut(content, " ")
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}

// ParseDirectives builds a TagMetadata from raw doc-comment lines. The
// second return is false when no attest directive was present at all.
// Unknown keys are preserved in order in Extras.
func ParseDirectives(lines []string) (*TagMetadata, bool, error) {
	m := &TagMetadata{}
	found := false
	for _, line := range lines {
		key, value, ok := splitDirective(line)
		if !ok {
			continue
		}
		found = true
		switch key {
		case keyAIComposed:
			m.AIComposed = value
		case keyHumanCertified:
			m.HumanCertified = value
		case keyScrutiny:
			level, ok := ParseScrutiny(value)
			if !ok {
				return nil, true, &AnnotationError{Line: line, Reason: "unknown scrutiny level"}
			}
			m.Scrutiny = level
		case keyDate:
			m.Date = value
		case keyNotes:
			m.Notes = value
		case keyHistory:
			if value == "" {
				return nil, true, &AnnotationError{Line: line, Reason: "empty history entry"}
			}
			m.History = append(m.History, value)
		case keyReviewer:
			r, err := parseReviewer(value)
			if err != nil {
				return nil, true, &AnnotationError{Line: line, Reason: err.Error()}
			}
			m.Reviewers = append(m.Reviewers, r)
		case keyDone:
			switch value {
			case "true":
				m.Done = true
			case "false":
				m.Done = false
			default:
				return nil, true, &AnnotationError{Line: line, Reason: "done must be true or false"}
			}
		default:
			m.Extras = append(m.Extras, Directive{Key: key, Value: value})
		}
	}
	if !found {
		return nil, false, nil
	}
	return m, true, nil
}

// parseReviewer decodes "kind=human id=PHZ scrutiny=high at=<ts> notes=...".
// The notes field, when present, consumes the remainder of the line.
func parseReviewer(value string) (ReviewerInfo, error) {
	var r ReviewerInfo
	rest := value
	for rest != "" {
		if after, ok := strings.CutPrefix(rest, "notes="); ok {
			r.Notes = after
			break
		}
		token, remainder, _ := strings.Cut(rest, " ")
		rest = strings.TrimSpace(remainder)
		k, v, ok := strings.Cut(token, "=")
		if !ok {
			return r, fmt.Errorf("reviewer field %q is not key=value", token)
		}
		switch k {
		case "kind":
			if v != ReviewerKindHuman && v != ReviewerKindAgent {
				return r, fmt.Errorf("reviewer kind %q", v)
			}
			r.Kind = v
		case "id":
			r.ID = v
		case "scrutiny":
			level, ok := ParseScrutiny(v)
			if !ok {
				return r, fmt.Errorf("reviewer scrutiny %q", v)
			}
			r.Scrutiny = level
		case "at":
			r.Timestamp = v
		default:
			return r, fmt.Errorf("unknown reviewer field %q", k)
		}
	}
	if r.Kind == "" || r.ID == "" {
		return r, fmt.Errorf("reviewer needs kind and id")
	}
	return r, nil
}

func formatReviewer(r ReviewerInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "kind=%s id=%s", r.Kind, r.ID)
	if r.Scrutiny != "" {
		fmt.Fprintf(&b, " scrutiny=%s", r.Scrutiny)
	}
	if r.Timestamp != "" {
		fmt.Fprintf(&b, " at=%s", r.Timestamp)
	}
	if r.Notes != "" {
		fmt.Fprintf(&b, " notes=%s", r.Notes)
	}
	return b.String()
}

// FormatDirectives serializes a TagMetadata into "// attest:" comment lines
// in canonical key order, extras last and unchanged.
func FormatDirectives(m *TagMetadata) []string {
	var lines []string
	emit := func(key, value string) {
		lines = append(lines, "// "+DirectivePrefix+key+" "+value)
	}
	if m.AIComposed != "" {
		emit(keyAIComposed, m.AIComposed)
	}
	if m.HumanCertified != "" {
		emit(keyHumanCertified, m.HumanCertified)
	}
	if m.Scrutiny != "" {
		emit(keyScrutiny, string(m.Scrutiny))
	}
	if m.Date != "" {
		emit(keyDate, m.Date)
	}
	if m.Notes != "" {
		emit(keyNotes, m.Notes)
	}
	for _, r := range m.Reviewers {
		emit(keyReviewer, formatReviewer(r))
	}
	for _, h := range m.History {
		emit(keyHistory, h)
	}
	if m.Done {
		emit(keyDone, "true")
	}
	for _, d := range m.Extras {
		emit(d.Key, d.Value)
	}
	return lines
}

// Projection returns the minimal inline record carried while an artifact is
// finalized: done plus the certifying human. Everything else lives in the
// registry entry until a reopen merges it back.
func (m *TagMetadata) Projection() *TagMetadata {
	return &TagMetadata{
		HumanCertified: m.HumanCertified,
		Done:           true,
	}
}
