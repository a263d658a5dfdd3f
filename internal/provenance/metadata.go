// Package provenance defines the metadata model attached to tracked source
// artifacts: who composed them, who reviewed them, and at what scrutiny
// level. The model round-trips losslessly through the inline annotation
// codec (annotation.go) and the registry snapshot, including unrecognized
// directive keys carried in the Extras bag.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Pending is the placeholder value for fields awaiting a real identity.
const Pending = "pending"

// ScrutinyLevel is the ordered review-depth enum: auto < low < medium < high.
type ScrutinyLevel string

const (
	ScrutinyAuto   ScrutinyLevel = "auto"
	ScrutinyLow    ScrutinyLevel = "low"
	ScrutinyMedium ScrutinyLevel = "medium"
	ScrutinyHigh   ScrutinyLevel = "high"
)

var scrutinyRank = map[ScrutinyLevel]int{
	ScrutinyAuto:   0,
	ScrutinyLow:    1,
	ScrutinyMedium: 2,
	ScrutinyHigh:   3,
}

// ParseScrutiny normalizes a string into a scrutiny level.
func ParseScrutiny(s string) (ScrutinyLevel, bool) {
	level := ScrutinyLevel(strings.ToLower(strings.TrimSpace(s)))
	_, ok := scrutinyRank[level]
	return level, ok
}

// Valid reports whether the level is one of the four known values.
func (s ScrutinyLevel) Valid() bool {
	_, ok := scrutinyRank[s]
	return ok
}

// AtMost reports whether s is at or below limit in the scrutiny order.
// Unknown levels never satisfy any limit.
func (s ScrutinyLevel) AtMost(limit ScrutinyLevel) bool {
	a, okA := scrutinyRank[s]
	b, okB := scrutinyRank[limit]
	return okA && okB && a <= b
}

// ReviewerKindHuman and ReviewerKindAgent are the two reviewer kinds.
const (
	ReviewerKindHuman = "human"
	ReviewerKindAgent = "agent"
)

// ReviewerInfo is one append-only review event. Order in
// TagMetadata.Reviewers is chronological approval order and must be
// preserved across round-trips.
type ReviewerInfo struct {
	Kind      string        `yaml:"kind" json:"kind"`
	ID        string        `yaml:"id" json:"id"`
	Scrutiny  ScrutinyLevel `yaml:"scrutiny" json:"scrutiny"`
	Timestamp string        `yaml:"timestamp" json:"timestamp"`
	Notes     string        `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// Directive is one unrecognized annotation key/value line, preserved
// verbatim for forward compatibility.
type Directive struct {
	Key   string `yaml:"key" json:"key"`
	Value string `yaml:"value" json:"value"`
}

// TagMetadata is the provenance record for one artifact.
type TagMetadata struct {
	AIComposed     string         `yaml:"ai_composed" json:"ai_composed"`
	HumanCertified string         `yaml:"human_certified" json:"human_certified"`
	Scrutiny       ScrutinyLevel  `yaml:"scrutiny" json:"scrutiny"`
	Date           string         `yaml:"date,omitempty" json:"date,omitempty"`
	Notes          string         `yaml:"notes,omitempty" json:"notes,omitempty"`
	History        []string       `yaml:"history,omitempty" json:"history,omitempty"`
	Reviewers      []ReviewerInfo `yaml:"reviewers,omitempty" json:"reviewers,omitempty"`
	Done           bool           `yaml:"done,omitempty" json:"done,omitempty"`
	Extras         []Directive    `yaml:"extras,omitempty" json:"extras,omitempty"`
}

// NewTagMetadata returns a record with both identity fields pending and
// scrutiny at the lowest level.
func NewTagMetadata() *TagMetadata {
	return &TagMetadata{
		AIComposed:     Pending,
		HumanCertified: Pending,
		Scrutiny:       ScrutinyAuto,
	}
}

// Clone returns a deep copy safe for mutation by a lifecycle transition.
func (m *TagMetadata) Clone() *TagMetadata {
	out := *m
	out.History = append([]string(nil), m.History...)
	out.Reviewers = append([]ReviewerInfo(nil), m.Reviewers...)
	out.Extras = append([]Directive(nil), m.Extras...)
	return &out
}

// PendingCertification reports whether the artifact still awaits a human
// certifier.
func (m *TagMetadata) PendingCertification() bool {
	return m.HumanCertified == "" || strings.EqualFold(m.HumanCertified, Pending)
}

// AddReviewer appends a review event. The list is append-only.
func (m *TagMetadata) AddReviewer(r ReviewerInfo) {
	m.Reviewers = append(m.Reviewers, r)
}

// LastReviewer returns the most recent review event, or nil.
func (m *TagMetadata) LastReviewer() *ReviewerInfo {
	if len(m.Reviewers) == 0 {
		return nil
	}
	return &m.Reviewers[len(m.Reviewers)-1]
}

// History entry actions. Transitions append entries of the form
// "<RFC3339> digest=<meta-digest> <action>"; the action words below double
// as lifecycle markers for staleness detection.
const (
	ActionAnnotated = "annotated"
	ActionCertified = "certified"
	ActionFinalized = "finalized"
	ActionReopened  = "reopened"
)

// AppendHistory appends a history event string. History is never truncated.
func (m *TagMetadata) AppendHistory(entry string) {
	m.History = append(m.History, entry)
}

// HistoryEntry formats one history line with the metadata content digest at
// the time of the event.
func (m *TagMetadata) HistoryEntry(ts time.Time, action string) string {
	return ts.UTC().Format(time.RFC3339) + " digest=" + m.MetaDigest() + " " + action
}

// MetaDigest is a short content digest over the primary metadata fields,
// recorded in history entries so later readers can tell which revision of
// the record an event described. Distinct from the artifact body digest.
func (m *TagMetadata) MetaDigest() string {
	parts := []string{
		m.AIComposed,
		m.HumanCertified,
		string(m.Scrutiny),
		m.Date,
		m.Notes,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:6])
}

// Stale reports whether the most recent lifecycle marker in the history is
// a reopen, i.e. the surviving reviewer entries predate the last body
// change and await re-certification. The policy evaluator decides whether
// stale reviewers still earn coverage credit.
func (m *TagMetadata) Stale() bool {
	for i := len(m.History) - 1; i >= 0; i-- {
		entry := m.History[i]
		switch {
		case strings.Contains(entry, ActionReopened):
			return true
		case strings.Contains(entry, ActionCertified), strings.Contains(entry, ActionFinalized):
			return false
		}
	}
	return false
}
