// Package span holds the linking record between a character range of a text
// and a lexicon word, its lifecycle rules and the overlap arbitration used
// before any span is written.
//
// All offsets are counted in Unicode codepoints.
package span

import (
	"sort"
	"strings"
	"time"
)

// MaxNotesLength is the maximum number of codepoints stored in Span.Notes.
const MaxNotesLength = 500

// Status is the lifecycle state of a Span.
type Status string

const (
	// Suggested spans are produced by the suggestion generator and await review.
	Suggested Status = "suggested"
	// Confirmed spans were approved or created by a user.
	Confirmed Status = "confirmed"
	// Rejected spans were declined by a user; they are kept so the same range
	// is not suggested again.
	Rejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case Suggested, Confirmed, Rejected:
		return true
	}
	return false
}

// ParseStatus converts user input into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", &TransitionError{To: s}
	}
	return s, nil
}

// CanTransition reports whether a span in state from may move to state to.
// Confirmation is one-way: a confirmed span can only be removed.
func CanTransition(from, to Status) bool {
	if from == to {
		return from.Valid()
	}
	switch from {
	case Suggested:
		return to == Confirmed || to == Rejected
	case Rejected:
		return to == Confirmed
	}
	return false
}

// Range is a half-open [Start, End) codepoint range.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of codepoints covered by r.
func (r Range) Len() int { return r.End - r.Start }

// Valid reports whether r is a non-empty range with a non-negative start.
func (r Range) Valid() bool { return r.Start >= 0 && r.Start < r.End }

// Within reports whether r fits inside a content of the given length.
func (r Range) Within(length int) bool { return r.Valid() && r.End <= length }

// Overlaps reports whether r and o intersect with nonzero length.
func (r Range) Overlaps(o Range) bool {
	return max(r.Start, o.Start) < min(r.End, o.End)
}

// Contains reports whether o lies entirely inside r.
func (r Range) Contains(o Range) bool {
	return r.Start <= o.Start && o.End <= r.End
}

// Span links a range of a text's content to a lexicon word.
type Span struct {
	ID         string     `json:"id"`
	TextID     string     `json:"text_id"`
	WordID     string     `json:"word_id"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Status     Status     `json:"status"`
	Confidence *float64   `json:"confidence,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	CreatedBy  string     `json:"created_by,omitempty"`
	VerifiedBy string     `json:"verified_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// Range returns the span's offsets.
func (s Span) Range() Range { return Range{Start: s.Start, End: s.End} }

// ConfidenceValue returns the confidence, or 0 when absent.
func (s Span) ConfidenceValue() float64 {
	if s.Confidence == nil {
		return 0
	}
	return *s.Confidence
}

// Actionable reports whether the span is still waiting for a user decision.
func (s Span) Actionable() bool { return s.Status == Suggested }

// Float returns a pointer to v, for filling Span.Confidence.
func Float(v float64) *float64 { return &v }

// Less orders spans by start, then end, then creation time. The id is used as
// the final tie-break so ordering is total.
func Less(a, b Span) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if a.End != b.End {
		return a.End < b.End
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Sort orders spans in place using Less.
func Sort(spans []Span) {
	sort.SliceStable(spans, func(i, j int) bool { return Less(spans[i], spans[j]) })
}

// Overlapping returns the spans in set that intersect r.
func Overlapping(set []Span, r Range) []Span {
	var out []Span
	for _, s := range set {
		if s.Range().Overlaps(r) {
			out = append(out, s)
		}
	}
	return out
}
