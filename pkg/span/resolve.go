package span

// Action is the outcome of admitting a candidate span.
type Action int

const (
	// Insert stores the candidate as a new record.
	Insert Action = iota
	// Update rewrites the existing record with the same range in place.
	Update
	// Drop discards the candidate without error.
	Drop
)

func (a Action) String() string {
	switch a {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Drop:
		return "drop"
	}
	return "unknown"
}

// Admission describes what has to be written for a candidate to be accepted.
// Evict lists existing suggestions that lose against the candidate and must be
// deleted in the same commit.
type Admission struct {
	Action Action
	Span   Span
	Evict  []Span
}

// Admit arbitrates candidate against the current spans of the same text.
//
// A confirmed candidate fails with a ConflictError when it overlaps another
// confirmed span and evicts overlapping suggestions. A suggested candidate is
// dropped when it overlaps a confirmed span or repeats a rejected range;
// against other suggestions the longer range wins, then the higher confidence,
// then the earlier-created span. Rejected spans never block a partial overlap.
// A candidate whose range equals an existing record, or whose id matches one,
// is an update in place.
func Admit(existing []Span, candidate Span) (Admission, error) {
	r := candidate.Range()
	if !r.Valid() {
		return Admission{}, &RangeError{Start: r.Start, End: r.End, Reason: "empty or negative range"}
	}

	var exact *Span
	var overlapping []Span
	for i := range existing {
		e := existing[i]
		if (candidate.ID != "" && e.ID == candidate.ID) || e.Range() == r {
			if exact == nil || e.ID == candidate.ID {
				exact = &existing[i]
			}
			continue
		}
		if e.Range().Overlaps(r) {
			overlapping = append(overlapping, e)
		}
	}

	switch candidate.Status {
	case Confirmed:
		return admitConfirmed(exact, overlapping, candidate)
	case Suggested:
		return admitSuggested(exact, overlapping, candidate), nil
	case Rejected:
		if exact != nil {
			return Admission{Action: Update, Span: merge(*exact, candidate)}, nil
		}
		return Admission{Action: Insert, Span: candidate}, nil
	}
	return Admission{}, &TransitionError{To: candidate.Status}
}

func admitConfirmed(exact *Span, overlapping []Span, candidate Span) (Admission, error) {
	var conflicts, evict []Span
	for _, o := range overlapping {
		switch o.Status {
		case Confirmed:
			conflicts = append(conflicts, o)
		case Suggested:
			evict = append(evict, o)
		}
	}
	if len(conflicts) > 0 {
		Sort(conflicts)
		return Admission{}, &ConflictError{Range: candidate.Range(), Conflicting: conflicts}
	}
	if exact != nil {
		return Admission{Action: Update, Span: merge(*exact, candidate), Evict: evict}, nil
	}
	return Admission{Action: Insert, Span: candidate, Evict: evict}, nil
}

func admitSuggested(exact *Span, overlapping []Span, candidate Span) Admission {
	drop := Admission{Action: Drop, Span: candidate}
	for _, o := range overlapping {
		if o.Status == Confirmed {
			return drop
		}
	}

	if exact != nil {
		switch exact.Status {
		case Confirmed, Rejected:
			return drop
		}
		if exact.ID != candidate.ID && !preferred(candidate, *exact) {
			return drop
		}
	}

	var evict []Span
	for _, o := range overlapping {
		if o.Status != Suggested {
			continue
		}
		if !preferred(candidate, o) {
			return drop
		}
		evict = append(evict, o)
	}

	if exact != nil {
		return Admission{Action: Update, Span: merge(*exact, candidate), Evict: evict}
	}
	return Admission{Action: Insert, Span: candidate, Evict: evict}
}

// preferred reports whether suggestion a beats suggestion b. A zero CreatedAt
// means the span has not been stored yet and counts as the newest.
func preferred(a, b Span) bool {
	if a.Range().Len() != b.Range().Len() {
		return a.Range().Len() > b.Range().Len()
	}
	if a.ConfidenceValue() != b.ConfidenceValue() {
		return a.ConfidenceValue() > b.ConfidenceValue()
	}
	switch {
	case a.CreatedAt.IsZero():
		return false
	case b.CreatedAt.IsZero():
		return true
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// merge applies candidate onto the stored record, keeping its identity and
// creation metadata.
func merge(stored, candidate Span) Span {
	out := stored
	if candidate.WordID != "" {
		out.WordID = candidate.WordID
	}
	out.Status = candidate.Status
	out.Confidence = candidate.Confidence
	if candidate.Notes != "" {
		out.Notes = candidate.Notes
	}
	return out
}
