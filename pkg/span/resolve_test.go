package span

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func mk(id string, start, end int, st Status, conf float64, age int) Span {
	s := Span{ID: id, TextID: "t1", WordID: "w-" + id, Start: start, End: end, Status: st, CreatedAt: t0.Add(time.Duration(age) * time.Minute)}
	if conf > 0 {
		s.Confidence = Float(conf)
	}
	return s
}

func TestAdmitConfirmedExactRangeIsUpdate(t *testing.T) {
	existing := []Span{mk("a", 4, 7, Confirmed, 0, 0)}
	cand := Span{TextID: "t1", WordID: "w-new", Start: 4, End: 7, Status: Confirmed}

	adm, err := Admit(existing, cand)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if adm.Action != Update {
		t.Fatalf("expected update, got %s", adm.Action)
	}
	if adm.Span.ID != "a" || adm.Span.WordID != "w-new" {
		t.Fatalf("expected record a rewritten with w-new, got %+v", adm.Span)
	}
}

func TestAdmitConfirmedOverlapFails(t *testing.T) {
	existing := []Span{mk("a", 4, 7, Confirmed, 0, 0), mk("b", 8, 11, Suggested, 0.9, 0)}
	cand := Span{TextID: "t1", WordID: "w", Start: 5, End: 11, Status: Confirmed}

	_, err := Admit(existing, cand)
	if !errors.Is(err, ErrConfirmedConflict) {
		t.Fatalf("expected ErrConfirmedConflict, got %v", err)
	}
	var ce *ConflictError
	if !errors.As(err, &ce) || len(ce.Conflicting) != 1 || ce.Conflicting[0].ID != "a" {
		t.Fatalf("expected conflict naming span a, got %v", err)
	}
}

func TestAdmitConfirmedEvictsSuggestions(t *testing.T) {
	existing := []Span{
		mk("s1", 0, 3, Suggested, 1, 0),
		mk("s2", 4, 9, Suggested, 1, 0),
		mk("r1", 2, 5, Rejected, 1, 0),
	}
	cand := Span{TextID: "t1", WordID: "w", Start: 2, End: 6, Status: Confirmed}

	adm, err := Admit(existing, cand)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if adm.Action != Insert {
		t.Fatalf("expected insert, got %s", adm.Action)
	}
	if len(adm.Evict) != 2 {
		t.Fatalf("expected both suggestions evicted, got %+v", adm.Evict)
	}
	for _, e := range adm.Evict {
		if e.Status != Suggested {
			t.Fatalf("evicted a %s span", e.Status)
		}
	}
}

func TestAdmitSuggestedLosesToConfirmed(t *testing.T) {
	existing := []Span{mk("a", 19, 31, Confirmed, 0, 0)}
	cand := Span{TextID: "t1", WordID: "w", Start: 19, End: 23, Status: Suggested, Confidence: Float(1)}

	adm, err := Admit(existing, cand)
	if err != nil {
		t.Fatalf("suggestion against confirmed must not error: %v", err)
	}
	if adm.Action != Drop {
		t.Fatalf("expected drop, got %s", adm.Action)
	}
}

func TestAdmitSuggestedLongestMatchWins(t *testing.T) {
	short := mk("short", 19, 23, Suggested, 1, 0)

	adm, err := Admit([]Span{short}, Span{TextID: "t1", WordID: "long", Start: 19, End: 31, Status: Suggested, Confidence: Float(0.5)})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if adm.Action != Insert || len(adm.Evict) != 1 || adm.Evict[0].ID != "short" {
		t.Fatalf("expected longer candidate to replace short span, got %+v", adm)
	}

	long := mk("long", 19, 31, Suggested, 0.5, 0)
	adm, err = Admit([]Span{long}, Span{TextID: "t1", WordID: "short", Start: 19, End: 23, Status: Suggested, Confidence: Float(1)})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if adm.Action != Drop {
		t.Fatalf("expected shorter candidate dropped, got %s", adm.Action)
	}
}

func TestAdmitSuggestedTieBreaks(t *testing.T) {
	tests := []struct {
		name     string
		existing Span
		cand     Span
		want     Action
	}{
		{
			name:     "exact range higher confidence updates",
			existing: mk("a", 0, 4, Suggested, 0.5, 0),
			cand:     Span{WordID: "w2", Start: 0, End: 4, Status: Suggested, Confidence: Float(1)},
			want:     Update,
		},
		{
			name:     "exact range equal confidence keeps earlier",
			existing: mk("a", 0, 4, Suggested, 1, 0),
			cand:     Span{WordID: "w2", Start: 0, End: 4, Status: Suggested, Confidence: Float(1)},
			want:     Drop,
		},
		{
			name:     "same length shifted lower confidence drops",
			existing: mk("a", 0, 4, Suggested, 1, 0),
			cand:     Span{WordID: "w2", Start: 2, End: 6, Status: Suggested, Confidence: Float(0.5)},
			want:     Drop,
		},
		{
			name:     "same length shifted higher confidence wins",
			existing: mk("a", 0, 4, Suggested, 0.5, 0),
			cand:     Span{WordID: "w2", Start: 2, End: 6, Status: Suggested, Confidence: Float(1)},
			want:     Insert,
		},
		{
			name:     "rejected exact range is not re-suggested",
			existing: mk("a", 0, 4, Rejected, 1, 0),
			cand:     Span{WordID: "w2", Start: 0, End: 4, Status: Suggested, Confidence: Float(1)},
			want:     Drop,
		},
		{
			name:     "rejected partial overlap does not block",
			existing: mk("a", 0, 4, Rejected, 1, 0),
			cand:     Span{WordID: "w2", Start: 2, End: 9, Status: Suggested, Confidence: Float(1)},
			want:     Insert,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adm, err := Admit([]Span{tt.existing}, tt.cand)
			if err != nil {
				t.Fatalf("admit: %v", err)
			}
			if adm.Action != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, adm.Action)
			}
			if adm.Action == Insert && len(adm.Evict) > 0 && tt.existing.Status == Rejected {
				t.Fatalf("rejected span must never be evicted")
			}
		})
	}
}

func TestAdmitEarlierCreatedWinsOnFullTie(t *testing.T) {
	older := mk("old", 0, 4, Suggested, 1, 0)
	newer := mk("new", 2, 6, Suggested, 1, 5)

	if !preferred(older, newer) {
		t.Fatalf("expected older span preferred")
	}
	if preferred(newer, older) {
		t.Fatalf("expected newer span not preferred")
	}
}

func TestAdmitRejectsEmptyRange(t *testing.T) {
	_, err := Admit(nil, Span{Start: 3, End: 3, Status: Confirmed})
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestAdmitSelfPromotion(t *testing.T) {
	s := mk("a", 0, 4, Suggested, 0.8, 0)
	other := mk("b", 2, 8, Suggested, 1, 0)
	cand := s
	cand.Status = Confirmed

	adm, err := Admit([]Span{s, other}, cand)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if adm.Action != Update || adm.Span.ID != "a" || adm.Span.Status != Confirmed {
		t.Fatalf("expected in-place promotion of a, got %+v", adm)
	}
	if adm.Span.ConfidenceValue() != 0.8 {
		t.Fatalf("promotion should keep generator confidence, got %v", adm.Span.ConfidenceValue())
	}
	if len(adm.Evict) != 1 || adm.Evict[0].ID != "b" {
		t.Fatalf("expected overlapping suggestion b evicted, got %+v", adm.Evict)
	}
}
