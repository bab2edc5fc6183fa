package suggest

import (
	"reflect"
	"testing"

	"github.com/japaniel/lexlink/pkg/lexicon"
	"github.com/japaniel/lexlink/pkg/span"
)

func index(forms ...string) *lexicon.Index {
	var entries []lexicon.Entry
	for _, f := range forms {
		entries = append(entries, lexicon.Entry{WordID: "w:" + f, Surface: f})
	}
	return lexicon.NewIndex("mic", entries)
}

func TestGenerateSingleWordScenario(t *testing.T) {
	content := "The elder spoke of welapemkanni."
	got := Generate(content, index("welapemkanni"))
	if len(got) != 1 {
		t.Fatalf("expected exactly one candidate, got %+v", got)
	}
	if got[0].Range != (span.Range{Start: 19, End: 31}) {
		t.Fatalf("expected [19, 31), got %+v", got[0].Range)
	}
	if got[0].WordID != "w:welapemkanni" || got[0].Confidence != lexicon.VerbatimConfidence {
		t.Fatalf("unexpected candidate %+v", got[0])
	}
}

func TestGeneratePrefersLongerSurfaceForm(t *testing.T) {
	content := "The elder spoke of welapemkanni."
	got := Generate(content, index("wela", "welapemkanni"))
	if len(got) != 1 || got[0].WordID != "w:welapemkanni" {
		t.Fatalf("expected only the longer match, got %+v", got)
	}
}

func TestGenerateMultiWordLongestFirst(t *testing.T) {
	content := "at the big river, the big river"
	got := Generate(content, index("big", "big river", "river"))
	want := []span.Range{{Start: 7, End: 16}, {Start: 22, End: 31}}
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %+v", len(want), got)
	}
	for i, w := range want {
		if got[i].Range != w || got[i].WordID != "w:big river" {
			t.Fatalf("candidate %d: expected big river at %+v, got %+v", i, w, got[i])
		}
	}
}

func TestGeneratePunctuationBreaksPhrase(t *testing.T) {
	got := Generate("big, river", index("big river", "river"))
	if len(got) != 1 || got[0].WordID != "w:river" {
		t.Fatalf("phrase must not span punctuation, got %+v", got)
	}
}

func TestGenerateNormalizedFallback(t *testing.T) {
	got := Generate("K\u00e9sal\u00fal nutqwe'k", index("kesalul"))
	if len(got) != 1 || !got[0].Normalized || got[0].Confidence != lexicon.NormalizedConfidence {
		t.Fatalf("expected one normalized candidate, got %+v", got)
	}
	if got[0].Range != (span.Range{Start: 0, End: 7}) {
		t.Fatalf("unexpected range %+v", got[0].Range)
	}
}

func TestGenerateNonOverlappingAndDeterministic(t *testing.T) {
	content := "wela wela pemk wela pemk kanni, wela"
	idx := index("wela", "wela pemk", "pemk kanni", "kanni")
	a := Generate(content, idx)
	b := Generate(content, idx)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("generation is not deterministic:\n%+v\n%+v", a, b)
	}
	for i := 1; i < len(a); i++ {
		if a[i-1].Range.Overlaps(a[i].Range) || a[i-1].Range.Start >= a[i].Range.Start {
			t.Fatalf("candidates overlap or are unordered: %+v %+v", a[i-1], a[i])
		}
	}
	// wela | wela pemk | wela pemk | kanni | wela
	if len(a) != 5 {
		t.Fatalf("expected 5 candidates, got %d: %+v", len(a), a)
	}
}

func TestGenerateEmpty(t *testing.T) {
	if got := Generate("", index("wela")); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
	if got := Generate("wela", nil); got != nil {
		t.Fatalf("expected nil for missing lexicon, got %+v", got)
	}
	if got := Generate("wela", index()); got != nil {
		t.Fatalf("expected nil for empty lexicon, got %+v", got)
	}
}

func TestCandidateSpan(t *testing.T) {
	c := Candidate{Range: span.Range{Start: 1, End: 4}, WordID: "w", Confidence: 0.9}
	s := c.Span("t1")
	if s.Status != span.Suggested || s.TextID != "t1" || s.ConfidenceValue() != 0.9 {
		t.Fatalf("unexpected span %+v", s)
	}
}
