package lexicon

import (
	"sort"
	"strings"
)

// Confidence values attached to generated suggestions, from most to least
// specific match.
const (
	VerbatimConfidence   = 1.0
	FoldedConfidence     = 0.9
	NormalizedConfidence = 0.75
)

// Entry is a surface form of a lexicon word. A word with a romanization is
// indexed under both spellings.
type Entry struct {
	WordID       string `json:"id"`
	Surface      string `json:"word"`
	Romanization string `json:"romanization,omitempty"`
	Language     string `json:"language,omitempty"`
}

// Match is the result of a successful lookup.
type Match struct {
	Entry      Entry
	Form       string
	Confidence float64
	Normalized bool
}

type indexed struct {
	entry Entry
	form  string
}

// Index maps surface forms of one language to words. It is read-only after
// NewIndex returns, so lookups are safe from multiple goroutines.
type Index struct {
	language   string
	folded     map[string][]indexed
	stripped   map[string][]indexed
	maxWords   int
	entryCount int
}

// NewIndex builds an index over entries. Entries with an empty surface form
// are skipped.
func NewIndex(language string, entries []Entry) *Index {
	idx := &Index{
		language: language,
		folded:   make(map[string][]indexed),
		stripped: make(map[string][]indexed),
	}
	for _, e := range entries {
		forms := []string{e.Surface}
		if e.Romanization != "" && Fold(e.Romanization) != Fold(e.Surface) {
			forms = append(forms, e.Romanization)
		}
		added := false
		for _, form := range forms {
			key := Fold(form)
			if key == "" {
				continue
			}
			item := indexed{entry: e, form: form}
			idx.folded[key] = append(idx.folded[key], item)
			if sk := Strip(form); sk != "" {
				idx.stripped[sk] = append(idx.stripped[sk], item)
			}
			if n := strings.Count(key, " ") + 1; n > idx.maxWords {
				idx.maxWords = n
			}
			added = true
		}
		if added {
			idx.entryCount++
		}
	}
	for _, m := range []map[string][]indexed{idx.folded, idx.stripped} {
		for k := range m {
			items := m[k]
			sort.SliceStable(items, func(i, j int) bool { return items[i].entry.WordID < items[j].entry.WordID })
		}
	}
	return idx
}

// Language returns the language the index was built for.
func (idx *Index) Language() string { return idx.language }

// Len returns the number of indexed entries.
func (idx *Index) Len() int { return idx.entryCount }

// MaxWords returns the word count of the longest multi-word surface form.
func (idx *Index) MaxWords() int { return idx.maxWords }

// Lookup finds the word for phrase. A case-insensitive match is tried first;
// among several words sharing the key the one spelled exactly like phrase
// wins, then the lowest word id. If nothing matches, diacritics are ignored.
func (idx *Index) Lookup(phrase string) (Match, bool) {
	if idx == nil {
		return Match{}, false
	}
	if items, ok := idx.folded[Fold(phrase)]; ok {
		return pick(items, phrase, false), true
	}
	if items, ok := idx.stripped[Strip(phrase)]; ok {
		return pick(items, phrase, true), true
	}
	return Match{}, false
}

func pick(items []indexed, phrase string, normalized bool) Match {
	best := items[0]
	for _, it := range items {
		if it.form == phrase {
			best = it
			break
		}
	}
	m := Match{Entry: best.entry, Form: best.form, Normalized: normalized}
	switch {
	case normalized:
		m.Confidence = NormalizedConfidence
	case best.form == phrase:
		m.Confidence = VerbatimConfidence
	default:
		m.Confidence = FoldedConfidence
	}
	return m
}
