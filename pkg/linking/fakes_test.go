package linking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/japaniel/lexlink/pkg/lexicon"
	"github.com/japaniel/lexlink/pkg/span"
)

type memStore struct {
	mu    sync.Mutex
	spans map[string]span.Span

	// transientFailures makes the next N PersistSpan calls fail transiently.
	transientFailures int
	// hardErr makes every PersistSpan call fail with it.
	hardErr      error
	persistCalls int
}

func newMemStore() *memStore {
	return &memStore{spans: make(map[string]span.Span)}
}

func (s *memStore) GetSpan(ctx context.Context, id string) (span.Span, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.spans[id]
	if !ok {
		return span.Span{}, &span.NotFoundError{Resource: "span", ID: id}
	}
	return sp, nil
}

func (s *memStore) QuerySpans(ctx context.Context, textID string) ([]span.Span, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []span.Span
	for _, sp := range s.spans {
		if sp.TextID == textID {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (s *memStore) PersistSpan(ctx context.Context, sp span.Span) (span.Span, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistCalls++
	if s.transientFailures > 0 {
		s.transientFailures--
		return span.Span{}, span.Transient(errors.New("database is locked"))
	}
	if s.hardErr != nil {
		return span.Span{}, s.hardErr
	}
	return s.put(sp)
}

func (s *memStore) put(sp span.Span) (span.Span, error) {
	for _, other := range s.spans {
		if other.ID != sp.ID && other.TextID == sp.TextID && other.Range() == sp.Range() {
			return span.Span{}, fmt.Errorf("unique constraint: text %s [%d, %d)", sp.TextID, sp.Start, sp.End)
		}
	}
	s.spans[sp.ID] = sp
	return sp, nil
}

func (s *memStore) DeleteSpan(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.spans, id)
	return nil
}

// txStore commits change sets atomically.
type txStore struct {
	*memStore
	applyCalls int
}

func (s *txStore) Apply(ctx context.Context, textID string, c Changes) ([]span.Span, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyCalls++
	backup := make(map[string]span.Span, len(s.spans))
	for k, v := range s.spans {
		backup[k] = v
	}
	for _, id := range c.Delete {
		delete(s.spans, id)
	}
	var out []span.Span
	for _, sp := range c.Persist {
		stored, err := s.put(sp)
		if err != nil {
			s.spans = backup
			return nil, err
		}
		out = append(out, stored)
	}
	return out, nil
}

type fakeCatalog struct {
	texts map[string]Text
	words map[string]string
	docs  map[string][]string
}

func (c *fakeCatalog) Text(ctx context.Context, id string) (Text, error) {
	t, ok := c.texts[id]
	if !ok {
		return Text{}, &span.NotFoundError{Resource: "text", ID: id}
	}
	return t, nil
}

func (c *fakeCatalog) WordLanguage(ctx context.Context, id string) (string, error) {
	l, ok := c.words[id]
	if !ok {
		return "", &span.NotFoundError{Resource: "word", ID: id}
	}
	return l, nil
}

func (c *fakeCatalog) DocumentTexts(ctx context.Context, id string) ([]string, error) {
	ids, ok := c.docs[id]
	if !ok {
		return nil, &span.NotFoundError{Resource: "document", ID: id}
	}
	return ids, nil
}

type lexSource struct {
	mu      sync.Mutex
	entries map[string][]lexicon.Entry
}

func (s *lexSource) add(language, id, surface string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[language] = append(s.entries[language], lexicon.Entry{WordID: id, Surface: surface, Language: language})
}

func (s *lexSource) LexiconEntries(ctx context.Context, language string) ([]lexicon.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]lexicon.Entry(nil), s.entries[language]...), nil
}

type fixture struct {
	m       *Manager
	store   *memStore
	catalog *fakeCatalog
	lex     *lexSource
	cache   *lexicon.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog := &fakeCatalog{
		texts: map[string]Text{
			"elder": {ID: "elder", DocumentID: "d1", Language: "mic", Content: "The elder spoke of welapemkanni wela."},
			"cat":   {ID: "cat", DocumentID: "d1", Language: "mic", Content: "the cat sat"},
			"river": {ID: "river", DocumentID: "d2", Language: "mic", Content: "big river flows"},
		},
		words: map[string]string{
			"w-elder": "mic", "w-welapemkanni": "mic", "w-wela": "mic",
			"w-cat": "mic", "w-sat": "mic", "w-catsat": "mic",
			"w-river": "mic", "w-bigriver": "mic",
			"w-osiyo": "chr",
		},
		docs: map[string][]string{"d1": {"elder", "cat"}},
	}
	lex := &lexSource{entries: map[string][]lexicon.Entry{}}
	lex.add("mic", "w-elder", "elder")
	lex.add("mic", "w-welapemkanni", "welapemkanni")
	lex.add("mic", "w-wela", "wela")
	lex.add("mic", "w-cat", "cat")
	lex.add("mic", "w-sat", "sat")

	store := newMemStore()
	cache := lexicon.NewCache(lex, 0)
	m := NewManager(catalog, cache, store)
	m.Backoff = 0

	var mu sync.Mutex
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return &fixture{m: m, store: store, catalog: catalog, lex: lex, cache: cache}
}

func byStart(spans []span.Span, start int) (span.Span, bool) {
	for _, s := range spans {
		if s.Start == start {
			return s, true
		}
	}
	return span.Span{}, false
}
