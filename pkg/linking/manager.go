// Package linking is the public API of the engine: it creates, reviews and
// removes links between text ranges and lexicon words, and regenerates
// automatic suggestions.
//
// Every mutation of a text's spans runs under that text's write lock: the
// current spans are read, the candidate is arbitrated with span.Admit and the
// resulting write set is committed before the lock is released. Reads take the
// read lock, so they see either the state before or after a resolution.
package linking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/japaniel/lexlink/pkg/lexicon"
	"github.com/japaniel/lexlink/pkg/observe"
	"github.com/japaniel/lexlink/pkg/segment"
	"github.com/japaniel/lexlink/pkg/span"
	"github.com/japaniel/lexlink/pkg/suggest"
)

// Manager implements the link lifecycle operations.
type Manager struct {
	Catalog  Catalog
	Lexicons LexiconProvider
	Store    Store

	// Logger receives retry warnings and regeneration summaries. nil means slog.Default().
	Logger *slog.Logger
	// Metrics records lifecycle counters.
	Metrics *observe.Metrics

	// Workers bounds the number of texts regenerated in parallel by RegenerateDocument.
	Workers int
	// Timeout bounds a single storage call. Zero disables it.
	Timeout time.Duration
	// MaxAttempts is the number of tries for a storage call that fails transiently.
	MaxAttempts int
	// Backoff is the wait before the first retry; it doubles on each retry.
	Backoff time.Duration

	// Now returns the current time. Tests replace it to get stable timestamps.
	Now func() time.Time

	locks textLocks
}

// NewManager creates a Manager with default settings.
func NewManager(catalog Catalog, lexicons LexiconProvider, store Store) *Manager {
	return &Manager{
		Catalog:     catalog,
		Lexicons:    lexicons,
		Store:       store,
		Metrics:     observe.DefaultMetrics(),
		Workers:     4,
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		Backoff:     50 * time.Millisecond,
		Now:         time.Now,
	}
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func validateNotes(notes string) error {
	if n := utf8.RuneCountInString(notes); n > span.MaxNotesLength {
		return fmt.Errorf("%w: %d codepoints, at most %d allowed", span.ErrInvalidNotes, n, span.MaxNotesLength)
	}
	return nil
}

func (m *Manager) text(ctx context.Context, textID string) (Text, error) {
	return call(ctx, m, "get text", func(ctx context.Context) (Text, error) {
		return m.Catalog.Text(ctx, textID)
	})
}

func (m *Manager) wordLanguage(ctx context.Context, wordID string) (string, error) {
	return call(ctx, m, "get word", func(ctx context.Context) (string, error) {
		return m.Catalog.WordLanguage(ctx, wordID)
	})
}

func (m *Manager) getSpan(ctx context.Context, spanID string) (span.Span, error) {
	return call(ctx, m, "get span", func(ctx context.Context) (span.Span, error) {
		return m.Store.GetSpan(ctx, spanID)
	})
}

func (m *Manager) querySpans(ctx context.Context, textID string) ([]span.Span, error) {
	return call(ctx, m, "query spans", func(ctx context.Context) ([]span.Span, error) {
		return m.Store.QuerySpans(ctx, textID)
	})
}

func checkLanguage(text Text, wordLanguage string) error {
	if lexicon.Language(text.Language) != lexicon.Language(wordLanguage) {
		return &span.LanguageError{TextLanguage: text.Language, WordLanguage: wordLanguage}
	}
	return nil
}

// commit writes c. Stores implementing Applier commit it in one transaction;
// otherwise deletes and persists are issued one by one while the text lock is
// held.
func (m *Manager) commit(ctx context.Context, textID string, c Changes) ([]span.Span, error) {
	if c.Empty() {
		return nil, nil
	}
	if ap, ok := m.Store.(Applier); ok {
		return call(ctx, m, "apply changes", func(ctx context.Context) ([]span.Span, error) {
			return ap.Apply(ctx, textID, c)
		})
	}
	for _, id := range c.Delete {
		if _, err := call(ctx, m, "delete span", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, m.Store.DeleteSpan(ctx, id)
		}); err != nil {
			return nil, err
		}
	}
	out := make([]span.Span, 0, len(c.Persist))
	for _, s := range c.Persist {
		stored, err := call(ctx, m, "persist span", func(ctx context.Context) (span.Span, error) {
			return m.Store.PersistSpan(ctx, s)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	return out, nil
}

// commitOne writes a single span plus its evictions and returns the stored span.
func (m *Manager) commitOne(ctx context.Context, s span.Span, evict []span.Span) (span.Span, error) {
	c := Changes{Persist: []span.Span{s}}
	for _, e := range evict {
		c.Delete = append(c.Delete, e.ID)
	}
	stored, err := m.commit(ctx, s.TextID, c)
	if err != nil {
		return span.Span{}, err
	}
	for _, st := range stored {
		if st.ID == s.ID {
			return st, nil
		}
	}
	return s, nil
}

// CreateLink links the word boundary aligned range around [start, end) of a
// text to wordID. The link is confirmed immediately. Reversed offsets are
// swapped; a caret (start == end) selects the word it touches.
func (m *Manager) CreateLink(ctx context.Context, textID, wordID string, start, end int, notes string) (span.Span, error) {
	if err := validateNotes(notes); err != nil {
		return span.Span{}, err
	}
	text, err := m.text(ctx, textID)
	if err != nil {
		return span.Span{}, err
	}

	runes := []rune(text.Content)
	if start > end {
		start, end = end, start
	}
	if start < 0 || end > len(runes) {
		return span.Span{}, &span.RangeError{Start: start, End: end, Length: len(runes), Reason: "out of bounds"}
	}
	r, ok := segment.ExpandRunes(runes, start, end)
	if !ok {
		return span.Span{}, &span.RangeError{Start: start, End: end, Length: len(runes), Reason: "selection contains no word"}
	}

	wordLang, err := m.wordLanguage(ctx, wordID)
	if err != nil {
		return span.Span{}, err
	}
	if err := checkLanguage(text, wordLang); err != nil {
		return span.Span{}, err
	}

	unlock := m.locks.lock(textID)
	defer unlock()

	existing, err := m.querySpans(ctx, textID)
	if err != nil {
		return span.Span{}, err
	}

	now := m.now()
	actor := Actor(ctx)
	candidate := span.Span{
		ID:         uuid.NewString(),
		TextID:     textID,
		WordID:     wordID,
		Start:      r.Start,
		End:        r.End,
		Status:     span.Confirmed,
		Notes:      notes,
		CreatedBy:  actor,
		VerifiedBy: actor,
		CreatedAt:  now,
		UpdatedAt:  now,
		VerifiedAt: &now,
	}
	adm, err := span.Admit(existing, candidate)
	if err != nil {
		var cerr *span.ConflictError
		if errors.As(err, &cerr) {
			m.Metrics.Conflicts.Add(ctx, 1)
			m.logger().Info("link blocked by confirmed link",
				"text_id", textID,
				"start", r.Start,
				"end", r.End,
				"conflicts", len(cerr.Conflicting),
			)
		}
		return span.Span{}, err
	}

	s := adm.Span
	if adm.Action == span.Update {
		s.UpdatedAt = now
		s.VerifiedBy = actor
		s.VerifiedAt = &now
	}
	stored, err := m.commitOne(ctx, s, adm.Evict)
	if err != nil {
		return span.Span{}, err
	}
	m.Metrics.LinksCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("action", adm.Action.String())))
	return stored, nil
}

// UpdateStatus moves a span to status to. Confirming runs the overlap check
// against the text's other spans; a confirmed span cannot change status.
// Setting the current status again is a no-op.
func (m *Manager) UpdateStatus(ctx context.Context, spanID string, to span.Status) (span.Span, error) {
	if !to.Valid() {
		return span.Span{}, &span.TransitionError{To: to}
	}
	return m.mutate(ctx, spanID, func(cur span.Span, existing []span.Span, now time.Time) (span.Span, []span.Span, error) {
		if cur.Status == to {
			return cur, nil, errUnchanged
		}
		if !span.CanTransition(cur.Status, to) {
			return span.Span{}, nil, &span.TransitionError{From: cur.Status, To: to}
		}

		candidate := cur
		candidate.Status = to
		adm, err := span.Admit(existing, candidate)
		if err != nil {
			if errors.Is(err, span.ErrConfirmedConflict) {
				m.Metrics.Conflicts.Add(ctx, 1)
			}
			return span.Span{}, nil, err
		}
		s := adm.Span
		s.UpdatedAt = now
		if to == span.Confirmed || to == span.Rejected {
			s.VerifiedBy = Actor(ctx)
			s.VerifiedAt = &now
		}
		m.Metrics.StatusChanges.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", string(cur.Status)),
			attribute.String("to", string(to)),
		))
		return s, adm.Evict, nil
	})
}

// UpdateNotes replaces the notes of a span. Empty notes clear them.
func (m *Manager) UpdateNotes(ctx context.Context, spanID, notes string) (span.Span, error) {
	if err := validateNotes(notes); err != nil {
		return span.Span{}, err
	}
	return m.mutate(ctx, spanID, func(cur span.Span, _ []span.Span, now time.Time) (span.Span, []span.Span, error) {
		if cur.Notes == notes {
			return cur, nil, errUnchanged
		}
		cur.Notes = notes
		cur.UpdatedAt = now
		return cur, nil, nil
	})
}

// ReassignWord points a span at another word of the text's language. The
// range and status are kept.
func (m *Manager) ReassignWord(ctx context.Context, spanID, wordID string) (span.Span, error) {
	s, err := m.getSpan(ctx, spanID)
	if err != nil {
		return span.Span{}, err
	}
	text, err := m.text(ctx, s.TextID)
	if err != nil {
		return span.Span{}, err
	}
	wordLang, err := m.wordLanguage(ctx, wordID)
	if err != nil {
		return span.Span{}, err
	}
	if err := checkLanguage(text, wordLang); err != nil {
		return span.Span{}, err
	}
	return m.mutate(ctx, spanID, func(cur span.Span, _ []span.Span, now time.Time) (span.Span, []span.Span, error) {
		if cur.WordID == wordID {
			return cur, nil, errUnchanged
		}
		cur.WordID = wordID
		cur.UpdatedAt = now
		return cur, nil, nil
	})
}

// errUnchanged lets a mutation report that nothing has to be written.
var errUnchanged = errors.New("unchanged")

// mutate loads a span, locks its text and applies fn to the current record.
func (m *Manager) mutate(ctx context.Context, spanID string, fn func(cur span.Span, existing []span.Span, now time.Time) (span.Span, []span.Span, error)) (span.Span, error) {
	s, err := m.getSpan(ctx, spanID)
	if err != nil {
		return span.Span{}, err
	}

	unlock := m.locks.lock(s.TextID)
	defer unlock()

	existing, err := m.querySpans(ctx, s.TextID)
	if err != nil {
		return span.Span{}, err
	}
	cur, ok := find(existing, spanID)
	if !ok {
		return span.Span{}, &span.NotFoundError{Resource: "span", ID: spanID}
	}

	next, evict, err := fn(cur, existing, m.now())
	if err == errUnchanged {
		return cur, nil
	}
	if err != nil {
		return span.Span{}, err
	}
	return m.commitOne(ctx, next, evict)
}

func find(spans []span.Span, id string) (span.Span, bool) {
	for _, s := range spans {
		if s.ID == id {
			return s, true
		}
	}
	return span.Span{}, false
}

// RemoveLink deletes a span whatever its status. Removing an unknown id
// succeeds.
func (m *Manager) RemoveLink(ctx context.Context, spanID string) error {
	s, err := m.getSpan(ctx, spanID)
	if err != nil {
		if errors.Is(err, span.ErrNotFound) {
			return nil
		}
		return err
	}

	unlock := m.locks.lock(s.TextID)
	defer unlock()

	if _, err := call(ctx, m, "delete span", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.Store.DeleteSpan(ctx, spanID)
	}); err != nil {
		return err
	}
	m.Metrics.LinksRemoved.Add(ctx, 1)
	return nil
}

// ListLinks returns all spans of a text ordered by start, end and creation time.
func (m *Manager) ListLinks(ctx context.Context, textID string) ([]span.Span, error) {
	if _, err := m.text(ctx, textID); err != nil {
		return nil, err
	}
	unlock := m.locks.rlock(textID)
	defer unlock()

	spans, err := m.querySpans(ctx, textID)
	if err != nil {
		return nil, err
	}
	span.Sort(spans)
	return spans, nil
}

// RegenerateSuggestions deletes the suggestions of a text, runs the generator
// against the text's lexicon and admits each candidate against the remaining
// confirmed and rejected spans. It returns the suggestions stored.
//
// The new candidate set is computed completely before anything is written,
// so a canceled call leaves the previous suggestions in place.
func (m *Manager) RegenerateSuggestions(ctx context.Context, textID string) ([]span.Span, error) {
	return m.suggest(ctx, textID, true)
}

// SuggestLinks runs the generator without clearing existing suggestions.
// Candidates compete with the stored suggestions by range length and
// confidence. It returns the suggestions written.
func (m *Manager) SuggestLinks(ctx context.Context, textID string) ([]span.Span, error) {
	return m.suggest(ctx, textID, false)
}

func (m *Manager) suggest(ctx context.Context, textID string, replace bool) ([]span.Span, error) {
	started := time.Now()
	text, err := m.text(ctx, textID)
	if err != nil {
		return nil, err
	}
	idx, err := m.Lexicons.Lexicon(ctx, text.Language)
	if err != nil {
		return nil, fmt.Errorf("lexicon for text %s: %w", textID, err)
	}
	candidates := suggest.Generate(text.Content, idx)

	unlock := m.locks.lock(textID)
	defer unlock()

	existing, err := m.querySpans(ctx, textID)
	if err != nil {
		return nil, err
	}

	var changes Changes
	working := make([]span.Span, 0, len(existing)+len(candidates))
	for _, s := range existing {
		if replace && s.Status == span.Suggested {
			changes.Delete = append(changes.Delete, s.ID)
			continue
		}
		working = append(working, s)
	}

	now := m.now()
	actor := Actor(ctx)
	pending := make(map[string]int)
	dropped := 0
	for _, c := range candidates {
		s := c.Span(textID)
		s.ID = uuid.NewString()
		s.CreatedBy = actor
		s.CreatedAt = now
		s.UpdatedAt = now

		adm, err := span.Admit(working, s)
		if err != nil {
			return nil, err
		}
		if adm.Action == span.Drop {
			dropped++
			continue
		}
		for _, e := range adm.Evict {
			working = without(working, e.ID)
			if i, ok := pending[e.ID]; ok {
				changes.Persist[i].ID = ""
				delete(pending, e.ID)
				continue
			}
			changes.Delete = append(changes.Delete, e.ID)
		}
		if adm.Action == span.Update {
			adm.Span.UpdatedAt = now
			working = without(working, adm.Span.ID)
		}
		working = append(working, adm.Span)
		if i, ok := pending[adm.Span.ID]; ok {
			changes.Persist[i] = adm.Span
		} else {
			pending[adm.Span.ID] = len(changes.Persist)
			changes.Persist = append(changes.Persist, adm.Span)
		}
	}
	changes.Persist = compact(changes.Persist)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stored, err := m.commit(ctx, textID, changes)
	if err != nil {
		return nil, err
	}
	if stored == nil && len(changes.Persist) > 0 {
		stored = changes.Persist
	}
	span.Sort(stored)

	m.Metrics.SuggestionsAdmitted.Add(ctx, int64(len(stored)))
	m.Metrics.SuggestionsDropped.Add(ctx, int64(dropped))
	m.Metrics.RegenerationDuration.Record(ctx, time.Since(started).Seconds())
	m.logger().Debug("suggestions generated",
		"text_id", textID,
		"replace", replace,
		"candidates", len(candidates),
		"stored", len(stored),
		"dropped", dropped,
		"deleted", len(changes.Delete),
	)
	return stored, nil
}

func without(spans []span.Span, id string) []span.Span {
	out := spans[:0]
	for _, s := range spans {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

// compact drops persist entries blanked out by a later eviction.
func compact(spans []span.Span) []span.Span {
	out := spans[:0]
	for _, s := range spans {
		if s.ID != "" {
			out = append(out, s)
		}
	}
	return out
}

// RegenerateDocument regenerates the suggestions of every text of a document.
// Texts are processed in parallel, at most Workers at a time. The result maps
// text ids to the suggestions stored for them.
func (m *Manager) RegenerateDocument(ctx context.Context, documentID string) (map[string][]span.Span, error) {
	textIDs, err := call(ctx, m, "list document texts", func(ctx context.Context) ([]string, error) {
		return m.Catalog.DocumentTexts(ctx, documentID)
	})
	if err != nil {
		return nil, err
	}

	results := make([][]span.Span, len(textIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(m.Workers, 1))
	for i, id := range textIDs {
		g.Go(func() error {
			spans, err := m.RegenerateSuggestions(gctx, id)
			if err != nil {
				return fmt.Errorf("text %s: %w", id, err)
			}
			results[i] = spans
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]span.Span, len(textIDs))
	for i, id := range textIDs {
		out[id] = results[i]
	}
	m.logger().Info("document suggestions regenerated", "document_id", documentID, "texts", len(textIDs))
	return out, nil
}
