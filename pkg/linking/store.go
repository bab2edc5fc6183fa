package linking

import (
	"context"

	"github.com/japaniel/lexlink/pkg/lexicon"
	"github.com/japaniel/lexlink/pkg/span"
)

// Text is the part of a text record the manager needs.
type Text struct {
	ID         string
	DocumentID string
	Content    string
	Language   string
}

// Catalog reads texts, words and documents. Missing records are reported with
// a *span.NotFoundError.
type Catalog interface {
	Text(ctx context.Context, textID string) (Text, error)
	WordLanguage(ctx context.Context, wordID string) (string, error)
	DocumentTexts(ctx context.Context, documentID string) ([]string, error)
}

// LexiconProvider returns the current lexicon snapshot of a language.
// *lexicon.Cache implements it.
type LexiconProvider interface {
	Lexicon(ctx context.Context, language string) (*lexicon.Index, error)
}

// Store persists spans. PersistSpan inserts or replaces the record with the
// span's id. DeleteSpan of an unknown id is not an error. GetSpan reports a
// missing id with a *span.NotFoundError.
type Store interface {
	GetSpan(ctx context.Context, spanID string) (span.Span, error)
	QuerySpans(ctx context.Context, textID string) ([]span.Span, error)
	PersistSpan(ctx context.Context, s span.Span) (span.Span, error)
	DeleteSpan(ctx context.Context, spanID string) error
}

// Changes is the write set produced by one overlap resolution. Deletes are
// applied before persists.
type Changes struct {
	Delete  []string
	Persist []span.Span
}

// Empty reports whether c writes nothing.
func (c Changes) Empty() bool { return len(c.Delete) == 0 && len(c.Persist) == 0 }

// Applier is implemented by stores that can commit a Changes set in a single
// transaction. The manager uses it when available so readers never observe a
// partly applied resolution.
type Applier interface {
	Apply(ctx context.Context, textID string, c Changes) ([]span.Span, error)
}
