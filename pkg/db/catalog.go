package db

import (
	"context"
	"database/sql"

	"github.com/japaniel/lexlink/pkg/lexicon"
	"github.com/japaniel/lexlink/pkg/linking"
)

// Catalog serves texts, words and documents to the linking manager and word
// lists to the lexicon cache.
type Catalog struct {
	DB *sql.DB
}

// NewCatalog creates a Catalog on conn.
func NewCatalog(conn *sql.DB) *Catalog {
	return &Catalog{DB: conn}
}

var (
	_ linking.Catalog = (*Catalog)(nil)
	_ lexicon.Source  = (*Catalog)(nil)
)

func (c *Catalog) Text(ctx context.Context, textID string) (linking.Text, error) {
	t, err := GetText(ctx, c.DB, textID)
	if err != nil {
		return linking.Text{}, err
	}
	return linking.Text{ID: t.ID, DocumentID: t.DocumentID, Content: t.Content, Language: t.Language}, nil
}

func (c *Catalog) WordLanguage(ctx context.Context, wordID string) (string, error) {
	w, err := GetWord(ctx, c.DB, wordID)
	if err != nil {
		return "", err
	}
	return w.Language, nil
}

func (c *Catalog) DocumentTexts(ctx context.Context, documentID string) ([]string, error) {
	if _, err := GetDocument(ctx, c.DB, documentID); err != nil {
		return nil, err
	}
	texts, err := ListDocumentTexts(ctx, c.DB, documentID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(texts))
	for i, t := range texts {
		ids[i] = t.ID
	}
	return ids, nil
}

func (c *Catalog) LexiconEntries(ctx context.Context, language string) ([]lexicon.Entry, error) {
	words, err := GetWordsByLanguage(ctx, c.DB, language)
	if err != nil {
		return nil, err
	}
	entries := make([]lexicon.Entry, len(words))
	for i, w := range words {
		entries[i] = lexicon.Entry{WordID: w.ID, Surface: w.Word, Romanization: w.Romanization, Language: w.Language}
	}
	return entries, nil
}
