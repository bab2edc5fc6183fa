package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/japaniel/lexlink/pkg/lexicon"
	"github.com/japaniel/lexlink/pkg/span"
)

// DBExecutor is an interface that allows methods to accept either *sql.DB or *sql.Tx
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// isUniqueConstraintErr returns true when the error indicates a unique/constraint violation
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unique") || strings.Contains(s, "constraint failed")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateDocument inserts a document and returns it.
func CreateDocument(ctx context.Context, db DBExecutor, title, sourceURL string) (Document, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Document{}, fmt.Errorf("title must be non-empty")
	}
	d := Document{ID: uuid.NewString(), Title: title, SourceURL: sourceURL, CreatedAt: time.Now().UTC()}
	_, err := db.ExecContext(ctx,
		`INSERT INTO documents (id, title, source_url, created_at) VALUES (?, ?, ?, ?)`,
		d.ID, d.Title, nullString(d.SourceURL), d.CreatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", classify(err))
	}
	return d, nil
}

// GetDocument returns the document with id.
func GetDocument(ctx context.Context, db DBExecutor, id string) (Document, error) {
	var d Document
	var src sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT id, title, source_url, created_at FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.Title, &src, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, &span.NotFoundError{Resource: "document", ID: id}
	}
	if err != nil {
		return Document{}, classify(err)
	}
	d.SourceURL = src.String
	return d, nil
}

// ListDocuments returns all documents, newest first.
func ListDocuments(ctx context.Context, db DBExecutor) ([]Document, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, title, source_url, created_at FROM documents ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		var src sql.NullString
		if err := rows.Scan(&d.ID, &d.Title, &src, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.SourceURL = src.String
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// CreateText inserts a text at position within its document.
func CreateText(ctx context.Context, db DBExecutor, documentID, title, content, language string, position int) (Text, error) {
	language = lexicon.Language(language)
	if language == "" {
		return Text{}, fmt.Errorf("language must be non-empty")
	}
	t := Text{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Title:      title,
		Content:    content,
		Language:   language,
		Position:   position,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO texts (id, document_id, title, content, language, position, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.DocumentID, nullString(t.Title), t.Content, t.Language, t.Position, t.CreatedAt)
	if err != nil {
		return Text{}, fmt.Errorf("insert text: %w", classify(err))
	}
	return t, nil
}

const textColumns = `id, document_id, title, content, language, position, created_at`

func scanText(sc interface{ Scan(...any) error }) (Text, error) {
	var t Text
	var title sql.NullString
	if err := sc.Scan(&t.ID, &t.DocumentID, &title, &t.Content, &t.Language, &t.Position, &t.CreatedAt); err != nil {
		return Text{}, err
	}
	t.Title = title.String
	return t, nil
}

// GetText returns the text with id.
func GetText(ctx context.Context, db DBExecutor, id string) (Text, error) {
	t, err := scanText(db.QueryRowContext(ctx, `SELECT `+textColumns+` FROM texts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Text{}, &span.NotFoundError{Resource: "text", ID: id}
	}
	if err != nil {
		return Text{}, classify(err)
	}
	return t, nil
}

// ListDocumentTexts returns the texts of a document in position order.
func ListDocumentTexts(ctx context.Context, db DBExecutor, documentID string) ([]Text, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+textColumns+` FROM texts WHERE document_id = ? ORDER BY position, created_at`, documentID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []Text
	for rows.Next() {
		t, err := scanText(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// CreateOrGetWord returns the id of the word with the given surface form and
// language, inserting it if missing. A non-empty romanization replaces the
// stored one.
func CreateOrGetWord(ctx context.Context, db DBExecutor, word, romanization, language string) (string, error) {
	trimmedWord := strings.TrimSpace(word)
	if trimmedWord == "" {
		return "", fmt.Errorf("word must be non-empty")
	}
	language = lexicon.Language(language)
	if language == "" {
		return "", fmt.Errorf("language must be non-empty")
	}

	const maxRetries = 3

	var id string
	query := `INSERT INTO words (id, word, romanization, language, created_at)
			  VALUES (?, ?, ?, ?, ?)
			  ON CONFLICT(word, language)
			  DO UPDATE SET
			    romanization = COALESCE(NULLIF(excluded.romanization, ''), words.romanization)
			  RETURNING id`
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = db.QueryRowContext(ctx, query,
			uuid.NewString(), trimmedWord, strings.TrimSpace(romanization), language, time.Now().UTC(),
		).Scan(&id)
		if err == nil {
			return id, nil
		}
		// A concurrent insert of the same id or word can still race the upsert.
		if !isUniqueConstraintErr(err) {
			break
		}
	}
	return "", fmt.Errorf("upsert word: %w", classify(err))
}

const wordColumns = `id, word, romanization, language, created_at`

func scanWord(sc interface{ Scan(...any) error }) (Word, error) {
	var w Word
	var rom sql.NullString
	if err := sc.Scan(&w.ID, &w.Word, &rom, &w.Language, &w.CreatedAt); err != nil {
		return Word{}, err
	}
	w.Romanization = rom.String
	return w, nil
}

// GetWord returns the word with id.
func GetWord(ctx context.Context, db DBExecutor, id string) (Word, error) {
	w, err := scanWord(db.QueryRowContext(ctx, `SELECT `+wordColumns+` FROM words WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Word{}, &span.NotFoundError{Resource: "word", ID: id}
	}
	if err != nil {
		return Word{}, classify(err)
	}
	return w, nil
}

// GetWordsByLanguage returns the words of a language ordered by surface form.
func GetWordsByLanguage(ctx context.Context, db DBExecutor, language string) ([]Word, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+wordColumns+` FROM words WHERE language = ? ORDER BY word, id`, lexicon.Language(language))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []Word
	for rows.Next() {
		w, err := scanWord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}
