package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/japaniel/lexlink/pkg/linking"
	"github.com/japaniel/lexlink/pkg/span"
)

// SpanStore keeps spans in the text_word_links table. It implements
// linking.Store and linking.Applier.
type SpanStore struct {
	DB *sql.DB
}

// NewSpanStore creates a SpanStore on conn.
func NewSpanStore(conn *sql.DB) *SpanStore {
	return &SpanStore{DB: conn}
}

var (
	_ linking.Store   = (*SpanStore)(nil)
	_ linking.Applier = (*SpanStore)(nil)
)

const spanColumns = `id, text_id, word_id, start_char, end_char, status, confidence, notes,
	created_by, verified_by, created_at, updated_at, verified_at`

func scanSpan(sc interface{ Scan(...any) error }) (span.Span, error) {
	var s span.Span
	var status string
	var conf sql.NullFloat64
	var notes, createdBy, verifiedBy sql.NullString
	var verifiedAt sql.NullTime
	if err := sc.Scan(&s.ID, &s.TextID, &s.WordID, &s.Start, &s.End, &status, &conf, &notes,
		&createdBy, &verifiedBy, &s.CreatedAt, &s.UpdatedAt, &verifiedAt); err != nil {
		return span.Span{}, err
	}
	s.Status = span.Status(status)
	if conf.Valid {
		s.Confidence = span.Float(conf.Float64)
	}
	s.Notes = notes.String
	s.CreatedBy = createdBy.String
	s.VerifiedBy = verifiedBy.String
	if verifiedAt.Valid {
		t := verifiedAt.Time
		s.VerifiedAt = &t
	}
	return s, nil
}

// GetSpan returns the span with id.
func (st *SpanStore) GetSpan(ctx context.Context, id string) (span.Span, error) {
	s, err := scanSpan(st.DB.QueryRowContext(ctx, `SELECT `+spanColumns+` FROM text_word_links WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return span.Span{}, &span.NotFoundError{Resource: "span", ID: id}
	}
	if err != nil {
		return span.Span{}, classify(err)
	}
	return s, nil
}

// QuerySpans returns the spans of a text ordered by start and end.
func (st *SpanStore) QuerySpans(ctx context.Context, textID string) ([]span.Span, error) {
	return querySpans(ctx, st.DB, textID)
}

func querySpans(ctx context.Context, db DBExecutor, textID string) ([]span.Span, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+spanColumns+` FROM text_word_links WHERE text_id = ? ORDER BY start_char, end_char, created_at`, textID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []span.Span
	for rows.Next() {
		s, err := scanSpan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// PersistSpan inserts s or replaces the record with the same id.
func (st *SpanStore) PersistSpan(ctx context.Context, s span.Span) (span.Span, error) {
	if err := persistSpan(ctx, st.DB, s); err != nil {
		return span.Span{}, err
	}
	return s, nil
}

func persistSpan(ctx context.Context, db DBExecutor, s span.Span) error {
	var conf any
	if s.Confidence != nil {
		conf = *s.Confidence
	}
	var verifiedAt any
	if s.VerifiedAt != nil {
		verifiedAt = *s.VerifiedAt
	}
	_, err := db.ExecContext(ctx, `INSERT INTO text_word_links (`+spanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  word_id = excluded.word_id,
		  start_char = excluded.start_char,
		  end_char = excluded.end_char,
		  status = excluded.status,
		  confidence = excluded.confidence,
		  notes = excluded.notes,
		  verified_by = excluded.verified_by,
		  updated_at = excluded.updated_at,
		  verified_at = excluded.verified_at`,
		s.ID, s.TextID, s.WordID, s.Start, s.End, string(s.Status), conf, nullString(s.Notes),
		nullString(s.CreatedBy), nullString(s.VerifiedBy), s.CreatedAt, s.UpdatedAt, verifiedAt)
	if err != nil {
		return fmt.Errorf("persist span %s: %w", s.ID, classify(err))
	}
	return nil
}

// DeleteSpan removes the span with id. Unknown ids are ignored.
func (st *SpanStore) DeleteSpan(ctx context.Context, id string) error {
	return deleteSpan(ctx, st.DB, id)
}

func deleteSpan(ctx context.Context, db DBExecutor, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM text_word_links WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete span %s: %w", id, classify(err))
	}
	return nil
}

// Apply commits a change set in one transaction.
func (st *SpanStore) Apply(ctx context.Context, textID string, c linking.Changes) ([]span.Span, error) {
	tx, err := st.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", classify(err))
	}
	defer tx.Rollback()

	for _, id := range c.Delete {
		if err := deleteSpan(ctx, tx, id); err != nil {
			return nil, err
		}
	}
	out := make([]span.Span, 0, len(c.Persist))
	for _, s := range c.Persist {
		if s.TextID != textID {
			return nil, fmt.Errorf("span %s belongs to text %s, not %s", s.ID, s.TextID, textID)
		}
		if err := persistSpan(ctx, tx, s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", classify(err))
	}
	return out, nil
}
