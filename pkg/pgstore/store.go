// Package pgstore keeps spans in PostgreSQL, for deployments where several
// processes share the link table. It implements linking.Store and
// linking.Applier on top of pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/japaniel/lexlink/pkg/linking"
	"github.com/japaniel/lexlink/pkg/span"
)

// Schema is the SQL DDL for the text_word_links table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS text_word_links (
    id          TEXT PRIMARY KEY,
    text_id     TEXT NOT NULL,
    word_id     TEXT NOT NULL,
    start_char  INTEGER NOT NULL CHECK (start_char >= 0),
    end_char    INTEGER NOT NULL CHECK (end_char > start_char),
    status      TEXT NOT NULL CHECK (status IN ('suggested', 'confirmed', 'rejected')),
    confidence  DOUBLE PRECISION,
    notes       VARCHAR(500),
    created_by  TEXT,
    verified_by TEXT,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    verified_at TIMESTAMPTZ,
    UNIQUE (text_id, start_char, end_char)
);
CREATE INDEX IF NOT EXISTS idx_text_word_links_text ON text_word_links(text_id, start_char);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// querier is the subset shared by DB and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a span store backed by PostgreSQL.
type Store struct {
	db DB
}

var (
	_ linking.Store   = (*Store)(nil)
	_ linking.Applier = (*Store)(nil)
)

// New creates a Store on db. The caller is responsible for calling
// [Store.Migrate] before issuing queries.
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate executes the [Schema] DDL.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}

const columns = `id, text_id, word_id, start_char, end_char, status, confidence, notes,
       created_by, verified_by, created_at, updated_at, verified_at`

func scan(row pgx.Row) (span.Span, error) {
	var sp span.Span
	var status string
	var notes, createdBy, verifiedBy *string
	if err := row.Scan(&sp.ID, &sp.TextID, &sp.WordID, &sp.Start, &sp.End, &status, &sp.Confidence, &notes,
		&createdBy, &verifiedBy, &sp.CreatedAt, &sp.UpdatedAt, &sp.VerifiedAt); err != nil {
		return span.Span{}, err
	}
	sp.Status = span.Status(status)
	sp.Notes = deref(notes)
	sp.CreatedBy = deref(createdBy)
	sp.VerifiedBy = deref(verifiedBy)
	return sp, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetSpan returns the span with id.
func (s *Store) GetSpan(ctx context.Context, id string) (span.Span, error) {
	sp, err := scan(s.db.QueryRow(ctx, `SELECT `+columns+` FROM text_word_links WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return span.Span{}, &span.NotFoundError{Resource: "span", ID: id}
	}
	if err != nil {
		return span.Span{}, fmt.Errorf("pgstore: get span: %w", classify(err))
	}
	return sp, nil
}

// QuerySpans returns the spans of a text ordered by start and end.
func (s *Store) QuerySpans(ctx context.Context, textID string) ([]span.Span, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+columns+` FROM text_word_links WHERE text_id = $1 ORDER BY start_char, end_char, created_at`, textID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: query spans: %w", classify(err))
	}
	defer rows.Close()

	var out []span.Span
	for rows.Next() {
		sp, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore: scan span: %w", err)
		}
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: query spans: %w", classify(err))
	}
	return out, nil
}

const upsert = `
	INSERT INTO text_word_links (` + columns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	ON CONFLICT (id) DO UPDATE SET
	    word_id     = EXCLUDED.word_id,
	    start_char  = EXCLUDED.start_char,
	    end_char    = EXCLUDED.end_char,
	    status      = EXCLUDED.status,
	    confidence  = EXCLUDED.confidence,
	    notes       = EXCLUDED.notes,
	    verified_by = EXCLUDED.verified_by,
	    updated_at  = EXCLUDED.updated_at,
	    verified_at = EXCLUDED.verified_at`

func persist(ctx context.Context, q querier, sp span.Span) error {
	var verifiedAt *time.Time
	if sp.VerifiedAt != nil {
		t := sp.VerifiedAt.UTC()
		verifiedAt = &t
	}
	_, err := q.Exec(ctx, upsert,
		sp.ID, sp.TextID, sp.WordID, sp.Start, sp.End, string(sp.Status), sp.Confidence, nullable(sp.Notes),
		nullable(sp.CreatedBy), nullable(sp.VerifiedBy), sp.CreatedAt.UTC(), sp.UpdatedAt.UTC(), verifiedAt,
	)
	if err != nil {
		return fmt.Errorf("pgstore: persist span %s: %w", sp.ID, classify(err))
	}
	return nil
}

// PersistSpan inserts sp or replaces the record with the same id.
func (s *Store) PersistSpan(ctx context.Context, sp span.Span) (span.Span, error) {
	if err := persist(ctx, s.db, sp); err != nil {
		return span.Span{}, err
	}
	return sp, nil
}

// DeleteSpan removes the span with id. Unknown ids are ignored.
func (s *Store) DeleteSpan(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM text_word_links WHERE id = $1`, id); err != nil {
		return fmt.Errorf("pgstore: delete span %s: %w", id, classify(err))
	}
	return nil
}

// Apply commits a change set in one transaction.
func (s *Store) Apply(ctx context.Context, textID string, c linking.Changes) ([]span.Span, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgstore: begin: %w", classify(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if len(c.Delete) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM text_word_links WHERE id = ANY($1)`, c.Delete); err != nil {
			return nil, fmt.Errorf("pgstore: delete spans: %w", classify(err))
		}
	}
	out := make([]span.Span, 0, len(c.Persist))
	for _, sp := range c.Persist {
		if sp.TextID != textID {
			return nil, fmt.Errorf("pgstore: span %s belongs to text %s, not %s", sp.ID, sp.TextID, textID)
		}
		if err := persist(ctx, tx, sp); err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("pgstore: commit: %w", classify(err))
	}
	return out, nil
}

// classify marks serialization failures, deadlocks, lock timeouts and
// connection errors that are safe to retry as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57P01":
			return span.Transient(err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return span.Transient(err)
	}
	return err
}
