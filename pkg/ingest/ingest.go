package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/japaniel/lexlink/pkg/db"
	"github.com/japaniel/lexlink/pkg/lexicon"
	"github.com/japaniel/lexlink/pkg/span"
)

// WorkerPoolInterface abstracts the worker pool so tests can inject failing implementations.
type WorkerPoolInterface interface {
	Start(ctx context.Context)
	Submit(Job) error
	// SubmitCtx attempts to enqueue a job but returns promptly if ctx is canceled.
	SubmitCtx(ctx context.Context, job Job) error
	Close()
}

// Linker regenerates the suggestions of a stored text. *linking.Manager
// satisfies it.
type Linker interface {
	RegenerateSuggestions(ctx context.Context, textID string) ([]span.Span, error)
}

// Invalidator drops cached lexicon snapshots. *lexicon.Cache satisfies it.
type Invalidator interface {
	Invalidate(language string)
}

// Document is a source to ingest.
type Document struct {
	Title     string
	SourceURL string
	Language  string
	Content   string
}

// Result summarizes an ingest run.
type Result struct {
	DocumentID  string
	TextIDs     []string
	Suggestions int
}

// Ingester stores documents as texts and links them to the lexicon.
type Ingester struct {
	DB *sql.DB
	// Linker generates suggestions for the new texts. nil skips linking.
	Linker    Linker
	BatchSize int
	// Logger is used for informational messages. nil means no logging.
	Logger *slog.Logger
	// OnProgress is called after every linked text with the number of texts done and the total.
	OnProgress func(current, total int)

	// Concurrency settings
	Workers int

	// PoolFactory allows tests to inject custom worker pool implementations.
	PoolFactory func(workers, queue int) WorkerPoolInterface
	// Splitter cuts content into texts. Defaults to SplitParagraphs.
	Splitter func(content string) []string
}

// NewIngester creates a new Ingester.
func NewIngester(conn *sql.DB, linker Linker) *Ingester {
	return &Ingester{
		DB:        conn,
		Linker:    linker,
		BatchSize: 50,
		Workers:   4,
	}
}

var blankLine = regexp.MustCompile(`\n[ \t\f\v]*\n`)

// SplitParagraphs splits content on blank lines. Paragraphs are trimmed and
// empty ones dropped.
func SplitParagraphs(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return nonEmpty(blankLine.Split(content, -1))
}

// SplitLines treats every non-blank line as a paragraph. Text extracted from
// HTML has no blank lines between paragraphs, so fetched articles use it.
func SplitLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return nonEmpty(strings.Split(content, "\n"))
}

func nonEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (ig *Ingester) logger() *slog.Logger {
	if ig.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return ig.Logger
}

func (ig *Ingester) newBatchWriter() *BatchWriter {
	bw := NewBatchWriter(ig.DB, ig.BatchSize, 100*time.Millisecond)
	bw.Logger = ig.logger()
	return bw
}

// Ingest stores doc as a document with one text per paragraph, written in
// batched transactions, then regenerates the suggestions of every text on
// the worker pool.
func (ig *Ingester) Ingest(ctx context.Context, doc Document) (Result, error) {
	if strings.TrimSpace(doc.Language) == "" {
		return Result{}, errors.New("ingest: language is required")
	}
	split := ig.Splitter
	if split == nil {
		split = SplitParagraphs
	}
	paragraphs := split(doc.Content)
	if len(paragraphs) == 0 {
		return Result{}, errors.New("ingest: document has no text")
	}
	title := doc.Title
	if title == "" {
		title = "Untitled"
	}

	created, err := db.CreateDocument(ctx, ig.DB, title, doc.SourceURL)
	if err != nil {
		return Result{}, err
	}
	res := Result{DocumentID: created.ID, TextIDs: make([]string, len(paragraphs))}
	ig.logger().Info("document created", "document_id", created.ID, "texts", len(paragraphs))

	var idMu sync.Mutex
	bw := ig.newBatchWriter()
	for i, p := range paragraphs {
		if err := ctx.Err(); err != nil {
			_ = bw.Close()
			return res, err
		}
		err := bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
			t, err := db.CreateText(ctx, tx, created.ID, "", p, doc.Language, i)
			if err != nil {
				return fmt.Errorf("failed to persist text %d: %w", i, err)
			}
			idMu.Lock()
			res.TextIDs[i] = t.ID
			idMu.Unlock()
			return nil
		})
		if err != nil {
			_ = bw.Close()
			return res, err
		}
	}
	if err := bw.Close(); err != nil {
		return res, err
	}

	if ig.Linker == nil {
		return res, nil
	}
	n, err := ig.link(ctx, res.TextIDs)
	res.Suggestions = n
	return res, err
}

// link regenerates the suggestions of textIDs in parallel and returns the
// number of stored suggestions.
func (ig *Ingester) link(ctx context.Context, textIDs []string) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := max(ig.Workers, 1)
	var wp WorkerPoolInterface
	if ig.PoolFactory != nil {
		wp = ig.PoolFactory(workers, workers*2)
	} else {
		wp = NewWorkerPool(workers, workers*2)
	}
	wp.Start(ctx)

	var (
		total    int64
		mu       sync.Mutex
		done     int
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	for _, id := range textIDs {
		err := wp.SubmitCtx(ctx, func(ctx context.Context) error {
			spans, err := ig.Linker.RegenerateSuggestions(ctx, id)
			if err != nil {
				fail(fmt.Errorf("link text %s: %w", id, err))
				return err
			}
			atomic.AddInt64(&total, int64(len(spans)))
			mu.Lock()
			done++
			if ig.OnProgress != nil {
				ig.OnProgress(done, len(textIDs))
			}
			mu.Unlock()
			return nil
		})
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrPoolClosed) {
				fail(err)
			}
			break
		}
	}
	wp.Close()

	mu.Lock()
	defer mu.Unlock()
	if firstErr == nil && done < len(textIDs) {
		firstErr = ctx.Err()
		if firstErr == nil {
			firstErr = fmt.Errorf("ingest: linked %d of %d texts", done, len(textIDs))
		}
	}
	n := int(atomic.LoadInt64(&total))
	if firstErr != nil {
		return n, firstErr
	}
	ig.logger().Info("texts linked", "texts", done, "suggestions", n)
	return n, nil
}

// ImportLexicon upserts entries into the words table in batched
// transactions and drops the cached index of every language touched. It
// returns the number of entries written.
func (ig *Ingester) ImportLexicon(ctx context.Context, entries []lexicon.Entry, cache Invalidator) (int, error) {
	var written atomic.Int64
	bw := ig.newBatchWriter()
	bw.OnCommit = func(n int) { written.Add(int64(n)) }

	languages := make(map[string]struct{})
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			_ = bw.Close()
			return int(written.Load()), err
		}
		if e.Language == "" {
			_ = bw.Close()
			return int(written.Load()), fmt.Errorf("lexicon entry %q has no language", e.Surface)
		}
		languages[e.Language] = struct{}{}
		err := bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
			if _, err := db.CreateOrGetWord(ctx, tx, e.Surface, e.Romanization, e.Language); err != nil {
				return fmt.Errorf("failed to persist word %s: %w", e.Surface, err)
			}
			return nil
		})
		if err != nil {
			_ = bw.Close()
			return int(written.Load()), err
		}
	}
	err := bw.Close()

	if cache != nil {
		for lang := range languages {
			cache.Invalidate(lang)
		}
	}
	ig.logger().Info("lexicon imported", "entries", written.Load(), "languages", len(languages))
	return int(written.Load()), err
}
