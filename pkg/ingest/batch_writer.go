package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/japaniel/lexlink/pkg/span"
)

// WriteFunc writes rows inside the transaction of a batch. A batch whose
// failure is transient is replayed, so a WriteFunc must be safe to run again
// after a rollback.
type WriteFunc func(ctx context.Context, tx *sql.Tx) error

// BatchWriter groups WriteFuncs into transactions. A batch is committed when
// it reaches the configured size, when the flush interval elapses and on Close.
// Commits happen on a single goroutine, in submission order.
type BatchWriter struct {
	db *sql.DB

	mu      sync.Mutex
	pending []WriteFunc
	size    int
	closed  bool
	ticker  *time.Ticker

	batches chan []WriteFunc
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// OnError is called with every batch that failed for good.
	OnError func(error)
	// OnCommit is called with the number of WriteFuncs of every committed batch.
	OnCommit func(n int)
	// MaxAttempts bounds the tries of a batch that fails transiently.
	MaxAttempts int
	// Logger receives retry warnings. nil means slog.Default().
	Logger *slog.Logger

	errMu    sync.Mutex
	firstErr error
}

// NewBatchWriter starts a writer on db committing every size WriteFuncs and,
// when flushInterval is positive, at least that often. A nil db runs the
// WriteFuncs with a nil transaction.
func NewBatchWriter(db *sql.DB, size int, flushInterval time.Duration) *BatchWriter {
	if size <= 0 {
		size = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	bw := &BatchWriter{
		db:          db,
		pending:     make([]WriteFunc, 0, size),
		size:        size,
		batches:     make(chan []WriteFunc, 1),
		ctx:         ctx,
		cancel:      cancel,
		MaxAttempts: 3,
	}

	bw.wg.Add(1)
	go bw.commitLoop()

	if flushInterval > 0 {
		bw.ticker = time.NewTicker(flushInterval)
		bw.wg.Add(1)
		go bw.tickLoop()
	}
	return bw
}

// Submit queues w. It blocks while the commit queue is full.
func (bw *BatchWriter) Submit(w WriteFunc) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.closed {
		return ErrBatchWriterClosed
	}
	bw.pending = append(bw.pending, w)
	if len(bw.pending) >= bw.size {
		bw.handOff()
	}
	return nil
}

// handOff moves the pending WriteFuncs to the committer. bw.mu must be held.
func (bw *BatchWriter) handOff() {
	if len(bw.pending) == 0 {
		return
	}
	batch := bw.pending
	bw.pending = make([]WriteFunc, 0, bw.size)

	select {
	case bw.batches <- batch:
	case <-bw.ctx.Done():
		bw.report(fmt.Errorf("batch writer: dropping batch of %d items due to context cancellation", len(batch)))
	}
}

func (bw *BatchWriter) tickLoop() {
	defer bw.wg.Done()
	for {
		select {
		case <-bw.ctx.Done():
			return
		case <-bw.ticker.C:
			bw.mu.Lock()
			bw.handOff()
			bw.mu.Unlock()
		}
	}
}

func (bw *BatchWriter) commitLoop() {
	defer bw.wg.Done()
	for batch := range bw.batches {
		if err := bw.commitWithRetry(batch); err != nil {
			bw.report(err)
			continue
		}
		if bw.OnCommit != nil {
			bw.OnCommit(len(batch))
		}
	}
}

func (bw *BatchWriter) commitWithRetry(batch []WriteFunc) error {
	attempts := max(bw.MaxAttempts, 1)
	var err error
	for n := 1; n <= attempts; n++ {
		if err = bw.commit(batch); err == nil || !span.IsTransient(err) {
			return err
		}
		if n == attempts {
			break
		}
		logger := bw.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("retrying batch", "items", len(batch), "attempt", n, "err", err)
		time.Sleep(time.Duration(n) * 20 * time.Millisecond)
	}
	return err
}

func (bw *BatchWriter) commit(batch []WriteFunc) error {
	if bw.db == nil {
		for _, w := range batch {
			if err := w(bw.ctx, nil); err != nil {
				return err
			}
		}
		return nil
	}

	// Batches handed off before Close still commit after the writer's own
	// context is cancelled.
	ctx := context.Background()
	tx, err := bw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, w := range batch {
		if err := w(ctx, tx); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch (%d items): %w", len(batch), err)
	}
	return nil
}

func (bw *BatchWriter) report(err error) {
	bw.errMu.Lock()
	if bw.firstErr == nil {
		bw.firstErr = err
	}
	bw.errMu.Unlock()
	if bw.OnError != nil {
		bw.OnError(err)
	}
}

// Close commits what is pending, waits for the committer and returns the
// first error the writer saw. Later calls return ErrBatchWriterClosed.
func (bw *BatchWriter) Close() error {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return ErrBatchWriterClosed
	}
	bw.closed = true
	if bw.ticker != nil {
		bw.ticker.Stop()
	}
	bw.handOff()
	bw.mu.Unlock()

	bw.cancel()
	close(bw.batches)
	bw.wg.Wait()

	bw.errMu.Lock()
	defer bw.errMu.Unlock()
	return bw.firstErr
}

// ErrBatchWriterClosed is returned by Submit and Close after Close.
var ErrBatchWriterClosed = &BatchWriterError{"batch writer closed"}

// BatchWriterError is the error type of BatchWriter failures.
type BatchWriterError struct{ msg string }

func (e *BatchWriterError) Error() string { return e.msg }
