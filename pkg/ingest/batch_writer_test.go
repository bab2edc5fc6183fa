package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/japaniel/lexlink/pkg/db"
	"github.com/japaniel/lexlink/pkg/span"
)

func submitWord(t *testing.T, bw *BatchWriter, word string) {
	t.Helper()
	if err := bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
		_, err := db.CreateOrGetWord(ctx, tx, word, "", "mic")
		return err
	}); err != nil {
		t.Fatalf("submit %s: %v", word, err)
	}
}

func TestBatchWriterCommitsWords(t *testing.T) {
	conn := setupDB(t)
	bw := NewBatchWriter(conn, 2, 0)
	var mu sync.Mutex
	var batches []int
	bw.OnCommit = func(n int) {
		mu.Lock()
		batches = append(batches, n)
		mu.Unlock()
	}

	for _, w := range []string{"wela", "elder", "welapemkanni"} {
		submitWord(t, bw, w)
	}

	done := make(chan error, 1)
	go func() { done <- bw.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("close failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for batch commit/close")
	}

	words, err := db.GetWordsByLanguage(context.Background(), conn, "mic")
	if err != nil {
		t.Fatalf("GetWordsByLanguage: %v", err)
	}
	if len(words) != 3 {
		t.Fatalf("expected 3 words, got %+v", words)
	}
	if !reflect.DeepEqual(batches, []int{2, 1}) {
		t.Fatalf("expected a full batch then the remainder, got %v", batches)
	}
}

func TestBatchWriterRollsBackFailedBatch(t *testing.T) {
	conn := setupDB(t)
	bw := NewBatchWriter(conn, 2, 0)
	errCh := make(chan error, 1)
	bw.OnError = func(e error) { errCh <- e }

	// The word is written first, then the batch fails and takes it back out.
	submitWord(t, bw, "wela")
	if err := bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
		_, err := db.CreateOrGetWord(ctx, tx, "   ", "", "mic")
		return err
	}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if err := bw.Close(); err == nil {
		t.Fatal("expected Close to report the failed batch")
	}
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected error, got nil")
		}
	default:
		t.Fatal("expected OnError to be called")
	}

	words, err := db.GetWordsByLanguage(context.Background(), conn, "mic")
	if err != nil {
		t.Fatalf("GetWordsByLanguage: %v", err)
	}
	if len(words) != 0 {
		t.Fatalf("expected rollback to leave no words, got %+v", words)
	}
}

func TestBatchWriterKeepsSubmissionOrder(t *testing.T) {
	bw := NewBatchWriter(nil, 5, 0)
	var mu sync.Mutex
	var seen []int
	for i := 0; i < 12; i++ {
		if err := bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
			mu.Lock()
			seen = append(seen, i)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if len(seen) != 12 {
		t.Fatalf("expected 12 writes, got %d", len(seen))
	}
	for i, v := range seen {
		if v != i {
			t.Fatalf("writes out of order: %v", seen)
		}
	}
}

func TestBatchWriterFlushesTextsOnInterval(t *testing.T) {
	conn := setupDB(t)
	ctx := context.Background()
	doc, err := db.CreateDocument(ctx, conn, "Stories", "")
	if err != nil {
		t.Fatal(err)
	}

	bw := NewBatchWriter(conn, 10, 50*time.Millisecond)
	defer bw.Close()
	if err := bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
		_, err := db.CreateText(ctx, tx, doc.ID, "", "The elder spoke.", "mic", 0)
		return err
	}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		texts, err := db.ListDocumentTexts(ctx, conn, doc.ID)
		if err != nil {
			t.Fatalf("ListDocumentTexts: %v", err)
		}
		if len(texts) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("text was not flushed before Close")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestBatchWriterDropsBatchOnCancel(t *testing.T) {
	// We need to ensure the committer is busy and the commit queue is full when ctx is canceled.
	// Use a blocker so the committer will be processing the first batch while a second batch fills the buffer.
	bw := NewBatchWriter(nil, 1, 0) // small batch size to create batches quickly
	defer bw.Close()
	errCh := make(chan error, 1)
	bw.OnError = func(e error) {
		errCh <- e
	}

	blocker := make(chan struct{})

	// First batch: long-running callback that will block until we unblock it.
	if err := bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
		<-blocker // block here
		return nil
	}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	// Second batch: will be queued in the commit queue while first is being processed
	if err := bw.Submit(func(ctx context.Context, tx *sql.Tx) error { return nil }); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	// Now cancel the writer's context so further batches cannot be queued
	bw.cancel()

	// Third batch: this submit will attempt to flush a batch and should find the queue full and ctx.Done set,
	// causing it to report a dropped batch via OnError.
	if err := bw.Submit(func(ctx context.Context, tx *sql.Tx) error { return nil }); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	// Unblock the first batch so committer can finish and allow Close() to complete
	close(blocker)

	// Wait for OnError to be called
	select {
	case e := <-errCh:
		if e == nil || !strings.Contains(e.Error(), "dropping batch") {
			t.Fatalf("unexpected OnError value: %v", e)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected OnError to be called when batch dropped")
	}
}

func TestBatchWriterRetriesTransientFailures(t *testing.T) {
	bw := NewBatchWriter(nil, 1, 0)
	var commits int
	bw.OnCommit = func(n int) { commits += n }
	calls := 0
	if err := bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
		calls++
		if calls < 3 {
			return span.Transient(fmt.Errorf("database is locked"))
		}
		return nil
	}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if calls != 3 || commits != 1 {
		t.Fatalf("expected 3 calls and 1 committed item, got %d and %d", calls, commits)
	}
}

func TestBatchWriterGivesUpAfterMaxAttempts(t *testing.T) {
	bw := NewBatchWriter(nil, 1, 0)
	bw.MaxAttempts = 2
	calls := 0
	_ = bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
		calls++
		return span.Transient(fmt.Errorf("database is locked"))
	})
	if err := bw.Close(); err == nil || !span.IsTransient(err) {
		t.Fatalf("expected transient error from Close, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if err := bw.Close(); err != ErrBatchWriterClosed {
		t.Fatalf("expected ErrBatchWriterClosed on second Close, got %v", err)
	}
}
