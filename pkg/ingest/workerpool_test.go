package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPoolLinksEveryText(t *testing.T) {
	p := NewWorkerPool(4, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	var mu sync.Mutex
	linked := make(map[string]int)
	const texts = 100
	for i := 0; i < texts; i++ {
		id := fmt.Sprintf("text-%03d", i)
		if err := p.SubmitCtx(ctx, func(ctx context.Context) error {
			mu.Lock()
			linked[id]++
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}
	p.Close()

	if len(linked) != texts {
		t.Fatalf("expected %d texts linked, got %d", texts, len(linked))
	}
	for id, n := range linked {
		if n != 1 {
			t.Fatalf("%s linked %d times", id, n)
		}
	}
}

func TestSubmitAfterClose(t *testing.T) {
	p := NewWorkerPool(1, 2)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	p.Close()
	cancel()
	if err := p.Submit(func(ctx context.Context) error { return nil }); err == nil {
		t.Fatalf("expected error submitting to closed pool")
	}
}

func TestSubmitRecoversFromCloseRace(t *testing.T) {
	p := NewWorkerPool(1, 1) // capacity 1
	// don't start workers so the second Submit blocks when queue is full
	// fill the queue
	if err := p.Submit(func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("setup submit failed: %v", err)
	}

	// start a goroutine that will block trying to submit the second job
	done := make(chan error, 1)
	go func() {
		err := p.Submit(func(ctx context.Context) error { return nil })
		done <- err
	}()

	// give the goroutine time to block on the full queue
	time.Sleep(10 * time.Millisecond)

	// close the pool which should cause the blocked Submit to return ErrPoolClosed
	p.Close()

	err := <-done
	if err == nil {
		t.Fatalf("expected error submitting to closed pool, got nil")
	}
	if err != ErrPoolClosed {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestContextCancellationStopsWorkers(t *testing.T) {
	p := NewWorkerPool(2, 16)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	// Cancel the context while workers are idle and ensure Close() returns promptly
	cancel()
	done := make(chan struct{}, 1)
	go func() {
		p.Close()
		done <- struct{}{}
	}()

	select {
	case <-done:
		// workers exited after context cancellation
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("Close blocked after context cancellation")
	}
}

func TestSubmitCtxReturnsOnCancel(t *testing.T) {
	p := NewWorkerPool(1, 1)
	defer p.Close()
	// no workers started, so the queue stays full after the first job
	if err := p.Submit(func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("setup submit failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.SubmitCtx(ctx, func(ctx context.Context) error { return nil }); err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestOnErrorReceivesJobErrors(t *testing.T) {
	p := NewWorkerPool(2, 4)
	var failed int32
	p.OnError = func(err error) { atomic.AddInt32(&failed, 1) }
	p.Start(context.Background())
	for i := 0; i < 6; i++ {
		_ = p.Submit(func(ctx context.Context) error {
			if i%2 == 0 {
				return ErrPoolClosed
			}
			return nil
		})
	}
	p.Close()
	if got := atomic.LoadInt32(&failed); got != 3 {
		t.Fatalf("expected 3 reported errors, got %d", got)
	}
}
