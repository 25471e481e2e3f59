package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func startedQueue(t *testing.T, buffer, workers int) *Queue {
	t.Helper()
	q := New(buffer)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := q.Start(ctx, workers); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() { q.Stop(200 * time.Millisecond) })
	return q
}

func TestRetryUntilSuccess(t *testing.T) {
	q := startedQueue(t, 16, 1)

	var attempts atomic.Int32
	done := make(chan struct{}, 1)

	_, err := q.Enqueue(Job{
		MaxRetries: 2,
		Run: func(context.Context) error {
			n := attempts.Add(1)
			if n < 3 {
				return errors.New("transient")
			}
			done <- struct{}{}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("expected job to eventually succeed")
	}

	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestAttemptTimeoutCancelsJob(t *testing.T) {
	q := startedQueue(t, 16, 1)

	finished := make(chan error, 1)

	_, err := q.Enqueue(Job{
		AttemptTimeout: 20 * time.Millisecond,
		Run: func(runCtx context.Context) error {
			<-runCtx.Done()
			finished <- runCtx.Err()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	select {
	case err := <-finished:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatal("expected timeout cancellation")
	}
}

func TestMaxRetriesExhausted(t *testing.T) {
	q := startedQueue(t, 16, 1)

	var attempts atomic.Int32

	_, err := q.Enqueue(Job{
		MaxRetries: 1,
		Run: func(context.Context) error {
			attempts.Add(1)
			return errors.New("always fail")
		},
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	time.Sleep(120 * time.Millisecond)
	if got := attempts.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
	if stats := q.Stats(); stats.Failed != 1 || stats.Retried != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestEnqueueBeforeStartRejected(t *testing.T) {
	q := New(4)
	_, err := q.Enqueue(Job{Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrQueueStopped) {
		t.Fatalf("expected ErrQueueStopped, got %v", err)
	}
}

func TestStatsCountCompleted(t *testing.T) {
	q := startedQueue(t, 16, 2)

	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(Job{Run: func(context.Context) error {
			done <- struct{}{}
			return nil
		}})
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(300 * time.Millisecond):
			t.Fatal("jobs did not complete")
		}
	}

	deadline := time.Now().Add(300 * time.Millisecond)
	for q.Stats().Completed != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 completed, stats: %+v", q.Stats())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
