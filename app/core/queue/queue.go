package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrQueueStarted = errors.New("queue: already started")
	ErrQueueStopped = errors.New("queue: stopped")
)

// Job is one unit of dispatch work. Run is retried up to MaxRetries
// additional times, each attempt bounded by AttemptTimeout when set.
type Job struct {
	ID             string
	MaxRetries     int
	RetryDelay     time.Duration
	AttemptTimeout time.Duration
	Run            func(context.Context) error
}

// Queue dispatches jobs to a fixed worker pool over a buffered channel.
type Queue struct {
	mu      sync.Mutex
	jobs    chan queuedJob
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	nextID    atomic.Uint64
	inFlight  atomic.Int64
	enqueued  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	retried   atomic.Uint64
}

type queuedJob struct {
	job     Job
	attempt int
}

type Stats struct {
	Started   bool   `json:"started"`
	Depth     int    `json:"depth"`
	Capacity  int    `json:"capacity"`
	Enqueued  uint64 `json:"enqueued"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Retried   uint64 `json:"retried"`
}

func New(buffer int) *Queue {
	if buffer <= 0 {
		buffer = 64
	}
	return &Queue{jobs: make(chan queuedJob, buffer)}
}

func (q *Queue) Start(parent context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return ErrQueueStarted
	}
	ctx, cancel := context.WithCancel(parent)
	q.cancel = cancel
	q.started = true

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	return nil
}

func (q *Queue) Enqueue(job Job) (string, error) {
	if job.Run == nil {
		return "", errors.New("queue: job run callback is required")
	}
	if job.MaxRetries < 0 || job.RetryDelay < 0 || job.AttemptTimeout < 0 {
		return "", errors.New("queue: negative job parameter")
	}
	if job.ID == "" {
		job.ID = fmt.Sprintf("q-%d", q.nextID.Add(1))
	}

	q.mu.Lock()
	started := q.started
	q.mu.Unlock()
	if !started {
		return "", ErrQueueStopped
	}

	select {
	case q.jobs <- queuedJob{job: job}:
		q.enqueued.Add(1)
		return job.ID, nil
	default:
		return "", errors.New("queue: buffer full")
	}
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	started := q.started
	q.mu.Unlock()

	return Stats{
		Started:   started,
		Depth:     len(q.jobs),
		Capacity:  cap(q.jobs),
		Enqueued:  q.enqueued.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Retried:   q.retried.Load(),
	}
}

// Stop drains pending jobs, waiting up to timeout before cancelling
// whatever is still running.
func (q *Queue) Stop(timeout time.Duration) error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return nil
	}
	cancel := q.cancel
	q.cancel = nil
	q.started = false
	q.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for len(q.jobs) > 0 || q.inFlight.Load() > 0 {
		if timeout > 0 && time.Now().After(deadline) {
			cancel()
			q.wg.Wait()
			return fmt.Errorf("queue: stop timeout after %s", timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	q.wg.Wait()
	return nil
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-q.jobs:
			q.inFlight.Add(1)
			q.runOnce(ctx, item)
			q.inFlight.Add(-1)
		}
	}
}

func (q *Queue) runOnce(parent context.Context, item queuedJob) {
	attempt := item.attempt + 1
	runCtx := parent
	cancel := func() {}
	if item.job.AttemptTimeout > 0 {
		runCtx, cancel = context.WithTimeout(parent, item.job.AttemptTimeout)
	}
	err := item.job.Run(runCtx)
	cancel()
	if err == nil {
		q.completed.Add(1)
		return
	}
	if parent.Err() != nil {
		return
	}
	if attempt > item.job.MaxRetries {
		q.failed.Add(1)
		return
	}

	q.retried.Add(1)
	if item.job.RetryDelay > 0 {
		timer := time.NewTimer(item.job.RetryDelay)
		defer timer.Stop()
		select {
		case <-parent.Done():
			return
		case <-timer.C:
		}
	}
	select {
	case <-parent.Done():
	case q.jobs <- queuedJob{job: item.job, attempt: attempt}:
	}
}
