// Package tasks runs best-effort side effects off the caller's control flow.
// A failed task is logged and counted; it never reaches the code that
// submitted it.
package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"phenix-chat/go-backend/internal/platform/metrics"
)

var ErrQueueClosed = errors.New("task queue closed")

type Func func(ctx context.Context) error

type Options struct {
	Workers int
	Buffer  int
	Timeout time.Duration
	Metrics *metrics.Registry
}

type job struct {
	id   string
	name string
	fn   Func
}

type Queue struct {
	logger  zerolog.Logger
	metrics *metrics.Registry
	timeout time.Duration
	jobs    chan job
	baseCtx context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup

	mu      sync.Mutex
	cond    *sync.Cond
	pending int
	closed  bool
}

func New(logger zerolog.Logger, opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		logger:  logger.With().Str("component", "tasks").Logger(),
		metrics: opts.Metrics,
		timeout: opts.Timeout,
		jobs:    make(chan job, opts.Buffer),
		baseCtx: ctx,
		cancel:  cancel,
	}
	q.cond = sync.NewCond(&q.mu)
	for i := 0; i < opts.Workers; i++ {
		q.workers.Add(1)
		go q.work()
	}
	return q
}

// Submit enqueues fn without blocking. It reports false when the queue is
// closed or full; the task is then dropped and logged.
func (q *Queue) Submit(name string, fn Func) bool {
	if q == nil {
		return false
	}
	j := job{id: uuid.NewString(), name: name, fn: fn}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn().Str("task", name).Msg("task dropped: queue closed")
		q.metrics.TaskResult(name, "dropped")
		return false
	}
	select {
	case q.jobs <- j:
		q.pending++
		q.mu.Unlock()
		return true
	default:
		q.mu.Unlock()
		q.logger.Warn().Str("task", name).Msg("task dropped: queue full")
		q.metrics.TaskResult(name, "dropped")
		return false
	}
}

// Flush blocks until every task submitted so far has finished or ctx ends.
func (q *Queue) Flush(ctx context.Context) error {
	if q == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		q.mu.Lock()
		for q.pending > 0 {
			q.cond.Wait()
		}
		q.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, lets queued tasks finish, and waits for workers.
func (q *Queue) Close() {
	if q == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.workers.Wait()
	q.cancel()
}

func (q *Queue) work() {
	defer q.workers.Done()
	for j := range q.jobs {
		q.run(j)
		q.mu.Lock()
		q.pending--
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

func (q *Queue) run(j job) {
	ctx, cancel := context.WithTimeout(q.baseCtx, q.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().Str("task", j.name).Str("task_id", j.id).Interface("panic", r).Msg("best-effort task panicked")
			q.metrics.TaskResult(j.name, "panic")
		}
	}()
	started := time.Now()
	if err := j.fn(ctx); err != nil {
		q.logger.Warn().Err(err).Str("task", j.name).Str("task_id", j.id).Dur("elapsed", time.Since(started)).Msg("best-effort task failed")
		q.metrics.TaskResult(j.name, "error")
		return
	}
	q.metrics.TaskResult(j.name, "ok")
}
