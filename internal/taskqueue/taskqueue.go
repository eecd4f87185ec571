// Package taskqueue provides a FIFO task queue with a concurrency cap and
// a minimum spacing between dispatches. It smooths bursts toward a rate
// limited collaborator: even with free slots, two tasks never start
// closer together than the configured interval.
package taskqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one unit of queued work. The context is the one captured at
// Submit time; the queue drops the task without running it if that
// context is already cancelled at dispatch.
type Task func(ctx context.Context)

// Config controls queue behavior.
type Config struct {
	MaxConcurrent int           // simultaneous running tasks (default 3)
	MinInterval   time.Duration // minimum gap between dispatches (default 0)
	Logger        *slog.Logger
}

type item struct {
	ctx context.Context
	fn  Task
}

// Queue dispatches submitted tasks in order, subject to the concurrency
// cap and dispatch interval.
type Queue struct {
	cfg    Config
	logger *slog.Logger

	mu           sync.Mutex
	pending      []*item
	running      int
	lastDispatch time.Time
	closed       bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a queue and starts its dispatch loop.
func New(cfg Config) *Queue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		cfg:    cfg,
		logger: logger.With("component", "taskqueue"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.loop()
	return q
}

// Submit appends a task to the queue. The task runs with ctx and is
// silently dropped if ctx is cancelled before its turn comes. Returns
// false if the queue is closed.
func (q *Queue) Submit(ctx context.Context, fn Task) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, &item{ctx: ctx, fn: fn})
	q.mu.Unlock()

	q.signal()
	return true
}

// Pending returns the number of tasks waiting for dispatch.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Running returns the number of tasks currently executing.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Close stops dispatching, discards pending tasks, and waits for running
// tasks to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.pending = nil
	q.mu.Unlock()

	close(q.done)
	q.wg.Wait()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// loop dispatches as many tasks as the cap and interval allow, then
// sleeps until a completion, a new submission, or the interval timer.
func (q *Queue) loop() {
	for {
		delay := q.dispatchReady()

		var timer *time.Timer
		var timerC <-chan time.Time
		if delay > 0 {
			timer = time.NewTimer(delay)
			timerC = timer.C
		}

		select {
		case <-q.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-q.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// dispatchReady starts every task that can start now. It returns how long
// to wait before the interval allows the next dispatch, or 0 when the
// loop should just wait for a wake-up.
func (q *Queue) dispatchReady() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.closed && len(q.pending) > 0 && q.running < q.cfg.MaxConcurrent {
		if q.cfg.MinInterval > 0 {
			elapsed := time.Since(q.lastDispatch)
			if !q.lastDispatch.IsZero() && elapsed < q.cfg.MinInterval {
				return q.cfg.MinInterval - elapsed
			}
		}

		it := q.pending[0]
		q.pending = q.pending[1:]

		if it.ctx.Err() != nil {
			// The task's scope was cancelled while it waited.
			q.logger.Debug("dropping cancelled task", "pending", len(q.pending))
			continue
		}

		q.running++
		q.lastDispatch = time.Now()
		q.wg.Add(1)
		go q.run(it)
	}
	return 0
}

func (q *Queue) run(it *item) {
	defer q.wg.Done()
	defer func() {
		q.mu.Lock()
		q.running--
		q.mu.Unlock()
		q.signal()
	}()

	it.fn(it.ctx)
}
