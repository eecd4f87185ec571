package taskqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := New(Config{MaxConcurrent: 1})
	defer q.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		q.Submit(context.Background(), func(ctx context.Context) {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestQueueConcurrencyCap(t *testing.T) {
	const maxRunning = 2
	q := New(Config{MaxConcurrent: maxRunning})
	defer q.Close()

	var running, peak int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		q.Submit(context.Background(), func(ctx context.Context) {
			defer wg.Done()
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
	}
	wg.Wait()

	if got := atomic.LoadInt32(&peak); got > maxRunning {
		t.Fatalf("concurrency cap exceeded: peak %d > %d", got, maxRunning)
	}
}

func TestQueueMinInterval(t *testing.T) {
	const interval = 50 * time.Millisecond
	q := New(Config{MaxConcurrent: 4, MinInterval: interval})
	defer q.Close()

	var mu sync.Mutex
	var starts []time.Time
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		q.Submit(context.Background(), func(ctx context.Context) {
			defer wg.Done()
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
		})
	}
	wg.Wait()

	// Allow a little scheduler slack below the configured interval.
	slack := 10 * time.Millisecond
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < interval-slack {
			t.Fatalf("dispatch %d too soon after %d: %v", i, i-1, gap)
		}
	}
}

func TestQueueDropsCancelledTasks(t *testing.T) {
	q := New(Config{MaxConcurrent: 1})
	defer q.Close()

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	q.Submit(context.Background(), func(ctx context.Context) {
		defer wg.Done()
		<-release
	})

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	q.Submit(ctx, func(ctx context.Context) {
		ran.Store(true)
	})

	// Cancel while the task is still queued behind the blocker.
	cancel()
	close(release)
	wg.Wait()

	// Give the loop a moment to drain the cancelled entry.
	deadline := time.Now().Add(time.Second)
	for q.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if ran.Load() {
		t.Fatal("cancelled task must not run")
	}
}

func TestQueueClose(t *testing.T) {
	q := New(Config{MaxConcurrent: 1})

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	q.Submit(context.Background(), func(ctx context.Context) {
		defer wg.Done()
		<-release
	})

	close(release)
	wg.Wait()
	q.Close()

	if q.Submit(context.Background(), func(ctx context.Context) {}) {
		t.Fatal("submit after close must be rejected")
	}
}
