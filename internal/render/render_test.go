package render

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSerializer(t *testing.T) {
	t.Run("one operation at a time", func(t *testing.T) {
		s := NewSerializer()

		var running, peak int32
		var wg sync.WaitGroup
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Do(context.Background(), func() error {
					n := atomic.AddInt32(&running, 1)
					if n > atomic.LoadInt32(&peak) {
						atomic.StoreInt32(&peak, n)
					}
					time.Sleep(5 * time.Millisecond)
					atomic.AddInt32(&running, -1)
					return nil
				})
				if err != nil {
					t.Error(err)
				}
			}()
		}
		wg.Wait()

		if got := atomic.LoadInt32(&peak); got != 1 {
			t.Fatalf("expected exactly one operation at a time, peak was %d", got)
		}
	})

	t.Run("acquire honors cancellation", func(t *testing.T) {
		s := NewSerializer()
		if err := s.Acquire(context.Background()); err != nil {
			t.Fatal(err)
		}
		defer s.Release()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if err := s.Acquire(ctx); err == nil {
			t.Fatal("expected cancellation error while slot is held")
		}
	})

	t.Run("do propagates the callback error", func(t *testing.T) {
		s := NewSerializer()
		want := context.Canceled
		if err := s.Do(context.Background(), func() error { return want }); err != want {
			t.Fatalf("expected %v, got %v", want, err)
		}
	})
}
