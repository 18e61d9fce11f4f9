package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	const size = 2
	pool := NewPool(size, nil)
	if pool.Size() != size {
		t.Fatalf("Size() = %d, want %d", pool.Size(), size)
	}

	var running, peak, done int32
	for i := 0; i < 10; i++ {
		err := pool.Go(context.Background(), "test", func() {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			atomic.AddInt32(&done, 1)
		}, nil)
		if err != nil {
			t.Fatalf("Go() error = %v", err)
		}
	}
	pool.Wait()

	if done != 10 {
		t.Errorf("completed %d tasks, want 10", done)
	}
	if peak > size {
		t.Errorf("peak concurrency %d exceeds pool size %d", peak, size)
	}
}

func TestPoolDefaultSize(t *testing.T) {
	if got := NewPool(0, nil).Size(); got < 1 {
		t.Errorf("default size = %d, want at least 1", got)
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	pool := NewPool(1, nil)

	var (
		mu  sync.Mutex
		got []*EngineError
	)
	onPanic := func(err *EngineError) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, err)
	}

	_ = pool.Go(context.Background(), "worker", func() { panic("boom") }, onPanic)
	// The slot must be released after a panic or this call blocks forever.
	ran := false
	_ = pool.Go(context.Background(), "worker", func() { ran = true }, onPanic)
	pool.Wait()

	if !ran {
		t.Errorf("task after a panic did not run")
	}
	if len(got) != 1 {
		t.Fatalf("recovered %d panics, want 1", len(got))
	}
	if got[0].Code != CodePanicRecovered || got[0].Err.Error() != "boom" {
		t.Errorf("unexpected panic error: %v", got[0])
	}
}

func TestPoolGoRespectsContext(t *testing.T) {
	pool := NewPool(1, nil)
	release := make(chan struct{})
	_ = pool.Go(context.Background(), "test", func() { <-release }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pool.Go(ctx, "test", func() {}, nil); err == nil {
		t.Errorf("Go() with a cancelled context and no free slot should fail")
	}

	close(release)
	pool.Wait()
}
