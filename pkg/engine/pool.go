package engine

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/taskcue/cuebridge/pkg/telemetry"
)

// Pool runs tasks on goroutines, at most size at a time. Tasks must not
// share mutable state; results leave a task through a channel owned by the
// caller.
type Pool struct {
	size    int64
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	metrics *telemetry.Metrics
}

// NewPool creates a pool with size slots. A size below one means one slot
// per CPU.
func NewPool(size int, metrics *telemetry.Metrics) *Pool {
	if size < 1 {
		size = runtime.NumCPU()
	}
	return &Pool{
		size:    int64(size),
		sem:     semaphore.NewWeighted(int64(size)),
		metrics: metrics,
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return int(p.size)
}

// Go blocks until a slot is free and then runs fn on a new goroutine. A
// panic in fn is recovered on that goroutine and handed to onPanic, so it
// never reaches the caller's stack. Go returns an error only when ctx ends
// before a slot frees up.
func (p *Pool) Go(ctx context.Context, site string, fn func(), onPanic func(*EngineError)) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	p.wg.Add(1)
	p.metrics.WorkerStarted()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.metrics.RecordPanic(site)
				if onPanic != nil {
					onPanic(PanicError(site, r))
				}
			}
			p.metrics.WorkerFinished()
			p.sem.Release(1)
			p.wg.Done()
		}()
		fn()
	}()
	return nil
}

// Wait blocks until every task started with Go has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
