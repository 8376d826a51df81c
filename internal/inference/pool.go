package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// task states
const (
	stateQueued int32 = iota
	stateRunning
	stateFinished
	stateSkipped   // context expired before a worker picked it up
	stateAbandoned // caller left while queued
	stateOrphaned  // caller left while running
)

type task struct {
	ctx      context.Context
	fn       func(context.Context)
	enqueued time.Time
	state    atomic.Int32
	panicked any
	done     chan struct{}
}

// Pool runs submitted functions on a fixed set of worker goroutines. When all
// workers are busy, Do blocks the caller (in arrival order) instead of
// starting more work, so at most Size functions ever run at once.
type Pool struct {
	size    int
	tasks   chan *task
	quit    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	metrics *Metrics

	active   atomic.Int64
	orphaned atomic.Int64
}

// NewPool starts workers goroutines. queueDepth adds buffered admission slots
// on top of the workers; 0 means a caller is admitted only when a worker is
// idle.
func NewPool(workers, queueDepth int, metrics *Metrics) (*Pool, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("worker count must be > 0")
	}
	if queueDepth < 0 {
		return nil, fmt.Errorf("queue depth must be >= 0")
	}
	p := &Pool{
		size:    workers,
		tasks:   make(chan *task, queueDepth),
		quit:    make(chan struct{}),
		metrics: metrics,
	}
	metrics.setWorkers(workers)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p, nil
}

func (p *Pool) Size() int { return p.size }

// Active is the number of functions running right now.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Orphaned is the number of running functions whose caller already returned.
func (p *Pool) Orphaned() int { return int(p.orphaned.Load()) }

func (p *Pool) Closed() bool {
	select {
	case <-p.quit:
		return true
	default:
		return false
	}
}

// Do runs fn on a worker and waits for it. fn receives ctx and should stop
// once ctx is done. If ctx ends first, Do returns ctx.Err() right away; a fn
// that ignores ctx keeps its worker until it returns and is counted in
// Orphaned meanwhile.
func (p *Pool) Do(ctx context.Context, fn func(context.Context)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &task{ctx: ctx, fn: fn, enqueued: time.Now(), done: make(chan struct{})}

	select {
	case p.tasks <- t:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolClosed
	}

	select {
	case <-t.done:
		return p.result(t, ctx)
	case <-ctx.Done():
		return p.abandon(t, ctx.Err())
	case <-p.quit:
		if t.state.CompareAndSwap(stateQueued, stateAbandoned) {
			return ErrPoolClosed
		}
		select {
		case <-t.done:
			return p.result(t, ctx)
		case <-ctx.Done():
			return p.abandon(t, ctx.Err())
		}
	}
}

func (p *Pool) result(t *task, ctx context.Context) error {
	switch t.state.Load() {
	case stateFinished:
		if t.panicked != nil {
			return fmt.Errorf("%w: %v", ErrTaskPanicked, t.panicked)
		}
		return nil
	case stateSkipped:
		if err := ctx.Err(); err != nil {
			return err
		}
		return context.DeadlineExceeded
	default:
		return ErrPoolClosed
	}
}

func (p *Pool) abandon(t *task, err error) error {
	if t.state.CompareAndSwap(stateQueued, stateAbandoned) {
		return err
	}
	p.orphaned.Add(1)
	p.metrics.addOrphaned(1)
	if t.state.CompareAndSwap(stateRunning, stateOrphaned) {
		return err
	}
	p.orphaned.Add(-1)
	p.metrics.addOrphaned(-1)
	// The worker finished between ctx expiring and us looking; keep the result.
	if t.state.Load() == stateFinished {
		return p.result(t, context.Background())
	}
	return err
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case t := <-p.tasks:
			p.run(t)
		}
	}
}

func (p *Pool) run(t *task) {
	defer close(t.done)
	if t.ctx.Err() != nil {
		t.state.CompareAndSwap(stateQueued, stateSkipped)
		return
	}
	if !t.state.CompareAndSwap(stateQueued, stateRunning) {
		return
	}
	p.metrics.observeQueueWait(time.Since(t.enqueued))

	p.active.Add(1)
	p.metrics.addActive(1)
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.panicked = r
			}
		}()
		t.fn(t.ctx)
	}()
	p.active.Add(-1)
	p.metrics.addActive(-1)

	if !t.state.CompareAndSwap(stateRunning, stateFinished) {
		p.orphaned.Add(-1)
		p.metrics.addOrphaned(-1)
	}
}

// Close stops admitting work, releases queued callers with ErrPoolClosed and
// waits for running functions to return or ctx to end.
func (p *Pool) Close(ctx context.Context) error {
	p.once.Do(func() { close(p.quit) })

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.drain()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("worker pool did not drain"), ctx.Err())
	}
}

func (p *Pool) drain() {
	for {
		select {
		case t := <-p.tasks:
			t.state.CompareAndSwap(stateQueued, stateAbandoned)
			close(t.done)
		default:
			return
		}
	}
}
