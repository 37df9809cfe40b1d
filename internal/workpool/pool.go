// Package workpool implements a bounded FIFO of work handles drained by
// a fixed number of worker goroutines. The I/O event loop is the sole
// producer; workers are the sole consumers, and a handle is never held
// by two workers at once because the event loop only ever enqueues a
// connection while it is disarmed from the readiness set.
package workpool

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrBadConfig is returned by New when threadNumber or maxRequests is
// not strictly positive.
var ErrBadConfig = errors.New("workpool: thread_number and max_requests must be > 0")

// Request is anything the pool can hand to a worker. Real callers pass
// a *httpconn.Conn; process is its Process method.
type Request interface {
	Process()
}

// Pool is a fixed set of worker goroutines draining a bounded FIFO.
// append is the only producer-facing operation; workers are started at
// construction and, by default, never joined (matching the original's
// detached-thread model). Close offers an optional graceful join that
// does not change any observable behavior of append or the workers.
type Pool struct {
	maxRequests int

	mu    sync.Mutex
	queue []Request

	slots *semaphore.Weighted // bounds requests queued and not yet taken by a worker
	items chan struct{}       // wakes a worker once an item has been queued

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates threadNumber and maxRequests, starts threadNumber
// worker goroutines, and returns the running Pool.
func New(threadNumber, maxRequests int) (*Pool, error) {
	if threadNumber <= 0 || maxRequests <= 0 {
		return nil, ErrBadConfig
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		maxRequests: maxRequests,
		slots:       semaphore.NewWeighted(int64(maxRequests) + 1),
		items:       make(chan struct{}, maxRequests+1),
		ctx:         ctx,
		cancel:      cancel,
	}

	for i := 0; i < threadNumber; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p, nil
}

// Append enqueues req for processing by some worker. It returns false,
// leaving req unqueued, when maxRequests+1 requests are already queued
// and not yet taken by a worker (a worker frees the slot as soon as it
// dequeues, before Process runs); the caller disposes of the rejected
// request.
func (p *Pool) Append(req Request) bool {
	if !p.slots.TryAcquire(1) {
		return false
	}

	p.mu.Lock()
	p.queue = append(p.queue, req)
	p.mu.Unlock()

	p.items <- struct{}{}
	return true
}

// worker waits for an enqueued item, pops it under the queue lock, and
// invokes Process outside the lock. The slot it occupied is released
// only once the item has actually left the queue, so Append's bound
// always reflects genuinely outstanding work rather than a counter that
// only ever grows.
func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.items:
		case <-p.ctx.Done():
			return
		}

		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			continue
		}
		req := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.slots.Release(1)

		if req != nil {
			req.Process()
		}
	}
}

// Len reports the current queue depth. Intended for tests and metrics;
// it is racy with concurrent Append/worker activity by design, same as
// the original's best-effort size check.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close strengthens the original's "never joined, relies on process
// exit" shutdown into an optional graceful join, as the spec allows
// without changing any externally observable append/process behavior.
// It is safe to call at most once.
func (p *Pool) Close() {
	p.cancel()
	p.wg.Wait()
}
