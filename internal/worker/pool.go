package worker

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/GitThaisen/tv-automation-media-management/internal/events"
	"github.com/GitThaisen/tv-automation-media-management/internal/mediascanner"
	"github.com/GitThaisen/tv-automation-media-management/internal/tracked"
	"github.com/GitThaisen/tv-automation-media-management/internal/workflow"
)

// queueDepth is the Pool's submission buffer. A dispatcher producing
// faster than workers can drain blocks on Submit past this depth rather
// than growing an unbounded backlog.
const queueDepth = 256

// Pool runs up to size WorkFlow steps concurrently, in the shape of a
// syncthing puller's job queue (internal/model/queue.go) paired with a
// semaphore capping concurrency. It exists so a runnable binary and the
// end-to-end tests have something to hand produced WorkFlows to; the
// real scheduling policy (priorities, affinity, backpressure) is the
// external dispatcher this service leaves out of scope.
type Pool struct {
	index   tracked.Index
	scanner *mediascanner.Client
	ev      *events.Logger

	sem   *semaphore.Weighted
	steps chan *workflow.Step

	mu      sync.Mutex
	nextID  int
	workers map[int]*Worker

	wg sync.WaitGroup
}

// NewPool builds a pool that runs at most size steps at once.
func NewPool(size int64, index tracked.Index, scanner *mediascanner.Client, ev *events.Logger) *Pool {
	return &Pool{
		index:   index,
		scanner: scanner,
		ev:      ev,
		sem:     semaphore.NewWeighted(size),
		steps:   make(chan *workflow.Step, queueDepth),
		workers: make(map[int]*Worker),
	}
}

// Submit enqueues step, blocking if the pool's submission buffer is
// full. Call Run to start draining the queue.
func (p *Pool) Submit(step *workflow.Step) {
	p.steps <- step
}

// Run drains the queue until ctx is cancelled, then waits for every
// already-running step to settle before returning.
func (p *Pool) Run(ctx context.Context) {
	defer p.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case step := <-p.steps:
			if err := p.sem.Acquire(ctx, 1); err != nil {
				return
			}
			p.wg.Add(1)
			go func(step *workflow.Step) {
				defer p.wg.Done()
				defer p.sem.Release(1)
				p.runStep(ctx, step)
			}(step)
		}
	}
}

func (p *Pool) runStep(ctx context.Context, step *workflow.Step) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	w := New(fmt.Sprintf("w-%d", id), p.index, p.scanner, p.ev)
	p.workers[id] = w
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.workers, id)
		p.mu.Unlock()
	}()

	w.WarmUp()
	result := w.DoWork(ctx, step)
	if result.Status == workflow.ErrorStatus {
		p.ev.Log(events.Error, result)
	}
}
