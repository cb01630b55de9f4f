package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrPoolStopped is returned by Enqueue after the pool shut down.
var ErrPoolStopped = errors.New("ingestion pool stopped")

// poolQueueSize bounds the ingestion backlog. A full queue makes Enqueue
// block, pushing back on intake rather than dropping records.
const poolQueueSize = 1024

// Pool runs record processing on a fixed number of workers. Records are
// processed at most once per enqueue; ordering across workers is not
// guaranteed.
type Pool struct {
	ctx      context.Context
	size     int
	fn       func(ctx context.Context, recordID int64)
	jobs     chan int64
	group    errgroup.Group
	stopped  atomic.Bool
	stopOnce sync.Once
}

// NewPool creates a pool of size workers invoking fn per record.
func NewPool(ctx context.Context, size int, fn func(ctx context.Context, recordID int64)) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		ctx:  ctx,
		size: size,
		fn:   fn,
		jobs: make(chan int64, poolQueueSize),
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.size; i++ {
		p.group.Go(p.work)
	}
}

// Enqueue submits a record for processing. Blocks while the queue is full.
func (p *Pool) Enqueue(recordID int64) error {
	if p.stopped.Load() {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- recordID:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Stop drains the queue and waits for in-flight work to finish. Enqueue
// must not be called concurrently with Stop; the HTTP server is shut down
// first so no intake handler is live by the time Stop runs.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		close(p.jobs)
		_ = p.group.Wait()
	})
}

func (p *Pool) work() error {
	for {
		select {
		case <-p.ctx.Done():
			return nil
		case id, ok := <-p.jobs:
			if !ok {
				return nil
			}
			p.fn(p.ctx, id)
		}
	}
}
