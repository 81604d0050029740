// Package pool provides the bounded worker pool the engine fans
// channel sends out on, plus small object pools for hot-path reuse.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed  = errors.New("pool is closed")
	ErrPoolFull    = errors.New("pool is full")
	ErrTaskTimeout = errors.New("task submission timeout")
)

// Task is a unit of work run on a pool worker.
type Task func(ctx context.Context) error

// GoroutinePool runs tasks on a bounded set of workers. Workers spawn
// on demand up to MaxWorkers and retire after IdleTimeout without
// work, so a quiet scheduler holds no goroutines between ticks.
type GoroutinePool struct {
	maxWorkers  int
	jobs        chan job
	workerCount atomic.Int32
	activeCount atomic.Int32
	closed      atomic.Bool
	wg          sync.WaitGroup

	// Metrics
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	idleTimeout  time.Duration
	panicHandler func(any)
}

type job struct {
	task   Task
	ctx    context.Context
	result chan error
}

// GoroutinePoolConfig configures the pool.
type GoroutinePoolConfig struct {
	MaxWorkers   int           `json:"max_workers"`
	QueueSize    int           `json:"queue_size"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	PanicHandler func(any)     `json:"-"`
}

// DefaultGoroutinePoolConfig returns sensible defaults.
func DefaultGoroutinePoolConfig() GoroutinePoolConfig {
	return GoroutinePoolConfig{
		MaxWorkers:  100,
		QueueSize:   1000,
		IdleTimeout: 60 * time.Second,
	}
}

// NewGoroutinePool creates a pool. No workers start until the first
// Submit.
func NewGoroutinePool(config GoroutinePoolConfig) *GoroutinePool {
	return &GoroutinePool{
		maxWorkers:   config.MaxWorkers,
		jobs:         make(chan job, config.QueueSize),
		idleTimeout:  config.IdleTimeout,
		panicHandler: config.PanicHandler,
	}
}

// Submit enqueues a task without waiting for it to run. A full queue
// with all workers busy returns ErrPoolFull rather than blocking the
// caller, which holds the scheduler lease.
func (p *GoroutinePool) Submit(ctx context.Context, task Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.submitted.Add(1)

	j := job{task: task, ctx: ctx, result: make(chan error, 1)}

	select {
	case p.jobs <- j:
		p.ensureWorker()
		return nil
	default:
	}

	// Queue full; a fresh worker may free a slot.
	if p.trySpawnWorker() {
		select {
		case p.jobs <- j:
			return nil
		default:
		}
	}

	p.rejected.Add(1)
	return ErrPoolFull
}

// SubmitWait enqueues a task and blocks until it finishes or ctx is
// cancelled.
func (p *GoroutinePool) SubmitWait(ctx context.Context, task Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.submitted.Add(1)

	j := job{task: task, ctx: ctx, result: make(chan error, 1)}

	select {
	case p.jobs <- j:
		p.ensureWorker()
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *GoroutinePool) ensureWorker() {
	if p.workerCount.Load() < int32(p.maxWorkers) {
		p.trySpawnWorker()
	}
}

func (p *GoroutinePool) trySpawnWorker() bool {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return false
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return true
		}
	}
}

func (p *GoroutinePool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	idle := time.NewTimer(p.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case j, ok := <-p.jobs:
			if !ok {
				return
			}

			p.activeCount.Add(1)
			err := p.run(j)
			p.activeCount.Add(-1)

			j.result <- err
			close(j.result)

			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}

			idle.Reset(p.idleTimeout)

		case <-idle.C:
			// The last worker stays resident so an enqueued job is
			// never stranded.
			if p.workerCount.Load() > 1 {
				return
			}
			idle.Reset(p.idleTimeout)
		}
	}
}

func (p *GoroutinePool) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			err = errors.New("task panicked")
		}
	}()

	return j.task(j.ctx)
}

// Close stops intake and waits for queued work to drain.
func (p *GoroutinePool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.jobs)
	p.wg.Wait()
}

// Stats returns pool statistics. Submitted equals Completed plus
// Failed once all dispatched work has drained.
func (p *GoroutinePool) Stats() GoroutinePoolStats {
	return GoroutinePoolStats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.jobs),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// GoroutinePoolStats contains pool counters.
type GoroutinePoolStats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
