package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrQueueFull = errors.New("worker queue full")
	ErrNilTask   = errors.New("nil task")
	ErrStopped   = errors.New("worker pool stopped")
)

// Task is one unit of background work, e.g. a completion message to a buyer.
type Task func(ctx context.Context) error

// drainTimeout bounds each task run after Stop.
const drainTimeout = 10 * time.Second

// Pool runs submitted tasks on a fixed set of goroutines. Submit never blocks.
// Stop is the only shutdown signal; cancelling the Start context does not
// drop queued work.
type Pool struct {
	wg   sync.WaitGroup
	jobs chan Task
	quit chan struct{}
	once sync.Once
	n    int
	log  *zerolog.Logger
}

func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	l := logger.With().Str("component", "WorkerPool").Logger()
	return &Pool{jobs: make(chan Task, workers*4), quit: make(chan struct{}), n: workers, log: &l}
}

// Start launches the workers. Tasks see ctx's values but not its cancellation.
func (p *Pool) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-p.quit:
					p.drain(base, id)
					return
				case task := <-p.jobs:
					p.run(base, id, task)
				}
			}
		}(i)
	}
}

// drain runs whatever is already queued so accepted notifications are not lost on shutdown.
func (p *Pool) drain(base context.Context, id int) {
	for {
		select {
		case task := <-p.jobs:
			ctx, cancel := context.WithTimeout(base, drainTimeout)
			p.run(ctx, id, task)
			cancel()
		default:
			return
		}
	}
}

func (p *Pool) run(ctx context.Context, id int, task Task) {
	if task == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Int("worker", id).Interface("panic", r).Msg("task panicked")
		}
	}()
	if err := task(ctx); err != nil {
		p.log.Warn().Err(err).Int("worker", id).Msg("task failed")
	}
}

// Stop stops accepting work, finishes queued tasks and waits for the workers.
func (p *Pool) Stop() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}

func (p *Pool) Submit(task Task) error {
	if task == nil {
		return ErrNilTask
	}
	select {
	case <-p.quit:
		return ErrStopped
	default:
	}
	select {
	case p.jobs <- task:
		return nil
	default:
		return ErrQueueFull
	}
}
