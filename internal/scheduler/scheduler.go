// Package scheduler runs tasks on a fixed pool of workers.
//
// Every spawned task either runs or, if the scheduler shuts down first, has
// its abandonment hook called. Never both, never neither.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nfrund/modular/internal/queue"
)

type job struct {
	run     func(ctx context.Context)
	abandon func()
}

// Scheduler is a multi-worker task pool.
type Scheduler struct {
	jobs    *queue.Unbounded[job]
	ctx     context.Context
	cancel  context.CancelFunc
	group   errgroup.Group
	workers int
	logger  *slog.Logger

	shutdownOnce sync.Once
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used for recovered task panics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New starts a scheduler with the given number of workers. Values below one
// mean a single worker.
func New(workers int, opts ...Option) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		jobs:    queue.New[job](),
		ctx:     ctx,
		cancel:  cancel,
		workers: workers,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for range workers {
		s.group.Go(func() error {
			s.work()
			return nil
		})
	}
	return s
}

// Workers returns the size of the pool.
func (s *Scheduler) Workers() int {
	return s.workers
}

func (s *Scheduler) work() {
	for {
		j, ok := s.jobs.Pop(s.ctx)
		if !ok {
			return
		}
		s.run(j)
	}
}

func (s *Scheduler) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered panic in scheduled task", "panic", fmt.Sprint(r))
		}
	}()
	j.run(s.ctx)
}

// Spawn queues task. If the scheduler shuts down before task starts, onAbandon
// is called instead; after shutdown that happens synchronously, before Spawn
// returns. onAbandon may be nil.
func (s *Scheduler) Spawn(task func(ctx context.Context), onAbandon func()) {
	if s.jobs.Push(job{run: task, abandon: onAbandon}) {
		return
	}
	if onAbandon != nil {
		onAbandon()
	}
}

// Pending returns the number of tasks waiting for a worker.
func (s *Scheduler) Pending() int {
	return s.jobs.Len()
}

// Shutdown stops accepting work, abandons queued tasks, cancels the context
// of running ones and waits for the workers to exit or for ctx to be done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		for _, j := range s.jobs.Close() {
			if j.abandon != nil {
				j.abandon()
			}
		}
		s.cancel()
	})

	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
