package scheduler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/modular/internal/scheduler"
)

func TestSpawnRunsTasks(t *testing.T) {
	s := scheduler.New(4)
	defer s.Shutdown(context.Background())

	var ran atomic.Int32
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		s.Spawn(func(context.Context) {
			ran.Add(1)
			wg.Done()
		}, func() {
			t.Error("task abandoned unexpectedly")
			wg.Done()
		})
	}
	wg.Wait()
	assert.Equal(t, int32(100), ran.Load())
}

func TestWorkerCountFloor(t *testing.T) {
	s := scheduler.New(0)
	defer s.Shutdown(context.Background())
	assert.Equal(t, 1, s.Workers())
}

func TestShutdownAbandonsQueuedTasks(t *testing.T) {
	s := scheduler.New(1)

	block := make(chan struct{})
	started := make(chan struct{})
	var runningCtxDone atomic.Bool
	s.Spawn(func(ctx context.Context) {
		close(started)
		<-block
		runningCtxDone.Store(ctx.Err() != nil)
	}, nil)
	<-started

	var ran, abandoned atomic.Int32
	for range 10 {
		s.Spawn(func(context.Context) { ran.Add(1) }, func() { abandoned.Add(1) })
	}
	assert.Equal(t, 10, s.Pending())

	shutdown := make(chan error, 1)
	go func() { shutdown <- s.Shutdown(context.Background()) }()

	assert.Eventually(t, func() bool { return abandoned.Load() == 10 }, time.Second, 5*time.Millisecond)
	close(block)
	require.NoError(t, <-shutdown)

	assert.Zero(t, ran.Load())
	assert.True(t, runningCtxDone.Load(), "running tasks see a cancelled context")

	// After shutdown the hook runs synchronously.
	var late bool
	s.Spawn(func(context.Context) { t.Error("ran after shutdown") }, func() { late = true })
	assert.True(t, late)
}

func TestShutdownTimeout(t *testing.T) {
	s := scheduler.New(1)
	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	s.Spawn(func(context.Context) {
		close(started)
		<-block
	}, nil)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Shutdown(ctx), context.DeadlineExceeded)
}

func TestPanickingTaskKeepsWorkerAlive(t *testing.T) {
	s := scheduler.New(1)
	defer s.Shutdown(context.Background())

	s.Spawn(func(context.Context) { panic("boom") }, nil)

	done := make(chan struct{})
	s.Spawn(func(context.Context) { close(done) }, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
}
