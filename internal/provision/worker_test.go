package provision

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool_ExecutesSubmittedTasks(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 2, 8)

	var count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		pool.Submit("task", func(ctx context.Context) {
			defer wg.Done()
			count.Add(1)
		})
	}
	wg.Wait()
	pool.Stop()

	assert.Equal(t, int32(10), count.Load())
}

func TestWorkerPool_StopDrainsQueue(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 16)

	var count atomic.Int32
	for i := 0; i < 5; i++ {
		pool.Submit("task", func(ctx context.Context) {
			count.Add(1)
		})
	}
	pool.Stop()

	assert.Equal(t, int32(5), count.Load())
}

func TestWorkerPool_PanicDoesNotKillWorker(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 4)

	ran := make(chan struct{})
	pool.Submit("panicking", func(ctx context.Context) {
		panic("boom")
	})
	pool.Submit("after", func(ctx context.Context) {
		close(ran)
	})

	<-ran
	pool.Stop()
}

func TestWorkerPool_SubmitAfterStopIsDropped(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 4)
	pool.Stop()

	var ran atomic.Bool
	assert.NotPanics(t, func() {
		pool.Submit("late", func(ctx context.Context) {
			ran.Store(true)
		})
	})
	assert.False(t, ran.Load())

	// A second Stop is fine too.
	assert.NotPanics(t, pool.Stop)
}

func TestWorkerPool_TaskContextOutlivesCaller(t *testing.T) {
	callerCtx, cancel := context.WithCancel(context.Background())
	pool := NewWorkerPool(callerCtx, 1, 4)
	cancel()

	errs := make(chan error, 1)
	pool.Submit("check", func(ctx context.Context) {
		errs <- ctx.Err()
	})

	assert.NoError(t, <-errs)
	pool.Stop()
}
