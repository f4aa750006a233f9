// Copyright 2026 The RVC Platform Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provision

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rvcplatform/provisioner/internal/observability/logger"
)

// TaskRunner decouples provisioning work from the triggering call: the
// trigger returns once the resource record exists and the submitted task
// carries the provider work on its own goroutine.
type TaskRunner interface {
	Submit(name string, fn func(ctx context.Context))
}

// WorkerPool is a fixed-size pool of provisioning workers with a bounded
// queue. Submit blocks when the queue is full rather than dropping work;
// triggers are few and long, so backpressure there is the right failure
// mode.
type WorkerPool struct {
	tasks  chan poolTask
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
}

type poolTask struct {
	name string
	fn   func(ctx context.Context)
}

// NewWorkerPool starts workers goroutines consuming from a queue of the
// given size. The pool context keeps ctx's values but not its
// cancellation, so tasks outlive the triggering request; Stop drains the
// queue.
func NewWorkerPool(ctx context.Context, workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	poolCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &WorkerPool{
		tasks:  make(chan poolTask, queueSize),
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run(poolCtx)
	}
	return p
}

func (p *WorkerPool) run(ctx context.Context) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.execute(ctx, task)
	}
}

func (p *WorkerPool) execute(ctx context.Context, task poolTask) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "provisioning task panicked",
				logger.Operation(task.name),
				slog.Any("panic", r))
		}
	}()
	task.fn(ctx)
}

// Submit enqueues a task. Safe for concurrent use; blocks when the queue
// is full. A task submitted after Stop is dropped with a warning instead
// of reaching a closed queue.
func (p *WorkerPool) Submit(name string, fn func(ctx context.Context)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		slog.Warn("dropping task submitted after worker pool stop",
			logger.Operation(name))
		return
	}
	p.tasks <- poolTask{name: name, fn: fn}
}

// Stop closes the queue, waits for in-flight tasks, then cancels the pool
// context. Idempotent.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel()
}
