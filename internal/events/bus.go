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

package events

import (
	"context"
	"log/slog"
	"sync"
)

// Handler reacts to one event. Handlers run on their own goroutine and
// must not assume a live request context.
type Handler func(ctx context.Context, e Event)

// Bus is the in-process publisher. Dispatch is fire-and-forget: Publish
// never blocks on subscribers and subscriber panics are contained.
type Bus struct {
	mu   sync.RWMutex
	subs map[Type][]Handler
	wg   sync.WaitGroup
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Type][]Handler)}
}

// Subscribe registers a handler for one event type. Not safe to call
// concurrently with Publish during startup wiring only by convention.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// Publish dispatches the event to all subscribers asynchronously.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	handlers := b.subs[e.Type]
	b.mu.RUnlock()

	// Subscribers outlive the publishing request.
	ctx = context.WithoutCancel(ctx)

	for _, h := range handlers {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.ErrorContext(ctx, "event handler panicked",
						slog.String("event_type", string(e.Type)),
						slog.String("tenant_id", e.TenantID),
						slog.Any("panic", r))
				}
			}()
			h(ctx, e)
		}(h)
	}
	return nil
}

// Wait blocks until all in-flight handlers finish. Used on shutdown and in
// tests.
func (b *Bus) Wait() {
	b.wg.Wait()
}
