package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_DeliversToSubscribers(t *testing.T) {
	bus := NewBus()

	var created, provisioned atomic.Int32
	bus.Subscribe(TypeTenantCreated, func(ctx context.Context, e Event) {
		created.Add(1)
	})
	bus.Subscribe(TypeTenantCreated, func(ctx context.Context, e Event) {
		created.Add(1)
	})
	bus.Subscribe(TypeDatabaseProvisioned, func(ctx context.Context, e Event) {
		provisioned.Add(1)
	})

	err := bus.Publish(context.Background(), Event{Type: TypeTenantCreated, TenantID: "t-1"})
	assert.NoError(t, err)
	bus.Wait()

	assert.Equal(t, int32(2), created.Load())
	assert.Zero(t, provisioned.Load())
}

func TestBus_NoSubscribersIsFine(t *testing.T) {
	bus := NewBus()
	assert.NoError(t, bus.Publish(context.Background(), Event{Type: TypeContactsNotify}))
	bus.Wait()
}

func TestBus_PanickingSubscriberIsContained(t *testing.T) {
	bus := NewBus()

	var ran atomic.Bool
	bus.Subscribe(TypeTenantCreated, func(ctx context.Context, e Event) {
		panic("subscriber bug")
	})
	bus.Subscribe(TypeTenantCreated, func(ctx context.Context, e Event) {
		ran.Store(true)
	})

	assert.NoError(t, bus.Publish(context.Background(), Event{Type: TypeTenantCreated}))
	bus.Wait()
	assert.True(t, ran.Load())
}

func TestBus_SubscriberOutlivesPublisherContext(t *testing.T) {
	bus := NewBus()

	errs := make(chan error, 1)
	bus.Subscribe(TypeTenantCreated, func(ctx context.Context, e Event) {
		errs <- ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, bus.Publish(ctx, Event{Type: TypeTenantCreated}))
	assert.NoError(t, <-errs)
	bus.Wait()
}

type failingPublisher struct{ err error }

func (p failingPublisher) Publish(ctx context.Context, e Event) error { return p.err }

type countingPublisher struct{ count atomic.Int32 }

func (p *countingPublisher) Publish(ctx context.Context, e Event) error {
	p.count.Add(1)
	return nil
}

func TestMulti_FansOutAndReturnsFirstError(t *testing.T) {
	errA := errors.New("a failed")
	counting := &countingPublisher{}

	m := Multi{failingPublisher{err: errA}, counting, failingPublisher{err: errors.New("b failed")}}
	err := m.Publish(context.Background(), Event{Type: TypeTenantCreated})

	assert.ErrorIs(t, err, errA)
	// Every publisher still ran despite the earlier failure.
	assert.Equal(t, int32(1), counting.count.Load())
}
