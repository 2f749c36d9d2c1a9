// Package events provides the in-process publish/subscribe backbone that
// connects the journey, analysis and notification components.
//
// Publish never blocks on subscribers: every subscriber runs in its own
// goroutine behind its own recover boundary, and subscriber errors are
// logged rather than returned to the publisher. Nothing published on the bus
// is persisted; durability lives in the side effects each handler performs.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is one published occurrence with an implicit tenant scope
type Event struct {
	Kind          Kind
	TenantID      uuid.UUID
	CorrelationID string
	Payload       any
	PublishedAt   time.Time
}

// Handler processes a single event. Returned errors are logged by the bus.
type Handler func(ctx context.Context, ev Event) error

type subscription struct {
	id      uint64
	name    string
	handler Handler
}

// Bus is a typed, fire-and-forget publish/subscribe hub
type Bus struct {
	mu     sync.RWMutex
	subs   map[Kind][]subscription
	nextID uint64
	wg     sync.WaitGroup
	log    *zap.SugaredLogger
}

// NewBus creates an empty bus
func NewBus(log *zap.SugaredLogger) *Bus {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Bus{
		subs: make(map[Kind][]subscription),
		log:  log.Named("events"),
	}
}

// Subscribe registers h for kind. name identifies the subscriber in logs.
// The returned function removes the subscription.
func (b *Bus) Subscribe(kind Kind, name string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, name: name, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		current := b.subs[kind]
		for i, s := range current {
			if s.id == id {
				b.subs[kind] = append(current[:i:i], current[i+1:]...)
				return
			}
		}
	}
}

// SubscriberCount returns the number of subscribers registered for kind
func (b *Bus) SubscriberCount(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}

// Publish delivers ev to every subscriber of ev.Kind and returns immediately.
// Subscribers receive a context detached from ctx's cancellation so that a
// finished request does not abort background work.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.PublishedAt.IsZero() {
		ev.PublishedAt = time.Now().UTC()
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = CorrelationID(ctx)
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = uuid.NewString()
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs[ev.Kind]))
	copy(subs, b.subs[ev.Kind])
	b.mu.RUnlock()

	if len(subs) == 0 {
		b.log.Debugw("no subscribers", "kind", ev.Kind, "tenant_id", ev.TenantID)
		return
	}

	detached := context.WithoutCancel(ctx)
	for _, sub := range subs {
		b.wg.Add(1)
		go b.dispatch(detached, sub, ev)
	}
}

func (b *Bus) dispatch(ctx context.Context, sub subscription, ev Event) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorw("subscriber panicked",
				"subscriber", sub.name,
				"kind", ev.Kind,
				"correlation_id", ev.CorrelationID,
				"panic", r,
			)
		}
	}()

	if err := sub.handler(WithCorrelationID(ctx, ev.CorrelationID), ev); err != nil {
		b.log.Warnw("subscriber failed",
			"subscriber", sub.name,
			"kind", ev.Kind,
			"tenant_id", ev.TenantID,
			"correlation_id", ev.CorrelationID,
			"error", err,
		)
	}
}

// Wait blocks until every dispatched handler, including handlers started by
// events published from other handlers, has returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Drain is Wait bounded by ctx; it returns ctx.Err() if handlers are still
// running when ctx ends.
func (b *Bus) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "event handlers still running")
	}
}

// On registers a handler whose payload is asserted to T before it runs.
// A payload of any other type is reported as a handler error.
func On[T any](b *Bus, kind Kind, name string, fn func(ctx context.Context, ev Event, payload T) error) func() {
	return b.Subscribe(kind, name, func(ctx context.Context, ev Event) error {
		payload, ok := ev.Payload.(T)
		if !ok {
			return errors.Newf("event %s: unexpected payload type %T", ev.Kind, ev.Payload)
		}
		return fn(ctx, ev, payload)
	})
}

type correlationKey struct{}

// WithCorrelationID returns ctx carrying id. Handlers receive a context
// carrying the id of the event they handle, so events they publish and the
// logs they write share it.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id carried by ctx, or ""
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
