package events

import (
	"context"
	"sync"

	"todo-assistant/internal/domain"
)

// MemoryBroker records published events and fans them out to registered
// handlers synchronously. Failures can be injected for tests and local runs.
type MemoryBroker struct {
	mu        sync.Mutex
	published map[string][]domain.DomainEvent
	subs      map[string][]*Subscriber
	failures  []error
	attempts  int
}

var _ Broker = (*MemoryBroker)(nil)

// NewMemoryBroker creates an empty MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		published: make(map[string][]domain.DomainEvent),
		subs:      make(map[string][]*Subscriber),
	}
}

// FailNext makes the next len(errs) publishes return errs in order.
func (b *MemoryBroker) FailNext(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, errs...)
}

// Subscribe registers sub for topic.
func (b *MemoryBroker) Subscribe(topic string, sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], sub)
}

func (b *MemoryBroker) Publish(ctx context.Context, topic string, ev domain.DomainEvent) error {
	b.mu.Lock()
	b.attempts++
	if len(b.failures) > 0 {
		err := b.failures[0]
		b.failures = b.failures[1:]
		b.mu.Unlock()
		return err
	}
	b.published[topic] = append(b.published[topic], ev)
	subs := append([]*Subscriber(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, s := range subs {
		s.Deliver(ctx, ev)
	}
	return nil
}

// Published returns a copy of the events accepted on topic.
func (b *MemoryBroker) Published(topic string) []domain.DomainEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.DomainEvent(nil), b.published[topic]...)
}

// Attempts returns the number of Publish calls, failed ones included.
func (b *MemoryBroker) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Redeliver replays every accepted event on topic to its subscribers, the way
// a broker does after a lost acknowledgement.
func (b *MemoryBroker) Redeliver(ctx context.Context, topic string) []Result {
	b.mu.Lock()
	evs := append([]domain.DomainEvent(nil), b.published[topic]...)
	subs := append([]*Subscriber(nil), b.subs[topic]...)
	b.mu.Unlock()

	var out []Result
	for _, ev := range evs {
		for _, s := range subs {
			out = append(out, s.Deliver(ctx, ev))
		}
	}
	return out
}
