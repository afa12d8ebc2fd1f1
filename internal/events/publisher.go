package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"todo-assistant/internal/domain"
)

// Broker delivers an event to every subscriber of topic. Delivery is
// at-least-once.
type Broker interface {
	Publish(ctx context.Context, topic string, ev domain.DomainEvent) error
}

const (
	defaultPublishTries = 3
	defaultRetryWindow  = 15 * time.Minute
)

// Publisher retries broker publishes with exponential backoff. The event id
// never changes between attempts, so subscribers see duplicates, not
// distinct events.
type Publisher struct {
	broker      Broker
	logger      *slog.Logger
	maxTries    uint
	retryWindow time.Duration
	newBackOff  func() backoff.BackOff

	wg sync.WaitGroup
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMaxTries bounds the foreground publish attempts.
func WithMaxTries(n uint) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.maxTries = n
		}
	}
}

// WithRetryWindow bounds background retries to occurredAt + d.
func WithRetryWindow(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.retryWindow = d
		}
	}
}

// WithBackOff overrides the backoff policy; tests use a zero backoff.
func WithBackOff(fn func() backoff.BackOff) PublisherOption {
	return func(p *Publisher) {
		if fn != nil {
			p.newBackOff = fn
		}
	}
}

// NewPublisher creates a Publisher on broker.
func NewPublisher(broker Broker, opts ...PublisherOption) (*Publisher, error) {
	if broker == nil {
		return nil, errors.New("events: broker must not be nil")
	}
	p := &Publisher{
		broker:      broker,
		logger:      slog.Default(),
		maxTries:    defaultPublishTries,
		retryWindow: defaultRetryWindow,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish sends ev with bounded retries.
func (p *Publisher) Publish(ctx context.Context, topic string, ev domain.DomainEvent) error {
	if err := Validate(ev); err != nil {
		return err
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, p.broker.Publish(ctx, topic, ev)
	}, backoff.WithBackOff(p.newBackOff()), backoff.WithMaxTries(p.maxTries))
	if err != nil {
		return fmt.Errorf("events: Publish %s: %w", ev.EventID, err)
	}
	return nil
}

// PublishOrDefer publishes ev and, when the foreground attempts are exhausted,
// hands it to a background goroutine that keeps retrying until the retry
// window closes. It reports whether the event was deferred. The mutation the
// event describes has already committed, so the event is never dropped here.
func (p *Publisher) PublishOrDefer(ctx context.Context, topic string, ev domain.DomainEvent) bool {
	err := p.Publish(ctx, topic, ev)
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformed) {
		p.logger.Error("dropping malformed event", "event_id", ev.EventID, "type", ev.Type, "err", err)
		return false
	}
	p.logger.Warn("publish failed, deferring to background retry", "event_id", ev.EventID, "topic", topic, "err", err)

	deadline := ev.OccurredAt.Add(p.retryWindow)
	if !time.Now().Before(deadline) {
		p.logger.Error("giving up on event publish", "event_id", ev.EventID, "topic", topic, "deadline", deadline, "err", err)
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		bg, cancel := context.WithDeadline(context.WithoutCancel(ctx), deadline)
		defer cancel()

		_, err := backoff.Retry(bg, func() (struct{}, error) {
			return struct{}{}, p.broker.Publish(bg, topic, ev)
		}, backoff.WithBackOff(p.newBackOff()), backoff.WithMaxElapsedTime(time.Until(deadline)))
		if err != nil {
			p.logger.Error("giving up on event publish", "event_id", ev.EventID, "topic", topic, "deadline", deadline, "err", err)
			return
		}
		p.logger.Info("deferred event published", "event_id", ev.EventID, "topic", topic)
	}()
	return true
}

// Wait blocks until background retries finish.
func (p *Publisher) Wait() {
	p.wg.Wait()
}
