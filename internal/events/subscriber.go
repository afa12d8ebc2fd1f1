package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"todo-assistant/internal/domain"
	"todo-assistant/internal/repository"
)

// Result is the delivery verdict returned to the broker.
type Result int

const (
	// Success acknowledges the event.
	Success Result = iota
	// Retry leaves the event for redelivery.
	Retry
	// Drop acknowledges an event that can never be applied.
	Drop
)

func (r Result) String() string {
	switch r {
	case Success:
		return "SUCCESS"
	case Retry:
		return "RETRY"
	case Drop:
		return "DROP"
	default:
		return "UNKNOWN"
	}
}

// Handler applies an event's effect. It must be an idempotent upsert; a
// crash between the effect and the processed marker replays it.
type Handler interface {
	Handle(ctx context.Context, ev domain.DomainEvent) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev domain.DomainEvent) Result

func (f HandlerFunc) Handle(ctx context.Context, ev domain.DomainEvent) Result {
	return f(ctx, ev)
}

const defaultMarkerTTL = 7 * 24 * time.Hour

// Subscriber deduplicates deliveries by event id before invoking its handler.
type Subscriber struct {
	store     repository.Store
	handler   Handler
	markerTTL time.Duration
	logger    *slog.Logger
}

// NewSubscriber creates a Subscriber. markerTTL must outlive the broker's
// redelivery window; zero uses seven days.
func NewSubscriber(store repository.Store, handler Handler, markerTTL time.Duration, logger *slog.Logger) (*Subscriber, error) {
	if store == nil {
		return nil, errors.New("events: store must not be nil")
	}
	if handler == nil {
		return nil, errors.New("events: handler must not be nil")
	}
	if markerTTL <= 0 {
		markerTTL = defaultMarkerTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{store: store, handler: handler, markerTTL: markerTTL, logger: logger}, nil
}

// Deliver applies ev at most once per event id.
func (s *Subscriber) Deliver(ctx context.Context, ev domain.DomainEvent) Result {
	if err := Validate(ev); err != nil {
		s.logger.Warn("dropping malformed event", "event_id", ev.EventID, "err", err)
		return Drop
	}

	key := repository.ProcessedEventKey(ev.EventID)
	_, found, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("processed marker lookup failed", "event_id", ev.EventID, "err", err)
		return Retry
	}
	if found {
		s.logger.Debug("duplicate delivery ignored", "event_id", ev.EventID, "type", ev.Type)
		return Success
	}

	res := s.handler.Handle(ctx, ev)
	switch res {
	case Success:
	case Drop:
		s.logger.Warn("handler dropped event", "event_id", ev.EventID, "type", ev.Type)
		return Drop
	default:
		return Retry
	}

	record := domain.ProcessedEventRecord{EventID: ev.EventID, ProcessedAt: now()}
	if _, err := repository.PutJSON(ctx, s.store, key, record, repository.PutOptions{
		TTL:         s.markerTTL,
		Concurrency: repository.LastWrite,
	}); err != nil {
		s.logger.Warn("processed marker write failed", "event_id", ev.EventID, "err", err)
		return Retry
	}
	return Success
}
