// Package activity keeps a per-task projection of task domain events.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"todo-assistant/internal/domain"
	"todo-assistant/internal/events"
	"todo-assistant/internal/repository"
)

// DefaultTTL bounds how long a projection outlives its last event.
const DefaultTTL = 30 * 24 * time.Hour

// Topics lists every topic the projector consumes.
var Topics = []string{
	domain.EventTaskCreated,
	domain.EventTaskUpdated,
	domain.EventTaskCompleted,
	domain.EventTaskDeleted,
	domain.EventTaskBulkDeleted,
}

// Record is the latest known state of one task as seen through events.
type Record struct {
	TaskID        string    `json:"task_id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title,omitempty"`
	Completed     bool      `json:"completed"`
	Deleted       bool      `json:"deleted"`
	LastEventID   string    `json:"last_event_id"`
	LastEventType string    `json:"last_event_type"`
	LastEventAt   time.Time `json:"last_event_at"`
	Applied       int       `json:"applied"`
}

// Projector applies task events to Records. Events older than the last one
// applied to a task are skipped, so reordered deliveries converge.
type Projector struct {
	store  repository.Store
	ttl    time.Duration
	logger *slog.Logger
}

var _ events.Handler = (*Projector)(nil)

func NewProjector(store repository.Store, ttl time.Duration, logger *slog.Logger) (*Projector, error) {
	if store == nil {
		return nil, errors.New("activity: store must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{store: store, ttl: ttl, logger: logger}, nil
}

// Get returns the projection for taskID.
func (p *Projector) Get(ctx context.Context, taskID string) (Record, bool, error) {
	rec, _, ok, err := repository.GetJSON[Record](ctx, p.store, repository.ActivityKey(taskID))
	return rec, ok, err
}

func (p *Projector) Handle(ctx context.Context, ev domain.DomainEvent) events.Result {
	switch ev.Type {
	case domain.EventTaskCreated, domain.EventTaskUpdated, domain.EventTaskCompleted, domain.EventTaskDeleted:
		var pl domain.TaskEventPayload
		if err := json.Unmarshal(ev.Payload, &pl); err != nil || pl.TaskID == "" {
			p.logger.Error("dropping task event with unusable payload", "event_id", ev.EventID, "type", ev.Type, "err", err)
			return events.Drop
		}
		return p.apply(ctx, ev, pl.TaskID, func(r *Record) {
			r.UserID = pl.UserID
			if pl.Title != "" {
				r.Title = pl.Title
			}
			switch ev.Type {
			case domain.EventTaskCompleted:
				r.Completed = true
			case domain.EventTaskDeleted:
				r.Deleted = true
			case domain.EventTaskCreated, domain.EventTaskUpdated:
				r.Completed = pl.Completed
			}
		})

	case domain.EventTaskBulkDeleted:
		var pl domain.BulkDeletedPayload
		if err := json.Unmarshal(ev.Payload, &pl); err != nil {
			p.logger.Error("dropping bulk event with unusable payload", "event_id", ev.EventID, "err", err)
			return events.Drop
		}
		for _, id := range pl.TaskIDs {
			res := p.apply(ctx, ev, id, func(r *Record) {
				r.UserID = pl.UserID
				r.Deleted = true
			})
			if res != events.Success {
				return res
			}
		}
		return events.Success
	}
	p.logger.Warn("dropping event of unknown type", "event_id", ev.EventID, "type", ev.Type)
	return events.Drop
}

// apply upserts one record conditioned on the version it read. A lost race
// asks the broker to redeliver.
func (p *Projector) apply(ctx context.Context, ev domain.DomainEvent, taskID string, mutate func(*Record)) events.Result {
	key := repository.ActivityKey(taskID)
	rec, ver, found, err := repository.GetJSON[Record](ctx, p.store, key)
	if err != nil {
		p.logger.Warn("activity read failed", "task_id", taskID, "err", err)
		return events.Retry
	}
	if found && rec.LastEventID == ev.EventID {
		// Replay of an event whose effect landed but whose marker did not.
		return events.Success
	}
	if found && ev.OccurredAt.Before(rec.LastEventAt) {
		p.logger.Debug("skipping out-of-order event", "event_id", ev.EventID, "task_id", taskID, "last_event_at", rec.LastEventAt)
		return events.Success
	}
	if !found {
		rec = Record{TaskID: taskID}
	}
	mutate(&rec)
	rec.LastEventID = ev.EventID
	rec.LastEventType = ev.Type
	rec.LastEventAt = ev.OccurredAt
	rec.Applied++

	_, err = repository.PutJSON(ctx, p.store, key, rec, repository.PutOptions{
		TTL:             p.ttl,
		Concurrency:     repository.FirstWrite,
		ExpectedVersion: ver,
	})
	if err != nil {
		p.logger.Warn("activity write failed", "task_id", taskID, "err", err)
		return events.Retry
	}
	return events.Success
}
