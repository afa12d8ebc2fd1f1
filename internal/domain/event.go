package domain

import (
	"encoding/json"
	"time"
)

// Event types published after a committed task mutation.
const (
	EventTaskCreated     = "task.created"
	EventTaskUpdated     = "task.updated"
	EventTaskCompleted   = "task.completed"
	EventTaskDeleted     = "task.deleted"
	EventTaskBulkDeleted = "task.bulk_deleted"
)

// DomainEvent is the unit published to the event channel. EventID is the
// subscriber idempotency key and never changes across publish retries.
type DomainEvent struct {
	SpecVersion     string          `json:"specversion"`
	EventID         string          `json:"id"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	OccurredAt      time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Payload         json.RawMessage `json:"data"`
}

// ProcessedEventRecord marks an event whose effect has durably committed.
type ProcessedEventRecord struct {
	EventID     string    `json:"event_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

// TaskEventPayload is the payload of single-task events.
type TaskEventPayload struct {
	TaskID        string    `json:"task_id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title,omitempty"`
	Description   string    `json:"description,omitempty"`
	Completed     bool      `json:"completed"`
	UpdatedFields []string  `json:"updated_fields,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BulkDeletedPayload is the payload of task.bulk_deleted.
type BulkDeletedPayload struct {
	UserID       string   `json:"user_id"`
	TaskIDs      []string `json:"task_ids"`
	DeletedCount int      `json:"deleted_count"`
}
