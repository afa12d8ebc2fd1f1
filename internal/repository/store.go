package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrConflict is returned when a first-write put or a versioned delete finds a
// different version than the caller expected. It is the only failure class a
// caller is expected to handle by re-reading.
var ErrConflict = errors.New("repository: version conflict")

// Concurrency selects how Put treats an existing record.
type Concurrency string

const (
	// FirstWrite rejects the write unless the live record matches
	// ExpectedVersion (or is absent when ExpectedVersion is empty).
	FirstWrite Concurrency = "first-write"
	// LastWrite overwrites unconditionally.
	LastWrite Concurrency = "last-write"
)

// PutOptions configures a Put.
type PutOptions struct {
	// TTL is the record lifetime. Zero means no expiry.
	TTL             time.Duration
	Concurrency     Concurrency
	ExpectedVersion string
}

// DeleteOptions configures a Delete. With an ExpectedVersion the delete only
// succeeds while the live record carries that version; an absent record is a
// conflict.
type DeleteOptions struct {
	ExpectedVersion string
}

// Item is a stored value plus the opaque concurrency token it was read with.
type Item struct {
	Value   []byte
	Version string
}

// Store is typed access to an external versioned key-value store. Expired
// keys are indistinguishable from keys that were never written.
type Store interface {
	Put(ctx context.Context, key string, value []byte, opts PutOptions) (string, error)
	Get(ctx context.Context, key string) (Item, bool, error)
	Delete(ctx context.Context, key string, opts DeleteOptions) error
	BulkGet(ctx context.Context, keys []string) (map[string]Item, error)
}

// Key builders for the <domain>:<kind>:<id> layout.
func WorkflowKey(userID string) string        { return "workflow:user:" + userID }
func TicketKey(token string) string           { return "confirm:ticket:" + token }
func ProcessedEventKey(eventID string) string { return "events:processed:" + eventID }
func ActivityKey(taskID string) string        { return "activity:task:" + taskID }

// GetJSON reads key and decodes it into T.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, string, bool, error) {
	var out T
	item, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return out, "", ok, err
	}
	if err := json.Unmarshal(item.Value, &out); err != nil {
		return out, "", false, fmt.Errorf("repository: decode %q: %w", key, err)
	}
	return out, item.Version, true, nil
}

// PutJSON encodes v and writes it under key.
func PutJSON(ctx context.Context, s Store, key string, v any, opts PutOptions) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("repository: encode %q: %w", key, err)
	}
	return s.Put(ctx, key, raw, opts)
}

func validateKey(key string) error {
	if key == "" {
		return errors.New("repository: key is required")
	}
	return nil
}
