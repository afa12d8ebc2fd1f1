// Package events publishes task domain events and applies them on the
// subscriber side at most once per event id.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"todo-assistant/internal/domain"
)

const (
	specVersion     = "1.0"
	jsonContentType = "application/json"
)

// ErrMalformed marks an event that can never be applied.
var ErrMalformed = errors.New("events: malformed event")

var (
	newUUID = func() string { return uuid.NewString() }
	now     = func() time.Time { return time.Now().UTC() }
)

// NewEvent builds a CloudEvents-style envelope. The event id is generated here
// and reused by every publish attempt for this event.
func NewEvent(eventType, source string, payload any) (domain.DomainEvent, error) {
	if strings.TrimSpace(eventType) == "" {
		return domain.DomainEvent{}, errors.New("events: event type must not be empty")
	}
	if strings.TrimSpace(source) == "" {
		return domain.DomainEvent{}, errors.New("events: source must not be empty")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.DomainEvent{}, fmt.Errorf("events: NewEvent: marshal payload: %w", err)
	}
	return domain.DomainEvent{
		SpecVersion:     specVersion,
		EventID:         newUUID(),
		Type:            eventType,
		Source:          source,
		OccurredAt:      now(),
		DataContentType: jsonContentType,
		Payload:         data,
	}, nil
}

// Validate reports ErrMalformed for envelopes missing an id, type or source,
// or carrying a payload that is not JSON.
func Validate(ev domain.DomainEvent) error {
	switch {
	case ev.EventID == "":
		return fmt.Errorf("%w: missing id", ErrMalformed)
	case ev.Type == "":
		return fmt.Errorf("%w: missing type", ErrMalformed)
	case ev.Source == "":
		return fmt.Errorf("%w: missing source", ErrMalformed)
	case len(ev.Payload) == 0 || !json.Valid(ev.Payload):
		return fmt.Errorf("%w: payload is not valid JSON", ErrMalformed)
	}
	return nil
}

// Decode parses a wire envelope and validates it.
func Decode(raw []byte) (domain.DomainEvent, error) {
	var ev domain.DomainEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return domain.DomainEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := Validate(ev); err != nil {
		return domain.DomainEvent{}, err
	}
	return ev, nil
}
