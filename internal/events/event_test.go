package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"todo-assistant/internal/domain"
)

func TestNewEvent_FillsEnvelope(t *testing.T) {
	origUUID, origNow := newUUID, now
	t.Cleanup(func() { newUUID, now = origUUID, origNow })
	newUUID = func() string { return "evt-1" }
	now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	ev, err := NewEvent(domain.EventTaskCreated, "todo-assistant/chat", domain.TaskEventPayload{TaskID: "t1", UserID: "u1", Title: "Buy groceries"})
	require.NoError(t, err)
	require.Equal(t, "evt-1", ev.EventID)
	require.Equal(t, "1.0", ev.SpecVersion)
	require.Equal(t, "application/json", ev.DataContentType)
	require.Equal(t, domain.EventTaskCreated, ev.Type)
	require.Equal(t, now(), ev.OccurredAt)

	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	for _, k := range []string{"specversion", "id", "type", "source", "time", "datacontenttype", "data"} {
		require.Contains(t, wire, k)
	}
	require.Equal(t, "Buy groceries", wire["data"].(map[string]any)["title"])
}

func TestNewEvent_Validation(t *testing.T) {
	_, err := NewEvent("", "src", nil)
	require.Error(t, err)
	_, err = NewEvent("task.created", " ", nil)
	require.Error(t, err)
	_, err = NewEvent("task.created", "src", make(chan int))
	require.Error(t, err)
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":     `{`,
		"missing id":   `{"type":"task.created","source":"s","data":{}}`,
		"missing type": `{"id":"e","source":"s","data":{}}`,
		"no payload":   `{"id":"e","type":"task.created","source":"s"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			require.True(t, errors.Is(err, ErrMalformed))
		})
	}

	ev, err := Decode([]byte(`{"id":"e","type":"task.created","source":"s","data":{"task_id":"t"}}`))
	require.NoError(t, err)
	require.Equal(t, "e", ev.EventID)
}
