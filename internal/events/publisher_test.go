package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/require"

	"todo-assistant/internal/domain"
)

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

func testEvent(t *testing.T) domain.DomainEvent {
	t.Helper()
	ev, err := NewEvent(domain.EventTaskCreated, "test", domain.TaskEventPayload{TaskID: "t1"})
	require.NoError(t, err)
	return ev
}

func TestNewPublisher_NilBroker(t *testing.T) {
	_, err := NewPublisher(nil)
	require.Error(t, err)
}

func TestPublish_RetriesWithSameEventID(t *testing.T) {
	b := NewMemoryBroker()
	b.FailNext(errors.New("unavailable"), errors.New("unavailable"))
	p, err := NewPublisher(b, WithBackOff(zeroBackOff))
	require.NoError(t, err)

	ev := testEvent(t)
	require.NoError(t, p.Publish(context.Background(), ev.Type, ev))
	require.Equal(t, 3, b.Attempts())
	got := b.Published(ev.Type)
	require.Len(t, got, 1)
	require.Equal(t, ev.EventID, got[0].EventID)
}

func TestPublish_ExhaustsTries(t *testing.T) {
	b := NewMemoryBroker()
	b.FailNext(errors.New("a"), errors.New("b"), errors.New("c"), errors.New("d"))
	p, err := NewPublisher(b, WithBackOff(zeroBackOff), WithMaxTries(3))
	require.NoError(t, err)

	ev := testEvent(t)
	require.Error(t, p.Publish(context.Background(), ev.Type, ev))
	require.Equal(t, 3, b.Attempts())
}

func TestPublish_RejectsMalformed(t *testing.T) {
	b := NewMemoryBroker()
	p, err := NewPublisher(b)
	require.NoError(t, err)
	err = p.Publish(context.Background(), "x", domain.DomainEvent{})
	require.ErrorIs(t, err, ErrMalformed)
	require.Zero(t, b.Attempts())
}

func TestPublishOrDefer_BackgroundRetrySucceeds(t *testing.T) {
	b := NewMemoryBroker()
	b.FailNext(errors.New("1"), errors.New("2"), errors.New("3"), errors.New("4"))
	p, err := NewPublisher(b, WithBackOff(zeroBackOff), WithMaxTries(3))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ev := testEvent(t)
	deferred := p.PublishOrDefer(ctx, ev.Type, ev)
	cancel()
	require.True(t, deferred)

	p.Wait()
	got := b.Published(ev.Type)
	require.Len(t, got, 1, "request cancellation must not stop the background retry")
	require.Equal(t, ev.EventID, got[0].EventID)
}

func TestPublishOrDefer_NotDeferredOnSuccess(t *testing.T) {
	b := NewMemoryBroker()
	p, err := NewPublisher(b, WithBackOff(zeroBackOff))
	require.NoError(t, err)
	ev := testEvent(t)
	require.False(t, p.PublishOrDefer(context.Background(), ev.Type, ev))
	p.Wait()
	require.Len(t, b.Published(ev.Type), 1)
}

func TestPublishOrDefer_GiveUpIsLoggedAtError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	b := NewMemoryBroker()
	b.FailNext(errors.New("1"), errors.New("2"), errors.New("3"))
	p, err := NewPublisher(b, WithBackOff(zeroBackOff), WithLogger(logger), WithRetryWindow(time.Minute))
	require.NoError(t, err)

	ev := testEvent(t)
	ev.OccurredAt = time.Now().Add(-time.Hour)
	require.False(t, p.PublishOrDefer(context.Background(), ev.Type, ev))
	p.Wait()
	require.Empty(t, b.Published(ev.Type))
	require.Contains(t, buf.String(), "level=ERROR")
	require.Contains(t, buf.String(), ev.EventID)
}
