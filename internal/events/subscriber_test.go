package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"todo-assistant/internal/domain"
	"todo-assistant/internal/repository"
)

type failingStore struct {
	repository.Store
	getErr error
	putErr error
}

func (f *failingStore) Get(ctx context.Context, key string) (repository.Item, bool, error) {
	if f.getErr != nil {
		return repository.Item{}, false, f.getErr
	}
	return f.Store.Get(ctx, key)
}

func (f *failingStore) Put(ctx context.Context, key string, v []byte, opts repository.PutOptions) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	return f.Store.Put(ctx, key, v, opts)
}

func countingHandler(calls *int32, res Result) HandlerFunc {
	return func(context.Context, domain.DomainEvent) Result {
		atomic.AddInt32(calls, 1)
		return res
	}
}

func TestNewSubscriber_Validation(t *testing.T) {
	_, err := NewSubscriber(nil, HandlerFunc(nil), 0, nil)
	require.Error(t, err)
	_, err = NewSubscriber(repository.NewMemoryStore(nil), nil, 0, nil)
	require.Error(t, err)
}

func TestDeliver_RedeliveryAppliesOnce(t *testing.T) {
	var calls int32
	store := repository.NewMemoryStore(nil)
	sub, err := NewSubscriber(store, countingHandler(&calls, Success), 0, nil)
	require.NoError(t, err)

	ev := testEvent(t)
	for i := 0; i < 3; i++ {
		require.Equal(t, Success, sub.Deliver(context.Background(), ev))
	}
	require.EqualValues(t, 1, calls)

	rec, _, ok, err := repository.GetJSON[domain.ProcessedEventRecord](context.Background(), store, repository.ProcessedEventKey(ev.EventID))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ev.EventID, rec.EventID)
}

func TestDeliver_MalformedIsDropped(t *testing.T) {
	var calls int32
	sub, err := NewSubscriber(repository.NewMemoryStore(nil), countingHandler(&calls, Success), 0, nil)
	require.NoError(t, err)

	ev := testEvent(t)
	ev.Payload = json.RawMessage(`{broken`)
	require.Equal(t, Drop, sub.Deliver(context.Background(), ev))
	require.Zero(t, calls)
}

func TestDeliver_HandlerRetryLeavesNoMarker(t *testing.T) {
	var calls int32
	store := repository.NewMemoryStore(nil)
	sub, err := NewSubscriber(store, countingHandler(&calls, Retry), 0, nil)
	require.NoError(t, err)

	ev := testEvent(t)
	require.Equal(t, Retry, sub.Deliver(context.Background(), ev))
	require.Equal(t, Retry, sub.Deliver(context.Background(), ev))
	require.EqualValues(t, 2, calls)
	require.Zero(t, store.Len())
}

func TestDeliver_HandlerDrop(t *testing.T) {
	var calls int32
	store := repository.NewMemoryStore(nil)
	sub, err := NewSubscriber(store, countingHandler(&calls, Drop), 0, nil)
	require.NoError(t, err)
	require.Equal(t, Drop, sub.Deliver(context.Background(), testEvent(t)))
	require.Zero(t, store.Len())
}

func TestDeliver_MarkerReadFailureRetries(t *testing.T) {
	var calls int32
	store := &failingStore{Store: repository.NewMemoryStore(nil), getErr: errors.New("timeout")}
	sub, err := NewSubscriber(store, countingHandler(&calls, Success), 0, nil)
	require.NoError(t, err)
	require.Equal(t, Retry, sub.Deliver(context.Background(), testEvent(t)))
	require.Zero(t, calls)
}

func TestDeliver_MarkerWriteFailureRetriesThenConverges(t *testing.T) {
	var calls int32
	store := &failingStore{Store: repository.NewMemoryStore(nil), putErr: errors.New("timeout")}
	sub, err := NewSubscriber(store, countingHandler(&calls, Success), 0, nil)
	require.NoError(t, err)

	ev := testEvent(t)
	require.Equal(t, Retry, sub.Deliver(context.Background(), ev))

	store.putErr = nil
	require.Equal(t, Success, sub.Deliver(context.Background(), ev))
	require.Equal(t, Success, sub.Deliver(context.Background(), ev))
	require.EqualValues(t, 2, calls, "effect replays once after a lost marker, then never again")
}

func TestMemoryBroker_RedeliverThroughSubscriber(t *testing.T) {
	var calls int32
	sub, err := NewSubscriber(repository.NewMemoryStore(nil), countingHandler(&calls, Success), 0, nil)
	require.NoError(t, err)
	b := NewMemoryBroker()
	b.Subscribe(domain.EventTaskCreated, sub)

	ev := testEvent(t)
	require.NoError(t, b.Publish(context.Background(), ev.Type, ev))
	require.Equal(t, []Result{Success}, b.Redeliver(context.Background(), ev.Type))
	require.EqualValues(t, 1, calls)
}

func TestResultString(t *testing.T) {
	require.Equal(t, "SUCCESS", Success.String())
	require.Equal(t, "RETRY", Retry.String())
	require.Equal(t, "DROP", Drop.String())
}
