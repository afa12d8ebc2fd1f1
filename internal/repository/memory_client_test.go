package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore_TTLBoundary(t *testing.T) {
	clock := &fakeClock{now: fixedNow}
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	_, err := s.Put(ctx, WorkflowKey("u1"), []byte("state"), PutOptions{TTL: 600 * time.Second})
	require.NoError(t, err)

	clock.Advance(599 * time.Second)
	_, ok, err := s.Get(ctx, WorkflowKey("u1"))
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(time.Second)
	_, ok, err = s.Get(ctx, WorkflowKey("u1"))
	require.NoError(t, err)
	require.False(t, ok, "key must be absent once 600s have elapsed")
}

func TestMemoryStore_FirstWriteSemantics(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	v1, err := s.Put(ctx, "k", []byte("a"), PutOptions{Concurrency: FirstWrite})
	require.NoError(t, err)

	_, err = s.Put(ctx, "k", []byte("b"), PutOptions{Concurrency: FirstWrite})
	require.ErrorIs(t, err, ErrConflict, "create-only put must fail when the key exists")

	v2, err := s.Put(ctx, "k", []byte("b"), PutOptions{Concurrency: FirstWrite, ExpectedVersion: v1})
	require.NoError(t, err)
	require.NotEqual(t, v1, v2)

	_, err = s.Put(ctx, "k", []byte("c"), PutOptions{Concurrency: FirstWrite, ExpectedVersion: v1})
	require.ErrorIs(t, err, ErrConflict, "stale version must lose")

	_, err = s.Put(ctx, "k", []byte("d"), PutOptions{Concurrency: LastWrite, ExpectedVersion: "ignored"})
	require.NoError(t, err)

	item, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "d", string(item.Value))
}

func TestMemoryStore_ExpiredKeyAllowsCreate(t *testing.T) {
	clock := &fakeClock{now: fixedNow}
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	v1, err := s.Put(ctx, "k", []byte("a"), PutOptions{Concurrency: FirstWrite, TTL: time.Minute})
	require.NoError(t, err)
	clock.Advance(time.Minute)

	_, err = s.Put(ctx, "k", []byte("b"), PutOptions{Concurrency: FirstWrite, ExpectedVersion: v1})
	require.ErrorIs(t, err, ErrConflict, "expired record must not satisfy a version check")

	_, err = s.Put(ctx, "k", []byte("b"), PutOptions{Concurrency: FirstWrite})
	require.NoError(t, err)
}

func TestMemoryStore_VersionedDelete(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	v, err := s.Put(ctx, "k", []byte("a"), PutOptions{})
	require.NoError(t, err)

	require.ErrorIs(t, s.Delete(ctx, "k", DeleteOptions{ExpectedVersion: "other"}), ErrConflict)
	require.NoError(t, s.Delete(ctx, "k", DeleteOptions{ExpectedVersion: v}))
	require.ErrorIs(t, s.Delete(ctx, "k", DeleteOptions{ExpectedVersion: v}), ErrConflict, "second consume must conflict")
	require.NoError(t, s.Delete(ctx, "k", DeleteOptions{}), "unconditional delete of a missing key is fine")
}

func TestMemoryStore_ConcurrentFirstWriteOnlyOneWins(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	v, err := s.Put(ctx, "k", []byte("base"), PutOptions{})
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Put(ctx, "k", []byte("x"), PutOptions{Concurrency: FirstWrite, ExpectedVersion: v}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestMemoryStore_BulkGetOmitsMissing(t *testing.T) {
	clock := &fakeClock{now: fixedNow}
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	_, err := s.Put(ctx, "a", []byte("A"), PutOptions{})
	require.NoError(t, err)
	_, err = s.Put(ctx, "b", []byte("B"), PutOptions{TTL: time.Second})
	require.NoError(t, err)
	clock.Advance(2 * time.Second)

	got, err := s.BulkGet(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "A", string(got["a"].Value))
	require.Equal(t, 1, s.Len())
}

func TestJSONHelpers(t *testing.T) {
	type record struct {
		Name string `json:"name"`
	}
	s := NewMemoryStore(nil)
	ctx := context.Background()

	_, _, ok, err := GetJSON[record](ctx, s, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	ver, err := PutJSON(ctx, s, "r", record{Name: "x"}, PutOptions{Concurrency: FirstWrite})
	require.NoError(t, err)

	got, gotVer, ok, err := GetJSON[record](ctx, s, "r")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "x", got.Name)
	require.Equal(t, ver, gotVer)

	_, err = s.Put(ctx, "bad", []byte("{"), PutOptions{})
	require.NoError(t, err)
	_, _, _, err = GetJSON[record](ctx, s, "bad")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode")
}
