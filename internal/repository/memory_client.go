package repository

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is a goroutine-safe Store backed by a map. Expiry is evaluated
// against an injectable clock so TTL behaviour can be tested without sleeping.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	seq     uint64
	now     func() time.Time
}

type memoryRecord struct {
	value     []byte
	version   string
	expiresAt time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{records: make(map[string]memoryRecord), now: now}
}

// live returns the record under key if it exists and has not expired.
// Callers must hold s.mu.
func (s *MemoryStore) live(key string) (memoryRecord, bool) {
	rec, ok := s.records[key]
	if !ok {
		return memoryRecord{}, false
	}
	if !rec.expiresAt.IsZero() && !s.now().Before(rec.expiresAt) {
		delete(s.records, key)
		return memoryRecord{}, false
	}
	return rec, true
}

func (s *MemoryStore) Get(_ context.Context, key string) (Item, bool, error) {
	if err := validateKey(key); err != nil {
		return Item{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.live(key)
	if !ok {
		return Item{}, false, nil
	}
	return Item{Value: append([]byte(nil), rec.value...), Version: rec.version}, true, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte, opts PutOptions) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.live(key)
	if opts.Concurrency == FirstWrite {
		if opts.ExpectedVersion == "" && exists {
			return "", ErrConflict
		}
		if opts.ExpectedVersion != "" && (!exists || cur.version != opts.ExpectedVersion) {
			return "", ErrConflict
		}
	}

	s.seq++
	rec := memoryRecord{
		value:   append([]byte(nil), value...),
		version: strconv.FormatUint(s.seq, 10),
	}
	if opts.TTL > 0 {
		rec.expiresAt = s.now().Add(opts.TTL)
	}
	s.records[key] = rec
	return rec.version, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string, opts DeleteOptions) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.live(key)
	if opts.ExpectedVersion != "" && (!exists || cur.version != opts.ExpectedVersion) {
		return ErrConflict
	}
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) BulkGet(ctx context.Context, keys []string) (map[string]Item, error) {
	out := make(map[string]Item, len(keys))
	for _, k := range dedupe(keys) {
		item, ok, err := s.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = item
		}
	}
	return out, nil
}

// Len returns the number of live records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.records {
		if _, ok := s.live(k); ok {
			n++
		}
	}
	return n
}
