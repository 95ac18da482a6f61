package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

type recordKey struct {
	collection Collection
	key        string
}

type pendingWrite struct {
	payload []byte
}

// MemoryStore is an in-process Store with optimistic concurrency control.
// Transactions track the version of every key they read and validate it under
// the commit lock.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[recordKey]Record
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[recordKey]Record),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Get(ctx context.Context, collection Collection, key string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[recordKey{collection, key}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Scan(ctx context.Context, collection Collection) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Record, 0, len(s.data))
	for k, rec := range s.data {
		if k.collection == collection {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) Put(ctx context.Context, collection Collection, key string, value any) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	payload, err := encode(collection, key, value)
	if err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(recordKey{collection, key}, payload, s.now()), nil
}

func (s *MemoryStore) Transact(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{
		store:  s,
		reads:  make(map[recordKey]int64),
		writes: make(map[recordKey]pendingWrite),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *MemoryStore) commit(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, seen := range tx.reads {
		if s.versionLocked(k) != seen {
			return ErrConflict
		}
	}
	now := s.now()
	for _, k := range tx.order {
		s.applyLocked(k, tx.writes[k].payload, now)
	}
	return nil
}

func (s *MemoryStore) versionLocked(k recordKey) int64 {
	if rec, ok := s.data[k]; ok {
		return rec.Version
	}
	return 0
}

func (s *MemoryStore) applyLocked(k recordKey, payload []byte, now time.Time) Record {
	rec, ok := s.data[k]
	if !ok {
		rec = Record{Collection: k.collection, Key: k.key, CreatedAt: now}
	}
	rec.Version++
	rec.Payload = append([]byte(nil), payload...)
	rec.UpdatedAt = now
	s.data[k] = rec
	return rec
}

type memoryTx struct {
	store  *MemoryStore
	reads  map[recordKey]int64
	writes map[recordKey]pendingWrite
	order  []recordKey
}

func (t *memoryTx) Get(collection Collection, key string) (Record, error) {
	k := recordKey{collection, key}
	if w, ok := t.writes[k]; ok {
		return Record{Collection: collection, Key: key, Version: t.reads[k], Payload: w.payload}, nil
	}
	t.store.mu.RLock()
	rec, ok := t.store.data[k]
	t.store.mu.RUnlock()
	if _, seen := t.reads[k]; !seen {
		t.reads[k] = rec.Version
	}
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (t *memoryTx) Put(collection Collection, key string, value any) error {
	payload, err := encode(collection, key, value)
	if err != nil {
		return err
	}
	t.stage(recordKey{collection, key}, payload)
	return nil
}

func (t *memoryTx) CreateIfAbsent(collection Collection, key string, value any) (bool, error) {
	payload, err := encode(collection, key, value)
	if err != nil {
		return false, err
	}
	_, err = t.Get(collection, key)
	switch {
	case err == nil:
		return false, nil
	case err != ErrNotFound:
		return false, err
	}
	t.stage(recordKey{collection, key}, payload)
	return true, nil
}

func (t *memoryTx) stage(k recordKey, payload []byte) {
	if _, ok := t.writes[k]; !ok {
		t.order = append(t.order, k)
	}
	t.writes[k] = pendingWrite{payload: payload}
}
