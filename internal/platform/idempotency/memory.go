package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for tests and single instance runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	id := hashKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.records[id]; ok {
		if res, held, err := current.answer(fingerprint, now); held || err != nil {
			return res, err
		}
	}
	rec := newRecord(key, fingerprint, now, ttl)
	s.records[id] = rec
	return Reservation{State: Acquired, Record: rec}, nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	id := hashKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	switch {
	case !ok:
		rec = Record{Key: key, Fingerprint: fingerprint}
	case rec.Fingerprint != fingerprint:
		return ErrFingerprintMismatch
	}
	s.records[id] = rec.complete(resp, now.UTC(), ttl)
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.records, hashKey(key))
	s.mu.Unlock()
	return nil
}

// CleanupExpired removes at most limit expired records; limit <= 0 removes all of them.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for id, rec := range s.records {
		if limit > 0 && removed == limit {
			break
		}
		if rec.expired(now) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}
