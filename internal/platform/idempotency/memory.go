package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process. It backs the memory inventory backend and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty memory-backed idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Reserve implements the Store interface.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	id := recordID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok || record.Expired(now) {
		record = newPendingRecord(key, fingerprint, now, normalizeTTL(ttl))
		s.records[id] = record
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}
	return record.reservation(fingerprint)
}

// SaveResponse implements the Store interface.
func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	id := recordID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		record = Record{Key: key, Fingerprint: fingerprint}
	} else if record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	record.complete(resp, now, normalizeTTL(ttl))
	s.records[id] = record
	return nil
}

// Release drops a reservation held for fingerprint so the caller can retry.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	id := recordID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil
	}
	if record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	delete(s.records, id)
	return nil
}

// CleanupExpired removes at most limit expired records; a non-positive limit removes all.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, record := range s.records {
		if limit > 0 && removed >= limit {
			break
		}
		if !record.Expired(now) {
			continue
		}
		delete(s.records, id)
		removed++
	}
	return removed, nil
}
