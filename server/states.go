package server

import (
	"crypto/subtle"
	"sync"
	"time"
)

type stateRecord struct {
	createdAt time.Time
	value     string
	tenant    string
}

// StateStore tracks single-use CSRF state values minted at login and consumed
// at callback.
type StateStore struct {
	mu       sync.Mutex
	records  map[string]stateRecord
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

// NewStateStore constructs an empty store with the given eviction bounds.
func NewStateStore(ttl time.Duration, capacity int) *StateStore {
	return &StateStore{
		records:  make(map[string]stateRecord),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

// Issue mints a state value bound to the tenant and stores it keyed by
// prefix. Every insert triggers store maintenance.
func (s *StateStore) Issue(tenant string) (string, error) {
	value, err := newSecret()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.records[value[:prefixLen]] = stateRecord{createdAt: now, value: value, tenant: tenant}
	maintain(now, s.ttl, s.capacity, s.sweep)
	return value, nil
}

// Consume looks up the presented value by prefix, deletes the record, and
// returns the tenant it was issued for. The record is deleted even when the
// presented value matches only on prefix; such a presentation is still
// rejected, and the full comparison runs in constant time.
func (s *StateStore) Consume(value string) (string, error) {
	if len(value) < prefixLen {
		return "", ErrUnauthenticated
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[value[:prefixLen]]
	if !ok {
		return "", ErrUnauthenticated
	}
	delete(s.records, value[:prefixLen])
	if subtle.ConstantTimeCompare([]byte(rec.value), []byte(value)) != 1 {
		return "", ErrUnauthenticated
	}
	return rec.tenant, nil
}

// Len reports the number of outstanding state records.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *StateStore) sweep(cutoff time.Time) int {
	for k, rec := range s.records {
		if rec.createdAt.Before(cutoff) {
			delete(s.records, k)
		}
	}
	return len(s.records)
}
