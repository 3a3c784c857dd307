package ratelimit

import (
	"context"
	"sync"
	"time"
)

// retention bounds how far back any store keeps request timestamps.
const retention = 24 * time.Hour

// Store keeps per-caller request instants. Implementations must be safe for
// concurrent use. The reference memStore is in-process; redisStore shares
// state across service instances.
type Store interface {
	// Last returns the caller's most recent request instant.
	Last(ctx context.Context, callerID string) (time.Time, bool, error)
	// CountSince returns how many requests the caller made at or after
	// since, plus the oldest instant inside that window.
	CountSince(ctx context.Context, callerID string, since time.Time) (int, time.Time, error)
	// Record appends a request instant for the caller.
	Record(ctx context.Context, callerID string, at time.Time) error
	// Compact drops instants older than cutoff across all callers.
	Compact(ctx context.Context, cutoff time.Time) error
}

// rateRecord is one caller's ordered timestamp sequence.
type rateRecord struct {
	timestamps []time.Time // ascending
	last       time.Time
}

// memStore is the reference in-memory Store.
type memStore struct {
	mu      sync.Mutex
	records map[string]*rateRecord
}

// NewMemStore creates the in-process reference store.
func NewMemStore() Store {
	return &memStore{records: make(map[string]*rateRecord)}
}

func (s *memStore) Last(_ context.Context, callerID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[callerID]
	if !ok || rec.last.IsZero() {
		return time.Time{}, false, nil
	}
	return rec.last, true, nil
}

func (s *memStore) CountSince(_ context.Context, callerID string, since time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[callerID]
	if !ok {
		return 0, time.Time{}, nil
	}

	// Lazy prune: nothing older than the retention window survives a read.
	rec.prune(since.Add(-retention))

	n := 0
	var oldest time.Time
	for _, ts := range rec.timestamps {
		if ts.Before(since) {
			continue
		}
		if n == 0 {
			oldest = ts
		}
		n++
	}
	return n, oldest, nil
}

func (s *memStore) Record(_ context.Context, callerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[callerID]
	if !ok {
		rec = &rateRecord{}
		s.records[callerID] = rec
	}
	rec.timestamps = append(rec.timestamps, at)
	rec.last = at
	return nil
}

func (s *memStore) Compact(_ context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range s.records {
		rec.prune(cutoff)
		if len(rec.timestamps) == 0 && rec.last.Before(cutoff) {
			delete(s.records, id)
		}
	}
	return nil
}

// prune drops timestamps strictly before cutoff. Timestamps are appended in
// order, so a single scan from the front suffices.
func (r *rateRecord) prune(cutoff time.Time) {
	i := 0
	for i < len(r.timestamps) && r.timestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		r.timestamps = append(r.timestamps[:0], r.timestamps[i:]...)
	}
}
