package hitlog

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_FillsIDAndTimestamp(t *testing.T) {
	log := New(10)

	log.Record(Entry{CallerID: "user:1", Kind: KindDaily})

	entries := log.Recent(1)
	require.Len(t, entries, 1)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", entries[0].ID.String())
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestRecord_EvictsOldestAtCapacity(t *testing.T) {
	log := New(3)

	for i := 1; i <= 5; i++ {
		log.Record(Entry{CallerID: fmt.Sprintf("user:%d", i), Kind: KindThrottle})
	}

	entries := log.Recent(0)
	require.Len(t, entries, 3)
	// Newest first: 5, 4, 3. Entries 1 and 2 were evicted.
	assert.Equal(t, "user:5", entries[0].CallerID)
	assert.Equal(t, "user:4", entries[1].CallerID)
	assert.Equal(t, "user:3", entries[2].CallerID)
}

func TestStats_AggregatesSurviveEviction(t *testing.T) {
	log := New(2)

	for i := 0; i < 5; i++ {
		log.Record(Entry{CallerID: "user:1", Kind: KindRequestsPerMinute})
	}

	stats := log.Stats()
	assert.Equal(t, 5, stats.Today)
	assert.Equal(t, 5, stats.ByKind[KindRequestsPerMinute])
	assert.Equal(t, 5, stats.ByCaller["user:1"])
	assert.Equal(t, 2, stats.Retained)
	assert.Equal(t, int64(5), stats.TotalEver)
}

func TestStats_RollsOverAtMidnightUTC(t *testing.T) {
	log := New(10)

	evening := time.Date(2026, time.March, 10, 23, 50, 0, 0, time.UTC)
	log.now = func() time.Time { return evening }
	log.Record(Entry{CallerID: "user:1", Kind: KindDaily})
	log.Record(Entry{CallerID: "user:1", Kind: KindDaily})

	assert.Equal(t, 2, log.Stats().Today)

	morning := time.Date(2026, time.March, 11, 0, 10, 0, 0, time.UTC)
	log.now = func() time.Time { return morning }

	stats := log.Stats()
	assert.Equal(t, 0, stats.Today)
	assert.Empty(t, stats.ByKind)
	assert.Equal(t, "2026-03-11", stats.Day)
	// The FIFO keeps yesterday's entries; only the aggregate resets.
	assert.Equal(t, 2, stats.Retained)
	assert.Equal(t, int64(2), stats.TotalEver)
}

func TestByCallerAndByKind(t *testing.T) {
	log := New(10)

	log.Record(Entry{CallerID: "user:1", Kind: KindDaily})
	log.Record(Entry{CallerID: "user:2", Kind: KindThrottle})
	log.Record(Entry{CallerID: "user:1", Kind: KindThrottle})

	byCaller := log.ByCaller("user:1")
	require.Len(t, byCaller, 2)
	assert.Equal(t, KindThrottle, byCaller[0].Kind) // newest first

	byKind := log.ByKind(KindThrottle)
	require.Len(t, byKind, 2)
	assert.Equal(t, "user:1", byKind[0].CallerID)
}

func TestClear(t *testing.T) {
	log := New(10)
	log.Record(Entry{CallerID: "user:1", Kind: KindDaily})

	log.Clear()

	assert.Empty(t, log.Recent(0))
	stats := log.Stats()
	assert.Equal(t, 0, stats.Today)
	assert.Equal(t, int64(0), stats.TotalEver)
}

type captureSink struct {
	mu      sync.Mutex
	entries []Entry
}

func (s *captureSink) Persist(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func TestRecord_ForwardsToSinks(t *testing.T) {
	sink := &captureSink{}
	log := New(10, sink)

	log.Record(Entry{CallerID: "user:1", Kind: KindQueueFull})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.entries, 1)
	assert.Equal(t, KindQueueFull, sink.entries[0].Kind)
}

func TestRecord_Concurrent(t *testing.T) {
	log := New(100)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				log.Record(Entry{CallerID: "user:1", Kind: KindRequestsPerHour})
			}
		}()
	}
	wg.Wait()

	stats := log.Stats()
	assert.Equal(t, 400, stats.Today)
	assert.Equal(t, 100, stats.Retained)
}
