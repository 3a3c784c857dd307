package hitlog

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink receives every recorded entry for durable storage or fan-out.
// Sinks run on the recording goroutine's critical-path exit, so
// implementations must be fast or buffer internally.
type Sink interface {
	Persist(Entry)
}

// Log is an append-only, bounded, in-memory record of admission denials.
// The FIFO holds at most capacity entries; the daily aggregate rolls over
// lazily at UTC midnight on the first call after the boundary.
type Log struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry // ring ordered oldest → newest
	head     int
	size     int

	day       time.Time // UTC midnight of the aggregate's day
	today     int
	byKind    map[Kind]int
	byCaller  map[string]int
	totalEver int64

	sinks []Sink
	now   func() time.Time
}

// New creates a Log retaining at most capacity entries.
func New(capacity int, sinks ...Sink) *Log {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Log{
		capacity: capacity,
		entries:  make([]Entry, capacity),
		byKind:   make(map[Kind]int),
		byCaller: make(map[string]int),
		sinks:    sinks,
		now:      time.Now,
	}
}

// Record appends an entry, evicting the oldest once capacity is reached,
// and bumps today's aggregate counters.
func (l *Log) Record(e Entry) {
	l.mu.Lock()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}

	l.rolloverLocked()

	idx := (l.head + l.size) % l.capacity
	l.entries[idx] = e
	if l.size < l.capacity {
		l.size++
	} else {
		l.head = (l.head + 1) % l.capacity // oldest evicted
	}

	l.today++
	l.totalEver++
	l.byKind[e.Kind]++
	l.byCaller[e.CallerID]++

	sinks := l.sinks
	l.mu.Unlock()

	for _, s := range sinks {
		s.Persist(e)
	}

	slog.Debug("denial recorded",
		"kind", e.Kind, "caller", e.CallerID, "limit", e.Limit, "used", e.Used)
}

// rolloverLocked resets today's aggregate if UTC midnight has passed since
// the last recorded day. Caller must hold the lock.
func (l *Log) rolloverLocked() {
	today := midnightUTC(l.now())
	if l.day.Equal(today) {
		return
	}
	l.day = today
	l.today = 0
	l.byKind = make(map[Kind]int)
	l.byCaller = make(map[string]int)
}

// Stats returns today's aggregate and retention counters.
func (l *Log) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	byKind := make(map[Kind]int, len(l.byKind))
	for k, v := range l.byKind {
		byKind[k] = v
	}
	byCaller := make(map[string]int, len(l.byCaller))
	for k, v := range l.byCaller {
		byCaller[k] = v
	}
	return Stats{
		Day:       l.day.Format("2006-01-02"),
		Today:     l.today,
		ByKind:    byKind,
		ByCaller:  byCaller,
		Retained:  l.size,
		Capacity:  l.capacity,
		TotalEver: l.totalEver,
	}
}

// Recent returns up to n entries, newest first.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > l.size {
		n = l.size
	}
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		idx := (l.head + l.size - 1 - i) % l.capacity
		out = append(out, l.entries[idx])
	}
	return out
}

// ByCaller returns all retained entries for a caller, newest first.
func (l *Log) ByCaller(callerID string) []Entry {
	return l.filter(func(e Entry) bool { return e.CallerID == callerID })
}

// ByKind returns all retained entries of a denial kind, newest first.
func (l *Log) ByKind(kind Kind) []Entry {
	return l.filter(func(e Entry) bool { return e.Kind == kind })
}

func (l *Log) filter(keep func(Entry) bool) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Entry
	for i := l.size - 1; i >= 0; i-- {
		e := l.entries[(l.head+i)%l.capacity]
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Clear drops all retained entries and aggregates. Admin-only; used for
// operational resets and test isolation.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.head = 0
	l.size = 0
	l.today = 0
	l.totalEver = 0
	l.byKind = make(map[Kind]int)
	l.byCaller = make(map[string]int)
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
