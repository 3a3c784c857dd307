package hitlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists denial hits to the denial_hits PostgreSQL table.
// It implements Sink; inserts run on a buffered background queue so a slow
// database never delays an admission decision.
type Repository struct {
	pool  *pgxpool.Pool
	queue chan Entry
	done  chan struct{}
}

// NewRepository creates a Repository and starts its writer goroutine.
func NewRepository(pool *pgxpool.Pool) *Repository {
	r := &Repository{
		pool:  pool,
		queue: make(chan Entry, 256),
		done:  make(chan struct{}),
	}
	go r.writeLoop()
	return r
}

// Persist enqueues an entry for insertion. Drops the entry with a warning
// if the queue is full; the in-memory log remains authoritative.
func (r *Repository) Persist(e Entry) {
	select {
	case r.queue <- e:
	default:
		slog.Warn("hitlog repository: write queue full, dropping entry", "kind", e.Kind)
	}
}

// Close stops the writer after draining queued entries.
func (r *Repository) Close() {
	close(r.queue)
	<-r.done
}

func (r *Repository) writeLoop() {
	defer close(r.done)
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.insert(ctx, e); err != nil {
			slog.Warn("hitlog repository: inserting hit", "error", err)
		}
		cancel()
	}
}

func (r *Repository) insert(ctx context.Context, e Entry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO denial_hits (id, recorded_at, caller_id, session_id, kind, limit_value, used, remaining, message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Timestamp, e.CallerID, e.SessionID, string(e.Kind), e.Limit, e.Used, e.Remaining, e.Message)
	if err != nil {
		return fmt.Errorf("inserting denial hit: %w", err)
	}
	return nil
}

// ListByCaller returns up to limit persisted hits for a caller, newest first.
// Serves operator queries that reach further back than the in-memory FIFO.
func (r *Repository) ListByCaller(ctx context.Context, callerID string, limit int) ([]Entry, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, recorded_at, caller_id, session_id, kind, limit_value, used, remaining, message
		 FROM denial_hits WHERE caller_id = $1
		 ORDER BY recorded_at DESC LIMIT $2`, callerID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying denial hits: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.CallerID, &e.SessionID,
			&kind, &e.Limit, &e.Used, &e.Remaining, &e.Message); err != nil {
			return nil, fmt.Errorf("scanning denial hit: %w", err)
		}
		e.Kind = Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}
