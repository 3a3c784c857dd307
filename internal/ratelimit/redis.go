package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "rate:caller:"

// redisStore keeps request instants in a Redis sorted set per caller, scored
// by unix millisecond. Key TTL handles compaction, so Compact is a no-op.
// Use this store when multiple service instances must share rate state.
type redisStore struct {
	rdb redis.Cmdable
}

// NewRedisStore creates a Store backed by Redis sorted sets.
func NewRedisStore(rdb redis.Cmdable) Store {
	return &redisStore{rdb: rdb}
}

func key(callerID string) string {
	return redisKeyPrefix + callerID
}

func (s *redisStore) Last(ctx context.Context, callerID string) (time.Time, bool, error) {
	vals, err := s.rdb.ZRevRangeWithScores(ctx, key(callerID), 0, 0).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("fetching last request: %w", err)
	}
	if len(vals) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(int64(vals[0].Score)), true, nil
}

func (s *redisStore) CountSince(ctx context.Context, callerID string, since time.Time) (int, time.Time, error) {
	k := key(callerID)
	min := strconv.FormatInt(since.UnixMilli(), 10)

	pipe := s.rdb.Pipeline()
	countCmd := pipe.ZCount(ctx, k, min, "+inf")
	oldestCmd := pipe.ZRangeByScoreWithScores(ctx, k, &redis.ZRangeBy{
		Min: min, Max: "+inf", Count: 1,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("counting requests in window: %w", err)
	}

	n := int(countCmd.Val())
	var oldest time.Time
	if vals := oldestCmd.Val(); len(vals) > 0 {
		oldest = time.UnixMilli(int64(vals[0].Score))
	}
	return n, oldest, nil
}

func (s *redisStore) Record(ctx context.Context, callerID string, at time.Time) error {
	k := key(callerID)
	member := fmt.Sprintf("%d", at.UnixNano())

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(at.UnixMilli()), Member: member})
	pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(at.Add(-retention).UnixMilli(), 10))
	pipe.Expire(ctx, k, retention+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording request: %w", err)
	}
	return nil
}

// Compact is a no-op: Record trims per key and the TTL reaps idle callers.
func (s *redisStore) Compact(context.Context, time.Time) error {
	return nil
}
