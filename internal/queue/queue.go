// Package queue wraps the six named FIFO queues as Redis lists
// with blocking-pop-with-timeout semantics, the sole synchronization
// between the scheduler and the worker pool.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentineldispatch/core/internal/svcerr"
)

// Queue is a single named Redis-list FIFO.
type Queue struct {
	rdb  *redis.Client
	name string
}

// New binds a Queue to a Redis key name.
func New(rdb *redis.Client, name string) *Queue {
	return &Queue{rdb: rdb, name: name}
}

// Push JSON-encodes item and pushes it onto the head of the Redis list
// (LPUSH); BlockingPop takes from the tail, so the list is a FIFO.
func (q *Queue) Push(ctx context.Context, item interface{}) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("%w: marshal queue item: %v", svcerr.ErrBadInput, err)
	}
	if err := q.rdb.LPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("%w: push to %s: %v", svcerr.ErrQueueUnavailable, q.name, err)
	}
	return nil
}

// BlockingPop attempts to pop one item within timeout. It returns
// (nil, nil) on timeout — not an error, the caller's main loop is
// expected to continue polling.
func (q *Queue) BlockingPop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.name).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: pop from %s: %v", svcerr.ErrQueueUnavailable, q.name, err)
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("%w: unexpected brpop reply shape", svcerr.ErrQueueUnavailable)
	}
	return []byte(res[1]), nil
}

// Len returns the queue's current length.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: len %s: %v", svcerr.ErrQueueUnavailable, q.name, err)
	}
	return n, nil
}

// Name returns the queue's Redis key.
func (q *Queue) Name() string { return q.name }
