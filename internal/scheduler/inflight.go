package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentineldispatch/core/internal/svcerr"
)

const processingKeyPrefix = "processing:"

// inFlightSet is the scheduler-owned structure tracking scheduled-but-
// not-completed event_ids. The Redis marker is authoritative for
// expiry; the in-memory mirror exists so a round can check membership
// without a store round-trip per candidate, and is lazily reconciled
// against the marker's TTL once per round.
type inFlightSet struct {
	rdb *redis.Client

	mu       sync.Mutex
	mirror   map[string]time.Time // event_id -> expiry
}

func newInFlightSet(rdb *redis.Client) *inFlightSet {
	return &inFlightSet{rdb: rdb, mirror: make(map[string]time.Time)}
}

func processingKey(eventID string) string { return processingKeyPrefix + eventID }

// Contains checks the in-memory mirror only — the fast path consulted
// while iterating candidates within a round.
func (f *inFlightSet) Contains(eventID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.mirror[eventID]
	return ok
}

// Add marks an event in-flight with the given expiry (session deadline
// + grace), writing both the authoritative TTL marker and the mirror.
func (f *inFlightSet) Add(ctx context.Context, eventID string, ttl time.Duration) error {
	if err := f.rdb.Set(ctx, processingKey(eventID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: mark in-flight: %v", svcerr.ErrTransientStore, err)
	}
	f.mu.Lock()
	f.mirror[eventID] = time.Now().Add(ttl)
	f.mu.Unlock()
	return nil
}

// Remove clears an event's in-flight marker, called on completion.
func (f *inFlightSet) Remove(ctx context.Context, eventID string) error {
	f.mu.Lock()
	delete(f.mirror, eventID)
	f.mu.Unlock()

	if err := f.rdb.Del(ctx, processingKey(eventID)).Err(); err != nil {
		return fmt.Errorf("%w: clear in-flight: %v", svcerr.ErrTransientStore, err)
	}
	return nil
}

// Cleanup removes mirror entries whose expiry has passed and whose
// Redis marker has already disappeared (the TTL is authoritative; this
// just lets the in-memory mirror catch up).
func (f *inFlightSet) Cleanup(ctx context.Context) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	removed := 0
	for eventID, expiry := range f.mirror {
		if now.Before(expiry) {
			continue
		}
		exists, err := f.rdb.Exists(ctx, processingKey(eventID)).Result()
		if err == nil && exists == 0 {
			delete(f.mirror, eventID)
			removed++
		}
	}
	return removed
}

// Size returns the current mirror size, used for backlog sampling.
func (f *inFlightSet) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mirror)
}
