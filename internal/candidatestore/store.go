// Package candidatestore implements the per-home ordered candidate
// index plus event detail records: a Redis ZSET per home for
// ordering, a Redis hash per event for the detail record, both on a
// 24h TTL, with a hard cap of 2000 entries per home.
package candidatestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentineldispatch/core/internal/model"
	"github.com/sentineldispatch/core/internal/scoring"
	"github.com/sentineldispatch/core/internal/svcerr"
)

const (
	eventTTL   = 24 * time.Hour
	homeCap    = 2000
	candPrefix = "cand:"
	evPrefix   = "ev:"
)

// Store is the Redis-backed Candidate Store.
type Store struct {
	rdb   *redis.Client
	homes *HomeSet
}

// New connects to the shared key/value store at url (e.g.
// "redis://localhost:6379/0").
func New(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	return &Store{rdb: rdb, homes: NewHomeSet(rdb)}, nil
}

// NewWithClient wraps an already-constructed client, used by tests and
// by callers sharing one connection pool across components.
func NewWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, homes: NewHomeSet(rdb)}
}

// Homes exposes the store's own home tracker, the usual HomeLister
// passed to ScanByTier/ScanPending/Stats.
func (s *Store) Homes() *HomeSet {
	return s.homes
}

func candKey(homeID string) string { return candPrefix + homeID }
func evKey(eventID string) string  { return evPrefix + eventID }

func ageMinutes(createdAt time.Time) float64 {
	return time.Since(createdAt).Minutes()
}

func priorityScore(c *model.EventCandidate) float64 {
	return scoring.PriorityScore(scoring.PriorityInputs{
		Priority:           c.Priority.Ordinal(),
		Person:             c.Channels.Person,
		Vehicle:            c.Channels.Vehicle,
		MotionScore:        c.MotionScore,
		TimeOfDayFactor:    valueOrOne(c.TimeOfDayFactor),
		LocationImportance: valueOrOne(c.LocationImportance),
		AgeMinutes:         ageMinutes(c.CreatedAt),
		TierOrdinal:        scoring.TierOrdinal(c.Tier.Ordinal()),
	})
}

func valueOrOne(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

// Add admits a candidate. If an event with the same EventID already
// exists, only its priority score is updated (idempotent); otherwise
// the full record is stored, indexed, and TTL'd, and the home's index
// is trimmed to the cap if it grew past it.
func (s *Store) Add(ctx context.Context, c *model.EventCandidate) error {
	if c.EventID == "" || c.HomeID == "" {
		return svcerr.ErrBadInput
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	exists, err := s.rdb.Exists(ctx, evKey(c.EventID)).Result()
	if err != nil {
		return fmt.Errorf("%w: exists check: %v", svcerr.ErrTransientStore, err)
	}
	score := priorityScore(c)

	if exists == 1 {
		return s.UpdateScoreValue(ctx, c.HomeID, c.EventID, score)
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: marshal candidate: %v", svcerr.ErrBadInput, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, evKey(c.EventID), "data", payload)
	pipe.Expire(ctx, evKey(c.EventID), eventTTL)
	pipe.ZAdd(ctx, candKey(c.HomeID), redis.Z{Score: score, Member: c.EventID})
	pipe.Expire(ctx, candKey(c.HomeID), eventTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: add candidate: %v", svcerr.ErrTransientStore, err)
	}
	if err := s.homes.Track(ctx, c.HomeID); err != nil {
		return fmt.Errorf("%w: track home: %v", svcerr.ErrTransientStore, err)
	}

	return s.trim(ctx, c.HomeID)
}

// trim evicts the lowest-scoring entries past the per-home cap,
// deleting their event records along with the index entries so no
// orphan record survives.
func (s *Store) trim(ctx context.Context, homeID string) error {
	count, err := s.rdb.ZCard(ctx, candKey(homeID)).Result()
	if err != nil {
		return fmt.Errorf("%w: zcard: %v", svcerr.ErrTransientStore, err)
	}
	if count <= homeCap {
		return nil
	}

	overflow := count - homeCap
	evicted, err := s.rdb.ZRange(ctx, candKey(homeID), 0, overflow-1).Result()
	if err != nil {
		return fmt.Errorf("%w: zrange for trim: %v", svcerr.ErrTransientStore, err)
	}
	if len(evicted) == 0 {
		return nil
	}

	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, candKey(homeID), toInterfaceSlice(evicted)...)
	for _, id := range evicted {
		pipe.Del(ctx, evKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: trim exec: %v", svcerr.ErrTransientStore, err)
	}
	return nil
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Get returns an event's detail record, or svcerr.ErrNotFound.
func (s *Store) Get(ctx context.Context, eventID string) (*model.EventCandidate, error) {
	raw, err := s.rdb.HGet(ctx, evKey(eventID), "data").Result()
	if err == redis.Nil {
		return nil, svcerr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", svcerr.ErrTransientStore, err)
	}
	var c model.EventCandidate
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("%w: decode candidate: %v", svcerr.ErrBadInput, err)
	}
	return &c, nil
}

// Top returns up to k candidates for a home, descending by score, ties
// broken by event_id lexicographic order.
func (s *Store) Top(ctx context.Context, homeID string, k int) ([]string, error) {
	// Fetch the whole index so equal scores can be re-sorted by id: a
	// Redis reverse range orders equal scores by descending member.
	zs, err := s.rdb.ZRevRangeWithScores(ctx, candKey(homeID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: top: %v", svcerr.ErrTransientStore, err)
	}
	sort.SliceStable(zs, func(i, j int) bool {
		if zs[i].Score != zs[j].Score {
			return zs[i].Score > zs[j].Score
		}
		return zs[i].Member.(string) < zs[j].Member.(string)
	})
	if len(zs) > k {
		zs = zs[:k]
	}
	ids := make([]string, len(zs))
	for i, z := range zs {
		ids[i], _ = z.Member.(string)
	}
	return ids, nil
}

// UpdateScoreValue recomputes nothing itself — it writes an
// already-computed score, used by Add's idempotent path and by
// UpdateScore below.
func (s *Store) UpdateScoreValue(ctx context.Context, homeID, eventID string, score float64) error {
	if err := s.rdb.ZAdd(ctx, candKey(homeID), redis.Z{Score: score, Member: eventID}).Err(); err != nil {
		return fmt.Errorf("%w: update score: %v", svcerr.ErrTransientStore, err)
	}
	return nil
}

// UpdateScore recomputes and writes an event's priority score in place.
func (s *Store) UpdateScore(ctx context.Context, homeID, eventID string) error {
	c, err := s.Get(ctx, eventID)
	if err != nil {
		return err
	}
	return s.UpdateScoreValue(ctx, homeID, eventID, priorityScore(c))
}

// Remove deletes an event from both the ordered index and the detail
// record. Called by the scheduler when it schedules an event, and by
// ingest when it replaces a record with lite results.
func (s *Store) Remove(ctx context.Context, homeID, eventID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, candKey(homeID), eventID)
	pipe.Del(ctx, evKey(eventID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: remove: %v", svcerr.ErrTransientStore, err)
	}
	return nil
}

// HomeLister is a minimal interface over the set of known homes, needed
// because Redis ZSETs are keyed per home and there is no single global
// ordered structure to scan. ScanByTier/ScanPending accept the known
// home set explicitly; the usual one is the store's own HomeSet, which
// Add fills.
type HomeLister interface {
	Homes(ctx context.Context) ([]string, error)
}

// HomeSet is the simplest HomeLister: a Redis set of home_ids maintained
// alongside Add, used by ScanByTier/ScanPending.
type HomeSet struct {
	rdb *redis.Client
	key string
}

// NewHomeSet returns a HomeSet tracking every home that has ever had a
// candidate added.
func NewHomeSet(rdb *redis.Client) *HomeSet {
	return &HomeSet{rdb: rdb, key: "cand:homes"}
}

func (h *HomeSet) Track(ctx context.Context, homeID string) error {
	return h.rdb.SAdd(ctx, h.key, homeID).Err()
}

func (h *HomeSet) Homes(ctx context.Context) ([]string, error) {
	return h.rdb.SMembers(ctx, h.key).Result()
}

// candidateScore pairs an event with its store score and owning home,
// used internally by the tier scan.
type candidateScore struct {
	EventID string
	HomeID  string
	Score   float64
}

// ScanByTier unions each home's top candidates whose tier matches,
// globally re-sorted by score. Allowed to be O(H·k); H is expected
// modest.
func (s *Store) ScanByTier(ctx context.Context, homes HomeLister, tier model.Tier, limit int) ([]*model.EventCandidate, error) {
	return s.scan(ctx, homes, limit, func(c *model.EventCandidate) bool {
		return c.Tier == tier
	})
}

// ScanPending is ScanByTier's sibling, filtered to events that have not
// completed lite processing.
func (s *Store) ScanPending(ctx context.Context, homes HomeLister, limit int) ([]*model.EventCandidate, error) {
	return s.scan(ctx, homes, limit, func(c *model.EventCandidate) bool {
		return !c.LiteProcessed
	})
}

func (s *Store) scan(ctx context.Context, homes HomeLister, limit int, keep func(*model.EventCandidate) bool) ([]*model.EventCandidate, error) {
	homeIDs, err := homes.Homes(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list homes: %v", svcerr.ErrTransientStore, err)
	}

	var out []*candScored
	for _, homeID := range homeIDs {
		ids, err := s.rdb.ZRevRangeWithScores(ctx, candKey(homeID), 0, int64(limit)-1).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: scan zrange: %v", svcerr.ErrTransientStore, err)
		}
		// A reverse range orders equal scores by descending member, so a tie
		// at the cut-off could drop a smaller event_id; widen the fetch to
		// every member scoring at least as high as the last one.
		if n := len(ids); n > 0 && n == limit {
			floor := strconv.FormatFloat(ids[n-1].Score, 'g', -1, 64)
			ids, err = s.rdb.ZRevRangeByScoreWithScores(ctx, candKey(homeID), &redis.ZRangeBy{Min: floor, Max: "+inf"}).Result()
			if err != nil {
				return nil, fmt.Errorf("%w: scan zrange: %v", svcerr.ErrTransientStore, err)
			}
		}
		for _, z := range ids {
			eventID, _ := z.Member.(string)
			c, err := s.Get(ctx, eventID)
			if err != nil {
				continue // evicted between ZRANGE and HGET; skip rather than fail the scan
			}
			if !keep(c) {
				continue
			}
			out = append(out, &candScored{c: c, score: z.Score})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].c.EventID < out[j].c.EventID
	})

	if len(out) > limit {
		out = out[:limit]
	}

	result := make([]*model.EventCandidate, len(out))
	for i, cs := range out {
		result[i] = cs.c
	}
	return result, nil
}

type candScored struct {
	c     *model.EventCandidate
	score float64
}

// Stats holds totals, per-tier and per-priority counts.
type Stats struct {
	Total      int
	PerTier    map[model.Tier]int
	PerPriority map[model.Priority]int
}

// Stats samples the tracked homes for totals and distribution fields.
func (s *Store) Stats(ctx context.Context, homes HomeLister) (*Stats, error) {
	homeIDs, err := homes.Homes(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: stats homes: %v", svcerr.ErrTransientStore, err)
	}

	st := &Stats{
		PerTier:     make(map[model.Tier]int),
		PerPriority: make(map[model.Priority]int),
	}
	for _, homeID := range homeIDs {
		ids, err := s.rdb.ZRange(ctx, candKey(homeID), 0, -1).Result()
		if err != nil {
			continue
		}
		st.Total += len(ids)
		for _, id := range ids {
			c, err := s.Get(ctx, id)
			if err != nil {
				continue
			}
			st.PerTier[c.Tier]++
			st.PerPriority[c.Priority]++
		}
	}
	return st, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}
