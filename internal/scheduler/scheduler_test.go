package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentineldispatch/core/internal/candidatestore"
	"github.com/sentineldispatch/core/internal/metrics"
	"github.com/sentineldispatch/core/internal/model"
	"github.com/sentineldispatch/core/internal/queue"
	"github.com/sentineldispatch/core/internal/tokenbucket"
)

func newTestScheduler(t *testing.T) (*Scheduler, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := candidatestore.NewWithClient(rdb)
	queues := queue.NewQueues(rdb)
	buckets := tokenbucket.NewGroup(2, 7, 32, 5)

	cfg := Config{
		Cadence:               30 * time.Second,
		TopKLimit:             50,
		MaxBatchSize:          10,
		NumGPUs:               1,
		AutothrottleThreshold: 150,
		ThrottleReduction:     0.40,
		InFlightGrace:         30 * time.Second,
		DefaultDeadlineMs:     300000,
		DefaultK:              1,
	}

	return New(cfg, store, rdb, queues, buckets, metrics.NoopSink{}), rdb
}

func addCandidate(t *testing.T, store *candidatestore.Store, id, home string, tier model.Tier, motion float64) {
	t.Helper()
	require.NoError(t, store.Add(context.Background(), &model.EventCandidate{
		EventID:            id,
		HomeID:             home,
		Priority:           model.PriorityNormal,
		Tier:               tier,
		CreatedAt:          time.Now().UTC().Add(-2 * time.Hour), // past the recency window: equal inputs score equally
		MotionScore:        motion,
		TimeOfDayFactor:    1.0,
		LocationImportance: 1.0,
	}))
}

func TestRunRound_RateLimiting(t *testing.T) {
	sched, rdb := newTestScheduler(t)
	store := candidatestore.NewWithClient(rdb)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		addCandidate(t, store, sprintfID(i), "home-premium", model.TierPremium, 0.9)
	}

	stats, err := sched.RunRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.PerTier[model.TierPremium].Scheduled)
}

func TestRunRound_TieBreakByEventID(t *testing.T) {
	sched, rdb := newTestScheduler(t)
	store := candidatestore.NewWithClient(rdb)
	ctx := context.Background()

	addCandidate(t, store, "zzz", "home-1", model.TierStandard, 0.5)
	addCandidate(t, store, "aaa", "home-1", model.TierStandard, 0.5)

	sched.cfg.MaxBatchSize = 1
	stats, err := sched.RunRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PerTier[model.TierStandard].Scheduled)

	raw, err := rdb.LRange(ctx, model.TierStandard.QueueName(), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Contains(t, raw[0], "aaa")
}

func TestMaybePreempt_LifeSafetyBypassesBuckets(t *testing.T) {
	sched, rdb := newTestScheduler(t)
	store := candidatestore.NewWithClient(rdb)
	ctx := context.Background()

	buckets := tokenbucket.NewGroup(2, 7, 32, 5)
	buckets.Get("STANDARD").TryConsume(2) // drain STANDARD fully
	sched.buckets = buckets

	c := &model.EventCandidate{
		EventID:   "emergency-1",
		HomeID:    "home-1",
		Mode:      "emergency",
		Tier:      model.TierStandard,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Add(ctx, c))

	preempted, err := sched.MaybePreempt(ctx, c)
	require.NoError(t, err)
	assert.True(t, preempted)

	n, err := sched.queues.Emergency.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestForceSchedule_FailsCleanlyWhenAbsent(t *testing.T) {
	sched, _ := newTestScheduler(t)
	err := sched.ForceSchedule(context.Background(), "does-not-exist", model.TierStandard)
	assert.Error(t, err)
}

func sprintfID(i int) string {
	const digits = "0123456789"
	b := []byte{'e', 'v', 't', '-'}
	if i < 10 {
		b = append(b, '0')
	}
	b = append(b, digits[i/10], digits[i%10])
	return string(b)
}
