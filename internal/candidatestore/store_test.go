package candidatestore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentineldispatch/core/internal/model"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewWithClient(rdb), mr
}

func baseCandidate(id, home string) *model.EventCandidate {
	return &model.EventCandidate{
		EventID:            id,
		HomeID:             home,
		Priority:           model.PriorityNormal,
		Tier:               model.TierStandard,
		CreatedAt:          time.Now().UTC(),
		TimeOfDayFactor:    1.0,
		LocationImportance: 1.0,
	}
}

func TestAdd_IdempotentReAdd(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	c := baseCandidate("evt-1", "home-1")
	require.NoError(t, store.Add(ctx, c))

	c2 := baseCandidate("evt-1", "home-1")
	c2.Channels.Person = true
	require.NoError(t, store.Add(ctx, c2))

	ids, err := store.Top(ctx, "home-1", 10)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestAdd_TrimsAtCap(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < homeCap+5; i++ {
		c := baseCandidate(fmt.Sprintf("evt-%05d", i), "home-1")
		c.MotionScore = float64(i) / float64(homeCap+5) // increasing score
		require.NoError(t, store.Add(ctx, c))
	}

	ids, err := store.Top(ctx, "home-1", homeCap+10)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(ids), homeCap)
}

func TestAdd_TrimDeletesEvictedRecord(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	lowest := baseCandidate("evt-lowest", "home-1")
	lowest.MotionScore = 0
	require.NoError(t, store.Add(ctx, lowest))

	for i := 0; i < homeCap; i++ {
		c := baseCandidate(fmt.Sprintf("evt-%05d", i), "home-1")
		c.MotionScore = 1
		require.NoError(t, store.Add(ctx, c))
	}

	_, err := store.Get(ctx, "evt-lowest")
	assert.Error(t, err, "evicted event record must be gone, not orphaned")
}

func TestRemove_DeletesBothIndexAndRecord(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	c := baseCandidate("evt-1", "home-1")
	require.NoError(t, store.Add(ctx, c))
	require.NoError(t, store.Remove(ctx, "home-1", "evt-1"))

	_, err := store.Get(ctx, "evt-1")
	assert.Error(t, err)

	ids, err := store.Top(ctx, "home-1", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestScanByTier_FiltersAndSortsAcrossHomes(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	standard := baseCandidate("std-1", "home-a")
	standard.Tier = model.TierStandard
	standard.MotionScore = 0.1
	require.NoError(t, store.Add(ctx, standard))

	premium := baseCandidate("prem-1", "home-b")
	premium.Tier = model.TierPremium
	premium.MotionScore = 0.9
	require.NoError(t, store.Add(ctx, premium))

	results, err := store.ScanByTier(ctx, store.Homes(), model.TierStandard, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "std-1", results[0].EventID)
}

func TestTieBreak_ByEventIDLexicographicOrder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	a := baseCandidate("bbb", "home-1")
	b := baseCandidate("aaa", "home-1")
	// identical priority inputs, both past the 60-minute recency window
	// (so the add time cannot matter) -> identical score
	a.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	b.CreatedAt = a.CreatedAt
	require.NoError(t, store.Add(ctx, a))
	require.NoError(t, store.Add(ctx, b))

	results, err := store.ScanByTier(ctx, store.Homes(), model.TierStandard, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "aaa", results[0].EventID)
}
