package ingest

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
	"github.com/sentineldispatch/core/internal/scheduler"
	"github.com/sentineldispatch/core/internal/tokenbucket"
	"github.com/sentineldispatch/core/pkg/messaging"
)

type fakeBus struct {
	published []messaging.Event
}

func (f *fakeBus) Publish(ctx interface{}, event messaging.Event) error {
	f.published = append(f.published, event)
	return nil
}

func newTestIngest(t *testing.T) (*Ingest, *candidatestore.Store, *fakeBus) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := candidatestore.NewWithClient(rdb)
	queues := queue.NewQueues(rdb)
	buckets := tokenbucket.NewGroup(2, 7, 32, 5)

	sched := scheduler.New(scheduler.Config{
		Cadence:               30 * time.Second,
		TopKLimit:             50,
		MaxBatchSize:          10,
		AutothrottleThreshold: 150,
		ThrottleReduction:     0.40,
		InFlightGrace:         30 * time.Second,
		DefaultDeadlineMs:     300000,
		DefaultK:              1,
	}, store, rdb, queues, buckets, metrics.NoopSink{})

	bus := &fakeBus{}
	return New(store, sched, bus), store, bus
}

func TestOnNewEvent_DerivesFallbackHomeID(t *testing.T) {
	in, store, bus := newTestIngest(t)

	err := in.OnNewEvent(context.Background(), NewEventPayload{
		EventID:  "evt-1",
		UserID:   "user-42",
		ImageURL: "https://example.test/img.jpg",
		Location: "driveway",
		Priority: 1,
	})
	require.NoError(t, err)

	candidate, err := store.Get(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, fallbackHomeID("user-42"), candidate.HomeID)
	assert.Equal(t, model.TierStandard, candidate.Tier)
	require.Len(t, bus.published, 1)
	assert.Equal(t, messaging.EventTypeCandidateAdded, bus.published[0].Type)
}

func TestOnNewEvent_PreemptsLifeSafetyInsteadOfAdmitting(t *testing.T) {
	in, store, bus := newTestIngest(t)

	err := in.OnNewEvent(context.Background(), NewEventPayload{
		EventID:  "evt-emergency",
		HomeID:   "home-1",
		UserID:   "user-1",
		Location: "front_door",
		Priority: 3,
	})
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "evt-emergency")
	assert.Error(t, err, "preempted events must not land in the candidate store")
	require.Len(t, bus.published, 1)
	assert.Equal(t, messaging.EventTypeLifeSafetyPreempt, bus.published[0].Type)
}

func TestOnLiteResults_UpdatesChannelsAndRescores(t *testing.T) {
	in, store, bus := newTestIngest(t)

	require.NoError(t, in.OnNewEvent(context.Background(), NewEventPayload{
		EventID:  "evt-2",
		HomeID:   "home-2",
		UserID:   "user-2",
		Location: "driveway",
		Priority: 1,
	}))

	err := in.OnLiteResults(context.Background(), LiteResultsPayload{
		EventID:    "evt-2",
		Channels:   model.Channels{Person: true},
		Confidence: 0.8,
	})
	require.NoError(t, err)

	candidate, err := store.Get(context.Background(), "evt-2")
	require.NoError(t, err)
	assert.True(t, candidate.LiteProcessed)
	assert.True(t, candidate.Channels.Person)
	assert.Equal(t, model.PriorityHigh, candidate.Priority)
	require.Len(t, bus.published, 2)
	assert.Equal(t, messaging.EventTypeCandidateRescored, bus.published[1].Type)
}

func TestOnLiteResults_MissingCandidateIsBenign(t *testing.T) {
	in, _, _ := newTestIngest(t)
	err := in.OnLiteResults(context.Background(), LiteResultsPayload{EventID: "does-not-exist"})
	assert.NoError(t, err)
}
