package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentineldispatch/core/internal/candidatestore"
	"github.com/sentineldispatch/core/internal/metrics"
	"github.com/sentineldispatch/core/internal/model"
	"github.com/sentineldispatch/core/internal/operatorauth"
	"github.com/sentineldispatch/core/internal/queue"
	"github.com/sentineldispatch/core/internal/scheduler"
	"github.com/sentineldispatch/core/internal/tokenbucket"
	"github.com/sentineldispatch/core/internal/worker"
)

type fakeWorkerStats struct{ s worker.Stats }

func (f fakeWorkerStats) Stats() worker.Stats { return f.s }

func newTestAdmin(t *testing.T) (*Admin, *candidatestore.Store, *operatorauth.Verifier) {
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

	verifier := operatorauth.NewVerifier("test-secret")
	a := New(Config{Addr: ":0", RoundPushPeriod: 50 * time.Millisecond}, sched, store, fakeWorkerStats{worker.Stats{WorkerID: "w1"}}, verifier)
	return a, store, verifier
}

func TestHealthCheck(t *testing.T) {
	a, _, _ := newTestAdmin(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStats_IncludesCandidateAndWorkerStats(t *testing.T) {
	a, store, _ := newTestAdmin(t)
	require.NoError(t, store.Add(context.Background(), &model.EventCandidate{
		EventID: "evt-1",
		HomeID:  "home-1",
		Tier:    model.TierStandard,
	}))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Candidates)
	assert.Equal(t, 1, resp.Candidates.Total)
	require.NotNil(t, resp.Worker)
	assert.Equal(t, "w1", resp.Worker.WorkerID)
	assert.Contains(t, resp.BucketLevels, "STANDARD")
	assert.Contains(t, resp.QueueLengths, model.QueueEmergency)
	assert.Equal(t, 0, resp.InFlightCount)
}

func TestForceSchedule_RequiresAuth(t *testing.T) {
	a, _, _ := newTestAdmin(t)

	body, _ := json.Marshal(forceScheduleRequest{EventID: "evt-1", Tier: "standard"})
	req := httptest.NewRequest(http.MethodPost, "/operator/force-schedule", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestForceSchedule_FailsCleanlyWhenCandidateAbsent(t *testing.T) {
	a, _, verifier := newTestAdmin(t)
	token, err := verifier.IssueToken("op-1")
	require.NoError(t, err)

	body, _ := json.Marshal(forceScheduleRequest{EventID: "does-not-exist", Tier: "standard"})
	req := httptest.NewRequest(http.MethodPost, "/operator/force-schedule", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestForceSchedule_SchedulesExistingCandidate(t *testing.T) {
	a, store, verifier := newTestAdmin(t)
	require.NoError(t, store.Add(context.Background(), &model.EventCandidate{
		EventID: "evt-2",
		HomeID:  "home-2",
		Tier:    model.TierStandard,
	}))

	token, err := verifier.IssueToken("op-1")
	require.NoError(t, err)

	body, _ := json.Marshal(forceScheduleRequest{EventID: "evt-2", Tier: "standard"})
	req := httptest.NewRequest(http.MethodPost, "/operator/force-schedule", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}
