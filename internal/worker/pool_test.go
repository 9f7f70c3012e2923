package worker

import (
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
	"github.com/sentineldispatch/core/internal/queue"
	"github.com/sentineldispatch/core/internal/scheduler"
	"github.com/sentineldispatch/core/internal/tokenbucket"
	"github.com/sentineldispatch/core/pkg/circuit"
)

func jsonMarshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

type fakeDetector struct {
	dets []Detection
	conf float64
	err  error
}

func (f *fakeDetector) Detect(ctx context.Context, image []byte, loc string, lite *model.LiteResults) ([]Detection, float64, error) {
	return f.dets, f.conf, f.err
}

func newTestPool(t *testing.T, cfg Config, detector Detector) (*Pool, *redis.Client, *queue.Queues) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	queues := queue.NewQueues(rdb)
	store := candidatestore.NewWithClient(rdb)
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

	breakers := circuit.NewBreakerGroup(circuit.Config{MaxFailures: 1000, Timeout: time.Minute, HalfOpenMax: 1})

	return New(cfg, queues, rdb, sched, detector, breakers, metrics.NoopSink{}), rdb, queues
}

func testImageServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProcessSession_AggregatesFindingsAndPersistsResult(t *testing.T) {
	srv := testImageServer(t, "fake-image-bytes")
	detector := &fakeDetector{dets: []Detection{{Class: "person", Confidence: 0.9}}, conf: 0.9}

	pool, rdb, _ := newTestPool(t, Config{
		WorkerID:        "w1",
		DownloadTimeout: 5 * time.Second,
		MaxImageBytes:   1 << 20,
	}, detector)

	sess := &model.Session{
		SessionID:  "sess-1",
		HomeID:     "home-1",
		EventIDs:   []string{"evt-1"},
		Tier:       model.TierPremium,
		K:          1,
		DeadlineMs: 5000,
		ImageURL:   srv.URL,
		Location:   "front_door",
	}

	result := pool.ProcessSession(context.Background(), sess)

	require.True(t, result.Success)
	require.Len(t, result.Findings.EventsProcessed, 1)
	assert.True(t, result.Findings.EventsProcessed[0].Success)
	assert.InDelta(t, 0.1+0.4*0.9+0.1, result.Findings.EventsProcessed[0].RiskScore, 1e-9)
	assert.Contains(t, result.Findings.Summary, "Processed 1/1 events from session sess-1")
	require.Len(t, result.Findings.ThreatIndicators, 1)

	raw, err := rdb.Get(context.Background(), "session_result:sess-1").Result()
	require.NoError(t, err)
	assert.Contains(t, raw, "sess-1")
}

func TestProcessSession_ClampsToK(t *testing.T) {
	srv := testImageServer(t, "x")
	detector := &fakeDetector{dets: nil, conf: 0.5}

	pool, _, _ := newTestPool(t, Config{
		WorkerID:        "w1",
		DownloadTimeout: 5 * time.Second,
		MaxImageBytes:   1 << 20,
	}, detector)

	sess := &model.Session{
		SessionID:  "sess-2",
		HomeID:     "home-1",
		EventIDs:   []string{"e1", "e2", "e3"},
		K:          2,
		DeadlineMs: 5000,
		ImageURL:   srv.URL,
	}

	result := pool.ProcessSession(context.Background(), sess)
	assert.Len(t, result.Findings.EventsProcessed, 2)
}

func TestProcessSession_DownloadFailureMarksEventUnsuccessful(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	pool, _, _ := newTestPool(t, Config{
		WorkerID:        "w1",
		DownloadTimeout: 5 * time.Second,
		MaxImageBytes:   1 << 20,
	}, &fakeDetector{})

	sess := &model.Session{
		SessionID:  "sess-3",
		HomeID:     "home-1",
		EventIDs:   []string{"e1"},
		K:          1,
		DeadlineMs: 5000,
		ImageURL:   srv.URL,
	}

	result := pool.ProcessSession(context.Background(), sess)
	require.Len(t, result.Findings.EventsProcessed, 1)
	assert.False(t, result.Findings.EventsProcessed[0].Success)
	assert.NotEmpty(t, result.Findings.EventsProcessed[0].Error)
}

func TestComputeEventRiskScore_ClampsToUnitInterval(t *testing.T) {
	dets := []Detection{
		{Class: "weapon", Confidence: 1.0},
		{Class: "person", Confidence: 1.0},
	}
	score := computeEventRiskScore(dets, "front_door")
	assert.Equal(t, 1.0, score)
}

func TestDispatch_RoutesLegacyJobToBatch(t *testing.T) {
	pool, _, _ := newTestPool(t, Config{
		WorkerID:        "w1",
		LegacyBatchSize: 5,
		LegacyBatchWait: time.Hour,
		DownloadTimeout: 5 * time.Second,
		MaxImageBytes:   1 << 20,
	}, &fakeDetector{})

	job := &model.LegacyJob{EventID: "legacy-1", HomeID: "home-1", ImageURL: "http://example.invalid/img.jpg"}
	payload, err := jsonMarshal(job)
	require.NoError(t, err)

	pool.dispatch(context.Background(), payload)

	pool.mu.Lock()
	defer pool.mu.Unlock()
	require.Len(t, pool.legacyBatch, 1)
	assert.Equal(t, "legacy-1", pool.legacyBatch[0].EventID)
}
