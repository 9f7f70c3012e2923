package metrics

import (
	"context"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/sentineldispatch/core/internal/model"
)

// InfluxSink backs the recency-windowed histogram half of the Metrics
// Sink: risk-score distribution and SLIs, written as time-series
// points rather than scraped gauges.
type InfluxSink struct {
	client influxdb2.Client
	write  api.WriteAPI
	bucket string
	org    string
}

// NewInfluxSink opens a non-blocking write API against the configured
// bucket. Writes are fire-and-forget; errors surface on the client's
// error channel, logged rather than propagated, matching the Sink's
// passive-collaborator contract ("core components... never read
// from it").
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	client := influxdb2.NewClient(url, token)
	write := client.WriteAPI(org, bucket)

	errCh := write.Errors()
	go func() {
		for err := range errCh {
			log.Printf("metrics: influx write error: %v", err)
		}
	}()

	return &InfluxSink{client: client, write: write, bucket: bucket, org: org}
}

func (s *InfluxSink) ObserveRound(stats *model.RoundStats) {
	p := influxdb2.NewPoint("scheduler_round",
		map[string]string{"throttled": boolLabel(stats.Throttled)},
		map[string]interface{}{
			"scheduled":   stats.Scheduled,
			"backlog":     stats.Backlog,
			"duration_ms": stats.DurationMs,
		},
		time.Now())
	s.write.WritePoint(p)
}

func (s *InfluxSink) ObserveLifeSafetyPreempt() {
	p := influxdb2.NewPoint("life_safety_preempt", nil, map[string]interface{}{"count": 1}, time.Now())
	s.write.WritePoint(p)
}

func (s *InfluxSink) ObserveInFlightReconciled(n int) {
	p := influxdb2.NewPoint("inflight_reconciled", nil, map[string]interface{}{"count": n}, time.Now())
	s.write.WritePoint(p)
}

func (s *InfluxSink) ObserveSessionResult(tier model.Tier, success bool, durationMs int64, riskScore float64) {
	p := influxdb2.NewPoint("session_result",
		map[string]string{"tier": string(tier), "success": boolLabel(success)},
		map[string]interface{}{
			"duration_ms": durationMs,
			"risk_score":  riskScore,
		},
		time.Now())
	s.write.WritePoint(p)
}

func (s *InfluxSink) ObserveDetection(class, location string, confidence float64) {
	p := influxdb2.NewPoint("detection",
		map[string]string{"class": class, "location": location},
		map[string]interface{}{"confidence": confidence},
		time.Now())
	s.write.WritePoint(p)
}

func (s *InfluxSink) ObserveQueueDepth(queueName string, depth int64) {
	p := influxdb2.NewPoint("queue_depth",
		map[string]string{"queue": queueName},
		map[string]interface{}{"depth": depth},
		time.Now())
	s.write.WritePoint(p)
}

// Close flushes pending points and releases the client.
func (s *InfluxSink) Close(ctx context.Context) {
	s.write.Flush()
	s.client.Close()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
