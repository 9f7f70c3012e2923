package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentineldispatch/core/internal/model"
)

// PrometheusSink backs the always-current counters/gauges half of the
// Metrics Sink, scraped by the (out-of-scope) exporter.
type PrometheusSink struct {
	reg *prometheus.Registry

	roundsTotal        *prometheus.CounterVec
	roundDuration      *prometheus.HistogramVec
	roundBacklog       prometheus.Gauge
	lifeSafetyTotal    prometheus.Counter
	inFlightReconciled prometheus.Counter
	sessionsTotal      *prometheus.CounterVec
	sessionDuration    *prometheus.HistogramVec
	detectionsTotal    *prometheus.CounterVec
	queueDepth         *prometheus.GaugeVec
}

// NewPrometheusSink registers every metric against its own registry so
// repeated calls in tests don't collide with a shared default registry.
func NewPrometheusSink() *PrometheusSink {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &PrometheusSink{
		reg: reg,
		roundsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_scheduler_rounds_total",
			Help: "scheduler rounds run, labeled by whether autothrottle fired",
		}, []string{"throttled"}),
		roundDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_scheduler_round_duration_seconds",
			Help:    "scheduler round wall-clock duration",
			Buckets: prometheus.DefBuckets,
		}, []string{}),
		roundBacklog: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_scheduler_backlog",
			Help: "deep-tier queue lengths plus in-flight count, sampled each round",
		}),
		lifeSafetyTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_life_safety_preemptions_total",
			Help: "life-safety events preempted onto the emergency queue",
		}),
		inFlightReconciled: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_inflight_reconciled_total",
			Help: "stale in-flight mirror entries cleaned up per round",
		}),
		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_worker_sessions_total",
			Help: "completed sessions by tier and outcome",
		}, []string{"tier", "status"}),
		sessionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_worker_session_duration_seconds",
			Help:    "session processing duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"tier"}),
		detectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_detections_total",
			Help: "detections by class and location",
		}, []string{"class", "location", "confidence_band"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dispatch_queue_depth",
			Help: "queue length by name",
		}, []string{"queue"}),
	}
}

// Handler returns the scrape endpoint for this sink's registry.
func (p *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func (p *PrometheusSink) ObserveRound(stats *model.RoundStats) {
	label := "false"
	if stats.Throttled {
		label = "true"
	}
	p.roundsTotal.WithLabelValues(label).Inc()
	p.roundDuration.WithLabelValues().Observe(float64(stats.DurationMs) / 1000)
	p.roundBacklog.Set(float64(stats.Backlog))
}

func (p *PrometheusSink) ObserveLifeSafetyPreempt() {
	p.lifeSafetyTotal.Inc()
}

func (p *PrometheusSink) ObserveInFlightReconciled(n int) {
	p.inFlightReconciled.Add(float64(n))
}

func (p *PrometheusSink) ObserveSessionResult(tier model.Tier, success bool, durationMs int64, riskScore float64) {
	status := "success"
	if !success {
		status = "failure"
	}
	p.sessionsTotal.WithLabelValues(string(tier), status).Inc()
	p.sessionDuration.WithLabelValues(string(tier)).Observe(float64(durationMs) / 1000)
}

func (p *PrometheusSink) ObserveDetection(class, location string, confidence float64) {
	p.detectionsTotal.WithLabelValues(class, location, confidenceBand(confidence)).Inc()
}

func (p *PrometheusSink) ObserveQueueDepth(queueName string, depth int64) {
	p.queueDepth.WithLabelValues(queueName).Set(float64(depth))
}

func confidenceBand(c float64) string {
	switch {
	case c >= 0.8:
		return "high"
	case c >= 0.5:
		return "medium"
	default:
		return "low"
	}
}
