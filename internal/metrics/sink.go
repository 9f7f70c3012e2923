// Package metrics implements the passive Metrics Sink: core
// components emit events to it and never read from it. Two real
// collaborators back the Sink interface — Prometheus for the always-
// current counters/gauges an exporter scrapes, and InfluxDB for the
// recency-windowed histograms that benefit from time-series queries.
package metrics

import "github.com/sentineldispatch/core/internal/model"

// Sink is the one small interface core components depend on; they
// never hold a concrete Prometheus or InfluxDB client directly.
type Sink interface {
	// ObserveRound records one scheduler round's stats (processing
	// group: total scheduled, backlog, duration, throttled flag; the
	// per-tier counts are not recorded).
	ObserveRound(stats *model.RoundStats)

	// ObserveLifeSafetyPreempt counts a life-safety preemption
	// (business group).
	ObserveLifeSafetyPreempt()

	// ObserveInFlightReconciled counts stale in-flight entries cleaned
	// up in a round (storage group).
	ObserveInFlightReconciled(n int)

	// ObserveSessionResult records one completed session (processing
	// group: status, duration) and its risk-score
	// distribution (business group).
	ObserveSessionResult(tier model.Tier, success bool, durationMs int64, riskScore float64)

	// ObserveDetection records one threat-indicator detection
	// (business group: class, location, confidence band).
	ObserveDetection(class, location string, confidence float64)

	// ObserveQueueDepth records a queue's length (storage group: by
	// queue name).
	ObserveQueueDepth(queueName string, depth int64)
}

// NoopSink discards every observation; used where a sink is optional
// (e.g. in tests) so callers never need a nil check.
type NoopSink struct{}

func (NoopSink) ObserveRound(*model.RoundStats)                                     {}
func (NoopSink) ObserveLifeSafetyPreempt()                                          {}
func (NoopSink) ObserveInFlightReconciled(int)                                      {}
func (NoopSink) ObserveSessionResult(model.Tier, bool, int64, float64)              {}
func (NoopSink) ObserveDetection(string, string, float64)                           {}
func (NoopSink) ObserveQueueDepth(string, int64)                                    {}
