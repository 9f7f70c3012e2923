package metrics

import "github.com/sentineldispatch/core/internal/model"

// MultiSink fans out every observation to both backing collaborators,
// so core components still depend on a single Sink.
type MultiSink struct {
	Prom   *PrometheusSink
	Influx *InfluxSink
}

func (m MultiSink) ObserveRound(stats *model.RoundStats) {
	m.Prom.ObserveRound(stats)
	m.Influx.ObserveRound(stats)
}

func (m MultiSink) ObserveLifeSafetyPreempt() {
	m.Prom.ObserveLifeSafetyPreempt()
	m.Influx.ObserveLifeSafetyPreempt()
}

func (m MultiSink) ObserveInFlightReconciled(n int) {
	m.Prom.ObserveInFlightReconciled(n)
	m.Influx.ObserveInFlightReconciled(n)
}

func (m MultiSink) ObserveSessionResult(tier model.Tier, success bool, durationMs int64, riskScore float64) {
	m.Prom.ObserveSessionResult(tier, success, durationMs, riskScore)
	m.Influx.ObserveSessionResult(tier, success, durationMs, riskScore)
}

func (m MultiSink) ObserveDetection(class, location string, confidence float64) {
	m.Prom.ObserveDetection(class, location, confidence)
	m.Influx.ObserveDetection(class, location, confidence)
}

func (m MultiSink) ObserveQueueDepth(queueName string, depth int64) {
	m.Prom.ObserveQueueDepth(queueName, depth)
	m.Influx.ObserveQueueDepth(queueName, depth)
}
