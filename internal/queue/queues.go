package queue

import (
	"github.com/redis/go-redis/v9"

	"github.com/sentineldispatch/core/internal/model"
)

// Queues groups the six named queues and exposes the worker's fixed
// priority order over the four deep-processing queues: emergency first,
// then the deep tiers descending by value. The two downstream-only
// queues (completions, digest) are not part of that order.
type Queues struct {
	Emergency  *Queue
	Enterprise *Queue
	Premium    *Queue
	Standard   *Queue
	Completions *Queue
	Digest     *Queue
}

// NewQueues binds all six (four deep-processing plus completions/digest)
// to one client.
func NewQueues(rdb *redis.Client) *Queues {
	return &Queues{
		Emergency:   New(rdb, model.QueueEmergency),
		Enterprise:  New(rdb, model.TierEnterprise.QueueName()),
		Premium:     New(rdb, model.TierPremium.QueueName()),
		Standard:    New(rdb, model.TierStandard.QueueName()),
		Completions: New(rdb, model.QueueCompletions),
		Digest:      New(rdb, model.QueueDigest),
	}
}

// DeepPriorityOrder returns the fixed tier-priority order a worker
// drains on each iteration: emergency always first.
func (q *Queues) DeepPriorityOrder() []*Queue {
	return []*Queue{q.Emergency, q.Enterprise, q.Premium, q.Standard}
}

// ForTier returns the deep-processing queue bound to a tier.
func (q *Queues) ForTier(tier model.Tier) *Queue {
	switch tier {
	case model.TierEnterprise:
		return q.Enterprise
	case model.TierPremium:
		return q.Premium
	case model.TierStandard:
		return q.Standard
	default:
		return nil
	}
}
