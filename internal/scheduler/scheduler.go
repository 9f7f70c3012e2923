// Package scheduler implements the periodic round protocol:
// backpressure sampling, autothrottle, the per-tier top-K pass subject
// to rate limits, life-safety preemption, force-schedule, and cleanup
// of the in-flight set.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sentineldispatch/core/internal/candidatestore"
	"github.com/sentineldispatch/core/internal/leader"
	"github.com/sentineldispatch/core/internal/metrics"
	"github.com/sentineldispatch/core/internal/model"
	"github.com/sentineldispatch/core/internal/queue"
	"github.com/sentineldispatch/core/internal/svcerr"
	"github.com/sentineldispatch/core/internal/tokenbucket"
)

// Config holds the scheduler's tunables.
type Config struct {
	Cadence               time.Duration
	TopKLimit             int
	MaxBatchSize          int
	NumGPUs               int
	AutothrottleThreshold int
	ThrottleReduction     float64
	InFlightGrace         time.Duration

	// DefaultDeadlineMs/DefaultK govern ordinary (non-emergency)
	// sessions built from a single scheduled candidate; grounded on
	// the source scheduler's processing_timeout of 300s, repurposed
	// here as the per-session deadline rather than only the in-flight
	// marker TTL.
	DefaultDeadlineMs int64
	DefaultK          int
}

// Scheduler owns the in-flight set and drives periodic rounds. It is
// the single writer to that set; if Elector is set, only the
// current leader runs rounds.
type Scheduler struct {
	cfg     Config
	store   *candidatestore.Store
	queues  *queue.Queues
	buckets *tokenbucket.Group
	inFlight *inFlightSet
	elector *leader.Elector
	sink    metrics.Sink

	mu           sync.Mutex
	recentRounds []model.RoundStats // capped ring, last 100

	running bool
	stop    chan struct{}
}

// New wires a Scheduler against the shared store, queues, and bucket
// group.
func New(cfg Config, store *candidatestore.Store, rdb *redis.Client, queues *queue.Queues, buckets *tokenbucket.Group, sink metrics.Sink) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		store:    store,
		queues:   queues,
		buckets:  buckets,
		inFlight: newInFlightSet(rdb),
		sink:     sink,
		stop:     make(chan struct{}),
	}
}

// WithElector attaches leader election; Run then only performs rounds
// while this process holds the lease.
func (s *Scheduler) WithElector(e *leader.Elector) *Scheduler {
	s.elector = e
	return s
}

// Run drives the round loop at the configured cadence until the
// context is cancelled or Stop is called. If an elector is attached,
// rounds are skipped while this instance is not the leader.
func (s *Scheduler) Run(ctx context.Context) {
	s.running = true
	ticker := time.NewTicker(s.cfg.Cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if s.elector != nil && !s.elector.IsLeader() {
				continue
			}
			stats, err := s.RunRound(ctx)
			if err != nil {
				log.Printf("scheduler: round failed: %v", err)
				continue
			}
			s.recordRound(stats)
		}
	}
}

// Stop requests the loop finish its current round and exit.
func (s *Scheduler) Stop() {
	if !s.running {
		return
	}
	close(s.stop)
	s.running = false
}

func (s *Scheduler) recordRound(stats *model.RoundStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentRounds = append(s.recentRounds, *stats)
	if len(s.recentRounds) > 100 {
		s.recentRounds = s.recentRounds[len(s.recentRounds)-100:]
	}
}

// RecentRounds returns a copy of the last up-to-100 rounds' stats, for
// the admin surface's /stats endpoint.
func (s *Scheduler) RecentRounds() []model.RoundStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.RoundStats, len(s.recentRounds))
	copy(out, s.recentRounds)
	return out
}

// InFlightCount reports how many events currently hold an in-flight
// marker, for the admin surface's /stats endpoint.
func (s *Scheduler) InFlightCount() int {
	return s.inFlight.Size()
}

// Queues exposes the shared queue set so the admin surface can report
// per-tier backlog lengths without duplicating scheduler wiring.
func (s *Scheduler) Queues() *queue.Queues {
	return s.queues
}

// Buckets exposes the shared token bucket group so the admin surface
// can report current levels per tier.
func (s *Scheduler) Buckets() *tokenbucket.Group {
	return s.buckets
}

// RunRound executes one full round and returns its stats.
func (s *Scheduler) RunRound(ctx context.Context) (*model.RoundStats, error) {
	start := time.Now()

	backlog, err := s.sampleBacklog(ctx)
	if err != nil {
		return nil, err
	}

	throttled := false
	if backlog > s.cfg.AutothrottleThreshold {
		s.buckets.ThrottleAll(s.cfg.ThrottleReduction)
		throttled = true
	}

	perTier := make(map[model.Tier]model.TierRoundStats)
	totalScheduled := 0

	for _, tier := range model.DeepTiers {
		ts, err := s.scheduleTier(ctx, tier)
		if err != nil {
			// QueueUnavailable pauses the current tier, tries next —
			// a single tier's failure never aborts the round.
			log.Printf("scheduler: tier %s failed, continuing: %v", tier, err)
			continue
		}
		perTier[tier] = *ts
		totalScheduled += ts.Scheduled
	}

	removed := s.inFlight.Cleanup(ctx)
	if removed > 0 && s.sink != nil {
		s.sink.ObserveInFlightReconciled(removed)
	}

	stats := &model.RoundStats{
		PerTier:    perTier,
		Scheduled:  totalScheduled,
		DurationMs: time.Since(start).Milliseconds(),
		Backlog:    backlog,
		Throttled:  throttled,
		Timestamp:  start,
	}

	if s.sink != nil {
		s.sink.ObserveRound(stats)
	}

	return stats, nil
}

func (s *Scheduler) sampleBacklog(ctx context.Context) (int, error) {
	total := 0
	for _, q := range []*queue.Queue{s.queues.Enterprise, s.queues.Premium, s.queues.Standard} {
		n, err := q.Len(ctx)
		if err != nil {
			return 0, err
		}
		total += int(n)
	}
	return total + s.inFlight.Size(), nil
}

// scheduleTier runs the round's per-tier pass.
func (s *Scheduler) scheduleTier(ctx context.Context, tier model.Tier) (*model.TierRoundStats, error) {
	// ScanByTier already returns candidates sorted descending by score
	// with ties broken by event_id, the exact order this pass must
	// iterate in.
	candidates, err := s.store.ScanByTier(ctx, s.store.Homes(), tier, s.cfg.TopKLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: scan tier %s: %v", svcerr.ErrQueueUnavailable, tier, err)
	}

	bucket := s.buckets.Get(string(tier))
	ts := &model.TierRoundStats{CandidatesFound: len(candidates)}

	for _, c := range candidates {
		if ts.Scheduled >= s.cfg.MaxBatchSize {
			break
		}
		if s.inFlight.Contains(c.EventID) {
			continue
		}
		if bucket == nil || !bucket.TryConsume(1) {
			ts.RateLimited++
			if bucket != nil {
				ts.NextAvailableS = bucket.ETA(1)
			}
			continue
		}

		sess := s.newSession(c, tier, "")
		q := s.queues.ForTier(tier)
		if err := q.Push(ctx, sess); err != nil {
			return ts, fmt.Errorf("%w: enqueue %s: %v", svcerr.ErrQueueUnavailable, c.EventID, err)
		}

		grace := s.cfg.InFlightGrace
		if err := s.inFlight.Add(ctx, c.EventID, time.Duration(sess.DeadlineMs)*time.Millisecond+grace); err != nil {
			return ts, err
		}
		if err := s.store.Remove(ctx, c.HomeID, c.EventID); err != nil {
			return ts, err
		}

		ts.Scheduled++
	}

	return ts, nil
}

func (s *Scheduler) newSession(c *model.EventCandidate, tier model.Tier, bypassReason string) *model.Session {
	deadline := s.cfg.DefaultDeadlineMs
	k := s.cfg.DefaultK
	if bypassReason == "life_safety" {
		deadline = 2000
		k = 12
	}
	var lr *model.LiteResults
	if c.LiteProcessed {
		lr = &model.LiteResults{
			Channels:   c.Channels,
			Explainer:  c.LiteExplainer,
			Confidence: c.LiteConfidence,
		}
	}
	return &model.Session{
		SessionID:    uuid.NewString(),
		HomeID:       c.HomeID,
		EventIDs:     []string{c.EventID},
		Tier:         tier,
		K:            k,
		DeadlineMs:   deadline,
		Priority:     c.Priority,
		EnqueuedAt:   time.Now().UTC(),
		BypassReason: bypassReason,
		LiteResults:  lr,
		ImageURL:     c.ImageURL,
		Location:     c.Location,
	}
}

// PreemptLifeSafety builds the single-event emergency session and
// places it on the dedicated queue, bypassing every bucket, as soon as
// a life-safety event is detected — independent of round cadence.
func (s *Scheduler) PreemptLifeSafety(ctx context.Context, c *model.EventCandidate) error {
	sess := s.newSession(c, model.TierEnterprise, "life_safety")
	if err := s.queues.Emergency.Push(ctx, sess); err != nil {
		return fmt.Errorf("%w: enqueue emergency: %v", svcerr.ErrQueueUnavailable, err)
	}
	if err := s.inFlight.Add(ctx, c.EventID, time.Duration(sess.DeadlineMs)*time.Millisecond+s.cfg.InFlightGrace); err != nil {
		return err
	}
	if err := s.store.Remove(ctx, c.HomeID, c.EventID); err != nil {
		return err
	}
	if s.sink != nil {
		s.sink.ObserveLifeSafetyPreempt()
	}
	return nil
}

// MaybePreempt checks an incoming candidate for life-safety conditions
// and preempts it if so; callers (ingest) should check this before
// admitting a candidate to the ordinary store path.
func (s *Scheduler) MaybePreempt(ctx context.Context, c *model.EventCandidate) (bool, error) {
	if !isLifeSafetyEvent(c) {
		return false, nil
	}
	return true, s.PreemptLifeSafety(ctx, c)
}

// ForceSchedule is the operator entry point: a single enqueue bypassing
// rate limits. Fails cleanly if the event is absent from the store.
func (s *Scheduler) ForceSchedule(ctx context.Context, eventID string, tier model.Tier) error {
	c, err := s.store.Get(ctx, eventID)
	if err != nil {
		return err
	}
	sess := s.newSession(c, tier, "operator_force")
	q := s.queues.ForTier(tier)
	if q == nil {
		return fmt.Errorf("%w: no queue for tier %s", svcerr.ErrBadInput, tier)
	}
	if err := q.Push(ctx, sess); err != nil {
		return fmt.Errorf("%w: force schedule enqueue: %v", svcerr.ErrQueueUnavailable, err)
	}
	if err := s.inFlight.Add(ctx, eventID, time.Duration(sess.DeadlineMs)*time.Millisecond+s.cfg.InFlightGrace); err != nil {
		return err
	}
	return s.store.Remove(ctx, c.HomeID, eventID)
}

// CompleteEvent is called when the worker reports a completion; it
// releases the in-flight marker so the event leaves tracking state.
func (s *Scheduler) CompleteEvent(ctx context.Context, eventID string) error {
	return s.inFlight.Remove(ctx, eventID)
}
