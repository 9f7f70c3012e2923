// Package ingest implements the two inbound operations:
// OnNewEvent admits a freshly submitted event to the Candidate Store
// (after a life-safety preemption check), OnLiteResults folds lite
// triage results into an existing candidate and re-scores it.
package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/sentineldispatch/core/internal/candidatestore"
	"github.com/sentineldispatch/core/internal/model"
	"github.com/sentineldispatch/core/internal/scheduler"
	"github.com/sentineldispatch/core/pkg/messaging"
)

const (
	subjectNewEvent     = "events.new"
	subjectLiteResults  = "events.lite_results"
)

// NewEventPayload is the inbound shape for subjectNewEvent: the shape a
// mobile/API producer submits, ahead of any Candidate Store record.
type NewEventPayload struct {
	EventID   string  `json:"event_id"`
	HomeID    string  `json:"home_id,omitempty"`
	UserID    string  `json:"user_id"`
	ImageURL  string  `json:"image_url"`
	Location  string  `json:"location"`
	Mode      string  `json:"mode"`
	Priority  int     `json:"priority"`
	Tier      string  `json:"tier,omitempty"`
	Motion    float64 `json:"motion_score"`
}

// LiteResultsPayload is the inbound shape for subjectLiteResults.
type LiteResultsPayload struct {
	EventID    string         `json:"event_id"`
	Channels   model.Channels `json:"channels"`
	Explainer  string         `json:"explainer"`
	Confidence float64        `json:"confidence"`
}

// Ingest wires the Candidate Store, the Scheduler's preemption check,
// and the event bus into the two inbound operations.
type Ingest struct {
	store *candidatestore.Store
	sched *scheduler.Scheduler
	bus   messaging.EventBus
}

// New wires an Ingest. bus may be nil: publishing becomes a no-op,
// matching the source integration point's own fire-and-forget shape.
func New(store *candidatestore.Store, sched *scheduler.Scheduler, bus messaging.EventBus) *Ingest {
	return &Ingest{store: store, sched: sched, bus: bus}
}

// OnNewEvent admits a new event: it derives home_id/priority/tier the
// way the source create_event_candidate_from_api did, checks it for a
// life-safety preemption, and — if not preempted — admits it to the
// Candidate Store.
func (in *Ingest) OnNewEvent(ctx context.Context, payload NewEventPayload) error {
	homeID := payload.HomeID
	if homeID == "" {
		homeID = fallbackHomeID(payload.UserID)
	}

	tier := model.TierStandard
	if payload.Tier != "" {
		tier = model.Tier(payload.Tier)
	}

	priority := model.PriorityNormal
	if payload.Priority >= 3 {
		priority = model.PriorityCritical
	}

	candidate := &model.EventCandidate{
		EventID:            payload.EventID,
		HomeID:             homeID,
		UserID:             payload.UserID,
		Priority:           priority,
		Tier:               tier,
		ImageURL:           payload.ImageURL,
		Location:           payload.Location,
		Mode:               payload.Mode,
		MotionScore:        payload.Motion,
		TimeOfDayFactor:    1.0,
		LocationImportance: 1.0,
	}

	preempted, err := in.sched.MaybePreempt(ctx, candidate)
	if err != nil {
		return fmt.Errorf("check life-safety preemption: %w", err)
	}
	if preempted {
		in.publish(ctx, messaging.EventTypeLifeSafetyPreempt, candidate.EventID, messaging.LifeSafetyPreemptEvent{
			EventID: candidate.EventID,
			HomeID:  candidate.HomeID,
			Reason:  candidate.Mode,
		})
		return nil
	}

	if err := in.store.Add(ctx, candidate); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}

	in.publish(ctx, messaging.EventTypeCandidateAdded, candidate.EventID, messaging.CandidateAddedEvent{
		EventID:  candidate.EventID,
		HomeID:   candidate.HomeID,
		Tier:     string(candidate.Tier),
		Priority: string(candidate.Priority),
	})
	return nil
}

// OnLiteResults folds triage results into an existing candidate and
// replaces its stored record (remove, then add) so both the record and
// its priority score reflect the new detection channels, mirroring
// on_lite_results's get-then-re-add-candidate round trip.
func (in *Ingest) OnLiteResults(ctx context.Context, payload LiteResultsPayload) error {
	candidate, err := in.store.Get(ctx, payload.EventID)
	if err != nil {
		log.Printf("ingest: lite results for unknown candidate %s: %v", payload.EventID, err)
		return nil
	}

	candidate.LiteProcessed = true
	candidate.Channels = payload.Channels
	candidate.LiteExplainer = payload.Explainer
	candidate.LiteConfidence = payload.Confidence
	if payload.Channels.Person {
		candidate.Priority = model.PriorityHigh
	}

	// Add on an existing event only rewrites its score, so the old record
	// goes first for the lite fields to be stored with the new score.
	if err := in.store.Remove(ctx, candidate.HomeID, candidate.EventID); err != nil {
		return fmt.Errorf("remove candidate before re-add: %w", err)
	}
	if err := in.store.Add(ctx, candidate); err != nil {
		return fmt.Errorf("re-add candidate with lite results: %w", err)
	}

	in.publish(ctx, messaging.EventTypeCandidateRescored, candidate.EventID, messaging.CandidateAddedEvent{
		EventID:  candidate.EventID,
		HomeID:   candidate.HomeID,
		Tier:     string(candidate.Tier),
		Priority: string(candidate.Priority),
	})
	return nil
}

func (in *Ingest) publish(ctx context.Context, eventType string, aggregateID string, data interface{}) {
	if in.bus == nil {
		return
	}
	evt, err := messaging.NewEvent(eventType, aggregateID, data, messaging.EventMetadata{Source: "ingest"})
	if err != nil {
		log.Printf("ingest: build event %s: %v", eventType, err)
		return
	}
	if err := in.bus.Publish(ctx, *evt); err != nil {
		log.Printf("ingest: publish event %s: %v", eventType, err)
	}
}

// fallbackHomeID derives a deterministic stand-in home_id ("home_" plus
// the first 8 hex chars of md5(user_id)) for when no home_id is
// supplied; it is a fallback, not a canonical identity.
func fallbackHomeID(userID string) string {
	sum := md5.Sum([]byte(userID))
	return "home_" + hex.EncodeToString(sum[:])[:8]
}
