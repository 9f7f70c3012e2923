// Package model holds the shared data types passed between the
// Candidate Store, Scheduler, Queues, and Worker Pool: none of these
// types carry behavior beyond JSON (de)serialization and light
// validation, so every component can depend on them without pulling in
// store or transport code.
package model

import (
	"errors"
	"time"
)

// Priority is an event's severity classification.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityNormal   Priority = "NORMAL"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Ordinal returns the priority's scaling factor used by PriorityScore.
func (p Priority) Ordinal() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityNormal:
		return 1
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	default:
		return 0
	}
}

// Tier is a subscription class controlling rate allowance and queue
// placement.
type Tier string

const (
	TierLiteOnly   Tier = "LITE_ONLY"
	TierStandard   Tier = "STANDARD"
	TierPremium    Tier = "PREMIUM"
	TierEnterprise Tier = "ENTERPRISE"
)

// DeepTiers is the fixed, ordered list of tiers subject to rate limits
// and scheduled for deep processing. LITE_ONLY is deliberately excluded.
var DeepTiers = []Tier{TierStandard, TierPremium, TierEnterprise}

// Ordinal mirrors the recency-bonus tier multiplier.
func (t Tier) Ordinal() int {
	switch t {
	case TierLiteOnly:
		return 0
	case TierStandard:
		return 1
	case TierPremium:
		return 2
	case TierEnterprise:
		return 3
	default:
		return 0
	}
}

// QueueName returns the deep-processing queue this tier lands on.
func (t Tier) QueueName() string {
	switch t {
	case TierStandard:
		return "deep_processing_standard"
	case TierPremium:
		return "deep_processing_premium"
	case TierEnterprise:
		return "deep_processing_enterprise"
	default:
		return ""
	}
}

const QueueEmergency = "deep_processing_emergency"
const QueueCompletions = "scheduler_completions"
const QueueDigest = "digest_queue"

// Channels is the fixed detection-channel map carried by lite results.
type Channels struct {
	Person  bool `json:"person"`
	Vehicle bool `json:"vehicle"`
	Pet     bool `json:"pet"`
	Linger  bool `json:"linger"`
}

// EventCandidate is a record representing one pending image event.
type EventCandidate struct {
	EventID   string    `json:"event_id"`
	HomeID    string    `json:"home_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`

	Priority Priority `json:"priority"`
	Tier     Tier     `json:"tier"`

	ImageURL string `json:"image_url"`
	Location string `json:"location"`
	Mode     string `json:"mode"`

	LiteProcessed  bool     `json:"lite_processed"`
	Channels       Channels `json:"channels,omitempty"`
	LiteConfidence float64  `json:"lite_confidence,omitempty"`
	LiteExplainer  string   `json:"lite_explainer,omitempty"`

	MotionScore        float64 `json:"motion_score"`
	TimeOfDayFactor    float64 `json:"time_of_day_factor"`
	LocationImportance float64 `json:"location_importance"`
}

// LiteResults carries the optional triage payload a session descriptor
// forwards when lite processing already ran.
type LiteResults struct {
	Channels   Channels `json:"channels"`
	Explainer  string   `json:"explainer"`
	Confidence float64  `json:"confidence"`
}

// Session is the unit of work passed to a worker.
type Session struct {
	SessionID    string       `json:"session_id"`
	HomeID       string       `json:"home_id"`
	EventIDs     []string     `json:"event_ids"`
	Tier         Tier         `json:"tier"`
	K            int          `json:"k"`
	DeadlineMs   int64        `json:"deadline_ms"`
	Priority     Priority     `json:"priority"`
	EnqueuedAt   time.Time    `json:"enqueued_at"`
	BypassReason string       `json:"bypass_reason,omitempty"`
	LiteResults  *LiteResults `json:"lite_results,omitempty"`

	// ImageURL/Location are carried forward from the candidate record
	// because the Candidate Store's Remove deletes that record the
	// moment the event is scheduled — the worker has no other way to
	// reach them.
	ImageURL string `json:"image_url,omitempty"`
	Location string `json:"location,omitempty"`
}

// Validate enforces the session's basic invariants.
func (s *Session) Validate() error {
	if s.K <= 0 || s.K > len(s.EventIDs) {
		// K > len(EventIDs) is explicitly benign: the worker clamps
		// it, it does not reject the session. Only K<=0 is invalid here.
		if s.K <= 0 {
			return errInvalidK
		}
	}
	if s.DeadlineMs <= 0 {
		return errInvalidDeadline
	}
	return nil
}

// LegacyJob is the backward-compatible single-event descriptor, kept
// and marked deprecated; new producers always emit Session.
type LegacyJob struct {
	EventID     string       `json:"event_id"`
	HomeID      string       `json:"home_id"`
	UserID      string       `json:"user_id,omitempty"`
	ImageURL    string       `json:"image_url"`
	Location    string       `json:"location"`
	Tier        Tier         `json:"tier"`
	Priority    Priority     `json:"priority"`
	DeadlineMs  int64        `json:"deadline_ms"`
	EnqueuedAt  time.Time    `json:"enqueued_at"`
	LiteResults *LiteResults `json:"lite_results,omitempty"`
}

// EventProcessed is one event's outcome within a session result.
type EventProcessed struct {
	EventID    string   `json:"event_id"`
	Success    bool     `json:"success"`
	Detections []string `json:"detections"`
	Confidence float64  `json:"confidence"`
	RiskScore  float64  `json:"risk_score"`
	Error      string   `json:"error,omitempty"`
}

// ThreatIndicator records a single noteworthy detection surfaced to the
// digest consumer.
type ThreatIndicator struct {
	EventID string `json:"event_id"`
	Class   string `json:"class"`
}

// ProcessingStats summarizes one session's run for the result record.
type ProcessingStats struct {
	TotalEvents int    `json:"total_events"`
	DeadlineMs  int64  `json:"deadline_ms"`
	Tier        Tier   `json:"tier"`
}

// Findings is the aggregate output of a session's processing.
type Findings struct {
	EventsProcessed  []EventProcessed  `json:"events_processed"`
	Summary          string            `json:"summary"`
	RiskScore        float64           `json:"risk_score"`
	ThreatIndicators []ThreatIndicator `json:"threat_indicators"`
	ProcessingStats  ProcessingStats   `json:"processing_stats"`
}

// SessionResult is the persisted, 24h-TTL record of a completed session.
type SessionResult struct {
	SessionID            string    `json:"session_id"`
	Success              bool      `json:"success"`
	ProcessingDurationMs int64     `json:"processing_duration_ms"`
	Timestamp            time.Time `json:"timestamp"`
	Findings             Findings  `json:"findings"`
	ErrorMessage         string    `json:"error_message,omitempty"`
}

// CompletionRecord is pushed once per constituent event_id to
// scheduler_completions.
type CompletionRecord struct {
	EventID     string    `json:"event_id"`
	WorkerID    string    `json:"worker_id"`
	Success     bool      `json:"success"`
	CompletedAt time.Time `json:"completed_at"`
}

// DigestRecord is pushed once per completed session to digest_queue.
type DigestRecord struct {
	SessionID   string    `json:"session_id"`
	HomeID      string    `json:"home_id"`
	Tier        Tier      `json:"tier"`
	Findings    Findings  `json:"findings"`
	DurationMs  int64     `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

// LegacyResult is one legacy job's outcome (the deprecated
// single-event contract's result shape, kept for producers that have
// not migrated to Session).
type LegacyResult struct {
	EventID              string    `json:"event_id"`
	Success              bool      `json:"success"`
	ProcessingDurationMs int64     `json:"processing_duration_ms"`
	Timestamp            time.Time `json:"timestamp"`
	Detections           []string  `json:"detections,omitempty"`
	Confidence           float64   `json:"confidence,omitempty"`
	RiskScore            float64   `json:"risk_score,omitempty"`
	Summary              string    `json:"summary,omitempty"`
	ErrorMessage         string    `json:"error_message,omitempty"`
}

// LegacyDigestRecord is the legacy per-event counterpart of
// DigestRecord, kept for the same backward-compatibility reason.
type LegacyDigestRecord struct {
	EventID     string       `json:"event_id"`
	UserID      string       `json:"user_id"`
	HomeID      string       `json:"home_id"`
	Result      LegacyResult `json:"result"`
	Tier        Tier         `json:"tier"`
	CompletedAt time.Time    `json:"completed_at"`
}

// RoundStats is the per-round summary the scheduler emits.
type RoundStats struct {
	PerTier     map[Tier]TierRoundStats `json:"per_tier"`
	Scheduled   int                     `json:"scheduled"`
	DurationMs  int64                   `json:"duration_ms"`
	Backlog     int                     `json:"backlog"`
	Throttled   bool                    `json:"throttled"`
	Timestamp   time.Time               `json:"timestamp"`
}

// TierRoundStats is one tier's contribution to a round.
type TierRoundStats struct {
	CandidatesFound int     `json:"candidates_found"`
	Scheduled       int     `json:"scheduled"`
	RateLimited     int     `json:"rate_limited"`
	NextAvailableS  float64 `json:"next_available_seconds"`
}

var (
	errInvalidK        = errors.New("invalid session: K out of range")
	errInvalidDeadline = errors.New("invalid session: deadline_ms must be positive")
)
