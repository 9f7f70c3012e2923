// Package worker implements the deep processing worker pool: it
// drains the four deep-processing queues in fixed priority order, processes each
// session within its deadline, and emits the session result, one
// completion record per constituent event, and a digest record.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/sentineldispatch/core/internal/model"
	"github.com/sentineldispatch/core/internal/queue"
	"github.com/sentineldispatch/core/internal/scheduler"
	"github.com/sentineldispatch/core/internal/svcerr"

	"github.com/sentineldispatch/core/internal/metrics"
	"github.com/sentineldispatch/core/pkg/circuit"
)

const (
	sessionResultTTL = 24 * time.Hour
	metricsCap       = 1000
	softDeadlineFrac = 0.8
)

// Config holds the worker pool's tunables.
type Config struct {
	WorkerID        string
	LegacyBatchSize int
	LegacyBatchWait time.Duration
	DownloadTimeout time.Duration
	MaxImageBytes   int64
	QueuePopTimeout time.Duration
	IdleSleep       time.Duration
}

// Pool drains the priority-ordered queues and processes sessions and
// legacy jobs. CompleteEvent on sched releases each event's in-flight
// marker once processing finishes.
type Pool struct {
	cfg      Config
	queues   *queue.Queues
	rdb      *redis.Client
	sched    *scheduler.Scheduler
	breakers *circuit.BreakerGroup
	detector Detector
	sink     metrics.Sink

	mu          sync.Mutex
	legacyBatch []*model.LegacyJob
	batchStart  time.Time

	totalProcessed int64
	totalSessions  int64

	stop chan struct{}
}

// New wires a Pool. detector is called through breakers' "inference"
// breaker; image downloads go through breakers' "download" breaker.
func New(cfg Config, queues *queue.Queues, rdb *redis.Client, sched *scheduler.Scheduler, detector Detector, breakers *circuit.BreakerGroup, sink metrics.Sink) *Pool {
	return &Pool{
		cfg:        cfg,
		queues:     queues,
		rdb:        rdb,
		sched:      sched,
		detector:   detector,
		breakers:   breakers,
		sink:       sink,
		batchStart: time.Now(),
		stop:       make(chan struct{}),
	}
}

// Run drains the queues until the context is cancelled or Stop is
// called, mirroring the source worker's main loop: try each queue in
// priority order for one item, fall through to the legacy batch check,
// sleep briefly if nothing was found.
func (p *Pool) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.flushLegacyBatch(ctx)
			return
		case <-p.stop:
			p.flushLegacyBatch(ctx)
			return
		default:
		}

		found, err := p.pollOnce(ctx)
		if err != nil {
			log.Printf("worker: poll error: %v", err)
		}

		if p.legacyBatchDue() {
			p.flushLegacyBatch(ctx)
		}

		if !found {
			time.Sleep(p.cfg.IdleSleep)
		}
	}
}

// Stop requests Run exit after its current iteration.
func (p *Pool) Stop() { close(p.stop) }

func (p *Pool) pollOnce(ctx context.Context) (bool, error) {
	for _, q := range p.queues.DeepPriorityOrder() {
		payload, err := q.BlockingPop(ctx, p.cfg.QueuePopTimeout)
		if err != nil {
			return false, err
		}
		if payload == nil {
			continue
		}
		p.dispatch(ctx, payload)
		return true, nil
	}
	return false, nil
}

// dispatch tries the session contract first and falls back to the
// legacy job shape, matching the source worker's try/except order.
func (p *Pool) dispatch(ctx context.Context, payload []byte) {
	var sess model.Session
	if err := json.Unmarshal(payload, &sess); err == nil && sess.SessionID != "" && len(sess.EventIDs) > 0 {
		result := p.ProcessSession(ctx, &sess)
		atomic.AddInt64(&p.totalSessions, 1)
		atomic.AddInt64(&p.totalProcessed, int64(len(result.Findings.EventsProcessed)))
		return
	}

	var job model.LegacyJob
	if err := json.Unmarshal(payload, &job); err == nil && job.EventID != "" {
		p.mu.Lock()
		p.legacyBatch = append(p.legacyBatch, &job)
		p.mu.Unlock()
		return
	}

	log.Printf("worker: %v: payload matched neither session nor legacy job shape", svcerr.ErrBadInput)
}

// ProcessSession runs the session protocol: clamp to K events, fan
// them out concurrently bounded by the session's 80% soft deadline,
// aggregate findings, and persist the result plus completion/digest
// records.
func (p *Pool) ProcessSession(ctx context.Context, sess *model.Session) *model.SessionResult {
	start := time.Now()

	events := sess.EventIDs
	if sess.K > 0 && sess.K < len(events) {
		events = events[:sess.K]
	}

	deadline := time.Duration(sess.DeadlineMs) * time.Millisecond
	softDeadline := time.Duration(float64(deadline) * softDeadlineFrac)
	sctx, cancel := context.WithTimeout(ctx, softDeadline)
	defer cancel()

	g, gctx := errgroup.WithContext(sctx)
	resultsCh := make(chan model.EventProcessed, len(events))
	for _, eventID := range events {
		eventID := eventID
		g.Go(func() error {
			resultsCh <- p.processEvent(gctx, eventID, sess)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(resultsCh)
	}()

	var processed []model.EventProcessed
	for ep := range resultsCh {
		processed = append(processed, ep)
	}
	sortByEventID(processed, events)

	findings := buildFindings(sess, processed)
	durationMs := time.Since(start).Milliseconds()

	result := &model.SessionResult{
		SessionID:            sess.SessionID,
		Success:              true,
		ProcessingDurationMs: durationMs,
		Timestamp:            time.Now().UTC(),
		Findings:             findings,
	}

	p.persistSessionResult(ctx, result)
	for _, eventID := range sess.EventIDs {
		p.emitCompletion(ctx, eventID, true)
	}
	p.emitDigest(ctx, sess, findings, durationMs)

	if p.sink != nil {
		p.sink.ObserveSessionResult(sess.Tier, true, durationMs, findings.RiskScore)
		for _, t := range findings.ThreatIndicators {
			p.sink.ObserveDetection(t.Class, sess.Location, 1.0)
		}
	}

	return result
}

// sortByEventID restores the original event_id ordering after the
// concurrent fan-out, so results read deterministically regardless of
// which goroutine finished first.
func sortByEventID(processed []model.EventProcessed, order []string) {
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	sort.SliceStable(processed, func(i, j int) bool {
		return pos[processed[i].EventID] < pos[processed[j].EventID]
	})
}

func buildFindings(sess *model.Session, processed []model.EventProcessed) model.Findings {
	var totalRisk float64
	var threats []model.ThreatIndicator
	for _, ep := range processed {
		totalRisk += ep.RiskScore
		for _, class := range ep.Detections {
			if class == "person" || class == "vehicle" || class == "weapon" || class == "package" {
				threats = append(threats, model.ThreatIndicator{EventID: ep.EventID, Class: class})
			}
		}
	}

	riskScore := 0.0
	if len(processed) > 0 {
		riskScore = totalRisk / float64(len(processed))
	}

	return model.Findings{
		EventsProcessed:  processed,
		Summary:          summarize(sess.SessionID, processed, threats, riskScore),
		RiskScore:        riskScore,
		ThreatIndicators: threats,
		ProcessingStats: model.ProcessingStats{
			TotalEvents: len(processed),
			DeadlineMs:  sess.DeadlineMs,
			Tier:        sess.Tier,
		},
	}
}

func summarize(sessionID string, processed []model.EventProcessed, threats []model.ThreatIndicator, riskScore float64) string {
	successful := 0
	for _, ep := range processed {
		if ep.Success {
			successful++
		}
	}

	summary := fmt.Sprintf("Processed %d/%d events from session %s", successful, len(processed), sessionID)

	if len(threats) > 0 {
		seen := make(map[string]bool)
		var types []string
		for _, t := range threats {
			if !seen[t.Class] {
				seen[t.Class] = true
				types = append(types, t.Class)
			}
		}
		sort.Strings(types)
		summary += fmt.Sprintf(", detected %d threats: %s", len(threats), joinComma(types))
	}

	switch {
	case riskScore > 0.7:
		summary += " (HIGH RISK)"
	case riskScore > 0.4:
		summary += " (MODERATE RISK)"
	default:
		summary += " (LOW RISK)"
	}
	return summary
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

// processEvent downloads the image and runs inference, both through
// their own circuit breakers, and converts the outcome into a risk
// score. A download or inference failure is recorded on the event, not
// propagated — the session still completes.
func (p *Pool) processEvent(ctx context.Context, eventID string, sess *model.Session) model.EventProcessed {
	if sess.ImageURL == "" {
		return model.EventProcessed{EventID: eventID, Success: false, Error: svcerr.ErrBadInput.Error()}
	}

	var image []byte
	err := p.breakers.Execute(ctx, "download", func() error {
		var derr error
		image, derr = p.downloadImage(ctx, sess.ImageURL)
		return derr
	})
	if err != nil {
		return model.EventProcessed{EventID: eventID, Success: false, Error: err.Error()}
	}

	var dets []Detection
	var confidence float64
	err = p.breakers.Execute(ctx, "inference", func() error {
		var ierr error
		dets, confidence, ierr = p.detector.Detect(ctx, image, sess.Location, sess.LiteResults)
		return ierr
	})
	if err != nil {
		return model.EventProcessed{EventID: eventID, Success: false, Error: err.Error()}
	}

	classes := make([]string, len(dets))
	for i, d := range dets {
		classes[i] = d.Class
	}

	return model.EventProcessed{
		EventID:    eventID,
		Success:    true,
		Detections: classes,
		Confidence: confidence,
		RiskScore:  computeEventRiskScore(dets, sess.Location),
	}
}

// computeEventRiskScore implements the per-event risk formula: a 0.1
// base, weighted detection contributions, +0.1 for a door location,
// clamped to [0,1].
func computeEventRiskScore(dets []Detection, location string) float64 {
	score := 0.1
	for _, d := range dets {
		switch d.Class {
		case "person":
			score += 0.4 * d.Confidence
		case "car", "truck", "motorcycle":
			score += 0.2 * d.Confidence
		case "weapon", "knife", "gun":
			score += 0.8 * d.Confidence
		}
	}
	if location == "front_door" || location == "back_door" {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	if score < 0.0 {
		score = 0.0
	}
	return score
}

func (p *Pool) downloadImage(ctx context.Context, url string) ([]byte, error) {
	dctx, cancel := context.WithTimeout(ctx, p.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", svcerr.ErrDownloadFailure, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", svcerr.ErrDownloadFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", svcerr.ErrDownloadFailure, resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, p.cfg.MaxImageBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", svcerr.ErrDownloadFailure, err)
	}
	if int64(len(data)) > p.cfg.MaxImageBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", svcerr.ErrDownloadFailure, p.cfg.MaxImageBytes)
	}
	return data, nil
}

func (p *Pool) persistSessionResult(ctx context.Context, result *model.SessionResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		log.Printf("worker: marshal session result %s: %v", result.SessionID, err)
		return
	}
	key := "session_result:" + result.SessionID
	if err := p.rdb.Set(ctx, key, payload, sessionResultTTL).Err(); err != nil {
		log.Printf("worker: persist session result %s: %v", result.SessionID, err)
	}
}

func (p *Pool) emitCompletion(ctx context.Context, eventID string, success bool) {
	rec := &model.CompletionRecord{
		EventID:     eventID,
		WorkerID:    p.cfg.WorkerID,
		Success:     success,
		CompletedAt: time.Now().UTC(),
	}
	if err := p.queues.Completions.Push(ctx, rec); err != nil {
		log.Printf("worker: push completion %s: %v", eventID, err)
	}
	if p.sched != nil {
		if err := p.sched.CompleteEvent(ctx, eventID); err != nil {
			log.Printf("worker: release in-flight %s: %v", eventID, err)
		}
	}
}

func (p *Pool) emitDigest(ctx context.Context, sess *model.Session, findings model.Findings, durationMs int64) {
	rec := &model.DigestRecord{
		SessionID:   sess.SessionID,
		HomeID:      sess.HomeID,
		Tier:        sess.Tier,
		Findings:    findings,
		DurationMs:  durationMs,
		CompletedAt: time.Now().UTC(),
	}
	if err := p.queues.Digest.Push(ctx, rec); err != nil {
		log.Printf("worker: push digest %s: %v", sess.SessionID, err)
	}
}

func (p *Pool) legacyBatchDue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.legacyBatch) == 0 {
		return false
	}
	return len(p.legacyBatch) >= p.cfg.LegacyBatchSize || time.Since(p.batchStart) >= p.cfg.LegacyBatchWait
}

// Stats reports the pool's running totals, for the admin surface.
type Stats struct {
	WorkerID         string `json:"worker_id"`
	TotalProcessed   int64  `json:"total_processed"`
	TotalSessions    int64  `json:"total_sessions"`
	CurrentBatchSize int    `json:"current_batch_size"`
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	batchSize := len(p.legacyBatch)
	p.mu.Unlock()
	return Stats{
		WorkerID:         p.cfg.WorkerID,
		TotalProcessed:   atomic.LoadInt64(&p.totalProcessed),
		TotalSessions:    atomic.LoadInt64(&p.totalSessions),
		CurrentBatchSize: batchSize,
	}
}
