package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sentineldispatch/core/internal/model"
)

// flushLegacyBatch processes every job accumulated since the last
// flush concurrently, the same size-or-time trigger the source worker
// used for its legacy batch path.
func (p *Pool) flushLegacyBatch(ctx context.Context) {
	p.mu.Lock()
	batch := p.legacyBatch
	p.legacyBatch = nil
	p.batchStart = time.Now()
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range batch {
		job := job
		g.Go(func() error {
			p.processLegacyJob(gctx, job)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pool) processLegacyJob(ctx context.Context, job *model.LegacyJob) {
	start := time.Now()

	var image []byte
	err := p.breakers.Execute(ctx, "download", func() error {
		var derr error
		image, derr = p.downloadImage(ctx, job.ImageURL)
		return derr
	})
	if err != nil {
		p.handleLegacyFailure(ctx, job, start, err)
		return
	}

	var dets []Detection
	var confidence float64
	err = p.breakers.Execute(ctx, "inference", func() error {
		var ierr error
		dets, confidence, ierr = p.detector.Detect(ctx, image, job.Location, job.LiteResults)
		return ierr
	})
	if err != nil {
		p.handleLegacyFailure(ctx, job, start, err)
		return
	}

	classes := make([]string, len(dets))
	for i, d := range dets {
		classes[i] = d.Class
	}
	risk := computeEventRiskScore(dets, job.Location)

	result := model.LegacyResult{
		EventID:              job.EventID,
		Success:              true,
		ProcessingDurationMs: time.Since(start).Milliseconds(),
		Timestamp:            time.Now().UTC(),
		Detections:           classes,
		Confidence:           confidence,
		RiskScore:            risk,
		Summary:              fmt.Sprintf("Detected %d objects", len(classes)),
	}

	p.handleLegacySuccess(ctx, job, result)
}

func (p *Pool) handleLegacySuccess(ctx context.Context, job *model.LegacyJob, result model.LegacyResult) {
	digest := &model.LegacyDigestRecord{
		EventID:     job.EventID,
		UserID:      job.UserID,
		HomeID:      job.HomeID,
		Result:      result,
		Tier:        job.Tier,
		CompletedAt: time.Now().UTC(),
	}
	if err := p.queues.Digest.Push(ctx, digest); err != nil {
		log.Printf("worker: push legacy digest %s: %v", job.EventID, err)
	}
	p.emitCompletion(ctx, job.EventID, true)

	if p.sink != nil {
		p.sink.ObserveSessionResult(job.Tier, true, result.ProcessingDurationMs, result.RiskScore)
	}
}

func (p *Pool) handleLegacyFailure(ctx context.Context, job *model.LegacyJob, start time.Time, cause error) {
	result := model.LegacyResult{
		EventID:              job.EventID,
		Success:              false,
		ProcessingDurationMs: time.Since(start).Milliseconds(),
		Timestamp:            time.Now().UTC(),
		ErrorMessage:         cause.Error(),
	}
	digest := &model.LegacyDigestRecord{
		EventID:     job.EventID,
		UserID:      job.UserID,
		HomeID:      job.HomeID,
		Result:      result,
		Tier:        job.Tier,
		CompletedAt: time.Now().UTC(),
	}
	if err := p.queues.Digest.Push(ctx, digest); err != nil {
		log.Printf("worker: push legacy failure digest %s: %v", job.EventID, err)
	}
	p.emitCompletion(ctx, job.EventID, false)

	if p.sink != nil {
		p.sink.ObserveSessionResult(job.Tier, false, result.ProcessingDurationMs, 0)
	}
}
