package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentineldispatch/core/internal/candidatestore"
	"github.com/sentineldispatch/core/internal/config"
	"github.com/sentineldispatch/core/internal/metrics"
	"github.com/sentineldispatch/core/internal/queue"
	"github.com/sentineldispatch/core/internal/scheduler"
	"github.com/sentineldispatch/core/internal/tokenbucket"
	"github.com/sentineldispatch/core/internal/worker"
	"github.com/sentineldispatch/core/pkg/circuit"
)

func newDetector() worker.Detector {
	if url := os.Getenv("INFERENCE_URL"); url != "" {
		return &worker.HTTPDetector{
			URL:    url,
			Client: &http.Client{Timeout: 20 * time.Second},
		}
	}
	log.Println("INFERENCE_URL not set, falling back to the deterministic stub detector")
	return worker.StubDetector{}
}

func main() {
	cfg := config.Load()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("parse redis url: %v", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	store := candidatestore.NewWithClient(rdb)
	queues := queue.NewQueues(rdb)
	buckets := tokenbucket.NewGroup(
		float64(cfg.StandardCapacity),
		float64(cfg.PremiumCapacity),
		float64(cfg.EnterpriseCapacity),
		float64(cfg.MinBestEffortK),
	)

	sink := metrics.MultiSink{
		Prom:   metrics.NewPrometheusSink(),
		Influx: metrics.NewInfluxSink(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket),
	}

	// The worker fleet shares the scheduler's in-flight bookkeeping
	// (CompleteEvent) but never runs rounds itself.
	sched := scheduler.New(scheduler.Config{
		Cadence:               cfg.RoundCadence,
		TopKLimit:             cfg.TopKLimit,
		MaxBatchSize:          cfg.MaxBatchSize,
		AutothrottleThreshold: cfg.AutothrottleThreshold,
		ThrottleReduction:     cfg.ThrottleReduction,
		InFlightGrace:         cfg.InFlightGrace,
		DefaultDeadlineMs:     cfg.DefaultDeadlineMs,
		DefaultK:              cfg.DefaultK,
	}, store, rdb, queues, buckets, sink)

	breakers := circuit.NewBreakerGroup(circuit.Config{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		HalfOpenMax: 3,
	})

	detector := newDetector()
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "worker"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	pools := make([]*worker.Pool, 0, cfg.WorkerCount)
	for i := 0; i < cfg.WorkerCount; i++ {
		p := worker.New(worker.Config{
			WorkerID:        hostname + "-" + strconv.Itoa(i),
			LegacyBatchSize: cfg.LegacyBatchSize,
			LegacyBatchWait: cfg.LegacyBatchWait,
			DownloadTimeout: cfg.DownloadTimeout,
			MaxImageBytes:   cfg.MaxImageBytes,
			QueuePopTimeout: cfg.QueuePopTimeout,
			IdleSleep:       cfg.IdleSleep,
		}, queues, rdb, sched, detector, breakers, sink)

		pools = append(pools, p)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
	}

	log.Printf("started %d worker(s) on %s", cfg.WorkerCount, hostname)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down worker pool...")
	for _, p := range pools {
		p.Stop()
	}
	cancel()
	wg.Wait()
	log.Println("worker pool stopped")
}
