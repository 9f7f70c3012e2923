package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentineldispatch/core/internal/admin"
	"github.com/sentineldispatch/core/internal/candidatestore"
	"github.com/sentineldispatch/core/internal/config"
	"github.com/sentineldispatch/core/internal/ingest"
	"github.com/sentineldispatch/core/internal/leader"
	"github.com/sentineldispatch/core/internal/metrics"
	"github.com/sentineldispatch/core/internal/operatorauth"
	"github.com/sentineldispatch/core/internal/queue"
	"github.com/sentineldispatch/core/internal/scheduler"
	"github.com/sentineldispatch/core/internal/tokenbucket"
	"github.com/sentineldispatch/core/pkg/messaging"
)

const eventsSubject = "events.lifecycle"

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

	nodeID, err := os.Hostname()
	if err != nil || nodeID == "" {
		nodeID = "scheduler-" + strconv.Itoa(os.Getpid())
	}

	elector, err := leader.New([]string{cfg.EtcdURL}, 30)
	if err != nil {
		log.Printf("leader election unavailable, running unelected: %v", err)
	} else {
		sched.WithElector(elector)
		go func() {
			if err := elector.Campaign(context.Background(), nodeID); err != nil {
				log.Printf("campaign for leadership: %v", err)
			}
		}()
	}

	msgClient, err := messaging.NewClient(messaging.Config{
		URL:            cfg.NatsURL,
		Name:           "scheduler",
		ReconnectWait:  time.Second,
		MaxReconnects:  60,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		log.Fatalf("connect to NATS: %v", err)
	}
	defer msgClient.Close()

	bus := messaging.NewNATSEventBus(msgClient, eventsSubject)
	in := ingest.New(store, sched, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := in.Subscribe(ctx, msgClient); err != nil {
		log.Fatalf("subscribe ingest subjects: %v", err)
	}

	go sched.Run(ctx)

	verifier := operatorauth.NewVerifier(cfg.OperatorSecret)
	adm := admin.New(admin.Config{
		Addr:            cfg.AdminAddr,
		RoundPushPeriod: cfg.RoundCadence,
	}, sched, store, nil, verifier)

	go func() {
		log.Printf("admin surface listening on %s", cfg.AdminAddr)
		if err := adm.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("admin server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down scheduler...")
	sched.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	adm.Shutdown(shutdownCtx)

	log.Println("scheduler stopped")
}
