// Package config resolves startup configuration from environment
// variables with defaults, the way every cmd/*/main.go in this module's
// ancestry does, centralized here so the scheduler and worker daemons
// agree on the same values.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the scheduler and worker daemons need at
// startup.
type Config struct {
	// Shared store / bus
	RedisURL string
	NatsURL  string
	EtcdURL  string

	// Scheduler
	RoundCadence          time.Duration
	TopKLimit             int
	MaxBatchSize          int
	NumGPUs               int
	AutothrottleThreshold int
	ThrottleReduction     float64
	MinBestEffortK        int
	InFlightGrace         time.Duration
	DefaultDeadlineMs     int64
	DefaultK              int

	// Token bucket defaults (per minute)
	StandardCapacity  int
	PremiumCapacity   int
	EnterpriseCapacity int

	// Worker
	WorkerCount        int
	LegacyBatchSize    int
	LegacyBatchWait    time.Duration
	DownloadTimeout    time.Duration
	MaxImageBytes      int64
	QueuePopTimeout    time.Duration
	IdleSleep          time.Duration

	// Admin surface
	AdminAddr      string
	OperatorSecret string

	// Metrics
	InfluxURL   string
	InfluxToken string
	InfluxOrg   string
	InfluxBucket string
	MetricsAddr string
}

// Load reads configuration from the environment, falling back to
// sensible operating defaults for every value.
func Load() *Config {
	numGPUs := getEnvInt("NUM_GPUS", 1)
	return &Config{
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		NatsURL:  getEnv("NATS_URL", "nats://localhost:4222"),
		EtcdURL:  getEnv("ETCD_URL", "localhost:2379"),

		RoundCadence:          time.Duration(getEnvInt("ROUND_CADENCE_SEC", 30)) * time.Second,
		TopKLimit:             getEnvInt("TOP_K_LIMIT", 50),
		MaxBatchSize:          getEnvInt("MAX_BATCH_SIZE", 10),
		NumGPUs:               numGPUs,
		AutothrottleThreshold: getEnvInt("AUTOTHROTTLE_THRESHOLD", 150*numGPUs),
		ThrottleReduction:     getEnvFloat("THROTTLE_REDUCTION", 0.40),
		MinBestEffortK:        getEnvInt("MIN_BEST_EFFORT_K", 5),
		InFlightGrace:         time.Duration(getEnvInt("IN_FLIGHT_GRACE_SEC", 30)) * time.Second,
		DefaultDeadlineMs:     int64(getEnvInt("DEFAULT_DEADLINE_MS", 300000)),
		DefaultK:              getEnvInt("DEFAULT_K", 1),

		StandardCapacity:   getEnvInt("STANDARD_CAPACITY", 2),
		PremiumCapacity:    getEnvInt("PREMIUM_CAPACITY", 7),
		EnterpriseCapacity: getEnvInt("ENTERPRISE_CAPACITY", 32),

		WorkerCount:     getEnvInt("WORKER_COUNT", 4),
		LegacyBatchSize: getEnvInt("LEGACY_BATCH_SIZE", 5),
		LegacyBatchWait: time.Duration(getEnvInt("LEGACY_BATCH_WAIT_SEC", 10)) * time.Second,
		DownloadTimeout: time.Duration(getEnvInt("DOWNLOAD_TIMEOUT_SEC", 30)) * time.Second,
		MaxImageBytes:   int64(getEnvInt("MAX_IMAGE_BYTES", 5*1024*1024)),
		QueuePopTimeout: time.Duration(getEnvInt("QUEUE_POP_TIMEOUT_SEC", 1)) * time.Second,
		IdleSleep:       time.Duration(getEnvInt("IDLE_SLEEP_MS", 100)) * time.Millisecond,

		AdminAddr:      getEnv("ADMIN_ADDR", ":8090"),
		OperatorSecret: getEnv("OPERATOR_SECRET", "dev-operator-secret"),

		InfluxURL:    getEnv("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:  getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUX_ORG", "sentineldispatch"),
		InfluxBucket: getEnv("INFLUX_BUCKET", "dispatch_metrics"),
		MetricsAddr:  getEnv("METRICS_ADDR", ":9090"),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
