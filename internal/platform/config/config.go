package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything main needs to wire the engine. Values come from
// the environment so deployment stays twelve-factor; FromEnv fills defaults
// suitable for local development.
type Config struct {
	Addr          string
	JWTSigningKey string

	PostgresDSN string
	Redis       RedisConfig
	Kafka       KafkaConfig

	// SnapshotAssetDir is the root of the snapshot-scoped photo storage. It
	// must not live under the durable store's data directory; snapshots get
	// their own namespace so read-only enforcement stays possible.
	SnapshotAssetDir string

	// ExpiryGrace is how long past arrival an unsubmitted pack survives
	// before the sweep expires it.
	ExpiryGrace time.Duration

	// SweepInterval is the cadence of the background expiry sweep.
	SweepInterval time.Duration
}

// RedisConfig holds cache-store connection options.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds change-event publishing options. Empty brokers disable
// Kafka and fall back to the in-process publisher.
type KafkaConfig struct {
	SeedBrokers []string
	Topic       string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:             getenv("ENTRYPACK_ADDR", ":8080"),
		JWTSigningKey:    getenv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		PostgresDSN:      os.Getenv("ENTRYPACK_POSTGRES_DSN"),
		SnapshotAssetDir: getenv("ENTRYPACK_SNAPSHOT_DIR", "./data/snapshots"),
		ExpiryGrace:      getDuration("ENTRYPACK_EXPIRY_GRACE", 24*time.Hour),
		SweepInterval:    getDuration("ENTRYPACK_SWEEP_INTERVAL", 15*time.Minute),
		Redis: RedisConfig{
			URL:          os.Getenv("ENTRYPACK_REDIS_URL"),
			PoolSize:     getInt("ENTRYPACK_REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("ENTRYPACK_REDIS_MIN_IDLE", 2),
			DialTimeout:  getDuration("ENTRYPACK_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("ENTRYPACK_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("ENTRYPACK_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Topic: getenv("ENTRYPACK_KAFKA_TOPIC", "entrypack.pack-events"),
		},
	}
	if brokers := os.Getenv("ENTRYPACK_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.SeedBrokers = strings.Split(brokers, ",")
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
