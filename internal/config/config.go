package config

import (
	"strings"
	"time"

	"github.com/deepugangadhar46/protego/pkg/config"
)

// Config stores environment configuration for Protego.
type Config struct {
	Port        string
	DatabaseURL string

	// Detection tuning
	ScanInterval        time.Duration
	ScanWindowHours     int
	SimilarityThreshold float64
	MinClusterSize      int
	RetentionHours      int

	// Embedding backfill
	EmbeddingProvider string
	EmbeddingModel    string
	EmbeddingAPIKey   string
	EmbeddingAPIURL   string
	EmbedInterval     time.Duration
	EmbedBatchSize    int

	// Evidence capture
	ScreenshotDir  string
	CaptureTimeout time.Duration
	EnableCapture  bool

	// Verification outcome events
	KafkaBrokers []string
	KafkaTopic   string

	// Scan serialization across instances
	RedisAddr string
}

// LoadConfig loads the Protego configuration from environment variables.
func LoadConfig() Config {
	brokersEnv := strings.TrimSpace(config.GetEnv("KAFKA_BROKERS", ""))
	var brokers []string
	if brokersEnv != "" {
		for _, broker := range strings.Split(brokersEnv, ",") {
			broker = strings.TrimSpace(broker)
			if broker != "" {
				brokers = append(brokers, broker)
			}
		}
	}

	return Config{
		Port:        config.GetEnv("PORT", "18080"),
		DatabaseURL: config.GetEnv("DATABASE_URL", ""),

		ScanInterval:        config.GetEnvDuration("SCAN_INTERVAL", 10*time.Minute),
		ScanWindowHours:     config.GetEnvInt("SCAN_WINDOW_HOURS", 24),
		SimilarityThreshold: config.GetEnvFloat("SIMILARITY_THRESHOLD", 0.85),
		MinClusterSize:      config.GetEnvInt("MIN_CLUSTER_SIZE", 3),
		RetentionHours:      config.GetEnvInt("POST_RETENTION_HOURS", 72),

		EmbeddingProvider: config.GetEnv("EMBEDDING_PROVIDER", "openai"),
		EmbeddingModel:    config.GetEnv("EMBEDDING_MODEL", ""),
		EmbeddingAPIKey:   config.GetEnv("EMBEDDING_API_KEY", ""),
		EmbeddingAPIURL:   config.GetEnv("EMBEDDING_API_URL", ""),
		EmbedInterval:     config.GetEnvDuration("EMBED_INTERVAL", time.Minute),
		EmbedBatchSize:    config.GetEnvInt("EMBED_BATCH_SIZE", 64),

		ScreenshotDir:  config.GetEnv("SCREENSHOT_DIR", "screenshots"),
		CaptureTimeout: config.GetEnvDuration("CAPTURE_TIMEOUT", 20*time.Second),
		EnableCapture:  config.GetEnvBool("ENABLE_CAPTURE", true),

		KafkaBrokers: brokers,
		KafkaTopic:   config.GetEnv("KAFKA_VERIFICATION_TOPIC", "protego.verification_outcomes"),

		RedisAddr: config.GetEnv("REDIS_ADDR", ""),
	}
}
