package main

import (
	"context"
	"time"

	"github.com/deepugangadhar46/protego/internal/campaign"
	protegoconfig "github.com/deepugangadhar46/protego/internal/config"
	"github.com/deepugangadhar46/protego/internal/evidence"
	"github.com/deepugangadhar46/protego/internal/handlers"
	"github.com/deepugangadhar46/protego/internal/notify"
	"github.com/deepugangadhar46/protego/internal/scanlock"
	"github.com/deepugangadhar46/protego/internal/verification"
	"github.com/deepugangadhar46/protego/pkg/config"
	"github.com/deepugangadhar46/protego/pkg/database"
	"github.com/deepugangadhar46/protego/pkg/llm"
	"github.com/deepugangadhar46/protego/pkg/logging"
	"github.com/deepugangadhar46/protego/pkg/monitoring"
	"github.com/deepugangadhar46/protego/pkg/server"
	"github.com/deepugangadhar46/protego/pkg/version"

	goredis "github.com/redis/go-redis/v9"
)

func main() {
	logger := logging.NewLoggerWithService("protego")
	config.LoadEnv(logger)

	logger.Info("Starting Protego (VIP campaign detection and verification)")

	cfg := protegoconfig.LoadConfig()

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = cfg.DatabaseURL
	db := database.MustConnect(dbConfig, logger)
	defer func() { _ = db.Close() }()

	if err := database.ApplySchema(context.Background(), db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("protego", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("protego", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": cfg.DatabaseURL,
	}))

	scanCounter, campaignCounter, scanDuration := metricsCollector.CreateDetectionMetrics()
	enqueuedCounter, verifiedCounter, queueDepth := metricsCollector.CreateVerificationMetrics()

	// Detection pipeline
	posts := campaign.NewStore(db, logger)
	detector := campaign.NewDetector(posts, logger, campaign.DetectorConfig{
		WindowHours:         cfg.ScanWindowHours,
		RetentionHours:      cfg.RetentionHours,
		SimilarityThreshold: cfg.SimilarityThreshold,
		MinClusterSize:      cfg.MinClusterSize,
	})
	detector.SetMetrics(&campaign.Metrics{
		Scans:     scanCounter,
		Campaigns: campaignCounter,
		Duration:  scanDuration,
	})

	if cfg.RedisAddr != "" {
		redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = redisClient.Close() }()
		detector.SetScanLock(scanlock.New(redisClient, "protego:scan", 2*cfg.ScanInterval))
		healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
	} else {
		logger.Info("REDIS_ADDR not set - scan serialization is in-process only")
	}

	// Embedding backfill
	var embedClient llm.EmbeddingClient
	if cfg.EmbeddingModel != "" {
		client, err := llm.NewEmbeddingClient(llm.Config{
			Provider: cfg.EmbeddingProvider,
			Model:    cfg.EmbeddingModel,
			APIKey:   cfg.EmbeddingAPIKey,
			APIURL:   cfg.EmbeddingAPIURL,
		})
		if err != nil {
			logger.WithError(err).Warn("Failed to create embedding client - similarity clustering disabled")
		} else {
			embedClient = client

			probeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			dims, err := llm.ProbeEmbeddingDimensions(probeCtx, client)
			cancel()
			if err != nil {
				logger.WithError(err).Warn("Embedding dimension probe failed - clustering degrades until the service recovers")
			} else {
				logger.WithFields(logging.Fields{
					"model":      cfg.EmbeddingModel,
					"dimensions": dims,
				}).Info("Embedding service ready")
			}
		}
	}
	embedWorker := campaign.NewEmbedWorker(posts, embedClient, logger, cfg.EmbedInterval, cfg.EmbedBatchSize)
	embedWorker.Start()
	defer embedWorker.Stop()

	// Evidence capture
	evidenceStore := evidence.NewStore(db, logger)
	if cfg.EnableCapture {
		capturer, err := evidence.NewRodCapturer(cfg.ScreenshotDir)
		if err != nil {
			logger.WithError(err).Warn("Failed to launch screenshot browser - evidence stored without screenshots")
		} else {
			evidenceStore.SetCapturer(capturer, cfg.CaptureTimeout)
			defer capturer.Close()
		}
	}

	// Verification workflow
	flow := verification.NewFlow(db, logger)
	flow.SetMetrics(&verification.Metrics{
		Enqueued: enqueuedCounter,
		Verified: verifiedCounter,
		Depth:    queueDepth,
	})

	publisher, err := notify.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	if err != nil {
		logger.WithError(err).Warn("Failed to create Kafka publisher - outcome events disabled")
	} else if publisher != nil {
		flow.RegisterCallback("kafka", publisher.Callback())
		healthChecker.AddCheck("kafka", monitoring.KafkaProducerHealthCheck(publisher.Client()))
		defer publisher.Close()
	} else {
		logger.Warn("KAFKA_BROKERS not set - outcome events disabled")
	}

	// Scheduled detection cycles
	scanCtx, stopScans := context.WithCancel(context.Background())
	defer stopScans()
	go func() {
		ticker := time.NewTicker(cfg.ScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-scanCtx.Done():
				return
			case <-ticker.C:
				detector.RunScan(scanCtx)
			}
		}
	}()

	// HTTP API
	router := server.SetupServiceRouter(logger, "protego", healthChecker, metricsCollector)
	handlers.New(posts, detector, evidenceStore, flow, logger).RegisterRoutes(router)

	srvConfig := server.DefaultConfig("protego", cfg.Port)
	if err := server.Start(srvConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server exited with error")
	}
}
