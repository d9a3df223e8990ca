package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"marketlake/config"
	"marketlake/internal/queue"
	"marketlake/internal/symbols"
	"marketlake/internal/watermark"
	"marketlake/logger"
	"marketlake/planner"
	"marketlake/reader/alphavantage"
	"marketlake/worker"
	"marketlake/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Marketlake.Name,
		"version": cfg.Marketlake.Version,
	}).Info("starting marketlake")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Metrics.Namespace, cfg.Logging.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if !cfg.Storage.S3.Enabled {
		log.WithComponent("main").Error("S3 storage disabled; nothing to ingest into")
		os.Exit(1)
	}

	s3Client, err := writer.NewS3Client(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("failed to create S3 client")
		os.Exit(1)
	}

	catalog, err := symbols.Load(ctx, cfg, s3Client)
	if err != nil {
		log.WithError(err).Error("failed to load symbol catalog")
		os.Exit(1)
	}
	if len(catalog) == 0 {
		log.WithComponent("main").Error("symbol catalog is empty")
		os.Exit(1)
	}

	q := queue.NewQueue(cfg.Worker.TaskBuffer, cfg.Worker.ResultBuffer)
	go q.StartMetricsReporting(ctx)

	marks := watermark.NewStore(cfg, s3Client)
	bronze := writer.NewBronzeWriter(cfg, s3Client)
	client := alphavantage.NewClient(cfg)

	pool := worker.NewPool(cfg, worker.NewWorker(cfg, client, bronze, marks), q)
	runner := planner.NewRunner(cfg, planner.NewPlanner(cfg, marks, catalog), q)

	if err := pool.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start worker pool")
		os.Exit(1)
	}
	if err := runner.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start planner runner")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		runner.Stop()
		pool.Stop()
		q.Close()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("marketlake stopped")
}
