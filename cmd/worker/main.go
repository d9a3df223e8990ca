// cmd/worker executes fetch tasks read as JSON from stdin, one object per
// line, and prints a result per task. It pairs with cmd/planner for
// driving ingestion without the long-running daemon.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"os"

	"github.com/joho/godotenv"

	"marketlake/config"
	"marketlake/internal/watermark"
	"marketlake/logger"
	"marketlake/models"
	"marketlake/reader/alphavantage"
	"marketlake/worker"
	"marketlake/writer"
)

func main() {
	log := logger.GetLogger()

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
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, "stderr", cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	ctx := context.Background()

	s3Client, err := writer.NewS3Client(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("failed to create S3 client")
		os.Exit(1)
	}

	w := worker.NewWorker(cfg,
		alphavantage.NewClient(cfg),
		writer.NewBronzeWriter(cfg, s3Client),
		watermark.NewStore(cfg, s3Client))

	enc := json.NewEncoder(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	failed := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var task models.FetchTask
		if err := json.Unmarshal(line, &task); err != nil {
			log.WithError(err).Error("invalid task json")
			failed = true
			continue
		}

		result := w.Execute(ctx, task)
		if result.Status == models.StatusFailed {
			failed = true
		}
		if err := enc.Encode(result); err != nil {
			log.WithError(err).Error("failed to encode result")
			os.Exit(1)
		}
	}
	if err := scanner.Err(); err != nil {
		log.WithError(err).Error("failed reading tasks")
		os.Exit(1)
	}

	if failed {
		os.Exit(1)
	}
}
