// cmd/planner runs a single planning round and prints the resulting plan
// as JSON. Useful for cron-style scheduling and for inspecting what the
// daemon would enqueue.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"

	"marketlake/config"
	"marketlake/internal/symbols"
	"marketlake/internal/watermark"
	"marketlake/logger"
	"marketlake/planner"
	"marketlake/writer"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	asOf := flag.String("as-of", "", "Plan as of this RFC3339 time instead of now")
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

	now := time.Now()
	if *asOf != "" {
		now, err = time.Parse(time.RFC3339, *asOf)
		if err != nil {
			log.WithError(err).Error("invalid -as-of time")
			os.Exit(1)
		}
	}

	ctx := context.Background()

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

	p := planner.NewPlanner(cfg, watermark.NewStore(cfg, s3Client), catalog)
	plan, err := p.Plan(ctx, now)
	if err != nil {
		log.WithError(err).Error("planning failed")
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(plan); err != nil {
		log.WithError(err).Error("failed to encode plan")
		os.Exit(1)
	}
}
