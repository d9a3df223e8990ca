package writer

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "marketlake/config"
	"marketlake/logger"
	"marketlake/models"
)

// S3API is the slice of the S3 client the bronze writer needs. Tests
// substitute an in-memory implementation.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// BronzeWriter lands one validated batch as two objects under the bronze
// prefix: the window-scoped raw rows as the provider serialised them
// (raw.json) and a normalized parquet sibling (bars.parquet). Keys are
// deterministic per window and the raw body is deterministic for unchanged
// provider data, so re-executing a task overwrites with identical bytes
// rather than duplicating; the S3 PUT is the atomic publish step.
type BronzeWriter struct {
	config *appconfig.Config
	s3     S3API
	log    *logger.Log
}

// NewBronzeWriter creates a BronzeWriter on top of the provided client.
func NewBronzeWriter(cfg *appconfig.Config, client S3API) *BronzeWriter {
	return &BronzeWriter{
		config: cfg,
		s3:     client,
		log:    logger.GetLogger(),
	}
}

// WriteBatch writes the raw payload and the parquet sibling for one task.
// It returns the URI of the raw object. Failures are storage errors and
// retryable: the keys are stable and a retry overwrites cleanly.
func (w *BronzeWriter) WriteBatch(ctx context.Context, task models.FetchTask, batch *models.RawRecordBatch) (string, error) {
	const op = "write_bronze"

	bucket := w.config.Storage.S3.Bucket
	prefix := w.config.Storage.S3.BronzePrefix
	rawKey := models.BronzeKey(prefix, task.Symbol, task.WindowStart)
	barsKey := models.BarsKey(prefix, task.Symbol, task.WindowStart)

	log := w.log.WithComponent("bronze_writer").WithFields(logger.Fields{
		"batch_id":     batch.BatchID,
		"symbol":       task.Symbol,
		"window_start": task.WindowStart,
		"s3_key":       rawKey,
		"record_count": len(batch.Bars),
	})

	if err := w.putObject(ctx, bucket, rawKey, batch.Raw, "application/json"); err != nil {
		log.WithError(err).
			WithEnv("S3_BRONZE_BUCKET").
			Error("failed to upload raw payload")
		return "", models.E(models.KindStorage, op, err)
	}
	logger.IncrementBronzeWrite(int64(len(batch.Raw)))

	parquetData, err := encodeBarsParquet(batch)
	if err != nil {
		log.WithError(err).Error("failed to encode parquet sibling")
		return "", models.E(models.KindStorage, op, err)
	}
	if err := w.putObject(ctx, bucket, barsKey, parquetData, "application/octet-stream"); err != nil {
		log.WithError(err).Error("failed to upload parquet sibling")
		return "", models.E(models.KindStorage, op, err)
	}
	logger.IncrementBronzeWrite(int64(len(parquetData)))

	uri := fmt.Sprintf("s3://%s/%s", bucket, rawKey)
	log.WithFields(logger.Fields{
		"raw_size":     len(batch.Raw),
		"parquet_size": len(parquetData),
	}).Info("batch landed in bronze layer")

	w.log.LogMetric("bronze_writer", "rows_written", int64(len(batch.Bars)), "counter", logger.Fields{
		"symbol": task.Symbol,
	})

	return uri, nil
}

func (w *BronzeWriter) putObject(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"marketlake-version": w.config.Marketlake.Version,
		},
	}

	if _, err := w.s3.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", bucket, err)
	}
	return nil
}
