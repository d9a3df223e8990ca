package watermark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	appconfig "marketlake/config"
	"marketlake/logger"
	"marketlake/models"
)

// casAttempts bounds how often a lost swap is retried before the caller
// sees a conflict error. Only the swap is retried, never the fetch.
const casAttempts = 5

// S3API is the slice of the S3 client the store needs.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store persists per-symbol watermark manifests as small JSON objects
// under the meta prefix. Updates are monotonic compare-and-swap advances:
// the manifest is read with its ETag and written back conditionally, so
// concurrent workers can never regress a watermark, only lose a race and
// re-read.
type Store struct {
	bucket string
	prefix string
	s3     S3API
	log    *logger.Log
}

// NewStore creates a watermark store over the given S3 client.
func NewStore(cfg *appconfig.Config, client S3API) *Store {
	return &Store{
		bucket: cfg.Storage.S3.Bucket,
		prefix: cfg.Storage.S3.MetaPrefix,
		s3:     client,
		log:    logger.GetLogger(),
	}
}

func (s *Store) key(symbol string) string {
	return path.Join(s.prefix, "watermarks", fmt.Sprintf("symbol=%s.json", symbol))
}

// Current returns the watermark for a symbol, reporting found=false when
// no manifest exists yet.
func (s *Store) Current(ctx context.Context, symbol string) (time.Time, bool, error) {
	wm, _, found, err := s.get(ctx, symbol)
	if err != nil {
		return time.Time{}, false, err
	}
	return wm.Value, found, nil
}

func (s *Store) get(ctx context.Context, symbol string) (models.Watermark, string, bool, error) {
	const op = "watermark_get"

	out, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(symbol)),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return models.Watermark{}, "", false, nil
		}
		return models.Watermark{}, "", false, models.E(models.KindStorage, op, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return models.Watermark{}, "", false, models.E(models.KindStorage, op, err)
	}

	var wm models.Watermark
	if err := json.Unmarshal(body, &wm); err != nil {
		return models.Watermark{}, "", false, models.E(models.KindStorage, op,
			fmt.Errorf("corrupt manifest for %s: %w", symbol, err))
	}

	return wm, aws.ToString(out.ETag), true, nil
}

// Advance moves the watermark for symbol up to 'to' and returns the value
// in effect afterwards. The update is a monotonic max: if another worker
// already advanced past 'to', the stored value wins and no write happens.
// A lost conditional write re-reads and retries the swap only.
func (s *Store) Advance(ctx context.Context, symbol string, to time.Time) (time.Time, error) {
	const op = "watermark_advance"

	log := s.log.WithComponent("watermark_store").WithFields(logger.Fields{
		"symbol": symbol,
		"to":     to,
	})

	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		wm, etag, found, err := s.get(ctx, symbol)
		if err != nil {
			return time.Time{}, err
		}

		if found && !to.After(wm.Value) {
			log.WithFields(logger.Fields{"current": wm.Value}).Debug("watermark already ahead, no update")
			return wm.Value, nil
		}

		manifest := models.Watermark{
			Symbol:    symbol,
			Value:     to,
			UpdatedAt: time.Now().UTC(),
		}
		body, err := json.Marshal(manifest)
		if err != nil {
			return time.Time{}, models.E(models.KindStorage, op, err)
		}

		input := &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.key(symbol)),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/json"),
		}
		if found {
			input.IfMatch = aws.String(etag)
		} else {
			input.IfNoneMatch = aws.String("*")
		}

		if _, err := s.s3.PutObject(ctx, input); err != nil {
			if isPreconditionFailure(err) {
				lastErr = models.E(models.KindWatermarkConflict, op, err)
				log.WithFields(logger.Fields{"attempt": attempt + 1}).Debug("lost watermark swap, re-reading")
				continue
			}
			return time.Time{}, models.E(models.KindStorage, op, err)
		}

		logger.IncrementWatermarkAdvance()
		log.WithFields(logger.Fields{"attempt": attempt + 1}).Debug("watermark advanced")
		return to, nil
	}

	return time.Time{}, lastErr
}

// isPreconditionFailure reports whether an S3 error is a lost conditional
// write (412 on If-Match, or a concurrent conditional conflict).
func isPreconditionFailure(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	default:
		return false
	}
}
