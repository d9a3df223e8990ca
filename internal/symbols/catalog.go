package symbols

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "marketlake/config"
	"marketlake/logger"
	"marketlake/models"
)

const startDateLayout = "2006-01-02"

// Symbol is one tracked instrument. Start is the earliest point data
// exists for it; planning never reaches before it. A zero Start means
// unbounded (the lookback cap applies on its own).
type Symbol struct {
	Symbol string
	Start  time.Time
}

type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Load resolves the symbol catalog. When a catalog object URI is
// configured it is fetched from S3 as CSV, otherwise the inline list
// from the config file is used.
func Load(ctx context.Context, cfg *appconfig.Config, client S3API) ([]Symbol, error) {
	log := logger.GetLogger().WithComponent("symbols")

	if uri := cfg.Planner.SymbolsS3URI; uri != "" {
		bucket, key, err := ParseS3URI(uri)
		if err != nil {
			return nil, err
		}
		out, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, models.E(models.KindStorage, "load_symbols", err)
		}
		defer out.Body.Close()

		catalog, err := ParseCatalogCSV(out.Body)
		if err != nil {
			return nil, err
		}
		log.WithFields(logger.Fields{"source": uri, "count": len(catalog)}).Info("symbol catalog loaded")
		return catalog, nil
	}

	catalog := make([]Symbol, 0, len(cfg.Planner.Symbols))
	seen := make(map[string]bool)
	for _, raw := range cfg.Planner.Symbols {
		sym := Normalize(raw)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		catalog = append(catalog, Symbol{Symbol: sym})
	}

	log.WithFields(logger.Fields{"source": "config", "count": len(catalog)}).Info("symbol catalog loaded")
	return catalog, nil
}

// ParseCatalogCSV reads a catalog in "symbol,start_date" form. A header
// row is detected and skipped, the start_date column is optional.
func ParseCatalogCSV(r io.Reader) ([]Symbol, error) {
	const op = "parse_symbol_catalog"

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var catalog []Symbol
	seen := make(map[string]bool)
	first := true
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, models.E(models.KindValidation, op, err)
		}
		if first {
			first = false
			if strings.EqualFold(strings.TrimSpace(record[0]), "symbol") {
				continue
			}
		}

		sym := Normalize(record[0])
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true

		entry := Symbol{Symbol: sym}
		if len(record) > 1 && strings.TrimSpace(record[1]) != "" {
			start, err := time.Parse(startDateLayout, strings.TrimSpace(record[1]))
			if err != nil {
				return nil, models.E(models.KindValidation, op,
					fmt.Errorf("bad start_date for %s: %w", sym, err))
			}
			entry.Start = start.UTC()
		}
		catalog = append(catalog, entry)
	}

	if len(catalog) == 0 {
		return nil, models.E(models.KindValidation, op, fmt.Errorf("catalog is empty"))
	}
	return catalog, nil
}

// Normalize uppercases a ticker and strips surrounding whitespace.
func Normalize(sym string) string {
	return strings.ToUpper(strings.TrimSpace(sym))
}

// ParseS3URI splits an s3://bucket/key URI into its parts.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %s", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 uri missing bucket or key: %s", uri)
	}
	return bucket, key, nil
}
