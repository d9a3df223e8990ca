package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	appconfig "marketlake/config"
	"marketlake/models"
	"marketlake/reader/alphavantage"
)

type fakeFetcher struct {
	mu      sync.Mutex
	payload *alphavantage.IntradayPayload
	err     error
	calls   int
}

func (f *fakeFetcher) FetchIntraday(ctx context.Context, symbol, month string) (*alphavantage.IntradayPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

type fakeStore struct {
	mu    sync.Mutex
	uri   string
	err   error
	calls int
}

func (f *fakeStore) WriteBatch(ctx context.Context, task models.FetchTask, batch *models.RawRecordBatch) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.uri, nil
}

type fakeMarks struct {
	mu       sync.Mutex
	advanced []time.Time
	err      error
}

func (f *fakeMarks) Advance(ctx context.Context, symbol string, to time.Time) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return time.Time{}, f.err
	}
	f.advanced = append(f.advanced, to)
	return to, nil
}

func workerConfig() *appconfig.Config {
	cfg := &appconfig.Config{}
	cfg.API.Retry.MaxAttempts = 3
	cfg.API.Retry.BaseDelay = 500 * time.Millisecond
	cfg.API.Retry.MaxDelay = 30 * time.Second
	cfg.API.Retry.RateLimitFloor = 5 * time.Second
	return cfg
}

func workerTask() models.FetchTask {
	return models.FetchTask{
		Symbol:      "AAPL",
		Interval:    models.Interval1Min,
		WindowStart: time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC),
	}
}

func goodPayload() *alphavantage.IntradayPayload {
	return &alphavantage.IntradayPayload{
		Symbol:        "AAPL",
		TimeZone:      "UTC",
		LastRefreshed: "2024-03-05 16:00:00",
		Series: map[string]alphavantage.BarFields{
			"2024-03-05 14:00:00": {Open: "170.10", High: "170.50", Low: "170.00", Close: "170.40", Volume: "1200"},
			"2024-03-05 14:01:00": {Open: "170.40", High: "170.60", Low: "170.30", Close: "170.55", Volume: "900"},
		},
		FetchedAt: time.Now(),
	}
}

func TestExecuteSuccess(t *testing.T) {
	fetcher := &fakeFetcher{payload: goodPayload()}
	store := &fakeStore{uri: "s3://test-bucket/data/bronze/raw.json"}
	marks := &fakeMarks{}

	w := NewWorker(workerConfig(), fetcher, store, marks)
	result := w.Execute(context.Background(), workerTask())

	if result.Status != models.StatusSuccess {
		t.Fatalf("expected success, got %s: %s", result.Status, result.Reason)
	}
	if result.State != models.StateWatermarked {
		t.Errorf("unexpected state: %s", result.State)
	}
	if result.Rows != 2 {
		t.Errorf("unexpected rows: %d", result.Rows)
	}
	if result.RawURI != store.uri {
		t.Errorf("unexpected raw uri: %s", result.RawURI)
	}
	if len(marks.advanced) != 1 || !marks.advanced[0].Equal(workerTask().WindowEnd) {
		t.Errorf("watermark not advanced to window end: %v", marks.advanced)
	}
}

func TestExecuteValidationNeverRetries(t *testing.T) {
	// Payload with no rows in the window: retrying cannot change it.
	payload := goodPayload()
	payload.Series = map[string]alphavantage.BarFields{
		"2024-03-05 10:00:00": {Open: "1", High: "1", Low: "1", Close: "1", Volume: "1"},
	}

	fetcher := &fakeFetcher{payload: payload}
	store := &fakeStore{}
	marks := &fakeMarks{}

	w := NewWorker(workerConfig(), fetcher, store, marks)
	result := w.Execute(context.Background(), workerTask())

	if result.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if result.ErrorKind != models.KindValidation {
		t.Errorf("unexpected error kind: %s", result.ErrorKind)
	}
	if store.calls != 0 {
		t.Error("invalid payload must not reach the bronze layer")
	}
	if len(marks.advanced) != 0 {
		t.Error("watermark must not advance on validation failure")
	}
}

func TestExecuteTransportErrorRetries(t *testing.T) {
	fetcher := &fakeFetcher{err: models.E(models.KindTransport, "fetch", errors.New("connection reset"))}
	w := NewWorker(workerConfig(), fetcher, &fakeStore{}, &fakeMarks{})

	before := time.Now()
	result := w.Execute(context.Background(), workerTask())

	if result.Status != models.StatusRetry {
		t.Fatalf("expected retry, got %s: %s", result.Status, result.Reason)
	}
	if result.State != models.StateRetryScheduled {
		t.Errorf("unexpected state: %s", result.State)
	}
	if !result.NextEligible.After(before) {
		t.Errorf("next eligible not in the future: %s", result.NextEligible)
	}
}

func TestExecuteExhaustedAttemptsFail(t *testing.T) {
	fetcher := &fakeFetcher{err: models.E(models.KindTransport, "fetch", errors.New("connection reset"))}
	w := NewWorker(workerConfig(), fetcher, &fakeStore{}, &fakeMarks{})

	task := workerTask().WithAttempt(2) // third and final attempt
	result := w.Execute(context.Background(), task)

	if result.Status != models.StatusFailed {
		t.Fatalf("expected failed after exhausted attempts, got %s", result.Status)
	}
	if result.State != models.StateFailed {
		t.Errorf("unexpected state: %s", result.State)
	}
}

func TestExecuteRateLimitBacksOffLonger(t *testing.T) {
	fetcher := &fakeFetcher{err: models.E(models.KindRateLimit, "fetch", errors.New("throttled"))}
	cfg := workerConfig()
	w := NewWorker(cfg, fetcher, &fakeStore{}, &fakeMarks{})

	before := time.Now()
	result := w.Execute(context.Background(), workerTask())

	if result.Status != models.StatusRetry {
		t.Fatalf("expected retry, got %s", result.Status)
	}
	// First attempt backoff starts at the rate-limit floor, above the
	// transport base delay.
	if result.NextEligible.Sub(before) < cfg.API.Retry.RateLimitFloor-time.Second {
		t.Errorf("rate limit backoff too short: %s", result.NextEligible.Sub(before))
	}
}

func TestExecuteStorageErrorRetries(t *testing.T) {
	fetcher := &fakeFetcher{payload: goodPayload()}
	store := &fakeStore{err: models.E(models.KindStorage, "write_bronze", errors.New("slow down"))}
	marks := &fakeMarks{}

	w := NewWorker(workerConfig(), fetcher, store, marks)
	result := w.Execute(context.Background(), workerTask())

	if result.Status != models.StatusRetry {
		t.Fatalf("expected retry, got %s", result.Status)
	}
	if len(marks.advanced) != 0 {
		t.Error("watermark must not advance when the write failed")
	}
}

func TestExecuteWatermarkConflictFails(t *testing.T) {
	fetcher := &fakeFetcher{payload: goodPayload()}
	store := &fakeStore{uri: "s3://test-bucket/raw.json"}
	marks := &fakeMarks{err: models.E(models.KindWatermarkConflict, "watermark_advance", errors.New("lost swap"))}

	w := NewWorker(workerConfig(), fetcher, store, marks)
	result := w.Execute(context.Background(), workerTask())

	if result.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if result.ErrorKind != models.KindWatermarkConflict {
		t.Errorf("unexpected error kind: %s", result.ErrorKind)
	}
	// The raw object was written; the result must say the watermark step,
	// not the write, is what failed.
	if result.FailedState != models.StateWatermarking {
		t.Errorf("unexpected failed state: %s", result.FailedState)
	}
}

func TestExecuteFailedStateTracksPipelinePhase(t *testing.T) {
	fetcher := &fakeFetcher{payload: goodPayload()}
	store := &fakeStore{err: models.E(models.KindStorage, "write_bronze", errors.New("slow down"))}

	w := NewWorker(workerConfig(), fetcher, store, &fakeMarks{})
	result := w.Execute(context.Background(), workerTask())

	if result.FailedState != models.StateWriting {
		t.Errorf("unexpected failed state: %s", result.FailedState)
	}
}
