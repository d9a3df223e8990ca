package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketlake/internal/queue"
	"marketlake/models"
	"marketlake/reader/alphavantage"
)

// flakyFetcher fails a fixed number of calls before succeeding.
type flakyFetcher struct {
	mu       sync.Mutex
	failures int
	payload  *alphavantage.IntradayPayload
}

func (f *flakyFetcher) FetchIntraday(ctx context.Context, symbol, month string) (*alphavantage.IntradayPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, models.E(models.KindTransport, "fetch", errors.New("connection reset"))
	}
	return f.payload, nil
}

func TestPoolProcessesTasks(t *testing.T) {
	cfg := workerConfig()
	cfg.Worker.MaxWorkers = 2

	q := queue.NewQueue(8, 8)
	fetcher := &fakeFetcher{payload: goodPayload()}
	store := &fakeStore{uri: "s3://test-bucket/raw.json"}
	marks := &fakeMarks{}

	pool := NewPool(cfg, NewWorker(cfg, fetcher, store, marks), q)

	ctx, cancel := context.WithCancel(context.Background())
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// All three tasks share the window the fake payload covers; they
	// differ by symbol only.
	for i, symbol := range []string{"AAPL", "MSFT", "GOOG"} {
		task := workerTask()
		task.Symbol = symbol
		if !q.SendTask(ctx, task) {
			t.Fatalf("SendTask %d failed", i)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case result := <-q.Results:
			if result.Status != models.StatusSuccess {
				t.Errorf("task %d: expected success, got %s: %s", i, result.Status, result.Reason)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for results")
		}
	}

	cancel()
	pool.Stop()
}

func TestPoolReschedulesRetries(t *testing.T) {
	cfg := workerConfig()
	cfg.Worker.MaxWorkers = 1
	cfg.API.Retry.BaseDelay = time.Millisecond
	cfg.API.Retry.MaxDelay = 5 * time.Millisecond

	q := queue.NewQueue(8, 8)
	fetcher := &flakyFetcher{failures: 1, payload: goodPayload()}
	store := &fakeStore{uri: "s3://test-bucket/raw.json"}
	marks := &fakeMarks{}

	pool := NewPool(cfg, NewWorker(cfg, fetcher, store, marks), q)

	ctx, cancel := context.WithCancel(context.Background())
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if !q.SendTask(ctx, workerTask()) {
		t.Fatal("SendTask failed")
	}

	var results []models.TaskResult
	deadline := time.After(5 * time.Second)
	for len(results) < 2 {
		select {
		case result := <-q.Results:
			results = append(results, result)
		case <-deadline:
			t.Fatalf("timed out, have %d results", len(results))
		}
	}

	if results[0].Status != models.StatusRetry {
		t.Errorf("expected retry first, got %s", results[0].Status)
	}
	if results[1].Status != models.StatusSuccess {
		t.Errorf("expected success after retry, got %s: %s", results[1].Status, results[1].Reason)
	}
	if results[1].Task.Attempt != 1 {
		t.Errorf("expected attempt 1 on the retried task, got %d", results[1].Task.Attempt)
	}

	cancel()
	pool.Stop()
}

func TestPoolDoubleStart(t *testing.T) {
	cfg := workerConfig()
	cfg.Worker.MaxWorkers = 1

	q := queue.NewQueue(1, 1)
	pool := NewPool(cfg, NewWorker(cfg, &fakeFetcher{}, &fakeStore{}, &fakeMarks{}), q)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := pool.Start(ctx); err == nil {
		t.Fatal("expected error on double start")
	}

	cancel()
	pool.Stop()
}
