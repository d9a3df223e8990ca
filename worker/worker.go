package worker

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	appconfig "marketlake/config"
	"marketlake/logger"
	"marketlake/models"
	"marketlake/processor"
	"marketlake/reader/alphavantage"
)

// Fetcher pulls one month of intraday bars from the market-data API.
type Fetcher interface {
	FetchIntraday(ctx context.Context, symbol, month string) (*alphavantage.IntradayPayload, error)
}

// Store lands a validated batch in the bronze layer and returns the raw
// object URI.
type Store interface {
	WriteBatch(ctx context.Context, task models.FetchTask, batch *models.RawRecordBatch) (string, error)
}

// Marks is the write side of the watermark store.
type Marks interface {
	Advance(ctx context.Context, symbol string, to time.Time) (time.Time, error)
}

// Worker runs one fetch task end to end: fetch, validate, write, advance
// the watermark. It owns no queue; the pool dispatches into it.
type Worker struct {
	config  *appconfig.Config
	fetcher Fetcher
	store   Store
	marks   Marks
	log     *logger.Log
}

func NewWorker(cfg *appconfig.Config, fetcher Fetcher, store Store, marks Marks) *Worker {
	return &Worker{
		config:  cfg,
		fetcher: fetcher,
		store:   store,
		marks:   marks,
		log:     logger.GetLogger(),
	}
}

// Execute drives a task through the fetch pipeline and reports the
// outcome. It never blocks to retry: a retryable failure comes back as a
// retry result with the time the next attempt becomes eligible, and the
// caller reschedules.
func (w *Worker) Execute(ctx context.Context, task models.FetchTask) models.TaskResult {
	log := w.log.WithComponent("worker").WithFields(logger.Fields{
		"task":    task.String(),
		"attempt": task.Attempt,
	})

	log.Debug("task fetching")
	payload, err := w.fetcher.FetchIntraday(ctx, task.Symbol, task.Month())
	if err != nil {
		return w.failure(task, models.StateFetching, err)
	}

	log.Debug("task validating")
	batch, err := processor.Normalize(payload, task)
	if err != nil {
		return w.failure(task, models.StateValidating, err)
	}

	log.Debug("task writing")
	rawURI, err := w.store.WriteBatch(ctx, task, batch)
	if err != nil {
		return w.failure(task, models.StateWriting, err)
	}

	// The raw object is already landed at this point. Reporting the failure
	// under its own state keeps "object landed, watermark didn't" apart from
	// a failed write.
	if _, err := w.marks.Advance(ctx, task.Symbol, task.WindowEnd); err != nil {
		return w.failure(task, models.StateWatermarking, err)
	}

	logger.RecordTaskOutcome("success")
	log.WithFields(logger.Fields{"rows": len(batch.Bars), "raw_uri": rawURI}).Info("task complete")

	return models.TaskResult{
		Task:   task,
		Status: models.StatusSuccess,
		State:  models.StateWatermarked,
		RawURI: rawURI,
		Rows:   len(batch.Bars),
	}
}

// failure classifies an error into a terminal or retryable result.
// FailedState records where in the pipeline the task was when it failed.
func (w *Worker) failure(task models.FetchTask, state models.TaskState, err error) models.TaskResult {
	kind := models.KindOf(err)
	log := w.log.WithComponent("worker").WithError(err).WithFields(logger.Fields{
		"task":         task.String(),
		"attempt":      task.Attempt,
		"error_kind":   string(kind),
		"failed_state": string(state),
	})

	if !models.Retryable(err) || task.Attempt+1 >= w.config.API.Retry.MaxAttempts {
		logger.RecordTaskOutcome("failed")
		log.Error("task failed")
		return models.TaskResult{
			Task:        task,
			Status:      models.StatusFailed,
			State:       models.StateFailed,
			FailedState: state,
			Reason:      err.Error(),
			ErrorKind:   kind,
		}
	}

	next := time.Now().UTC().Add(w.retryDelay(kind, task.Attempt))
	logger.RecordTaskOutcome("retry")
	log.WithFields(logger.Fields{"next_eligible": next}).Warn("task scheduled for retry")
	return models.TaskResult{
		Task:         task,
		Status:       models.StatusRetry,
		State:        models.StateRetryScheduled,
		FailedState:  state,
		Reason:       err.Error(),
		ErrorKind:    kind,
		NextEligible: next,
	}
}

// retryDelay computes the backoff before the given attempt is retried.
// Rate-limit errors start from a higher floor so a throttled API key is
// not hammered back to the same limit.
func (w *Worker) retryDelay(kind models.ErrorKind, attempt int) time.Duration {
	retry := w.config.API.Retry

	min := retry.BaseDelay
	if kind == models.KindRateLimit && retry.RateLimitFloor > min {
		min = retry.RateLimitFloor
	}

	b := &backoff.Backoff{
		Min:    min,
		Max:    retry.MaxDelay,
		Factor: 2,
		Jitter: true,
	}
	return b.ForAttempt(float64(attempt))
}
