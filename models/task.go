package models

import (
	"fmt"
	"path"
	"time"
)

// Interval identifies the bar resolution requested from the market-data API.
type Interval string

const (
	// Interval1Min is the only resolution the bronze layer currently ingests.
	Interval1Min Interval = "1min"
)

// TaskState tracks a FetchTask through its execution lifecycle.
type TaskState string

const (
	StatePending        TaskState = "PENDING"
	StateFetching       TaskState = "FETCHING"
	StateValidating     TaskState = "VALIDATING"
	StateWriting        TaskState = "WRITING"
	StateWatermarking   TaskState = "WATERMARKING"
	StateWatermarked    TaskState = "WATERMARKED"
	StateRetryScheduled TaskState = "RETRY_SCHEDULED"
	StateFailed         TaskState = "FAILED"
)

// TaskStatus is the coarse outcome reported back to the dispatch layer.
type TaskStatus string

const (
	StatusSuccess TaskStatus = "success"
	StatusRetry   TaskStatus = "retry"
	StatusFailed  TaskStatus = "failed"
)

// FetchTask identifies exactly one unit of ingestion work: one symbol and
// one half-open time window [WindowStart, WindowEnd). Tasks are immutable
// once planned; a retry is a new task with an incremented Attempt.
type FetchTask struct {
	Symbol      string    `json:"symbol"`
	Interval    Interval  `json:"interval"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Attempt     int       `json:"attempt"`
}

// Month returns the calendar month of the task window in the YYYY-MM form
// the market-data API expects.
func (t FetchTask) Month() string {
	return t.WindowStart.UTC().Format("2006-01")
}

// WithAttempt returns a copy of the task carrying the given attempt count.
func (t FetchTask) WithAttempt(attempt int) FetchTask {
	t.Attempt = attempt
	return t
}

// String renders the task for log fields and failure reports.
func (t FetchTask) String() string {
	return fmt.Sprintf("%s[%s,%s)", t.Symbol,
		t.WindowStart.UTC().Format(time.RFC3339),
		t.WindowEnd.UTC().Format(time.RFC3339))
}

// BronzeKey derives the deterministic object key for the raw payload of a
// window. The same (symbol, window_start) always maps to the same key so a
// re-executed task overwrites instead of duplicating.
func BronzeKey(prefix, symbol string, windowStart time.Time) string {
	ws := windowStart.UTC()
	return path.Join(prefix,
		"alpha_vantage",
		"intraday_1min",
		fmt.Sprintf("symbol=%s", symbol),
		fmt.Sprintf("date=%s", ws.Format("2006-01-02")),
		fmt.Sprintf("hour=%02d", ws.Hour()),
		"raw.json")
}

// BarsKey derives the key of the normalized parquet sibling written next to
// the raw payload.
func BarsKey(prefix, symbol string, windowStart time.Time) string {
	return path.Join(path.Dir(BronzeKey(prefix, symbol, windowStart)), "bars.parquet")
}

// TaskResult is the structured outcome handed back across the dispatch
// boundary for one FetchTask execution.
type TaskResult struct {
	Task         FetchTask  `json:"task"`
	Status       TaskStatus `json:"status"`
	State        TaskState  `json:"state"`
	FailedState  TaskState  `json:"failed_state,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	ErrorKind    ErrorKind  `json:"error_kind,omitempty"`
	NextEligible time.Time  `json:"next_eligible,omitempty"`
	RawURI       string     `json:"raw_uri,omitempty"`
	Rows         int        `json:"rows,omitempty"`
}
