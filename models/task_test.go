package models

import (
	"errors"
	"testing"
	"time"
)

func TestBronzeKeyDeterministic(t *testing.T) {
	ws := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)

	key := BronzeKey("data/bronze", "AAPL", ws)
	want := "data/bronze/alpha_vantage/intraday_1min/symbol=AAPL/date=2024-03-05/hour=14/raw.json"
	if key != want {
		t.Errorf("unexpected key: %s", key)
	}

	if again := BronzeKey("data/bronze", "AAPL", ws); again != key {
		t.Errorf("key not deterministic: %s vs %s", key, again)
	}
}

func TestBarsKeySibling(t *testing.T) {
	ws := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)

	key := BarsKey("data/bronze", "AAPL", ws)
	want := "data/bronze/alpha_vantage/intraday_1min/symbol=AAPL/date=2024-03-05/hour=14/bars.parquet"
	if key != want {
		t.Errorf("unexpected key: %s", key)
	}
}

func TestTaskMonth(t *testing.T) {
	task := FetchTask{
		Symbol:      "AAPL",
		WindowStart: time.Date(2024, 11, 30, 23, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
	}
	if got := task.Month(); got != "2024-11" {
		t.Errorf("unexpected month: %s", got)
	}
}

func TestWithAttemptCopies(t *testing.T) {
	task := FetchTask{Symbol: "AAPL", Attempt: 0}
	bumped := task.WithAttempt(2)
	if bumped.Attempt != 2 {
		t.Errorf("unexpected attempt: %d", bumped.Attempt)
	}
	if task.Attempt != 0 {
		t.Errorf("original task mutated: %d", task.Attempt)
	}
}

func TestKindOf(t *testing.T) {
	err := E(KindRateLimit, "fetch", errors.New("throttled"))
	if got := KindOf(err); got != KindRateLimit {
		t.Errorf("unexpected kind: %s", got)
	}

	if got := KindOf(errors.New("plain")); got != KindTransport {
		t.Errorf("unclassified errors should default to transport, got %s", got)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		kind ErrorKind
		want bool
	}{
		{KindTransport, true},
		{KindRateLimit, true},
		{KindStorage, true},
		{KindValidation, false},
		{KindWatermarkConflict, false},
	}
	for _, c := range cases {
		err := E(c.kind, "op", errors.New("x"))
		if got := Retryable(err); got != c.want {
			t.Errorf("Retryable(%s) = %v, want %v", c.kind, got, c.want)
		}
	}
}
