package processor

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"marketlake/models"
	"marketlake/reader/alphavantage"
)

func testTask() models.FetchTask {
	return models.FetchTask{
		Symbol:      "AAPL",
		Interval:    models.Interval1Min,
		WindowStart: time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC),
	}
}

func bar(o, h, l, c, v string) alphavantage.BarFields {
	return alphavantage.BarFields{Open: o, High: h, Low: l, Close: c, Volume: v}
}

func expectValidation(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if kind := models.KindOf(err); kind != models.KindValidation {
		t.Fatalf("expected validation kind, got %s: %v", kind, err)
	}
}

func TestNormalizeFiltersToWindow(t *testing.T) {
	payload := &alphavantage.IntradayPayload{
		Symbol:        "AAPL",
		TimeZone:      "UTC",
		LastRefreshed: "2024-03-05 16:00:00",
		Series: map[string]alphavantage.BarFields{
			"2024-03-05 13:59:00": bar("1", "1", "1", "1", "10"),
			"2024-03-05 14:00:00": bar("170.10", "170.50", "170.00", "170.40", "1200"),
			"2024-03-05 14:01:00": bar("170.40", "170.60", "170.30", "170.55", "900"),
			"2024-03-05 15:00:00": bar("1", "1", "1", "1", "10"),
		},
		FetchedAt: time.Now(),
	}

	batch, err := Normalize(payload, testTask())
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(batch.Bars) != 2 {
		t.Fatalf("expected 2 bars inside window, got %d", len(batch.Bars))
	}
	if !batch.Bars[0].Ts.Before(batch.Bars[1].Ts) {
		t.Error("bars not ordered ascending")
	}
	if batch.Bars[0].Open != 170.10 || batch.Bars[0].Volume != 1200 {
		t.Errorf("unexpected first bar: %+v", batch.Bars[0])
	}
	if batch.SourceVersion != "2024-03-05 16:00:00" {
		t.Errorf("unexpected source version: %s", batch.SourceVersion)
	}
}

func TestNormalizeRawScopedToWindow(t *testing.T) {
	payload := &alphavantage.IntradayPayload{
		Symbol:        "AAPL",
		TimeZone:      "UTC",
		LastRefreshed: "2024-03-05 16:00:00",
		Series: map[string]alphavantage.BarFields{
			"2024-03-05 13:59:00": bar("1", "1", "1", "1", "10"),
			"2024-03-05 14:00:00": bar("170.10", "170.50", "170.00", "170.40", "1200"),
			"2024-03-05 15:00:00": bar("1", "1", "1", "1", "10"),
		},
		FetchedAt: time.Now(),
	}

	batch, err := Normalize(payload, testTask())
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	var stored rawWindow
	if err := json.Unmarshal(batch.Raw, &stored); err != nil {
		t.Fatalf("raw body is not valid JSON: %v", err)
	}
	if stored.Symbol != "AAPL" || stored.TimeZone != "UTC" {
		t.Errorf("unexpected raw metadata: %+v", stored)
	}
	if len(stored.Series) != 1 {
		t.Fatalf("raw series should only hold rows inside the window, got %d", len(stored.Series))
	}
	if _, ok := stored.Series["2024-03-05 14:00:00"]; !ok {
		t.Error("in-window row missing from raw series")
	}

	// Re-running the same task against the same provider data must land the
	// exact same bytes.
	again, err := Normalize(payload, testTask())
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if !bytes.Equal(batch.Raw, again.Raw) {
		t.Error("raw body differs between identical runs")
	}
}

func TestNormalizeConvertsTimeZone(t *testing.T) {
	// 09:00 US/Eastern on 2024-03-05 is 14:00 UTC.
	payload := &alphavantage.IntradayPayload{
		Symbol:   "AAPL",
		TimeZone: "US/Eastern",
		Series: map[string]alphavantage.BarFields{
			"2024-03-05 09:00:00": bar("170.10", "170.50", "170.00", "170.40", "1200"),
		},
	}

	batch, err := Normalize(payload, testTask())
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	want := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)
	if !batch.Bars[0].Ts.Equal(want) {
		t.Errorf("timestamp not converted to UTC: %s", batch.Bars[0].Ts)
	}
}

func TestNormalizeEmptyWindow(t *testing.T) {
	payload := &alphavantage.IntradayPayload{
		Symbol:   "AAPL",
		TimeZone: "UTC",
		Series: map[string]alphavantage.BarFields{
			"2024-03-05 13:00:00": bar("1", "1", "1", "1", "10"),
		},
	}

	_, err := Normalize(payload, testTask())
	expectValidation(t, err)
	if !strings.Contains(err.Error(), "no rows inside window") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNormalizeUnknownTimeZone(t *testing.T) {
	payload := &alphavantage.IntradayPayload{
		Symbol:   "AAPL",
		TimeZone: "Mars/Olympus",
		Series: map[string]alphavantage.BarFields{
			"2024-03-05 14:00:00": bar("1", "1", "1", "1", "10"),
		},
	}

	_, err := Normalize(payload, testTask())
	expectValidation(t, err)
}

func TestNormalizeBadNumbers(t *testing.T) {
	cases := map[string]alphavantage.BarFields{
		"bad open":        bar("not-a-number", "1", "1", "1", "10"),
		"negative close":  bar("1", "1", "1", "-4", "10"),
		"bad volume":      bar("1", "1", "1", "1", "ten"),
		"negative volume": bar("1", "1", "1", "1", "-10"),
		"high below low":  bar("1", "1", "2", "1", "10"),
	}

	for name, fields := range cases {
		payload := &alphavantage.IntradayPayload{
			Symbol:   "AAPL",
			TimeZone: "UTC",
			Series: map[string]alphavantage.BarFields{
				"2024-03-05 14:00:00": fields,
			},
		}
		_, err := Normalize(payload, testTask())
		if err == nil {
			t.Errorf("%s: expected error", name)
			continue
		}
		var ie *models.IngestError
		if !errors.As(err, &ie) || ie.Kind != models.KindValidation {
			t.Errorf("%s: expected validation kind, got %v", name, err)
		}
	}
}

func TestNormalizeBadTimestampKey(t *testing.T) {
	payload := &alphavantage.IntradayPayload{
		Symbol:   "AAPL",
		TimeZone: "UTC",
		Series: map[string]alphavantage.BarFields{
			"march fifth": bar("1", "1", "1", "1", "10"),
		},
	}

	_, err := Normalize(payload, testTask())
	expectValidation(t, err)
}
