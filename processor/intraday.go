package processor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"marketlake/models"
	"marketlake/reader/alphavantage"
)

// providerTimeLayout is how the provider formats series keys, in the
// payload's declared time zone.
const providerTimeLayout = "2006-01-02 15:04:05"

// rawWindow is the raw object landed in the bronze layer: only the
// provider rows that fall inside the task window, keyed exactly as
// received, plus provenance metadata. json.Marshal sorts map keys, so
// re-executing a task against unchanged provider data produces a
// byte-identical object.
type rawWindow struct {
	Symbol        string                            `json:"symbol"`
	Interval      models.Interval                   `json:"interval"`
	WindowStart   time.Time                         `json:"window_start"`
	WindowEnd     time.Time                         `json:"window_end"`
	TimeZone      string                            `json:"time_zone,omitempty"`
	LastRefreshed string                            `json:"last_refreshed,omitempty"`
	Series        map[string]alphavantage.BarFields `json:"series"`
}

// Normalize turns a raw intraday payload into the validated batch for one
// task window. Rows outside [WindowStart, WindowEnd) are discarded; what
// remains must be non-empty, strictly ordered, and numerically sane.
// Any violation is a validation error: retrying the fetch will not change
// the payload shape.
func Normalize(payload *alphavantage.IntradayPayload, task models.FetchTask) (*models.RawRecordBatch, error) {
	const op = "normalize_intraday"

	loc := time.UTC
	if payload.TimeZone != "" {
		l, err := time.LoadLocation(payload.TimeZone)
		if err != nil {
			return nil, models.Ef(models.KindValidation, op, "unknown payload time zone %q", payload.TimeZone)
		}
		loc = l
	}

	bars := make([]models.Bar, 0, len(payload.Series))
	inWindow := make(map[string]alphavantage.BarFields)
	for key, fields := range payload.Series {
		ts, err := time.ParseInLocation(providerTimeLayout, key, loc)
		if err != nil {
			return nil, models.Ef(models.KindValidation, op, "bad series timestamp %q: %v", key, err)
		}
		ts = ts.UTC()
		if ts.Before(task.WindowStart) || !ts.Before(task.WindowEnd) {
			continue
		}

		bar, err := parseBar(ts, fields)
		if err != nil {
			return nil, models.E(models.KindValidation, op, err)
		}
		bars = append(bars, bar)
		inWindow[key] = fields
	}

	if len(bars) == 0 {
		return nil, models.Ef(models.KindValidation, op,
			"no rows inside window %s", task)
	}

	// Duplicate timestamps are rejected at decode time, so distinct series
	// keys always yield distinct instants and sorting gives a strict order.
	sort.Slice(bars, func(i, j int) bool { return bars[i].Ts.Before(bars[j].Ts) })

	raw, err := json.Marshal(rawWindow{
		Symbol:        task.Symbol,
		Interval:      task.Interval,
		WindowStart:   task.WindowStart.UTC(),
		WindowEnd:     task.WindowEnd.UTC(),
		TimeZone:      payload.TimeZone,
		LastRefreshed: payload.LastRefreshed,
		Series:        inWindow,
	})
	if err != nil {
		return nil, models.E(models.KindValidation, op, err)
	}

	return &models.RawRecordBatch{
		BatchID:       uuid.New().String(),
		Symbol:        task.Symbol,
		Interval:      task.Interval,
		WindowStart:   task.WindowStart,
		WindowEnd:     task.WindowEnd,
		Bars:          bars,
		FetchedAt:     payload.FetchedAt,
		SourceVersion: payload.LastRefreshed,
		Raw:           raw,
	}, nil
}

func parseBar(ts time.Time, fields alphavantage.BarFields) (models.Bar, error) {
	open, err := parsePrice("open", fields.Open)
	if err != nil {
		return models.Bar{}, err
	}
	high, err := parsePrice("high", fields.High)
	if err != nil {
		return models.Bar{}, err
	}
	low, err := parsePrice("low", fields.Low)
	if err != nil {
		return models.Bar{}, err
	}
	closePx, err := parsePrice("close", fields.Close)
	if err != nil {
		return models.Bar{}, err
	}
	volume, err := strconv.ParseInt(fields.Volume, 10, 64)
	if err != nil {
		return models.Bar{}, fmt.Errorf("bar %s: bad volume %q", ts.Format(time.RFC3339), fields.Volume)
	}
	if volume < 0 {
		return models.Bar{}, fmt.Errorf("bar %s: negative volume %d", ts.Format(time.RFC3339), volume)
	}
	if high < low {
		return models.Bar{}, fmt.Errorf("bar %s: high %.4f below low %.4f", ts.Format(time.RFC3339), high, low)
	}

	return models.Bar{
		Ts:     ts,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePx,
		Volume: volume,
	}, nil
}

func parsePrice(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s value %q", name, raw)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative %s value %q", name, raw)
	}
	return v, nil
}
