package models

import (
	"time"
)

// Bar is a single OHLCV row inside an ingestion window.
type Bar struct {
	Ts     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// RawRecordBatch is the validated payload for one FetchTask: the ordered
// bars that fall inside the task window plus ingestion metadata. Raw holds
// the window-scoped raw object for the bronze layer, only the provider
// rows inside the window serialised deterministically, so a re-fetch of
// identical data lands byte-for-byte identically.
type RawRecordBatch struct {
	BatchID       string    `json:"batch_id"`
	Symbol        string    `json:"symbol"`
	Interval      Interval  `json:"interval"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
	Bars          []Bar     `json:"bars"`
	FetchedAt     time.Time `json:"fetched_at"`
	SourceVersion string    `json:"source_version,omitempty"`
	Raw           []byte    `json:"-"`
}

// Watermark records the latest window boundary up to which ingestion for a
// symbol is known complete. It only ever advances.
type Watermark struct {
	Symbol    string    `json:"symbol"`
	Value     time.Time `json:"watermark"`
	UpdatedAt time.Time `json:"updated_at"`
}
