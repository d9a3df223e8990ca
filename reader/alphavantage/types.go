package alphavantage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"marketlake/models"
)

// metaData mirrors the "Meta Data" block of an intraday response. Field
// names follow the provider's numbered-key convention.
type metaData struct {
	Information   string `json:"1. Information"`
	Symbol        string `json:"2. Symbol"`
	LastRefreshed string `json:"3. Last Refreshed"`
	Interval      string `json:"4. Interval"`
	OutputSize    string `json:"5. Output Size"`
	TimeZone      string `json:"6. Time Zone"`
}

// BarFields is one raw OHLCV row as the provider serialises it: every value
// arrives as a decimal string.
type BarFields struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

// seriesMap decodes the time-series object while rejecting repeated
// timestamp keys. encoding/json keeps only the last value for a repeated
// key, which would silently drop rows, so the decode walks tokens itself.
type seriesMap map[string]BarFields

func (m *seriesMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("time series is not an object")
	}
	out := make(map[string]BarFields)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)
		if _, dup := out[key]; dup {
			return fmt.Errorf("duplicate series timestamp %q", key)
		}
		var fields BarFields
		if err := dec.Decode(&fields); err != nil {
			return err
		}
		out[key] = fields
	}
	*m = out
	return nil
}

// envelope is the full response shape. Note and Error Message are the
// provider's throttle and rejection envelopes; they arrive with HTTP 200.
type envelope struct {
	Meta         metaData  `json:"Meta Data"`
	Series       seriesMap `json:"Time Series (1min)"`
	Note         string    `json:"Note"`
	ErrorMessage string    `json:"Error Message"`
}

// IntradayPayload is one successful intraday fetch: the decoded series
// keyed by the provider's local timestamps ("2006-01-02 15:04:05" in
// TimeZone).
type IntradayPayload struct {
	Symbol        string
	Month         string
	Interval      models.Interval
	TimeZone      string
	LastRefreshed string
	Series        map[string]BarFields
	FetchedAt     time.Time
}
