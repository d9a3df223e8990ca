package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"marketlake/config"
	"marketlake/logger"
	"marketlake/models"
)

// responseSnippet bounds how much of an error body ends up in logs.
const responseSnippet = 300

// Client fetches intraday time series from the Alpha Vantage HTTP API.
// Every call passes through a shared rate limiter so concurrent workers
// stay inside the provider quota.
type Client struct {
	config     *config.Config
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Log
}

// NewClient creates a Client with a pooled HTTP transport and a limiter
// sized from the configuration.
func NewClient(cfg *config.Config) *Client {
	log := logger.GetLogger()

	transport := &http.Transport{
		MaxIdleConns:        cfg.API.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.API.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     cfg.API.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.API.ConnectionPool.IdleConnTimeout,
		DisableCompression:  false,
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.API.Timeout,
	}

	rps := cfg.API.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 1.25
	}
	burst := cfg.API.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	log.WithComponent("alphavantage_client").WithFields(logger.Fields{
		"base_url":            cfg.API.BaseURL,
		"timeout":             cfg.API.Timeout,
		"requests_per_second": rps,
		"burst":               burst,
	}).Info("alpha vantage client initialized")

	return &Client{
		config:     cfg,
		httpClient: httpClient,
		limiter:    limiter,
		log:        log,
	}
}

// FetchIntraday requests one month of 1-minute bars for a symbol. Errors
// carry a classification: connection and 5xx failures are transport, 429
// and throttle notes are rate-limit, malformed or rejected payloads are
// validation.
func (c *Client) FetchIntraday(ctx context.Context, symbol, month string) (*IntradayPayload, error) {
	const op = "fetch_intraday"

	log := c.log.WithComponent("alphavantage_client").WithFields(logger.Fields{
		"symbol": symbol,
		"month":  month,
	})

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, models.E(models.KindTransport, op, fmt.Errorf("rate limiter wait: %w", err))
	}

	params := url.Values{}
	params.Set("function", "TIME_SERIES_INTRADAY")
	params.Set("interval", string(models.Interval1Min))
	params.Set("outputsize", "full")
	params.Set("month", month)
	params.Set("symbol", symbol)
	params.Set("apikey", c.config.API.Key)

	reqURL := fmt.Sprintf("%s?%s", strings.TrimSuffix(c.config.API.BaseURL, "?"), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, models.E(models.KindTransport, op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Warn("request failed")
		return nil, models.E(models.KindTransport, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.E(models.KindTransport, op, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		log.WithFields(logger.Fields{"status": resp.StatusCode}).Warn("provider throttled request")
		return nil, models.Ef(models.KindRateLimit, op, "HTTP 429: %s", snippet(body))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.WithFields(logger.Fields{"status": resp.StatusCode}).Warn("non-2xx response")
		return nil, models.Ef(models.KindTransport, op, "HTTP %d: %s", resp.StatusCode, snippet(body))
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "application/json") {
		return nil, models.Ef(models.KindValidation, op, "unexpected content type %q", contentType)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, models.E(models.KindValidation, op, fmt.Errorf("invalid JSON: %w; body=%s", err, snippet(body)))
	}

	// The provider reports throttling and rejections inside a 200 payload.
	if env.Note != "" {
		log.WithFields(logger.Fields{"note": env.Note}).Warn("provider note, likely rate limit")
		return nil, models.Ef(models.KindRateLimit, op, "provider note: %s", env.Note)
	}
	if env.ErrorMessage != "" {
		log.WithFields(logger.Fields{"error_message": env.ErrorMessage}).Error("provider rejected request")
		return nil, models.Ef(models.KindValidation, op, "provider error: %s", env.ErrorMessage)
	}
	if env.Series == nil {
		return nil, models.Ef(models.KindValidation, op, "response has no time series; body=%s", snippet(body))
	}

	logger.IncrementAPIFetch(len(body))
	log.WithFields(logger.Fields{
		"rows":        len(env.Series),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("intraday payload fetched")

	return &IntradayPayload{
		Symbol:        symbol,
		Month:         month,
		Interval:      models.Interval1Min,
		TimeZone:      env.Meta.TimeZone,
		LastRefreshed: env.Meta.LastRefreshed,
		Series:        map[string]BarFields(env.Series),
		FetchedAt:     time.Now().UTC(),
	}, nil
}

func snippet(body []byte) string {
	s := string(body)
	if len(s) > responseSnippet {
		s = s[:responseSnippet]
	}
	return s
}
