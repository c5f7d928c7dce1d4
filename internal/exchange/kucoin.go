package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/johnayoung/go-kline-cache/internal/errors"
	"github.com/johnayoung/go-kline-cache/internal/metrics"
	"github.com/johnayoung/go-kline-cache/internal/models"
	"golang.org/x/time/rate"
)

const (
	// KuCoin public market API base URL
	kucoinBaseURL = "https://api.kucoin.com"

	// API endpoints
	candlesEndpoint = "/api/v1/market/candles"
	tickersEndpoint = "/api/v1/market/allTickers"

	// Response codes
	codeSuccess   = "200000"
	codeRateLimit = "429000"

	// Rate limiting configuration
	defaultRequestsPerSecond = 10
	defaultBurst             = 1

	requestTimeout = 30 * time.Second
	userAgent      = "go-kline-cache/1.0"

	component = "kucoin"
)

// KucoinAdapter implements Exchange against the KuCoin public market API.
// It performs exactly one HTTP attempt per call and classifies failures so
// that a RetryingFetcher can decide whether to try again.
type KucoinAdapter struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	userAgent   string
	logger      *slog.Logger
	metrics     *metrics.Recorder
}

// kucoinResponse is the envelope every KuCoin REST response uses.
type kucoinResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type kucoinTickers struct {
	Time   int64 `json:"time"`
	Ticker []struct {
		Symbol string `json:"symbol"`
	} `json:"ticker"`
}

// NewKucoinAdapter creates an adapter. Zero config fields fall back to the
// public endpoint and conservative pacing. logger and recorder may be nil.
func NewKucoinAdapter(cfg Config, logger *slog.Logger, recorder *metrics.Recorder) *KucoinAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = kucoinBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = requestTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = userAgent
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &KucoinAdapter{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 50,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		baseURL:     cfg.BaseURL,
		userAgent:   cfg.UserAgent,
		logger:      logger.With("component", component),
		metrics:     recorder,
	}
}

// FetchKlines implements KlineFetcher.
func (k *KucoinAdapter) FetchKlines(ctx context.Context, symbol string, tf models.Timeframe, start, end int64) (models.Series, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidTimeframe, tf)
	}
	if start >= end {
		return nil, fmt.Errorf("%w: start %d must be less than end %d", apperrors.ErrInvalidRange, start, end)
	}

	params := url.Values{}
	params.Set("type", tf.String())
	params.Set("symbol", symbol)
	params.Set("startAt", strconv.FormatInt(start, 10))
	params.Set("endAt", strconv.FormatInt(end, 10))

	data, err := k.get(ctx, "candles", candlesEndpoint+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var rows [][]string
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, apperrors.New(apperrors.ErrorTypeDecode, component, "fetch_klines",
			fmt.Errorf("failed to parse candles response: %w", err))
	}

	candles := make(models.Series, 0, len(rows))
	for _, row := range rows {
		candle, err := convertKline(row)
		if err != nil {
			k.logger.Warn("failed to convert candle, skipping",
				"symbol", symbol,
				"timeframe", tf,
				"error", err,
				"row", row)
			continue
		}
		candles = append(candles, candle)
	}

	k.metrics.RecordCandles(tf.String(), len(candles))
	k.logger.Debug("fetched klines",
		"symbol", symbol,
		"timeframe", tf,
		"start", start,
		"end", end,
		"count", len(candles))

	// KuCoin returns newest first.
	return models.Normalize(candles), nil
}

// ListSymbols implements SymbolLister.
func (k *KucoinAdapter) ListSymbols(ctx context.Context) ([]string, error) {
	data, err := k.get(ctx, "tickers", tickersEndpoint)
	if err != nil {
		return nil, err
	}

	var tickers kucoinTickers
	if err := json.Unmarshal(data, &tickers); err != nil {
		return nil, apperrors.New(apperrors.ErrorTypeDecode, component, "list_symbols",
			fmt.Errorf("failed to parse tickers response: %w", err))
	}

	symbols := make([]string, 0, len(tickers.Ticker))
	for _, t := range tickers.Ticker {
		if t.Symbol != "" {
			symbols = append(symbols, t.Symbol)
		}
	}

	k.logger.Debug("fetched symbols", "count", len(symbols))
	return symbols, nil
}

// get performs one paced GET and returns the data field of a successful
// envelope. Failures come back as *apperrors.ClassifiedError.
func (k *KucoinAdapter) get(ctx context.Context, endpoint, path string) ([]byte, error) {
	operation := "get_" + endpoint

	if err := k.rateLimiter.Wait(ctx); err != nil {
		return nil, apperrors.Classify(fmt.Errorf("rate limit wait failed: %w", err), component, operation)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+path, nil)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrorTypeBadRequest, component, operation,
			fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", k.userAgent)

	resp, err := k.httpClient.Do(req)
	if err != nil {
		k.metrics.RecordExchangeRequest(endpoint, "error")
		return nil, apperrors.Classify(fmt.Errorf("request failed: %w", err), component, operation)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		k.metrics.RecordExchangeRequest(endpoint, "error")
		return nil, apperrors.New(apperrors.ErrorTypeNetwork, component, operation,
			fmt.Errorf("failed to read response body: %w", err))
	}

	if err := classifyStatus(resp.StatusCode, body, operation); err != nil {
		k.metrics.RecordExchangeRequest(endpoint, string(err.Type))
		return nil, err
	}

	var envelope kucoinResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		k.metrics.RecordExchangeRequest(endpoint, string(apperrors.ErrorTypeDecode))
		return nil, apperrors.New(apperrors.ErrorTypeDecode, component, operation,
			fmt.Errorf("failed to parse response: %w", err))
	}

	switch envelope.Code {
	case codeSuccess:
	case codeRateLimit:
		k.metrics.RecordExchangeRequest(endpoint, string(apperrors.ErrorTypeRateLimit))
		return nil, apperrors.New(apperrors.ErrorTypeRateLimit, component, operation,
			fmt.Errorf("rate limited: %s", envelope.Msg))
	default:
		k.metrics.RecordExchangeRequest(endpoint, string(apperrors.ErrorTypeBadRequest))
		return nil, apperrors.New(apperrors.ErrorTypeBadRequest, component, operation,
			fmt.Errorf("exchange error %s: %s", envelope.Code, envelope.Msg))
	}

	k.metrics.RecordExchangeRequest(endpoint, "ok")
	return envelope.Data, nil
}

func classifyStatus(status int, body []byte, operation string) *apperrors.ClassifiedError {
	switch {
	case status == http.StatusTooManyRequests:
		return apperrors.New(apperrors.ErrorTypeRateLimit, component, operation,
			fmt.Errorf("rate limited: status %d", status))
	case status >= 500:
		return apperrors.New(apperrors.ErrorTypeServerError, component, operation,
			fmt.Errorf("server error %d: %s", status, truncate(body)))
	case status >= 400:
		return apperrors.New(apperrors.ErrorTypeBadRequest, component, operation,
			fmt.Errorf("client error %d: %s", status, truncate(body)))
	}
	return nil
}

// convertKline maps a [time, open, close, high, low, volume, turnover] row.
func convertKline(row []string) (models.Candle, error) {
	if len(row) < 7 {
		return models.Candle{}, fmt.Errorf("expected 7 fields, got %d", len(row))
	}
	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("invalid timestamp %q: %w", row[0], err)
	}
	return models.ParseCandle(ts, row[1], row[3], row[4], row[2], row[5], row[6])
}

func truncate(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
