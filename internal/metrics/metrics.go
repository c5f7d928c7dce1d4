// Package metrics records kline cache activity as Prometheus metrics.
//
// A Recorder owns its own registry so several instances can coexist in tests.
// All methods are safe on a nil *Recorder, which turns recording off.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache outcomes reported by RecordCacheOutcome.
const (
	CacheFresh       = "fresh"
	CacheIncremental = "incremental"
	CacheFull        = "full"
)

// Recorder implements the collector's metrics using Prometheus.
type Recorder struct {
	registry *prometheus.Registry

	exchangeRequests *prometheus.CounterVec
	fetchRetries     *prometheus.CounterVec
	candlesFetched   *prometheus.CounterVec
	downloadDuration *prometheus.HistogramVec
	cacheOutcomes    *prometheus.CounterVec
	catalogSize      prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates a recorder registered on a fresh registry under namespace.
func New(namespace string) *Recorder {
	if namespace == "" {
		namespace = "klinecache"
	}

	r := &Recorder{
		registry: prometheus.NewRegistry(),
		exchangeRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exchange_requests_total",
				Help:      "Exchange API calls by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		fetchRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_retries_total",
				Help:      "Kline fetch retries by error type",
			},
			[]string{"type"},
		),
		candlesFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "candles_fetched_total",
				Help:      "Candles received from the exchange by timeframe",
			},
			[]string{"timeframe"},
		),
		downloadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "download_duration_seconds",
				Help:      "Duration of a full range download",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"timeframe"},
		),
		cacheOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_requests_total",
				Help:      "History requests by cache outcome",
			},
			[]string{"outcome"},
		),
		catalogSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "catalog_symbols",
				Help:      "Symbols in the last catalog snapshot",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"route", "method"},
		),
	}

	r.registry.MustRegister(
		r.exchangeRequests,
		r.fetchRetries,
		r.candlesFetched,
		r.downloadDuration,
		r.cacheOutcomes,
		r.catalogSize,
		r.httpRequests,
		r.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordExchangeRequest counts one exchange call.
func (r *Recorder) RecordExchangeRequest(endpoint, outcome string) {
	if r == nil {
		return
	}
	r.exchangeRequests.WithLabelValues(endpoint, outcome).Inc()
}

// RecordRetry counts one retried fetch.
func (r *Recorder) RecordRetry(errType string) {
	if r == nil {
		return
	}
	r.fetchRetries.WithLabelValues(errType).Inc()
}

// RecordCandles adds n fetched candles for timeframe.
func (r *Recorder) RecordCandles(timeframe string, n int) {
	if r == nil {
		return
	}
	r.candlesFetched.WithLabelValues(timeframe).Add(float64(n))
}

// RecordDownload observes a download duration.
func (r *Recorder) RecordDownload(timeframe string, d time.Duration) {
	if r == nil {
		return
	}
	r.downloadDuration.WithLabelValues(timeframe).Observe(d.Seconds())
}

// RecordCacheOutcome counts a history request by outcome.
func (r *Recorder) RecordCacheOutcome(outcome string) {
	if r == nil {
		return
	}
	r.cacheOutcomes.WithLabelValues(outcome).Inc()
}

// SetCatalogSize records the symbol count of the latest catalog.
func (r *Recorder) SetCatalogSize(n int) {
	if r == nil {
		return
	}
	r.catalogSize.Set(float64(n))
}

// RecordHTTPRequest counts one served request. route should be the
// registered path template to keep label cardinality low.
func (r *Recorder) RecordHTTPRequest(route, method string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
