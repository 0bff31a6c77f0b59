// Package metrics provides internal metrics collection. This package is
// internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector groups every Prometheus metric arbstr publishes, scoped to
// the four observable surfaces of a reverse proxy: ingress HTTP, egress
// provider calls, circuit breaker state, and the embedded store's
// connection pools. Metrics are read-only with respect to the request
// plane — nothing here ever gates a routing or retry decision.
type Collector struct {
	// Ingress HTTP.
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Egress provider calls.
	providerRequestsTotal   *prometheus.CounterVec
	providerRequestDuration *prometheus.HistogramVec
	tokensTotal             *prometheus.CounterVec
	costSatsTotal           *prometheus.CounterVec

	// Circuit breaker.
	breakerState *prometheus.GaugeVec

	// Embedded store connection pools.
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers every metric under namespace using promauto, so
// callers never have to manage a *prometheus.Registry by hand.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of ingress HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Ingress HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.providerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of egress requests to upstream providers.",
		},
		[]string{"provider", "model", "status"},
	)

	c.providerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Egress provider request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	c.tokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Total number of tokens observed in provider responses.",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	c.costSatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_sats_total",
			Help:      "Total actual cost billed to providers, in fractional satoshis.",
		},
		[]string{"provider", "model"},
	)

	c.breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per provider (0=closed, 1=half_open, 2=open).",
		},
		[]string{"provider"},
	)

	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open connections in a store pool.",
		},
		[]string{"pool"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle connections in a store pool.",
		},
		[]string{"pool"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Store query duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"pool", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one ingress request's outcome.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordProviderRequest records one egress attempt's outcome, and — when
// the attempt produced usable usage — the tokens and cost it billed.
func (c *Collector) RecordProviderRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int64, costSats float64) {
	c.providerRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.providerRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if promptTokens > 0 {
		c.tokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.tokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
	if costSats > 0 {
		c.costSatsTotal.WithLabelValues(provider, model).Add(costSats)
	}
}

// RecordBreakerState publishes a provider's current breaker position.
func (c *Collector) RecordBreakerState(provider string, stateValue float64) {
	c.breakerState.WithLabelValues(provider).Set(stateValue)
}

// RecordDBPool publishes a store pool's connection gauges.
func (c *Collector) RecordDBPool(pool string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(pool).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(pool).Set(float64(idle))
}

// RecordDBQuery records one store query's duration.
func (c *Collector) RecordDBQuery(pool, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(pool, operation).Observe(duration.Seconds())
}

// statusClass buckets an HTTP status code into its class, per the
// teacher's own label-cardinality discipline: one label value per status
// family rather than per exact code, so a flaky upstream emitting varied
// 5xx codes never explodes the requests_total cardinality.
func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
