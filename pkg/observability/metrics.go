package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Token metrics
	TokensIssuedTotal     *prometheus.CounterVec
	TokenValidationsTotal *prometheus.CounterVec
	TokenRenewalsTotal    prometheus.Counter
	TokensRevokedTotal    prometheus.Counter

	// Access cache metrics
	AccessCacheHitsTotal   prometheus.Counter
	AccessCacheMissesTotal prometheus.Counter

	// Reaper metrics
	ReapedTokensTotal    prometheus.Counter
	ReapedCacheRowsTotal prometheus.Counter
	ReaperErrorsTotal    prometheus.Counter

	// Database pool metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_tokens_issued_total",
				Help: "Tokens issued, by principal type",
			},
			[]string{"type"},
		),
		TokenValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_token_validations_total",
				Help: "Token validations, by outcome",
			},
			[]string{"result"},
		),
		TokenRenewalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_token_renewals_total",
			Help: "Sliding renewals applied",
		}),
		TokensRevokedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_tokens_revoked_total",
			Help: "Tokens removed by explicit revocation",
		}),
		AccessCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_access_cache_hits_total",
			Help: "Permission cache hits on the check path",
		}),
		AccessCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_access_cache_misses_total",
			Help: "Permission cache misses on the check path",
		}),
		ReapedTokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_reaped_tokens_total",
			Help: "Expired token rows removed by the reaper",
		}),
		ReapedCacheRowsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_reaped_cache_rows_total",
			Help: "Expired permission cache rows removed by the reaper",
		}),
		ReaperErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_reaper_errors_total",
			Help: "Reaper ticks that failed",
		}),
		DBConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_db_connections_active",
			Help: "Database connections currently in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_db_connections_idle",
			Help: "Idle database connections",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TokensIssuedTotal,
		m.TokenValidationsTotal,
		m.TokenRenewalsTotal,
		m.TokensRevokedTotal,
		m.AccessCacheHitsTotal,
		m.AccessCacheMissesTotal,
		m.ReapedTokensTotal,
		m.ReapedCacheRowsTotal,
		m.ReaperErrorsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns the HTTP handler serving the metrics registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one HTTP request
func (m *Metrics) ObserveRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdatePoolStats refreshes the database pool gauges
func (m *Metrics) UpdatePoolStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// Middleware instruments an HTTP handler with request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		m.ObserveRequest(r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
