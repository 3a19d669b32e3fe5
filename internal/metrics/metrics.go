// Package metrics provides Prometheus instrumentation for spendgate.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spendgate",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spendgate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// QuotaChecksTotal counts quota checks by decision outcome.
	QuotaChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spendgate",
			Name:      "quota_checks_total",
			Help:      "Total quota checks by decision outcome.",
		},
		[]string{"outcome"},
	)

	// CheckDuration observes end-to-end quota check latency.
	CheckDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "spendgate",
		Name:      "quota_check_duration_seconds",
		Help:      "Quota check duration in seconds, including resolution and usage lookup.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// ResolutionsTotal counts tier resolutions by which rule matched.
	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spendgate",
			Name:      "resolutions_total",
			Help:      "Total tier resolutions by matching rule kind.",
		},
		[]string{"matched_by"},
	)

	// ResolverCacheTotal counts resolver cache lookups by result.
	ResolverCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spendgate",
			Name:      "resolver_cache_total",
			Help:      "Resolver cache lookups by result (hit or miss).",
		},
		[]string{"result"},
	)

	// QuotaEventsTotal counts recorded audit events by type.
	QuotaEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spendgate",
			Name:      "quota_events_total",
			Help:      "Total audit events recorded by type.",
		},
		[]string{"type"},
	)

	// EventsDedupedTotal counts events suppressed by deduplication.
	EventsDedupedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spendgate",
			Name:      "quota_events_deduped_total",
			Help:      "Audit events suppressed by the deduplication window, by type.",
		},
		[]string{"type"},
	)

	// UsageSourceFailuresTotal counts usage source read failures.
	UsageSourceFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spendgate",
		Name:      "usage_source_failures_total",
		Help:      "Total usage source read failures (each one fails a check open).",
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "spendgate",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spendgate", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spendgate", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spendgate", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spendgate", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spendgate", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "spendgate", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		QuotaChecksTotal,
		CheckDuration,
		ResolutionsTotal,
		ResolverCacheTotal,
		QuotaEventsTotal,
		EventsDedupedTotal,
		UsageSourceFailuresTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// CheckTimer times a single quota check into CheckDuration.
type CheckTimer struct {
	timer *prometheus.Timer
}

// NewCheckTimer starts timing a quota check.
func NewCheckTimer() *CheckTimer {
	return &CheckTimer{timer: prometheus.NewTimer(CheckDuration)}
}

// Done records the elapsed time.
func (t *CheckTimer) Done() {
	t.timer.ObserveDuration()
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
