// Package metrics provides Prometheus instrumentation for the ingestion core.
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
			Namespace: "coreflow",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "coreflow",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SignalsIngestedTotal counts signals accepted into the pipeline by kind.
	SignalsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coreflow",
			Name:      "signals_ingested_total",
			Help:      "Total signals accepted into the pipeline by kind.",
		},
		[]string{"kind"},
	)

	// SignalsRejectedTotal counts structurally invalid submissions by reason.
	SignalsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coreflow",
			Name:      "signals_rejected_total",
			Help:      "Total submissions rejected at validation by reason.",
		},
		[]string{"reason"},
	)

	// EnrichmentFailuresTotal counts best-effort stages that passed a signal
	// through unmodified.
	EnrichmentFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coreflow",
			Name:      "enrichment_failures_total",
			Help:      "Enrichment stages that failed and passed the signal through, by stage.",
		},
		[]string{"stage"},
	)

	// PatternTagsTotal counts compound tags attached by the window tracker.
	PatternTagsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coreflow",
			Name:      "pattern_tags_total",
			Help:      "Compound pattern tags attached, by tag.",
		},
		[]string{"tag"},
	)

	// ExecutionScore publishes the latest Markov execution score.
	ExecutionScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coreflow",
		Name:      "execution_score",
		Help:      "Latest posterior probability of the Imminent execution state.",
	})

	// StreamAppendsTotal counts log appends by stream and result.
	StreamAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coreflow",
			Name:      "stream_appends_total",
			Help:      "Signal log appends by stream and result.",
		},
		[]string{"stream", "result"},
	)

	// FeedReconnectsTotal counts upstream feed reconnect attempts.
	FeedReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coreflow",
			Name:      "feed_reconnects_total",
			Help:      "Upstream feed reconnect attempts by feed.",
		},
		[]string{"feed"},
	)

	// ArchiveInsertsTotal counts archive writes by result.
	ArchiveInsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coreflow",
			Name:      "archive_inserts_total",
			Help:      "Postgres archive inserts by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "coreflow",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coreflow", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coreflow", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coreflow", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coreflow", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coreflow", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coreflow", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SignalsIngestedTotal,
		SignalsRejectedTotal,
		EnrichmentFailuresTotal,
		PatternTagsTotal,
		ExecutionScore,
		StreamAppendsTotal,
		FeedReconnectsTotal,
		ArchiveInsertsTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
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
