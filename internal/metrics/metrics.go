// Package metrics provides Prometheus instrumentation for the escrow core.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dezenmart",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dezenmart",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// RegistrationsTotal counts role registrations.
	RegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dezenmart",
			Name:      "registrations_total",
			Help:      "Total role registrations by role.",
		},
		[]string{"role"},
	)

	// TradesCreatedTotal counts trade listings.
	TradesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dezenmart",
		Name:      "trades_created_total",
		Help:      "Total trades listed.",
	})

	// PurchasesTotal counts purchase lifecycle transitions by resulting state.
	PurchasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dezenmart",
			Name:      "purchases_total",
			Help:      "Total purchase transitions by resulting state.",
		},
		[]string{"state"},
	)

	// DisputesRaisedTotal counts disputes raised.
	DisputesRaisedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dezenmart",
		Name:      "disputes_raised_total",
		Help:      "Total disputes raised.",
	})

	// DisputesResolvedTotal counts dispute resolutions by outcome.
	DisputesResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dezenmart",
			Name:      "disputes_resolved_total",
			Help:      "Total disputes resolved by outcome.",
		},
		[]string{"outcome"},
	)

	// CustodiedUnits tracks value currently held in escrow custody.
	CustodiedUnits = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dezenmart",
		Name:      "custodied_units",
		Help:      "Value currently held in escrow custody.",
	})

	// WithheldFeeUnits tracks the protocol fee pool.
	WithheldFeeUnits = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dezenmart",
		Name:      "withheld_fee_units",
		Help:      "Escrow fees withheld and not yet withdrawn.",
	})

	// ActiveWebSocketClients tracks connected event-stream clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dezenmart",
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dezenmart", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dezenmart", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dezenmart", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dezenmart", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RegistrationsTotal,
		TradesCreatedTotal,
		PurchasesTotal,
		DisputesRaisedTotal,
		DisputesResolvedTotal,
		CustodiedUnits,
		WithheldFeeUnits,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
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

// Handler returns the Prometheus scrape endpoint as a gin handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket collapses status codes into classes to bound cardinality.
func statusBucket(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
