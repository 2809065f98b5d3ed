// Package metrics exposes Prometheus collectors for the HTTP surface, the prewarm worker,
// the exporter and the browser pool.
package metrics

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cvforge"

var (
	registerHTTPOnce sync.Once

	httpLabels = []string{"method", "route", "code"}

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of non-upgraded HTTP requests.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		httpLabels,
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		httpLabels,
	)

	httpResponseBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "Response body size; PDF downloads dominate the upper buckets.",
			Buckets:   prometheus.ExponentialBuckets(512, 4, 8),
		},
		[]string{"route"},
	)

	httpActiveSockets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "websocket_connections",
			Help:      "Open prewarm notification sockets.",
		},
	)
)

// GinMiddleware 为 Gin 路由注册 Prometheus 指标采集逻辑。
// WebSocket upgrades are counted but kept out of the latency histogram.
func GinMiddleware() gin.HandlerFunc {
	registerHTTPOnce.Do(func() {
		prometheus.MustRegister(httpDuration, httpRequests, httpResponseBytes, httpActiveSockets)
	})

	return func(c *gin.Context) {
		upgrade := isWebSocketUpgrade(c)
		if upgrade {
			httpActiveSockets.Inc()
			defer httpActiveSockets.Dec()
		}
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := strconv.Itoa(c.Writer.Status())
		httpRequests.WithLabelValues(c.Request.Method, route, code).Inc()
		if upgrade {
			return
		}
		httpDuration.WithLabelValues(c.Request.Method, route, code).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size > 0 {
			httpResponseBytes.WithLabelValues(route).Observe(float64(size))
		}
	}
}

func isWebSocketUpgrade(c *gin.Context) bool {
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}
