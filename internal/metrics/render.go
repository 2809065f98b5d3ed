package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cvforge/internal/browser"
)

var (
	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Document cache lookups by result.",
		},
		[]string{"result"},
	)

	renderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "duration_seconds",
			Help:      "Time spent acquiring an engine and rendering a document.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"template", "outcome"},
	)
)

// ExportRecorder feeds exporter measurements into Prometheus.
type ExportRecorder struct{}

func (ExportRecorder) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

func (ExportRecorder) RenderFinished(template string, outcome string, elapsed time.Duration) {
	renderDuration.WithLabelValues(template, outcome).Observe(elapsed.Seconds())
}

// RegisterPool exposes pool occupancy as gauges read at scrape time.
func RegisterPool(reg prometheus.Registerer, stats func() browser.Stats) {
	gauge := func(name, help string, value func(browser.Stats) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "browser_pool",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(value(stats()))
		})
	}
	reg.MustRegister(
		gauge("capacity", "Maximum number of engines.", func(s browser.Stats) int { return s.Size }),
		gauge("engines", "Engines currently tracked in slots.", func(s browser.Stats) int { return s.Engines }),
		gauge("launching", "Engine launches in progress.", func(s browser.Stats) int { return s.Launching }),
		gauge("leases", "Outstanding engine leases.", func(s browser.Stats) int { return s.Leases }),
		gauge("retired", "Replaced engines waiting for their last lease.", func(s browser.Stats) int { return s.Retired }),
	)
}
