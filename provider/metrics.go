package provider

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh results used as the "result" label.
const (
	resultOK       = "ok"
	resultError    = "error"
	resultTimeout  = "timeout"
	resultCanceled = "canceled"
	resultStale    = "stale"
	resultInvalid  = "invalid"
)

// Metrics tracks refresh cycles and the size of the rendered set.
type Metrics struct {
	Refreshes       *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	FeaturesParsed  prometheus.Counter
	FeaturesSkipped prometheus.Counter
	FeatureErrors   prometheus.Counter
	Evictions       prometheus.Counter
	Primitives      prometheus.Gauge
	RegistrySize    prometheus.Gauge
}

// NewMetrics registers the provider metrics on reg. A nil reg leaves the
// metrics unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wfs_refreshes_total",
			Help: "Refresh cycles by result",
		}, []string{"result"}),
		RefreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wfs_refresh_duration_seconds",
			Help:    "Duration of fetch and parse for one refresh",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		FeaturesParsed: f.NewCounter(prometheus.CounterOpts{
			Name: "wfs_features_parsed_total",
			Help: "Features parsed from GetFeature responses",
		}),
		FeaturesSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "wfs_features_skipped_total",
			Help: "Features skipped because they were already rendered",
		}),
		FeatureErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "wfs_feature_errors_total",
			Help: "Geometries dropped because they could not be parsed or rendered",
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Name: "wfs_evictions_total",
			Help: "Features evicted from the registry",
		}),
		Primitives: f.NewGauge(prometheus.GaugeOpts{
			Name: "wfs_primitives",
			Help: "Primitives currently held by the renderer",
		}),
		RegistrySize: f.NewGauge(prometheus.GaugeOpts{
			Name: "wfs_registry_entries",
			Help: "Feature ids currently registered",
		}),
	}
}

// ObserveRefresh records one refresh cycle. Call with time.Now() at the start
// of the cycle.
func (m *Metrics) ObserveRefresh(result string, start time.Time) {
	m.Refreshes.WithLabelValues(result).Inc()
	m.RefreshDuration.Observe(time.Since(start).Seconds())
}
