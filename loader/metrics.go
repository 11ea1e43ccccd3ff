package loader

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wippyai/layoutcheck/errors"
)

// Metrics records loader activity. A nil *Metrics records nothing.
type Metrics struct {
	Loads        *prometheus.CounterVec
	Checks       prometheus.Counter
	Mismatches   prometheus.Counter
	CacheHits    prometheus.Counter
	LoadDuration prometheus.Histogram
}

// NewMetrics creates loader metrics registered on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Loads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "layoutcheck_loads_total",
			Help: "Library loads by outcome",
		}, []string{"result"}),
		Checks: f.NewCounter(prometheus.CounterOpts{
			Name: "layoutcheck_checks_total",
			Help: "Structural layout checks executed",
		}),
		Mismatches: f.NewCounter(prometheus.CounterOpts{
			Name: "layoutcheck_mismatches_total",
			Help: "Layout mismatches reported by structural checks",
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "layoutcheck_cache_hits_total",
			Help: "Loads answered from the validated module cache",
		}),
		LoadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "layoutcheck_load_duration_seconds",
			Help:    "Time to open and validate a library",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}
}

// ObserveLoad records the outcome of an uncached load.
func (m *Metrics) ObserveLoad(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Loads.WithLabelValues(loadResult(err)).Inc()
	m.LoadDuration.Observe(elapsed.Seconds())
}

// ObserveCheck records one structural check and how many mismatches it found.
func (m *Metrics) ObserveCheck(mismatches int) {
	if m == nil {
		return
	}
	m.Checks.Inc()
	m.Mismatches.Add(float64(mismatches))
}

// IncrementCacheHits records a load served from the cache.
func (m *Metrics) IncrementCacheHits() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

func loadResult(err error) string {
	if err == nil {
		return "ok"
	}
	var le *errors.LibraryError
	if errors.As(err, &le) {
		return string(le.Kind)
	}
	return "error"
}
