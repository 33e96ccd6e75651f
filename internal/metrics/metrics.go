// Package metrics records build activity as Prometheus metrics and writes
// them in the text exposition format, for a node exporter textfile
// collector to pick up.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vbuild"

// Recorder counts cache hits, builds, failures and publishes of one run.
type Recorder struct {
	registry *prometheus.Registry

	cacheHits     *prometheus.CounterVec
	builds        *prometheus.CounterVec
	failures      *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec
	published     prometheus.Counter
	removed       prometheus.Counter
}

// New returns a Recorder with its own registry, labelled with the target
// platform.
func New(platform string) *Recorder {
	labels := prometheus.Labels{"platform": platform}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "cache_hits_total",
			Help:        "Architectures found up to date, per vendor.",
			ConstLabels: labels,
		}, []string{"vendor"}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "built_archs_total",
			Help:        "Architectures built, per vendor.",
			ConstLabels: labels,
		}, []string{"vendor"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "build_failures_total",
			Help:        "Failed vendor builds.",
			ConstLabels: labels,
		}, []string{"vendor"}),
		buildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "build_duration_seconds",
			Help:        "Wall time of vendor builds.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"vendor"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "published_archs_total",
			Help:        "Architectures republished into the publish directory.",
			ConstLabels: labels,
		}),
		removed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "removed_outputs_total",
			Help:        "Output directories of vendors no longer declared.",
			ConstLabels: labels,
		}),
	}
	r.registry.MustRegister(r.cacheHits, r.builds, r.failures, r.buildDuration, r.published, r.removed)
	return r
}

func (r *Recorder) CacheHit(vendor string, archs int) {
	r.cacheHits.WithLabelValues(vendor).Add(float64(archs))
}

func (r *Recorder) Built(vendor string, archs int, elapsed time.Duration) {
	r.builds.WithLabelValues(vendor).Add(float64(archs))
	r.buildDuration.WithLabelValues(vendor).Observe(elapsed.Seconds())
}

func (r *Recorder) Failed(vendor string) {
	r.failures.WithLabelValues(vendor).Inc()
}

func (r *Recorder) Published(archs int) {
	r.published.Add(float64(archs))
}

func (r *Recorder) Removed(string) {
	r.removed.Inc()
}

// Registry exposes the metrics for gathering.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// WriteFile writes every metric to path atomically.
func (r *Recorder) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
