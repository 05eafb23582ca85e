// Package metrics exposes engine counters in Prometheus format
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the engine metrics on a private registry. A nil
// *Collector is valid and ignores all observations, so callers can
// leave metrics unwired.
type Collector struct {
	registry *prometheus.Registry

	samplesTotal   *prometheus.CounterVec
	overruns       *prometheus.GaugeVec
	triggerFires   prometheus.Counter
	sessionsActive prometheus.Gauge
	readLatency    prometheus.Histogram
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		samplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labacq_samples_total",
			Help: "Samples captured into buffers, by equipment.",
		}, []string{"equipment"}),
		overruns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "labacq_buffer_overruns",
			Help: "Oldest-sample evictions per buffer.",
		}, []string{"equipment", "channel"}),
		triggerFires: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labacq_trigger_fires_total",
			Help: "Trigger conditions that released an armed session.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "labacq_sessions_active",
			Help: "Sessions currently armed or acquiring.",
		}),
		readLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "labacq_instrument_read_latency_seconds",
			Help:    "Latency of instrument channel reads.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}

	c.registry.MustRegister(c.samplesTotal, c.overruns, c.triggerFires, c.sessionsActive, c.readLatency)
	return c
}

// SampleCaptured counts one captured sample for an equipment
func (c *Collector) SampleCaptured(equipment string) {
	if c == nil {
		return
	}
	c.samplesTotal.WithLabelValues(equipment).Inc()
}

// SetOverruns publishes a buffer's eviction count
func (c *Collector) SetOverruns(equipment, channel string, count uint64) {
	if c == nil {
		return
	}
	c.overruns.WithLabelValues(equipment, channel).Set(float64(count))
}

// TriggerFired counts one trigger release
func (c *Collector) TriggerFired() {
	if c == nil {
		return
	}
	c.triggerFires.Inc()
}

// SetActiveSessions publishes the live session count
func (c *Collector) SetActiveSessions(n int) {
	if c == nil {
		return
	}
	c.sessionsActive.Set(float64(n))
}

// ObserveReadLatency records one instrument read duration
func (c *Collector) ObserveReadLatency(seconds float64) {
	if c == nil {
		return
	}
	c.readLatency.Observe(seconds)
}

// Handler serves the collector's registry in exposition format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
