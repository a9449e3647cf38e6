// Package metrics exposes prometheus collectors created on first use. Each
// metric name is bound to the label names of its first observation; later
// calls with a different label set are dropped and counted under
// wabridge_metrics_label_mismatch_total.
package metrics

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wabridge"

// Default buckets for request and provider call durations, in seconds.
var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Registry owns a prometheus registry and the lazily created vectors.
type Registry struct {
	reg *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	mismatches prometheus.Counter
	startTime  time.Time
}

// NewRegistry creates a registry that also carries the Go runtime and
// process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mismatches := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "metrics_label_mismatch_total",
		Help:      "Observations dropped because their label set did not match the metric.",
	})
	reg.MustRegister(mismatches)

	return &Registry{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		mismatches: mismatches,
		startTime:  time.Now(),
	}
}

var globalRegistry = NewRegistry()

// GetRegistry returns the global registry instance
func GetRegistry() *Registry {
	return globalRegistry
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) counter(name, description string, labels map[string]string) *prometheus.CounterVec {
	r.mu.Lock()
	defer r.mu.Unlock()

	vec, ok := r.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      description,
		}, labelNames(labels))
		r.reg.MustRegister(vec)
		r.counters[name] = vec
	}
	return vec
}

func (r *Registry) histogram(name, description string, labels map[string]string) *prometheus.HistogramVec {
	r.mu.Lock()
	defer r.mu.Unlock()

	vec, ok := r.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      description,
			Buckets:   durationBuckets,
		}, labelNames(labels))
		r.reg.MustRegister(vec)
		r.histograms[name] = vec
	}
	return vec
}

func (r *Registry) gauge(name, description string, labels map[string]string) *prometheus.GaugeVec {
	r.mu.Lock()
	defer r.mu.Unlock()

	vec, ok := r.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      description,
		}, labelNames(labels))
		r.reg.MustRegister(vec)
		r.gauges[name] = vec
	}
	return vec
}

// IncrementCounter increments a counter metric
func (r *Registry) IncrementCounter(name string, labels map[string]string, description string) {
	r.AddToCounter(name, 1, labels, description)
}

// AddToCounter adds a value to a counter metric
func (r *Registry) AddToCounter(name string, value float64, labels map[string]string, description string) {
	c, err := r.counter(name, description, labels).GetMetricWith(labels)
	if err != nil {
		r.mismatches.Inc()
		return
	}
	c.Add(value)
}

// RecordTimer observes duration in seconds.
func (r *Registry) RecordTimer(name string, duration time.Duration, labels map[string]string, description string) {
	h, err := r.histogram(name, description, labels).GetMetricWith(labels)
	if err != nil {
		r.mismatches.Inc()
		return
	}
	h.Observe(duration.Seconds())
}

// SetGauge sets a gauge metric value
func (r *Registry) SetGauge(name string, value float64, labels map[string]string, description string) {
	g, err := r.gauge(name, description, labels).GetMetricWith(labels)
	if err != nil {
		r.mismatches.Inc()
		return
	}
	g.Set(value)
}

// Gatherer exposes the underlying registry for tests and custom handlers.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Uptime reports how long the registry has existed.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

// Handler serves the prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// IncrementCounter increments a counter in the global registry
func IncrementCounter(name string, labels map[string]string, description string) {
	globalRegistry.IncrementCounter(name, labels, description)
}

// AddToCounter adds to a counter in the global registry
func AddToCounter(name string, value float64, labels map[string]string, description string) {
	globalRegistry.AddToCounter(name, value, labels, description)
}

// RecordTimer records timing in the global registry
func RecordTimer(name string, duration time.Duration, labels map[string]string, description string) {
	globalRegistry.RecordTimer(name, duration, labels, description)
}

// SetGauge sets a gauge in the global registry
func SetGauge(name string, value float64, labels map[string]string, description string) {
	globalRegistry.SetGauge(name, value, labels, description)
}

// Handler serves the global registry.
func Handler() http.Handler {
	return globalRegistry.Handler()
}
