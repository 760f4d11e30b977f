// Package metrics exposes cache and mutation activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/mutation"
)

const namespace = "fleetdesk"

// fetch durations are dominated by the API round trip
var fetchBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Collector owns a private registry so several instances can coexist in
// one process and in tests.
type Collector struct {
	registry *prometheus.Registry

	cacheEvents      *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	mutationsTotal   *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec
}

// New creates a Collector and registers its metrics along with the Go and
// process collectors.
func New() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	c := &Collector{
		registry: registry,

		cacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "events_total",
				Help:      "Cache events by kind and resource tag",
			},
			[]string{"event", "resource"},
		),

		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "fetch_duration_seconds",
				Help:      "Loader duration by resource tag and outcome",
				Buckets:   fetchBuckets,
			},
			[]string{"resource", "outcome"},
		),

		mutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mutation",
				Name:      "total",
				Help:      "Settled writes by name and status",
			},
			[]string{"mutation", "status"},
		),

		mutationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "mutation",
				Name:      "duration_seconds",
				Help:      "Write duration by name",
				Buckets:   fetchBuckets,
			},
			[]string{"mutation"},
		),
	}

	registry.MustRegister(c.cacheEvents, c.fetchDuration, c.mutationsTotal, c.mutationDuration)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// CacheHook returns a hook for cache.WithEventHook.
func (c *Collector) CacheHook() cache.EventHook {
	return func(ev cache.Event) {
		resource := Resource(ev.Key)
		c.cacheEvents.WithLabelValues(string(ev.Kind), resource).Inc()

		switch ev.Kind {
		case cache.EventCommit, cache.EventDiscard, cache.EventError:
			c.fetchDuration.WithLabelValues(resource, string(ev.Kind)).Observe(ev.Duration.Seconds())
		}
	}
}

// MutationHook returns a hook for mutation.Config.Hooks.
func (c *Collector) MutationHook() mutation.Hook {
	return func(o mutation.Outcome) {
		name := o.Name
		if name == "" {
			name = "unnamed"
		}
		c.mutationsTotal.WithLabelValues(name, o.Status.String()).Inc()
		c.mutationDuration.WithLabelValues(name).Observe(o.Duration.Seconds())
	}
}

// Resource returns the tag of a serialized key, which keeps label
// cardinality bounded by the number of resources.
func Resource(key string) string {
	tag, _, _ := strings.Cut(key, cache.KeySeparator)
	if tag == "" {
		return "unknown"
	}
	return tag
}
