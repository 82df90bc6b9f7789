// Package metrics has the Prometheus collectors for event
// application, broadcast delivery, and subscriptions.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "automata"

type Metrics struct {
	eventsApplied *prometheus.CounterVec
	applyDuration prometheus.Histogram
	deliveries    *prometheus.CounterVec
	subscriptions prometheus.Gauge

	registry *prometheus.Registry
}

// New makes collectors registered with a new registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		eventsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "events_applied_total",
				Help:      "Events submitted, by result code",
			},
			[]string{"result"},
		),
		applyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "apply_duration_seconds",
				Help:      "Time to load, transition, and conditionally write one event",
				Buckets:   prometheus.DefBuckets,
			},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "broadcast_deliveries_total",
				Help:      "State update deliveries, by outcome",
			},
			[]string{"outcome"},
		),
		subscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "subscriptions",
				Help:      "Current number of subscriptions",
			},
		),
	}

	m.registry.MustRegister(
		m.eventsApplied,
		m.applyDuration,
		m.deliveries,
		m.subscriptions,
		collectors.NewGoCollector(),
	)

	return m
}

// ObserveApply records one ApplyEvent.  The result is "ok" or an
// error code.
func (m *Metrics) ObserveApply(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.eventsApplied.WithLabelValues(result).Inc()
	m.applyDuration.Observe(elapsed.Seconds())
}

// Delivery outcomes.
const (
	Delivered = "delivered"
	Gone      = "gone"
	Transient = "transient"
)

func (m *Metrics) ObserveDelivery(outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Add(float64(n))
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
