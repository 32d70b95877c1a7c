// Package metrics holds the Prometheus collectors of a worker scope.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Extension outcome label values.
const (
	extensionFulfilled = "fulfilled"
	extensionRejected  = "rejected"
)

// Collectors records dispatches, extension outcomes and reported
// exceptions. It satisfies scope.Observer.
type Collectors struct {
	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	extensions       *prometheus.CounterVec
	exceptions       *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests and embedded workers want.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serviceworker_dispatches_total",
				Help: "Total number of events dispatched into the worker scope.",
			},
			[]string{"event", "outcome"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "serviceworker_dispatch_duration_seconds",
				Help:    "Time from dispatch until every extension settled, in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event"},
		),
		extensions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serviceworker_extensions_total",
				Help: "Total number of waitUntil/respondWith promises settled, by outcome.",
			},
			[]string{"event", "outcome"},
		),
		exceptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serviceworker_reported_exceptions_total",
				Help: "Total number of exceptions funneled through the report path.",
			},
			[]string{"handled"},
		),
	}
	if reg != nil {
		reg.MustRegister(c.dispatches, c.dispatchDuration, c.extensions, c.exceptions)
	}
	c.exceptions.WithLabelValues("true")
	c.exceptions.WithLabelValues("false")
	return c
}

// ObserveDispatch records one finished dispatch.
func (c *Collectors) ObserveDispatch(eventType, outcome string, d time.Duration) {
	c.dispatches.WithLabelValues(eventType, outcome).Inc()
	c.dispatchDuration.WithLabelValues(eventType).Observe(d.Seconds())
}

// ObserveExtensions records how the extensions of one dispatch settled.
func (c *Collectors) ObserveExtensions(eventType string, fulfilled, rejected int) {
	if fulfilled > 0 {
		c.extensions.WithLabelValues(eventType, extensionFulfilled).Add(float64(fulfilled))
	}
	if rejected > 0 {
		c.extensions.WithLabelValues(eventType, extensionRejected).Add(float64(rejected))
	}
}

// ObserveException records one reported exception.
func (c *Collectors) ObserveException(handled bool) {
	if handled {
		c.exceptions.WithLabelValues("true").Inc()
	} else {
		c.exceptions.WithLabelValues("false").Inc()
	}
}
