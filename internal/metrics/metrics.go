// Package metrics exposes the engine's business counters on a dedicated
// Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	OrdersCreated     prometheus.Counter
	OrdersRejected    *prometheus.CounterVec
	OrdersCancelled   prometheus.Counter
	GreenGramsDebited prometheus.Counter
	AlertsRaised      *prometheus.CounterVec
	DuplicatesRemoved prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: registry,
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gudangkopi",
			Name:      "orders_created_total",
			Help:      "Orders accepted by the order engine.",
		}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gudangkopi",
			Name:      "orders_rejected_total",
			Help:      "Orders rejected before any inventory mutation.",
		}, []string{"reason"}),
		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gudangkopi",
			Name:      "orders_cancelled_total",
			Help:      "Orders cancelled with their ledger effect reversed.",
		}),
		GreenGramsDebited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gudangkopi",
			Name:      "green_grams_debited_total",
			Help:      "Green coffee grams debited from the pool.",
		}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gudangkopi",
			Name:      "inventory_alerts_total",
			Help:      "Low-stock alert log entries appended.",
		}, []string{"severity"}),
		DuplicatesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gudangkopi",
			Name:      "duplicate_items_removed_total",
			Help:      "Order items removed by the duplicate reconciler.",
		}),
	}

	registry.MustRegister(
		m.OrdersCreated,
		m.OrdersRejected,
		m.OrdersCancelled,
		m.GreenGramsDebited,
		m.AlertsRaised,
		m.DuplicatesRemoved,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
