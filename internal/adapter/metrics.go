package adapter

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the adapter counters exported on the metrics endpoint.
type Metrics struct {
	Advertised *prometheus.CounterVec
	Failures   *prometheus.CounterVec
	Received   *prometheus.CounterVec
	Queued     *prometheus.GaugeVec
	Refreshes  prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg when not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Advertised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bleadv",
			Subsystem: "adapter",
			Name:      "advertised_total",
			Help:      "Advertisements transmitted, per adapter.",
		}, []string{"adapter"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bleadv",
			Subsystem: "adapter",
			Name:      "failures_total",
			Help:      "Failed transmissions, per adapter.",
		}, []string{"adapter"}),
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bleadv",
			Subsystem: "adapter",
			Name:      "received_total",
			Help:      "Raw advertisements received, per adapter.",
		}, []string{"adapter"}),
		Queued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bleadv",
			Subsystem: "adapter",
			Name:      "queued_items",
			Help:      "Items waiting in the advertising queues, per adapter.",
		}, []string{"adapter"}),
		Refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bleadv",
			Subsystem: "mgmt",
			Name:      "refreshes_total",
			Help:      "Adapter re-acquisitions triggered by the manager.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Advertised, m.Failures, m.Received, m.Queued, m.Refreshes)
	}
	return m
}
