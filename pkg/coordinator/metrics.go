package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/srg/bleadv/internal/ringchan"
)

type metrics struct {
	received    *prometheus.CounterVec
	duplicates  *prometheus.CounterVec
	decoded     *prometheus.CounterVec
	overwritten prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bleadv",
			Subsystem: "coordinator",
			Name:      "received_total",
			Help:      "Raw advertisements handed to the coordinator, per adapter.",
		}, []string{"adapter"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bleadv",
			Subsystem: "coordinator",
			Name:      "duplicates_total",
			Help:      "Advertisements dropped as duplicates, per adapter.",
		}, []string{"adapter"}),
		decoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bleadv",
			Subsystem: "coordinator",
			Name:      "decoded_total",
			Help:      "Successful decodes, per codec.",
		}, []string{"codec"}),
		overwritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bleadv",
			Subsystem: "coordinator",
			Name:      "inbound_overwritten_total",
			Help:      "Raw advertisements lost because the inbound ring was full.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.received, m.duplicates, m.decoded, m.overwritten)
	}
	return m
}

// registerEventMetrics exposes the counters of the decoded event stream.
func registerEventMetrics(reg prometheus.Registerer, stats func() ringchan.Stats) {
	if reg == nil {
		return
	}
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "bleadv",
			Subsystem: "coordinator",
			Name:      "events_overwritten_total",
			Help:      "Decoded events lost because the reader fell behind.",
		}, func() float64 { return float64(stats().Overwritten) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "bleadv",
			Subsystem: "coordinator",
			Name:      "events_processed_total",
			Help:      "Decoded events read by the consumer.",
		}, func() float64 { return float64(stats().Processed) }),
	)
}
