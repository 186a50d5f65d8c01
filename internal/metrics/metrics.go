// Package metrics exposes prometheus collectors for the bus, the registry and
// the boundary bridge. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "modular"

// Metrics groups every collector the host records into.
type Metrics struct {
	Published           prometheus.Counter
	ReservedDropped     prometheus.Counter
	Delivered           prometheus.Counter
	SubscriptionsReaped prometheus.Counter
	ActiveSubscriptions prometheus.Gauge
	Invocations         *prometheus.CounterVec
	PendingForeignCalls prometheus.Gauge
	ScriptReloads       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what most tests want.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of events accepted for fan-out.",
		}),
		ReservedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "reserved_dropped_total",
			Help:      "Total number of events dropped because they targeted the reserved namespace.",
		}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "delivered_total",
			Help:      "Total number of events handed to subscriber sinks.",
		}),
		SubscriptionsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "subscriptions_reaped_total",
			Help:      "Total number of closed subscriptions removed during publish.",
		}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "active_subscriptions",
			Help:      "Number of subscriptions currently held by the bus.",
		}),
		Invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "invocations_total",
			Help:      "Total number of module invocations by outcome.",
		}, []string{"module", "outcome"}),
		PendingForeignCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "pending_foreign_calls",
			Help:      "Number of outbound foreign calls awaiting their completion callback.",
		}),
		ScriptReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "script",
			Name:      "reloads_total",
			Help:      "Total number of script module (re)loads by result.",
		}, []string{"result"}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Published,
		m.ReservedDropped,
		m.Delivered,
		m.SubscriptionsReaped,
		m.ActiveSubscriptions,
		m.Invocations,
		m.PendingForeignCalls,
		m.ScriptReloads,
	}
}

func (m *Metrics) IncPublished() {
	if m != nil {
		m.Published.Inc()
	}
}

func (m *Metrics) IncReservedDropped() {
	if m != nil {
		m.ReservedDropped.Inc()
	}
}

func (m *Metrics) IncDelivered() {
	if m != nil {
		m.Delivered.Inc()
	}
}

func (m *Metrics) IncReaped() {
	if m != nil {
		m.SubscriptionsReaped.Inc()
	}
}

func (m *Metrics) AddSubscriptions(delta int) {
	if m != nil {
		m.ActiveSubscriptions.Add(float64(delta))
	}
}

// ObserveInvocation counts one finished call. outcome is "success" or one of
// the module error types.
func (m *Metrics) ObserveInvocation(module, outcome string) {
	if m != nil {
		m.Invocations.WithLabelValues(module, outcome).Inc()
	}
}

func (m *Metrics) AddPendingForeignCalls(delta int) {
	if m != nil {
		m.PendingForeignCalls.Add(float64(delta))
	}
}

func (m *Metrics) ObserveScriptReload(result string) {
	if m != nil {
		m.ScriptReloads.WithLabelValues(result).Inc()
	}
}
