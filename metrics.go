package chatroom

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds client-side counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	appends    *prometheus.CounterVec
	unread     *prometheus.CounterVec
	reconnects prometheus.Counter
	events     *prometheus.CounterVec
	staleLoads prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatroom",
			Subsystem: "store",
			Name:      "appends_total",
			Help:      "Message append attempts by sequence kind and result.",
		}, []string{"kind", "result"}),
		unread: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatroom",
			Subsystem: "unread",
			Name:      "increments_total",
			Help:      "Unread counter increments by context kind.",
		}, []string{"kind"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatroom",
			Subsystem: "realtime",
			Name:      "reconnects_total",
			Help:      "Successful realtime reconnections.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatroom",
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Realtime events received by type.",
		}, []string{"type"}),
		staleLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatroom",
			Subsystem: "sync",
			Name:      "stale_loads_total",
			Help:      "History responses discarded because the active room changed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.appends, m.unread, m.reconnects, m.events, m.staleLoads)
	}
	return m
}

func (m *Metrics) observeAppend(kind string, res AppendResult) {
	if m == nil {
		return
	}
	m.appends.WithLabelValues(kind, res.String()).Inc()
}

func (m *Metrics) observeUnread(kind string) {
	if m == nil {
		return
	}
	m.unread.WithLabelValues(kind).Inc()
}

func (m *Metrics) observeReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) observeEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

func (m *Metrics) observeStaleLoad() {
	if m == nil {
		return
	}
	m.staleLoads.Inc()
}
