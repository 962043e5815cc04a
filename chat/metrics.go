package chat

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gosuda/benchchat/phoenix"
)

// Metrics are the session's prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	events     *prometheus.CounterVec
	duplicates prometheus.Counter
	pushes     *prometheus.CounterVec
	joins      *prometheus.CounterVec
	windows    prometheus.Gauge
}

// NewMetrics registers the collectors on reg. A nil reg disables metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "benchchat",
			Name:      "inbound_events_total",
			Help:      "Inbound channel events by name.",
		}, []string{"event"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "benchchat",
			Name:      "duplicate_messages_total",
			Help:      "Redelivered messages dropped by id.",
		}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "benchchat",
			Name:      "pushes_total",
			Help:      "Outbound pushes by event and outcome.",
		}, []string{"event", "status"}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "benchchat",
			Name:      "thread_joins_total",
			Help:      "Thread channel joins by result.",
		}, []string{"result"}),
		windows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "benchchat",
			Name:      "open_windows",
			Help:      "Chat windows currently open, minimized or not.",
		}),
	}
	for _, c := range []prometheus.Collector{m.events, m.duplicates, m.pushes, m.joins, m.windows} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) event(name string) {
	if m != nil {
		m.events.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) duplicate() {
	if m != nil {
		m.duplicates.Inc()
	}
}

func (m *Metrics) push(event string, r phoenix.Reply, err error) {
	if m == nil {
		return
	}
	status := string(r.Status)
	if err != nil {
		status = "failed"
	}
	m.pushes.WithLabelValues(event, status).Inc()
}

func (m *Metrics) join(result string) {
	if m != nil {
		m.joins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) openWindows(n int) {
	if m != nil {
		m.windows.Set(float64(n))
	}
}
