package listener

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the listener's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	state       *prometheus.GaugeVec
	connects    prometheus.Counter
	rotations   prometheus.Counter
	errors      *prometheus.CounterVec
	frames      *prometheus.CounterVec
	events      *prometheus.CounterVec
	publishes   *prometheus.CounterVec
	handshake   prometheus.Histogram
	syncRequest *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. The account label
// keeps series from concurrent sessions apart.
func NewMetrics(reg prometheus.Registerer, account string) (*Metrics, error) {
	labels := prometheus.Labels{"account": account}
	m := &Metrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fbrt", Subsystem: "listener", Name: "state",
			Help:        "1 for the current listener state, 0 otherwise.",
			ConstLabels: labels,
		}, []string{"state"}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fbrt", Subsystem: "listener", Name: "connects_total",
			Help:        "Completed handshakes.",
			ConstLabels: labels,
		}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fbrt", Subsystem: "listener", Name: "rotations_total",
			Help:        "Scheduled connection rotations.",
			ConstLabels: labels,
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fbrt", Subsystem: "listener", Name: "transport_errors_total",
			Help:        "Transport errors by classification.",
			ConstLabels: labels,
		}, []string{"class"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fbrt", Subsystem: "listener", Name: "frames_total",
			Help:        "Inbound frames by topic.",
			ConstLabels: labels,
		}, []string{"topic"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fbrt", Subsystem: "listener", Name: "events_total",
			Help:        "Events delivered to the consumer by type.",
			ConstLabels: labels,
		}, []string{"type"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fbrt", Subsystem: "listener", Name: "publishes_total",
			Help:        "Outbound publishes by topic and outcome.",
			ConstLabels: labels,
		}, []string{"topic", "success"}),
		handshake: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fbrt", Subsystem: "listener", Name: "handshake_duration_seconds",
			Help:        "Time from dial to completed handshake.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}),
		syncRequest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fbrt", Subsystem: "listener", Name: "sync_requests_total",
			Help:        "Sync requests by variant.",
			ConstLabels: labels,
		}, []string{"variant"}),
	}
	for _, c := range []prometheus.Collector{
		m.state, m.connects, m.rotations, m.errors, m.frames,
		m.events, m.publishes, m.handshake, m.syncRequest,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(st.String()).Set(v)
	}
}

func (m *Metrics) connected(took time.Duration) {
	if m == nil {
		return
	}
	m.connects.Inc()
	m.handshake.Observe(took.Seconds())
}

func (m *Metrics) rotated() {
	if m == nil {
		return
	}
	m.rotations.Inc()
}

func (m *Metrics) transportError(transient bool) {
	if m == nil {
		return
	}
	class := "fatal"
	if transient {
		class = "transient"
	}
	m.errors.WithLabelValues(class).Inc()
}

func (m *Metrics) frame(topic string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(topic).Inc()
}

func (m *Metrics) event(t string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(t).Inc()
}

func (m *Metrics) published(topic string, err error) {
	if m == nil {
		return
	}
	success := "true"
	if err != nil {
		success = "false"
	}
	m.publishes.WithLabelValues(topic, success).Inc()
}

func (m *Metrics) synced(resume bool) {
	if m == nil {
		return
	}
	variant := "create_queue"
	if resume {
		variant = "get_diffs"
	}
	m.syncRequest.WithLabelValues(variant).Inc()
}
