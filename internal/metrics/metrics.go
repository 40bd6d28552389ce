// Package metrics は Prometheus のメトリクスを定義します
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pairchat"

// Metrics はサーバー全体のメトリクスです
type Metrics struct {
	Registry *prometheus.Registry

	Messages          *prometheus.CounterVec
	StatusTransitions *prometheus.CounterVec
	Errors            *prometheus.CounterVec
	RoomsReaped       prometheus.Counter
	IdentitiesEvicted prometheus.Counter
	RateLimited       prometheus.Counter
	DroppedEvents     prometheus.Counter
}

// New は専用のレジストリにメトリクスを登録して返します
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages appended to room logs, by kind.",
		}, []string{"kind"}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Delivery status transitions, by target status.",
		}, []string{"status"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors reported to clients, by inbound event type.",
		}, []string{"event"}),
		RoomsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_reaped_total",
			Help:      "Rooms deleted by the idle sweep.",
		}),
		IdentitiesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identities_evicted_total",
			Help:      "Identity profiles evicted by the idle sweep.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Inbound events rejected by the per-connection rate limit.",
		}),
		DroppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Outbound events dropped because a connection's send queue was full.",
		}),
	}
	m.Registry.MustRegister(
		m.Messages,
		m.StatusTransitions,
		m.Errors,
		m.RoomsReaped,
		m.IdentitiesEvicted,
		m.RateLimited,
		m.DroppedEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Gauge は値を都度計算するゲージを登録します
func (m *Metrics) Gauge(name, help string, f func() int) {
	m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(f()) }))
}

// Handler は /metrics 用のハンドラーを返します
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
