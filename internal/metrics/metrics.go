// Package metrics exposes socksd's Prometheus collectors.
//
// All methods on *Metrics are safe to call on a nil receiver, so components
// can be built without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/die-net/socksd/internal/socks5"
)

const namespace = "socksd"

// Relay directions for AddBytes.
const (
	Upload   = "upload"   // client to destination
	Download = "download" // destination to client
)

type Metrics struct {
	registry *prometheus.Registry

	sessionsTotal     prometheus.Counter
	handshakeFailures *prometheus.CounterVec
	replies           *prometheus.CounterVec
	relayedBytes      *prometheus.CounterVec
	dialDuration      *prometheus.HistogramVec
	acceptThrottled   prometheus.Counter
}

// New registers socksd's collectors on a fresh registry. active reports the
// number of live sessions and backs the sessions_active gauge; it may be nil.
func New(active func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Client sessions accepted.",
		}),
		handshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_failures_total",
			Help:      "Sessions that ended before relaying, by protocol state.",
		}, []string{"state"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Command replies sent, by status.",
		}, []string{"status"}),
		relayedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_bytes_total",
			Help:      "Bytes relayed between clients and destinations.",
		}, []string{"direction"}),
		dialDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_dial_duration_seconds",
			Help:      "Time to connect to the requested destination.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		acceptThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_throttled_total",
			Help:      "Accepted connections that waited on the admission rate limit.",
		}),
	}

	m.registry.MustRegister(
		m.sessionsTotal,
		m.handshakeFailures,
		m.replies,
		m.relayedBytes,
		m.dialDuration,
		m.acceptThrottled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if active != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently registered.",
		}, func() float64 { return float64(active()) }))
	}
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
}

func (m *Metrics) HandshakeFailed(state string) {
	if m == nil {
		return
	}
	m.handshakeFailures.WithLabelValues(state).Inc()
}

func (m *Metrics) Reply(status socks5.Status) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(status.String()).Inc()
}

func (m *Metrics) AddBytes(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.relayedBytes.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) ObserveDial(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.dialDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) AcceptThrottled() {
	if m == nil {
		return
	}
	m.acceptThrottled.Inc()
}
