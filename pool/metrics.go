package pool

import (
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"
)

// Stats is a snapshot of pool activity since the manager was created.
type Stats struct {
	Dials      int64 // TCP (or proxy tunnel) connections opened
	Handshakes int64 // TLS handshakes completed
	Reuses     int64 // acquisitions served by an existing connection
	Evictions  int64 // connections dropped after an error, timeout or expiry
	Open       int64 // connections currently held by the pool
}

// metrics mirrors Stats into Prometheus when a registerer is configured.
type metrics struct {
	dials, handshakes, reuses, evictions atomic.Int64
	open                                 atomic.Int64

	promDials      prometheus.Counter
	promHandshakes prometheus.Counter
	promReuses     prometheus.Counter
	promEvictions  *prometheus.CounterVec
	promOpen       prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		promDials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "primp_pool_dials_total",
			Help: "Connections opened by the pool.",
		}),
		promHandshakes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "primp_pool_handshakes_total",
			Help: "TLS handshakes completed with an impersonation profile.",
		}),
		promReuses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "primp_pool_reuses_total",
			Help: "Acquisitions served by a pooled connection.",
		}),
		promEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "primp_pool_evictions_total",
			Help: "Connections evicted from the pool, by reason.",
		}, []string{"reason"}),
		promOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "primp_pool_open_connections",
			Help: "Connections currently held by the pool.",
		}),
	}
	if reg != nil {
		m.promDials = register(reg, m.promDials)
		m.promHandshakes = register(reg, m.promHandshakes)
		m.promReuses = register(reg, m.promReuses)
		m.promEvictions = register(reg, m.promEvictions)
		m.promOpen = register(reg, m.promOpen)
	}
	return m
}

// register adds c to reg. When a collector of the same name is already
// there (a second manager on one registry), the existing one is shared.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	klog.Warningf("pool: metrics not registered: %v", err)
	return c
}

func (m *metrics) dial() {
	m.dials.Add(1)
	m.promDials.Inc()
}

func (m *metrics) handshake() {
	m.handshakes.Add(1)
	m.promHandshakes.Inc()
}

func (m *metrics) reuse() {
	m.reuses.Add(1)
	m.promReuses.Inc()
}

func (m *metrics) opened() {
	m.open.Add(1)
	m.promOpen.Inc()
}

func (m *metrics) closed(reason string, evicted bool) {
	m.open.Add(-1)
	m.promOpen.Dec()
	if evicted {
		m.evictions.Add(1)
		m.promEvictions.WithLabelValues(reason).Inc()
	}
}

func (m *metrics) snapshot() Stats {
	return Stats{
		Dials:      m.dials.Load(),
		Handshakes: m.handshakes.Load(),
		Reuses:     m.reuses.Load(),
		Evictions:  m.evictions.Load(),
		Open:       m.open.Load(),
	}
}
