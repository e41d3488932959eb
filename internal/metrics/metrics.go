package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storefront"

// Metrics holds the cart counters exported on /metrics.
type Metrics struct {
	cartActions    *prometheus.CounterVec
	discounts      *prometheus.CounterVec
	snapshotWrites *prometheus.CounterVec
	sessions       prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		cartActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_actions_total",
			Help:      "Cart actions dispatched, by action.",
		}, []string{"action"}),
		discounts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_applications_total",
			Help:      "Discount code applications, by result.",
		}, []string{"result"}),
		snapshotWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_writes_total",
			Help:      "Cart snapshot writes, by result.",
		}, []string{"result"}),
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Cart sessions held in memory.",
		}),
	}
}

func (m *Metrics) CartAction(action string) {
	m.cartActions.WithLabelValues(action).Inc()
}

func (m *Metrics) DiscountApplication(applied bool) {
	result := "rejected"
	if applied {
		result = "applied"
	}
	m.discounts.WithLabelValues(result).Inc()
}

func (m *Metrics) SnapshotWrite(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.snapshotWrites.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionOpened() {
	m.sessions.Inc()
}

func (m *Metrics) SessionsClosed(n int) {
	m.sessions.Sub(float64(n))
}
