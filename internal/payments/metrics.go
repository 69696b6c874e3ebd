package payments

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Reporter records payment outcomes. It is observational only: nothing
// reads it back to decide anything.
type Reporter interface {
	IntentCreated()
	Succeeded(amount decimal.Decimal)
	Failed()
	Canceled()
	Refunded()
}

type Snapshot struct {
	Created         int64           `json:"total_payments_created"`
	Succeeded       int64           `json:"total_payments_succeeded"`
	Failed          int64           `json:"total_payments_failed"`
	Canceled        int64           `json:"total_payments_canceled"`
	Refunded        int64           `json:"total_payments_refunded"`
	AmountProcessed decimal.Decimal `json:"total_amount_processed"`
	Since           time.Time       `json:"since"`
	At              time.Time       `json:"timestamp"`
}

// Metrics keeps in-process counters since start and mirrors them to
// Prometheus.
type Metrics struct {
	created, succeeded, failed, canceled, refunded atomic.Int64

	mu     sync.Mutex
	amount decimal.Decimal

	since    time.Time
	payments *prometheus.CounterVec
	volume   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		since: time.Now().UTC(),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "payments",
			Name:      "total",
			Help:      "Payment transactions by outcome.",
		}, []string{"outcome"}),
		volume: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "payments",
			Name:      "amount_processed_total",
			Help:      "Sum of succeeded payment amounts in major currency units.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.payments, m.volume)
	}
	return m
}

func (m *Metrics) IntentCreated() {
	m.created.Add(1)
	m.payments.WithLabelValues("created").Inc()
}

func (m *Metrics) Succeeded(amount decimal.Decimal) {
	m.succeeded.Add(1)
	m.mu.Lock()
	m.amount = m.amount.Add(amount)
	m.mu.Unlock()
	m.payments.WithLabelValues("succeeded").Inc()
	m.volume.Add(amount.InexactFloat64())
}

func (m *Metrics) Failed() {
	m.failed.Add(1)
	m.payments.WithLabelValues("failed").Inc()
}

func (m *Metrics) Canceled() {
	m.canceled.Add(1)
	m.payments.WithLabelValues("canceled").Inc()
}

func (m *Metrics) Refunded() {
	m.refunded.Add(1)
	m.payments.WithLabelValues("refunded").Inc()
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	amount := m.amount
	m.mu.Unlock()
	return Snapshot{
		Created:         m.created.Load(),
		Succeeded:       m.succeeded.Load(),
		Failed:          m.failed.Load(),
		Canceled:        m.canceled.Load(),
		Refunded:        m.refunded.Load(),
		AmountProcessed: amount,
		Since:           m.since,
		At:              time.Now().UTC(),
	}
}
