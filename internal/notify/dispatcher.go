package notify

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-realtime-checkout/internal/config"
	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Kind tells sinks which notifier call produced a Message.
type Kind string

const (
	KindNewOrder     Kind = "new_order"
	KindStatusChange Kind = "status_change"
)

type Message struct {
	Kind   Kind
	Order  orders.Order
	Status orders.Status
	At     time.Time
}

// Sink delivers one message to the outside world.
type Sink interface {
	Deliver(ctx context.Context, m Message) error
}

// Dispatcher implements orders.Notifier on top of a bounded queue. Submits
// never block: a full queue drops the message with an error log.
type Dispatcher struct {
	sink    Sink
	policy  Backoff
	workers int
	queue   chan Message
	log     *zap.Logger
	now     func() time.Time

	delivered *prometheus.CounterVec
}

func NewDispatcher(sink Sink, cfg config.NotifyConfig, reg prometheus.Registerer, log *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		sink:    sink,
		policy:  Backoff{Attempts: cfg.MaxAttempts, Base: cfg.BaseDelay, Max: cfg.MaxDelay},
		workers: max(cfg.Workers, 1),
		queue:   make(chan Message, max(cfg.QueueSize, 1)),
		log:     log.With(zap.String("component", "notifier")),
		now:     func() time.Time { return time.Now().UTC() },
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "notify",
			Name:      "messages_total",
			Help:      "Notification outcomes by kind and result.",
		}, []string{"kind", "result"}),
	}
	if reg != nil {
		reg.MustRegister(d.delivered)
	}
	return d
}

func (d *Dispatcher) NotifyNewOrder(_ context.Context, o orders.Order) {
	d.submit(Message{Kind: KindNewOrder, Order: o, Status: o.Status, At: d.now()})
}

func (d *Dispatcher) NotifyOrderStatusChange(_ context.Context, o orders.Order, s orders.Status) {
	d.submit(Message{Kind: KindStatusChange, Order: o, Status: s, At: d.now()})
}

func (d *Dispatcher) submit(m Message) {
	select {
	case d.queue <- m:
	default:
		d.delivered.WithLabelValues(string(m.Kind), "dropped").Inc()
		d.log.Error("notification queue full, dropping",
			zap.String("kind", string(m.Kind)),
			zap.Int64("order_id", m.Order.ID),
		)
	}
}

// Run consumes the queue with the configured number of workers until ctx is
// cancelled. Messages still queued at that point are abandoned.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case m := <-d.queue:
					d.deliver(ctx, m)
				}
			}
		})
	}
	err := g.Wait()
	if n := len(d.queue); n > 0 {
		d.log.Warn("notifier stopped with pending messages", zap.Int("pending", n))
	}
	return err
}

func (d *Dispatcher) deliver(ctx context.Context, m Message) {
	attempts, err := d.policy.Do(ctx, Task{
		Name:    string(m.Kind),
		Run:     func(ctx context.Context) error { return d.sink.Deliver(ctx, m) },
		OnRetry: func(err error, wait time.Duration) {
			d.log.Warn("notification delivery failed, retrying",
				zap.String("kind", string(m.Kind)),
				zap.Int64("order_id", m.Order.ID),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		},
	})
	switch {
	case err == nil:
		d.delivered.WithLabelValues(string(m.Kind), "delivered").Inc()
	case errors.Is(err, context.Canceled):
		d.delivered.WithLabelValues(string(m.Kind), "cancelled").Inc()
	default:
		d.delivered.WithLabelValues(string(m.Kind), "abandoned").Inc()
		d.log.Error("notification abandoned",
			zap.String("kind", string(m.Kind)),
			zap.Int64("order_id", m.Order.ID),
			zap.String("status", string(m.Status)),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}
}
