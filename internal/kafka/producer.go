package kafka

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer writes to one topic. Publish queues the message for a background
// loop and never blocks: when the queue is full or the producer is closed the
// message is dropped and logged. Write blocks until the brokers acknowledge.
type Producer struct {
	w        *kafka.Writer
	inbox    chan kafka.Message
	stop     chan struct{}
	stopOnce sync.Once
	closeCh  chan struct{}
	dropped  atomic.Int64
	log      *zap.Logger
}

func NewProducer(brokers []string, topic string, buf int, log *zap.Logger) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		inbox:   make(chan kafka.Message, buf),
		stop:    make(chan struct{}),
		closeCh: make(chan struct{}),
		log:     log.With(zap.String("topic", topic)),
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		defer func() { _ = p.w.Close() }()
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case <-p.stop:
				p.drain()
				return
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

// drain writes what is already queued.
func (p *Producer) drain() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.log.Error("kafka write failed", zap.ByteString("key", m.Key), zap.Error(err))
	}
}

// Publish queues a message and reports whether it was accepted.
func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) bool {
	select {
	case <-p.stop:
		p.drop(key, "producer closed")
		return false
	default:
	}
	m := kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case p.inbox <- m:
		return true
	default:
		p.drop(key, "queue full")
		return false
	}
}

func (p *Producer) drop(key []byte, why string) {
	p.dropped.Add(1)
	p.log.Warn("kafka message dropped", zap.ByteString("key", key), zap.String("reason", why))
}

// Dropped counts messages Publish refused.
func (p *Producer) Dropped() int64 { return p.dropped.Load() }

func (p *Producer) Write(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	})
}

// PublishEnvelope queues env keyed by its correlation id.
func (p *Producer) PublishEnvelope(env Envelope) {
	p.Publish([]byte(env.CorrelationID), MustMarshal(env), env.Headers()...)
}

func (p *Producer) WriteEnvelope(ctx context.Context, env Envelope) error {
	return p.Write(ctx, []byte(env.CorrelationID), MustMarshal(env), env.Headers()...)
}

// Close stops accepting messages; the loop flushes what is queued. It is
// safe to call more than once.
func (p *Producer) Close() { p.stopOnce.Do(func() { close(p.stop) }) }

func (p *Producer) WaitClosed() { <-p.closeCh }
