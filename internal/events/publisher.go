package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"github.com/pickupmarket/order-service/internal/config"
	"github.com/pickupmarket/order-service/pkg/utils"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "order_core",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total number of events handed to the kafka writer.",
	}, []string{"event"})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "order_core",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Total number of events dropped because the inbox was full.",
	})

	eventWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "order_core",
		Subsystem: "events",
		Name:      "write_errors_total",
		Help:      "Total number of kafka write failures.",
	})
)

// Publisher ships notification events to kafka without ever blocking the
// caller: messages go through a buffered inbox drained by one goroutine, and
// a full inbox drops the event with a log line. Side-channel failures are
// never surfaced to the triggering transition.
type Publisher struct {
	logger  *slog.Logger
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
}

func NewPublisher(logger *slog.Logger, cfg config.Kafka) *Publisher {
	return &Publisher{
		logger: logger.With(slog.String("component", "events")),
		w: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: cfg.BatchTimeout,
		},
		inbox:   make(chan kafka.Message, cfg.PublishBuffer),
		closeCh: make(chan struct{}),
	}
}

func (p *Publisher) Start(ctx context.Context) error {
	go p.loop(ctx)
	return nil
}

func (p *Publisher) loop(ctx context.Context) {
	defer close(p.closeCh)
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case m := <-p.inbox:
			p.write(m)
		}
	}
}

func (p *Publisher) drain() {
	flush, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case m := <-p.inbox:
			if err := p.w.WriteMessages(flush, m); err != nil {
				p.logger.Error("failed to flush event", slog.Any("error", err))
				return
			}
		default:
			return
		}
	}
}

func (p *Publisher) write(m kafka.Message) {
	err := utils.Retry(utils.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
	}, func() error {
		return p.w.WriteMessages(context.Background(), m)
	})
	if err != nil {
		eventWriteErrors.Inc()
		p.logger.Error("failed to publish event", slog.Any("error", err))
	}
}

// Publish enqueues an event. It never blocks and never returns an error.
func (p *Publisher) Publish(event, key string, payload map[string]any) {
	env := NewEnvelope(event, payload)
	value, err := env.Marshal()
	if err != nil {
		p.logger.Error("failed to marshal event", slog.String("event", event), slog.Any("error", err))
		return
	}

	select {
	case p.inbox <- kafka.Message{Key: PartitionKey(key), Value: value, Time: env.OccurredAt}:
		eventsPublished.WithLabelValues(event).Inc()
	default:
		eventsDropped.Inc()
		p.logger.Warn("event inbox full, dropping event", slog.String("event", event), slog.String("key", key))
	}
}

func (p *Publisher) Close() error {
	<-p.closeCh
	return p.w.Close()
}
