package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/rzbill/herald/internal/fanout"
	logpkg "github.com/rzbill/herald/pkg/log"
)

// Publisher accepts decoded booking events.
type Publisher interface {
	Publish(ctx context.Context, ev fanout.Event) error
}

// Config selects the brokers, topic and consumer group.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads booking events from a Kafka topic and publishes them.
type Consumer struct {
	cfg      Config
	pub      Publisher
	logger   logpkg.Logger
	newGroup func(brokers []string, groupID string, cfg *sarama.Config) (sarama.ConsumerGroup, error)
}

// NewConsumer wires a consumer; Run starts it.
func NewConsumer(cfg Config, pub Publisher, logger logpkg.Logger) *Consumer {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Consumer{
		cfg:      cfg,
		pub:      pub,
		logger:   logger.WithComponent("kafka"),
		newGroup: sarama.NewConsumerGroup,
	}
}

func saramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V3_0_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.BalanceStrategyRoundRobin}
	return config
}

// consumeRetryDelay spaces out group rejoins after a failed session.
const consumeRetryDelay = time.Second

// Run joins the consumer group and consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	group, err := c.newGroup(c.cfg.Brokers, c.cfg.GroupID, saramaConfig())
	if err != nil {
		return fmt.Errorf("kafka: create consumer group: %w", err)
	}
	defer func() {
		if err := group.Close(); err != nil {
			c.logger.Error("close consumer group", logpkg.Err(err))
		}
	}()

	go func() {
		for err := range group.Errors() {
			c.logger.Warn("consumer group error", logpkg.Err(err))
		}
	}()

	c.logger.Info("kafka intake started",
		logpkg.Strs("brokers", c.cfg.Brokers),
		logpkg.Str("topic", c.cfg.Topic),
		logpkg.Str("group", c.cfg.GroupID),
	)
	h := &handler{consumer: c}
	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("consume loop", logpkg.Err(err))
			select {
			case <-ctx.Done():
			case <-time.After(consumeRetryDelay):
			}
		}
		if ctx.Err() != nil {
			c.logger.Info("kafka intake stopped")
			return nil
		}
	}
}

// process decodes one message. Malformed or unknown events are logged and
// dropped so they do not block the partition; only a publish failure is
// returned.
func (c *Consumer) process(ctx context.Context, msg *sarama.ConsumerMessage) error {
	log := c.logger.WithContext(ctx).With(
		logpkg.Str("topic", msg.Topic),
		logpkg.Any("partition", msg.Partition),
		logpkg.Int64("offset", msg.Offset),
	)
	var ev fanout.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		log.Warn("dropping malformed event", logpkg.Err(err))
		return nil
	}
	if err := ev.Validate(); err != nil {
		log.Warn("dropping invalid event", logpkg.Err(err))
		return nil
	}
	if ev.OccurredAt.IsZero() && !msg.Timestamp.IsZero() {
		ev.OccurredAt = msg.Timestamp.UTC()
	}
	if err := c.pub.Publish(ctx, ev); err != nil {
		return fmt.Errorf("kafka: publish %s %s: %w", ev.Kind, ev.BookingID, err)
	}
	log.Debug("event published", logpkg.Str("kind", string(ev.Kind)), logpkg.Str("booking_id", ev.BookingID))
	return nil
}

type handler struct {
	consumer *Consumer
}

func (h *handler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *handler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim marks each processed message. A publish failure ends the
// claim without marking: offsets commit up to the highest marked message, so
// marking anything after it would skip the failed event. The session then
// rejoins and the claim resumes from the failed offset.
func (h *handler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		ctx, span := startSpan(session.Context(), msg)
		if err := h.consumer.process(ctx, msg); err != nil {
			span.RecordError(err)
			span.End()
			h.consumer.logger.WithContext(ctx).Error("failed to process message; claim stopped for redelivery",
				logpkg.Str("topic", msg.Topic),
				logpkg.Any("partition", msg.Partition),
				logpkg.Int64("offset", msg.Offset),
				logpkg.Err(err),
			)
			return err
		}
		session.MarkMessage(msg, "")
		span.End()
	}
	return nil
}

func startSpan(ctx context.Context, msg *sarama.ConsumerMessage) (context.Context, trace.Span) {
	carrier := propagation.MapCarrier{}
	for _, header := range msg.Headers {
		if header == nil {
			continue
		}
		carrier[string(header.Key)] = string(header.Value)
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)
	return otel.Tracer("herald/kafka").Start(ctx, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int64("messaging.offset", msg.Offset),
		),
	)
}
