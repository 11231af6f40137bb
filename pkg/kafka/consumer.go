package kafka

import (
	"context"
	"errors"
	"strconv"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/shopcore/commerce-backend/pkg/config"
)

var consumerTracer = otel.Tracer("shopcore/kafka/consumer")

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Delivery is one fetched record. Headers carry the outbox attributes
// (event_id, event_type, aggregate_id) next to the trace context.
type Delivery struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

// Handler processes one delivery. A returned error stops consumption
// without committing the offset, so the message is redelivered.
type Handler func(ctx context.Context, d Delivery) error

// Consumer reads a topic as part of a consumer group.
type Consumer struct {
	reader  messageReader
	topic   string
	groupID string
}

// NewConsumer joins groupID on topic.
func NewConsumer(cfg config.KafkaConfig, topic, groupID string) (*Consumer, error) {
	brokers := cleanBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" || groupID == "" {
		return nil, errors.New("kafka topic and group id are required")
	}
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	return &Consumer{reader: reader, topic: topic, groupID: groupID}, nil
}

// Consume blocks until ctx is cancelled or the handler fails.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.process(ctx, msg, handler); err != nil {
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafkago.Message, handler Handler) error {
	parent := otel.GetTextMapPropagator().Extract(ctx, headerCarrier{msg: &msg})
	spanCtx, span := consumerTracer.Start(parent, "process "+c.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(c.topic),
			semconv.MessagingKafkaConsumerGroup(c.groupID),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
		),
	)
	defer span.End()

	d := Delivery{Key: string(msg.Key), Value: msg.Value, Headers: make(map[string]string, len(msg.Headers))}
	for _, h := range msg.Headers {
		d.Headers[h.Key] = string(h.Value)
	}
	if err := handler(spanCtx, d); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
