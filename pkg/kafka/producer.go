package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/shopcore/commerce-backend/pkg/config"
	"github.com/shopcore/commerce-backend/pkg/outbox"
)

var producerTracer = otel.Tracer("shopcore/kafka/producer")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer publishes outbox messages to Kafka. The topic is carried per message so
// a single writer serves every event topic.
type Producer struct {
	writer  messageWriter
	brokers []string
}

// NewProducer builds a writer over the configured brokers.
func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	brokers := cleanBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafkago.RequireAll,
		Transport:              &kafkago.Transport{ClientID: cfg.ClientID},
	}
	return &Producer{writer: writer, brokers: brokers}, nil
}

// Publish writes one message keyed by aggregate so events for the same aggregate stay ordered.
func (p *Producer) Publish(ctx context.Context, msg outbox.Message) (string, error) {
	if strings.TrimSpace(msg.Topic) == "" {
		return "", errors.New("kafka topic is required")
	}
	record := kafkago.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.Key),
		Value: msg.Data,
	}
	for k, v := range msg.Attributes {
		record.Headers = append(record.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	ctx, span := producerTracer.Start(ctx, "send "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("send"),
			semconv.MessagingOperationTypePublish,
			semconv.MessagingDestinationName(msg.Topic),
			semconv.MessagingKafkaMessageKey(msg.Key),
		),
	)
	defer span.End()

	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{msg: &record})

	if err := p.writer.WriteMessages(ctx, record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("write kafka message: %w", err)
	}
	return msg.Attributes["event_id"], nil
}

func (p *Producer) Name() string { return "kafka" }

// Ping dials the first reachable broker.
func (p *Producer) Ping(ctx context.Context) error {
	var lastErr error
	for _, broker := range p.brokers {
		conn, err := (&kafkago.Dialer{}).DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return fmt.Errorf("kafka ping: %w", lastErr)
}

// Close flushes pending writes.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func cleanBrokers(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, b := range raw {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(b); err != nil {
			b = net.JoinHostPort(b, "9092")
		}
		out = append(out, b)
	}
	return out
}
