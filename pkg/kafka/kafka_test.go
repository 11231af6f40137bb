package kafka

import (
	"context"
	"errors"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/shopcore/commerce-backend/pkg/config"
	"github.com/shopcore/commerce-backend/pkg/outbox"
)

type fakeWriter struct {
	msgs []kafkago.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

type fakeReader struct {
	msgs      []kafkago.Message
	committed []kafkago.Message
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	if len(f.msgs) == 0 {
		return kafkago.Message{}, context.Canceled
	}
	msg := f.msgs[0]
	f.msgs = f.msgs[1:]
	return msg, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error { return nil }

func TestProducerPublishCopiesAttributesToHeaders(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, brokers: []string{"localhost:9092"}}

	id, err := p.Publish(context.Background(), outbox.Message{
		Topic:      "sc-order-events",
		Key:        "order-1",
		Data:       []byte(`{"ok":true}`),
		Attributes: map[string]string{"event_id": "evt-1", "event_type": "order_paid"},
	})
	require.NoError(t, err)
	require.Equal(t, "evt-1", id)
	require.Len(t, w.msgs, 1)
	require.Equal(t, "sc-order-events", w.msgs[0].Topic)
	require.Equal(t, "order-1", string(w.msgs[0].Key))

	carrier := headerCarrier{msg: &w.msgs[0]}
	require.Equal(t, "order_paid", carrier.Get("event_type"))
}

func TestProducerPublishRequiresTopic(t *testing.T) {
	p := &Producer{writer: &fakeWriter{}}
	_, err := p.Publish(context.Background(), outbox.Message{})
	require.Error(t, err)
}

func TestProducerPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := &Producer{writer: &fakeWriter{err: boom}}
	_, err := p.Publish(context.Background(), outbox.Message{Topic: "t"})
	require.ErrorIs(t, err, boom)
}

func TestConsumerCommitsAfterHandler(t *testing.T) {
	r := &fakeReader{msgs: []kafkago.Message{
		{Key: []byte("k1"), Value: []byte("v1"), Headers: []kafkago.Header{{Key: "event_type", Value: []byte("order_paid")}}},
		{Key: []byte("k2"), Value: []byte("v2")},
	}}
	c := &Consumer{reader: r, topic: "t", groupID: "g"}

	var seen []string
	err := c.Consume(context.Background(), func(_ context.Context, d Delivery) error {
		seen = append(seen, d.Key+"="+string(d.Value)+"/"+d.Headers["event_type"])
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"k1=v1/order_paid", "k2=v2/"}, seen)
	require.Len(t, r.committed, 2)
}

func TestConsumerStopsWithoutCommitOnHandlerError(t *testing.T) {
	r := &fakeReader{msgs: []kafkago.Message{{Value: []byte("v1")}}}
	c := &Consumer{reader: r, topic: "t", groupID: "g"}

	err := c.Consume(context.Background(), func(context.Context, Delivery) error {
		return errors.New("handler failed")
	})
	require.Error(t, err)
	require.Empty(t, r.committed)
}

func TestCarrierSetOverwrites(t *testing.T) {
	msg := &kafkago.Message{}
	carrier := headerCarrier{msg: msg}
	carrier.Set("traceparent", "a")
	carrier.Set("traceparent", "b")
	require.Equal(t, []string{"traceparent"}, carrier.Keys())
	require.Equal(t, "b", carrier.Get("traceparent"))
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(config.KafkaConfig{Brokers: []string{" "}})
	require.Error(t, err)
}

func TestCleanBrokersAddsDefaultPort(t *testing.T) {
	got := cleanBrokers([]string{"kafka-1", " kafka-2:29092 ", ""})
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:29092"}, got)
}
