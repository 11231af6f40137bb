package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/shopcore/commerce-backend/internal/settlement"
	"github.com/shopcore/commerce-backend/pkg/kafka"
	"github.com/shopcore/commerce-backend/pkg/logger"
)

const (
	defaultRetryDelay = 2 * time.Second
	maxRetryDelay     = 30 * time.Second
)

type eventHandler interface {
	Handle(ctx context.Context, eventType string, data []byte) error
}

type subscription interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler kafka.Handler) error
}

type pinger func(context.Context) error

type ServiceParams struct {
	Logger   *logger.Logger
	Handler  eventHandler
	PubSub   subscription
	Kafka    kafkaConsumer
	Pingers  map[string]pinger
	RetryMin time.Duration
}

// Service feeds order_paid deliveries from one transport into the settlement consumer.
type Service struct {
	logg     *logger.Logger
	handler  eventHandler
	pubsub   subscription
	kafka    kafkaConsumer
	pingers  map[string]pinger
	retryMin time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Handler == nil {
		return nil, errors.New("settlement handler is required")
	}
	if (params.PubSub == nil) == (params.Kafka == nil) {
		return nil, errors.New("exactly one of pubsub or kafka is required")
	}
	retry := params.RetryMin
	if retry <= 0 {
		retry = defaultRetryDelay
	}
	return &Service{
		logg:     params.Logger,
		handler:  params.Handler,
		pubsub:   params.PubSub,
		kafka:    params.Kafka,
		pingers:  params.Pingers,
		retryMin: retry,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, ping := range s.pingers {
		if err := ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	if s.pubsub != nil {
		return s.pubsub.Receive(ctx, func(ctx context.Context, msg *gcppubsub.Message) {
			if s.deliver(ctx, msg.Attributes["event_type"], msg.Data) {
				msg.Ack()
				return
			}
			msg.Nack()
		})
	}
	return s.runKafka(ctx)
}

// runKafka restarts consumption after a failed delivery. The offset was not
// committed, so the same record is fetched again.
func (s *Service) runKafka(ctx context.Context) error {
	delay := s.retryMin
	for {
		err := s.kafka.Consume(ctx, func(ctx context.Context, d kafka.Delivery) error {
			if s.deliver(ctx, d.Headers["event_type"], d.Value) {
				return nil
			}
			return errRedeliver
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, errRedeliver) {
			s.logg.Error(ctx, "kafka consume failed", err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, maxRetryDelay)
	}
}

var errRedeliver = errors.New("settlement delivery will be retried")

// deliver reports whether the delivery should be acknowledged.
func (s *Service) deliver(ctx context.Context, eventType string, data []byte) bool {
	err := s.handler.Handle(ctx, eventType, data)
	switch {
	case err == nil:
		return true
	case errors.Is(err, settlement.ErrMalformedMessage):
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "dropping malformed settlement message")
		return true
	default:
		return false
	}
}
