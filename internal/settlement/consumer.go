package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopcore/commerce-backend/pkg/outbox/payloads"
	"github.com/shopcore/commerce-backend/pkg/outbox/registry"
)

const settlementConsumerName = "settlement"

// ErrMalformedMessage marks deliveries that can never succeed; transports ack them.
var ErrMalformedMessage = errors.New("malformed settlement message")

type onceRunner interface {
	Run(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error)
}

type settler interface {
	Settle(ctx context.Context, input SettleInput) (*models.Settlement, error)
}

// Consumer settles orders as order_paid events arrive from the outbox stream.
type Consumer struct {
	settler  settler
	once     onceRunner
	decoders *registry.Decoders
	logg     *logger.Logger
}

func NewConsumer(s settler, once onceRunner, logg *logger.Logger) (*Consumer, error) {
	if s == nil {
		return nil, fmt.Errorf("settlement service required")
	}
	if once == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	decoders := registry.NewDecoders()
	registry.Register[payloads.OrderPaidEvent](decoders, enums.EventOrderPaid, 1)
	return &Consumer{settler: s, once: once, decoders: decoders, logg: logg}, nil
}

// Handle processes one published outbox row. A nil return acks the delivery.
func (c *Consumer) Handle(ctx context.Context, eventType string, data []byte) error {
	ctx = c.logg.WithField(ctx, "event_type", eventType)
	if enums.OutboxEventType(eventType) != enums.EventOrderPaid {
		return nil
	}

	decoded, err := c.decoders.Decode(enums.EventOrderPaid, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	paid := decoded.Payload.(*payloads.OrderPaidEvent)
	ctx = c.logg.WithOrderID(c.logg.WithField(ctx, "event_id", decoded.EventID.String()), paid.OrderID.String())

	ran, err := c.once.Run(ctx, settlementConsumerName, decoded.EventID, func(ctx context.Context) error {
		_, err := c.settler.Settle(ctx, SettleInput{OrderID: paid.OrderID, Actor: settlementConsumerName})
		if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			c.logg.Warn(c.logg.WithField(ctx, "reason", err.Error()), "order not settled")
			return nil
		}
		return err
	})
	if err != nil {
		c.logg.Error(ctx, "settlement failed", err)
		return err
	}
	if !ran {
		c.logg.Info(ctx, "event already processed")
	}
	return nil
}
