package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	"github.com/shopcore/commerce-backend/pkg/types"
)

// Service records append-only money events per order.
type Service interface {
	RecordEvent(ctx context.Context, tx *gorm.DB, input RecordLedgerEventInput) (*models.LedgerEvent, error)
	HasEvent(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, eventType enums.LedgerEventType) (bool, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error)
}

type service struct {
	repo Repository
}

// RecordLedgerEventInput captures the immutable data a ledger event requires.
type RecordLedgerEventInput struct {
	OrderID    uuid.UUID             `json:"order_id"`
	BusinessID uuid.UUID             `json:"business_id"`
	Type       enums.LedgerEventType `json:"type"`
	Amount     decimal.Decimal       `json:"amount"`
	Reference  string                `json:"reference"`
	Actor      string                `json:"actor"`
	Metadata   types.JSONMap         `json:"metadata"`
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) RecordEvent(ctx context.Context, tx *gorm.DB, input RecordLedgerEventInput) (*models.LedgerEvent, error) {
	if input.OrderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	if input.BusinessID == uuid.Nil {
		return nil, fmt.Errorf("business id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid ledger event type %q", input.Type)
	}
	if input.Amount.IsNegative() {
		return nil, fmt.Errorf("ledger amount must not be negative")
	}
	actor := input.Actor
	if actor == "" {
		actor = string(enums.ActorRoleSystem)
	}

	event := &models.LedgerEvent{
		OrderID:    input.OrderID,
		BusinessID: input.BusinessID,
		Type:       input.Type,
		Amount:     input.Amount.Round(2),
		Actor:      actor,
		Metadata:   input.Metadata,
	}
	if input.Reference != "" {
		ref := input.Reference
		event.Reference = &ref
	}

	if err := s.repo.WithTx(tx).Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) HasEvent(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, eventType enums.LedgerEventType) (bool, error) {
	if orderID == uuid.Nil {
		return false, fmt.Errorf("order id is required")
	}
	if !eventType.IsValid() {
		return false, fmt.Errorf("invalid ledger event type %q", eventType)
	}

	return s.repo.WithTx(tx).ExistsForOrder(ctx, orderID, eventType)
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error) {
	return s.repo.ListByOrderID(ctx, orderID)
}
