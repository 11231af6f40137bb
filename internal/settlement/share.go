package settlement

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/pkg/config"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// SharePolicy resolves the percentage of an order total a business keeps.
// The remainder is the platform fee.
type SharePolicy struct {
	defaultShare decimal.Decimal
	overrides    map[uuid.UUID]decimal.Decimal
}

func NewSharePolicy(cfg config.SettlementConfig) (*SharePolicy, error) {
	def := decimal.NewFromFloat(cfg.DefaultRevenueSharePercent)
	if err := validShare(def); err != nil {
		return nil, err
	}
	policy := &SharePolicy{defaultShare: def, overrides: map[uuid.UUID]decimal.Decimal{}}
	for raw, pct := range cfg.RevenueShareOverrides {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("revenue share override %q: %w", raw, err)
		}
		share := decimal.NewFromFloat(pct)
		if err := validShare(share); err != nil {
			return nil, fmt.Errorf("revenue share override %s: %w", id, err)
		}
		policy.overrides[id] = share
	}
	return policy, nil
}

func validShare(share decimal.Decimal) error {
	if share.IsNegative() || share.GreaterThan(hundred) {
		return fmt.Errorf("revenue share must be between 0 and 100, got %s", share)
	}
	return nil
}

func (p *SharePolicy) For(businessID uuid.UUID) decimal.Decimal {
	if share, ok := p.overrides[businessID]; ok {
		return share
	}
	return p.defaultShare
}

// portion returns amount × share/100 rounded to kobo.
func portion(amount, share decimal.Decimal) decimal.Decimal {
	return amount.Mul(share).Div(hundred).Round(2)
}
