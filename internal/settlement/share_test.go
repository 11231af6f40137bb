package settlement

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/pkg/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSharePolicy(t *testing.T) {
	biz := uuid.New()
	policy, err := NewSharePolicy(config.SettlementConfig{
		DefaultRevenueSharePercent: 95,
		RevenueShareOverrides:      map[string]float64{" " + biz.String() + " ": 90},
	})
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(90).Equal(policy.For(biz)))
	require.True(t, decimal.NewFromInt(95).Equal(policy.For(uuid.New())))
}

func TestSharePolicyRejectsOutOfRange(t *testing.T) {
	_, err := NewSharePolicy(config.SettlementConfig{DefaultRevenueSharePercent: 101})
	require.Error(t, err)

	_, err = NewSharePolicy(config.SettlementConfig{
		DefaultRevenueSharePercent: 95,
		RevenueShareOverrides:      map[string]float64{"not-a-uuid": 50},
	})
	require.Error(t, err)
}

func TestPortionRoundsToKobo(t *testing.T) {
	require.Equal(t, "316.66", portion(decimal.RequireFromString("333.33"), decimal.NewFromInt(95)).StringFixed(2))
	require.Equal(t, "0.00", portion(decimal.NewFromInt(1000), decimal.Zero).StringFixed(2))
}
