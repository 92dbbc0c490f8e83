package model

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlert_Validate(t *testing.T) {
	base := func(rule Rule) *Alert {
		return &Alert{OwnerID: "owner-1", Name: "watch", Priority: PriorityMedium, Rule: rule}
	}

	tests := []struct {
		name    string
		alert   *Alert
		wantErr bool
	}{
		{
			name: "valid price threshold",
			alert: base(&PriceThresholdRule{
				AssetID: "bitcoin", AssetSymbol: "BTC", Condition: ConditionCrossesAbove,
				TargetPrice: decimal.NewFromInt(100),
			}),
		},
		{
			name: "zero target price",
			alert: base(&PriceThresholdRule{
				AssetID: "bitcoin", Condition: ConditionAbove, TargetPrice: decimal.Zero,
			}),
			wantErr: true,
		},
		{
			name: "percentage rejects crossing condition",
			alert: base(&PercentageChangeRule{
				AssetID: "bitcoin", Condition: ConditionCrossesAbove,
				TargetPercentage: decimal.NewFromInt(10), Timeframe: Timeframe24h,
			}),
			wantErr: true,
		},
		{
			name: "percentage unknown timeframe",
			alert: base(&PercentageChangeRule{
				AssetID: "bitcoin", Condition: ConditionAbove,
				TargetPercentage: decimal.NewFromInt(10), Timeframe: "2w",
			}),
			wantErr: true,
		},
		{
			name:    "trend without asset",
			alert:   base(&TrendSignalRule{TargetTrend: TrendBullish}),
			wantErr: true,
		},
		{
			name: "portfolio allows negative target",
			alert: base(&PortfolioChangeRule{
				Condition: ConditionBelow, TargetPercentage: decimal.NewFromInt(-5), Timeframe: Timeframe7d,
			}),
		},
		{
			name:    "missing rule",
			alert:   base(nil),
			wantErr: true,
		},
		{
			name: "unknown priority",
			alert: &Alert{OwnerID: "owner-1", Name: "watch", Priority: "urgent",
				Rule: &TrendSignalRule{AssetID: "eth", TargetTrend: TrendBearish}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.alert.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateOwnerID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"owner-1", false},
		{"user_42@example", false},
		{"", true},
		{"acme.team", true},
		{"*", true},
		{">", true},
		{"two words", true},
		{"tab\tid", true},
		{strings.Repeat("a", 129), true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateOwnerID(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOwnerID)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	err := (&Alert{OwnerID: "a.b", Name: "watch", Rule: &TrendSignalRule{AssetID: "eth", TargetTrend: TrendBullish}}).Validate()
	assert.ErrorIs(t, err, ErrInvalidOwnerID)
}

func TestAlert_CloneIsDeep(t *testing.T) {
	price := decimal.NewFromInt(90)
	alert := &Alert{
		ID:   "a1",
		Rule: &PriceThresholdRule{AssetID: "bitcoin", Condition: ConditionAbove, TargetPrice: decimal.NewFromInt(100), LastObservedPrice: &price},
	}

	clone := alert.Clone()
	clone.Rule.Observe(ValueObservation(decimal.NewFromInt(120)))

	original := alert.Rule.Observation()
	require.NotNil(t, original.Value)
	assert.True(t, original.Value.Equal(decimal.NewFromInt(90)))
}

func TestMarketCondition_Change(t *testing.T) {
	mc := MarketCondition{
		Change24h:    decimal.NewFromInt(3),
		HasChange24h: true,
		Change7d:     decimal.NewFromInt(-8),
		HasChange7d:  true,
	}

	v, ok := mc.Change(Timeframe7d)
	assert.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(-8)))
	assert.True(t, mc.Classifiable())

	_, ok = mc.Change(Timeframe30d)
	assert.False(t, ok, "30d was not reported")

	mc.HasChange7d = false
	assert.False(t, mc.Classifiable())

	_, ok = mc.Change(Timeframe1h)
	assert.False(t, ok, "1h is unavailable unless the provider reported it")

	mc.Change1h, mc.HasChange1h = decimal.NewFromFloat(0.5), true
	v, ok = mc.Change(Timeframe1h)
	assert.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromFloat(0.5)))
}

func TestAssetOf(t *testing.T) {
	id, symbol := AssetOf(&TrendSignalRule{AssetID: "ethereum", AssetSymbol: "ETH"})
	assert.Equal(t, "ethereum", id)
	assert.Equal(t, "ETH", symbol)

	id, symbol = AssetOf(&PortfolioChangeRule{})
	assert.Empty(t, id)
	assert.Empty(t, symbol)
}
