package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Trend is the coarse direction classified from recent percentage moves
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

// Valid reports whether t is a known trend
func (t Trend) Valid() bool {
	switch t {
	case TrendBullish, TrendBearish, TrendNeutral:
		return true
	}
	return false
}

// MarketCondition is the per-asset market state observed during one tick
type MarketCondition struct {
	AssetID      string          `json:"asset_id"`
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Change1h     decimal.Decimal `json:"price_change_percentage_1h"`
	HasChange1h  bool            `json:"has_change_1h"`
	Change24h    decimal.Decimal `json:"price_change_percentage_24h"`
	HasChange24h bool            `json:"has_change_24h"`
	Change7d     decimal.Decimal `json:"price_change_percentage_7d"`
	HasChange7d  bool            `json:"has_change_7d"`
	Change30d    decimal.Decimal `json:"price_change_percentage_30d"`
	HasChange30d bool            `json:"has_change_30d"`
	MarketCap    decimal.Decimal `json:"market_cap"`
	Volume24h    decimal.Decimal `json:"volume_24h"`
	Trend        Trend           `json:"trend"`
	ObservedAt   time.Time       `json:"observed_at"`
}

// Change returns the percentage change for tf. The second result is false
// when the snapshot carries no figure for that window.
func (m MarketCondition) Change(tf Timeframe) (decimal.Decimal, bool) {
	switch tf {
	case Timeframe1h:
		return m.Change1h, m.HasChange1h
	case Timeframe24h:
		return m.Change24h, m.HasChange24h
	case Timeframe7d:
		return m.Change7d, m.HasChange7d
	case Timeframe30d:
		return m.Change30d, m.HasChange30d
	}
	return decimal.Zero, false
}

// Classifiable reports whether both windows a trend is derived from were reported
func (m MarketCondition) Classifiable() bool {
	return m.HasChange24h && m.HasChange7d
}

// Snapshot is the set of market conditions shared by every predicate in a tick
type Snapshot struct {
	Conditions map[string]MarketCondition `json:"conditions"`
	ObservedAt time.Time                  `json:"observed_at"`
}

// Lookup returns the condition for an asset id
func (s Snapshot) Lookup(assetID string) (MarketCondition, bool) {
	c, ok := s.Conditions[assetID]
	return c, ok
}

// ParseTrend converts s to a Trend
func ParseTrend(s string) (Trend, error) {
	if t := Trend(s); t.Valid() {
		return t, nil
	}
	return "", fmt.Errorf("unknown trend %q", s)
}
