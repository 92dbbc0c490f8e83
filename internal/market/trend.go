package market

import (
	"github.com/shopspring/decimal"

	"github.com/t77yq/market-watch/internal/model"
)

var (
	bullish24h = decimal.NewFromInt(5)
	bullish7d  = decimal.NewFromInt(10)
	bearish24h = decimal.NewFromInt(-5)
	bearish7d  = decimal.NewFromInt(-10)
)

// Classify maps a 24h/7d percentage change pair to a trend. Both windows
// must agree for a non-neutral result.
func Classify(change24h, change7d decimal.Decimal) model.Trend {
	switch {
	case change24h.GreaterThan(bullish24h) && change7d.GreaterThan(bullish7d):
		return model.TrendBullish
	case change24h.LessThan(bearish24h) && change7d.LessThan(bearish7d):
		return model.TrendBearish
	default:
		return model.TrendNeutral
	}
}
