package monitor

import (
	"github.com/shopspring/decimal"

	"github.com/t77yq/market-watch/internal/model"
)

// priceFires decides a price threshold rule. previous is the last observed
// price, nil before the first observation.
func priceFires(condition model.Condition, target, current decimal.Decimal, previous *decimal.Decimal) bool {
	switch condition {
	case model.ConditionAbove:
		return current.GreaterThan(target) && (previous == nil || !previous.GreaterThan(target))
	case model.ConditionBelow:
		return current.LessThan(target) && (previous == nil || !previous.LessThan(target))
	case model.ConditionCrossesAbove:
		return previous != nil && current.GreaterThan(target) && previous.LessThanOrEqual(target)
	case model.ConditionCrossesBelow:
		return previous != nil && current.LessThan(target) && previous.GreaterThanOrEqual(target)
	}
	return false
}

// magnitudeFires compares the absolute size of a move against target
func magnitudeFires(condition model.Condition, target, change decimal.Decimal) bool {
	return levelFires(condition, target, change.Abs())
}

// levelFires compares a signed value against target
func levelFires(condition model.Condition, target, value decimal.Decimal) bool {
	switch condition {
	case model.ConditionAbove:
		return value.GreaterThan(target)
	case model.ConditionBelow:
		return value.LessThan(target)
	}
	return false
}

// trendFires reports a transition into the target trend
func trendFires(target, current model.Trend, previous *model.Trend) bool {
	if current != target {
		return false
	}
	return previous == nil || *previous != current
}
