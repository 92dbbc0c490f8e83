package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Rule is the closed set of alert variants. The unexported methods keep
// implementations inside this package so a type switch over the four
// variants is exhaustive.
type Rule interface {
	Type() AlertType
	// Observation returns the runtime state last written for the rule
	Observation() Observation
	// Observe replaces the runtime state with o
	Observe(o Observation)

	validate() error
	clone() Rule
}

// Observation is the runtime "last observed" state a tick writes back so
// the next tick can detect transitions.
type Observation struct {
	Value *decimal.Decimal `json:"value,omitempty"`
	Trend *Trend           `json:"trend,omitempty"`
}

// ValueObservation builds an observation holding a numeric value
func ValueObservation(v decimal.Decimal) Observation {
	return Observation{Value: &v}
}

// TrendObservation builds an observation holding a trend
func TrendObservation(t Trend) Observation {
	return Observation{Trend: &t}
}

// PriceThresholdRule fires when an asset's price meets a target
type PriceThresholdRule struct {
	AssetID           string           `json:"asset_id"`
	AssetSymbol       string           `json:"asset_symbol"`
	Condition         Condition        `json:"condition"`
	TargetPrice       decimal.Decimal  `json:"target_price"`
	LastObservedPrice *decimal.Decimal `json:"last_observed_price,omitempty"`
}

func (r *PriceThresholdRule) Type() AlertType { return AlertTypePriceThreshold }

func (r *PriceThresholdRule) Observation() Observation {
	return Observation{Value: copyDecimal(r.LastObservedPrice)}
}

func (r *PriceThresholdRule) Observe(o Observation) {
	r.LastObservedPrice = copyDecimal(o.Value)
}

func (r *PriceThresholdRule) validate() error {
	if r.AssetID == "" {
		return errors.New("asset id is required")
	}
	if !r.Condition.Valid() {
		return fmt.Errorf("unknown condition %q", r.Condition)
	}
	if !r.TargetPrice.IsPositive() {
		return errors.New("target price must be greater than zero")
	}
	return nil
}

func (r *PriceThresholdRule) clone() Rule {
	c := *r
	c.LastObservedPrice = copyDecimal(r.LastObservedPrice)
	return &c
}

// PercentageChangeRule fires on the magnitude of an asset's move over a timeframe
type PercentageChangeRule struct {
	AssetID            string           `json:"asset_id"`
	AssetSymbol        string           `json:"asset_symbol"`
	Condition          Condition        `json:"condition"`
	TargetPercentage   decimal.Decimal  `json:"target_percentage"`
	Timeframe          Timeframe        `json:"timeframe"`
	LastObservedChange *decimal.Decimal `json:"last_observed_change,omitempty"`
}

func (r *PercentageChangeRule) Type() AlertType { return AlertTypePercentageChange }

func (r *PercentageChangeRule) Observation() Observation {
	return Observation{Value: copyDecimal(r.LastObservedChange)}
}

func (r *PercentageChangeRule) Observe(o Observation) {
	r.LastObservedChange = copyDecimal(o.Value)
}

func (r *PercentageChangeRule) validate() error {
	if r.AssetID == "" {
		return errors.New("asset id is required")
	}
	if err := validateLevel(r.Condition, r.Timeframe); err != nil {
		return err
	}
	if r.TargetPercentage.IsNegative() {
		return errors.New("target percentage must not be negative")
	}
	return nil
}

func (r *PercentageChangeRule) clone() Rule {
	c := *r
	c.LastObservedChange = copyDecimal(r.LastObservedChange)
	return &c
}

// TrendSignalRule fires when an asset's classified trend changes into the target
type TrendSignalRule struct {
	AssetID           string   `json:"asset_id"`
	AssetSymbol       string   `json:"asset_symbol"`
	TargetTrend       Trend    `json:"target_trend"`
	Indicators        []string `json:"indicators,omitempty"`
	LastObservedTrend *Trend   `json:"last_observed_trend,omitempty"`
}

func (r *TrendSignalRule) Type() AlertType { return AlertTypeTrendSignal }

func (r *TrendSignalRule) Observation() Observation {
	if r.LastObservedTrend == nil {
		return Observation{}
	}
	return TrendObservation(*r.LastObservedTrend)
}

func (r *TrendSignalRule) Observe(o Observation) {
	if o.Trend == nil {
		r.LastObservedTrend = nil
		return
	}
	t := *o.Trend
	r.LastObservedTrend = &t
}

func (r *TrendSignalRule) validate() error {
	if r.AssetID == "" {
		return errors.New("asset id is required")
	}
	if !r.TargetTrend.Valid() {
		return fmt.Errorf("unknown trend %q", r.TargetTrend)
	}
	return nil
}

func (r *TrendSignalRule) clone() Rule {
	c := *r
	c.Indicators = append([]string(nil), r.Indicators...)
	if r.LastObservedTrend != nil {
		t := *r.LastObservedTrend
		c.LastObservedTrend = &t
	}
	return &c
}

// PortfolioChangeRule fires on the signed change of the owner's portfolio value
type PortfolioChangeRule struct {
	Condition          Condition        `json:"condition"`
	TargetPercentage   decimal.Decimal  `json:"target_percentage"`
	Timeframe          Timeframe        `json:"timeframe"`
	LastObservedChange *decimal.Decimal `json:"last_observed_change,omitempty"`
}

func (r *PortfolioChangeRule) Type() AlertType { return AlertTypePortfolioChange }

func (r *PortfolioChangeRule) Observation() Observation {
	return Observation{Value: copyDecimal(r.LastObservedChange)}
}

func (r *PortfolioChangeRule) Observe(o Observation) {
	r.LastObservedChange = copyDecimal(o.Value)
}

func (r *PortfolioChangeRule) validate() error {
	return validateLevel(r.Condition, r.Timeframe)
}

func (r *PortfolioChangeRule) clone() Rule {
	c := *r
	c.LastObservedChange = copyDecimal(r.LastObservedChange)
	return &c
}

// AssetOf returns the asset id and symbol a rule watches, or empty strings
// for rules that are not bound to a single asset.
func AssetOf(r Rule) (id, symbol string) {
	switch v := r.(type) {
	case *PriceThresholdRule:
		return v.AssetID, v.AssetSymbol
	case *PercentageChangeRule:
		return v.AssetID, v.AssetSymbol
	case *TrendSignalRule:
		return v.AssetID, v.AssetSymbol
	}
	return "", ""
}

func validateLevel(c Condition, tf Timeframe) error {
	if c != ConditionAbove && c != ConditionBelow {
		return fmt.Errorf("condition %q is not supported, use above or below", c)
	}
	if !tf.Valid() {
		return fmt.Errorf("unknown timeframe %q", tf)
	}
	return nil
}

func copyDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
