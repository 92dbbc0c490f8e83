package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/t77yq/market-watch/internal/model"
)

// Request describes one triggered alert to be delivered
type Request struct {
	OwnerID     string
	AlertID     string
	TriggerID   string
	AlertType   model.AlertType
	AlertName   string
	AssetSymbol string
	Value       *decimal.Decimal
	Condition   model.Condition
	Timeframe   model.Timeframe
	Trend       model.Trend
	Priority    model.Priority
	DeepLink    string
}

// NewRequest builds a request for alert firing at value
func NewRequest(alert *model.Alert, value decimal.Decimal) Request {
	req := Request{
		OwnerID:   alert.OwnerID,
		AlertID:   alert.ID,
		AlertType: alert.Type(),
		AlertName: alert.Name,
		Value:     &value,
		Priority:  alert.Priority,
	}
	_, req.AssetSymbol = model.AssetOf(alert.Rule)

	switch r := alert.Rule.(type) {
	case *model.PriceThresholdRule:
		req.Condition = r.Condition
	case *model.PercentageChangeRule:
		req.Condition = r.Condition
		req.Timeframe = r.Timeframe
	case *model.TrendSignalRule:
		req.Trend = r.TargetTrend
	case *model.PortfolioChangeRule:
		req.Condition = r.Condition
		req.Timeframe = r.Timeframe
	}
	return req
}

// Notification is the payload handed to a delivery channel
type Notification struct {
	OwnerID   string         `json:"owner_id"`
	AlertID   string         `json:"alert_id"`
	TriggerID string         `json:"trigger_id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Priority  model.Priority `json:"priority"`
	DeepLink  string         `json:"deep_link,omitempty"`
	Email     string         `json:"-"`
	SentAt    time.Time      `json:"sent_at"`
}

type formatter func(Request) string

var formatters = map[model.AlertType]formatter{
	model.AlertTypePriceThreshold:   formatPrice,
	model.AlertTypePercentageChange: formatPercentage,
	model.AlertTypeTrendSignal:      formatTrend,
	model.AlertTypePortfolioChange:  formatPortfolio,
}

var conditionPhrases = map[model.Condition]string{
	model.ConditionAbove:        "is above",
	model.ConditionBelow:        "is below",
	model.ConditionCrossesAbove: "crossed above",
	model.ConditionCrossesBelow: "crossed below",
}

// FormatMessage renders the short text shown on every channel
func FormatMessage(r Request) string {
	if f, ok := formatters[r.AlertType]; ok {
		return f(r)
	}
	return fmt.Sprintf("🔔 %s: alert triggered", r.AlertName)
}

func formatPrice(r Request) string {
	phrase, ok := conditionPhrases[r.Condition]
	if !ok {
		phrase = "reached"
	}
	msg := fmt.Sprintf("📈 %s: %s %s target", r.AlertName, symbolOr(r.AssetSymbol, "price"), phrase)
	if r.Value != nil {
		msg += fmt.Sprintf(" at $%s", r.Value.StringFixed(2))
	}
	return msg
}

func formatPercentage(r Request) string {
	msg := fmt.Sprintf("📊 %s: %s moved", r.AlertName, symbolOr(r.AssetSymbol, "asset"))
	if r.Value != nil {
		msg += " " + signedPercent(*r.Value)
	}
	if r.Timeframe != "" {
		msg += fmt.Sprintf(" in %s", r.Timeframe)
	}
	return msg
}

func formatTrend(r Request) string {
	trend := string(r.Trend)
	if trend == "" {
		trend = "changed"
	}
	return fmt.Sprintf("🔄 %s: %s trend turned %s", r.AlertName, symbolOr(r.AssetSymbol, "asset"), trend)
}

func formatPortfolio(r Request) string {
	msg := fmt.Sprintf("💼 %s: portfolio", r.AlertName)
	if r.Value != nil {
		msg += " changed " + signedPercent(*r.Value)
	} else {
		msg += " changed"
	}
	if r.Timeframe != "" {
		msg += fmt.Sprintf(" over %s", r.Timeframe)
	}
	return msg
}

func signedPercent(v decimal.Decimal) string {
	s := v.StringFixed(2)
	if v.IsPositive() {
		s = "+" + s
	}
	return s + "%"
}

func symbolOr(symbol, fallback string) string {
	if symbol == "" {
		return fallback
	}
	return strings.ToUpper(symbol)
}
