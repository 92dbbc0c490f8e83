package storage

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/t77yq/market-watch/internal/model"
)

// alertRecord is the flattened row behind model.Alert. Rule fields that a
// variant does not use stay at their zero value.
type alertRecord struct {
	ID                string              `gorm:"primaryKey;size:36"`
	OwnerID           string              `gorm:"index:idx_alerts_owner_status,priority:1;size:64;not null"`
	Name              string              `gorm:"size:255;not null"`
	Description       string              `gorm:"type:text"`
	Priority          string              `gorm:"size:16;not null"`
	Status            string              `gorm:"index:idx_alerts_owner_status,priority:2;size:16;not null"`
	IsEnabled         bool                `gorm:"not null"`
	Type              string              `gorm:"size:32;not null"`
	AssetID           string              `gorm:"size:128"`
	AssetSymbol       string              `gorm:"index;size:32"`
	Condition         string              `gorm:"size:32"`
	Target            decimal.Decimal     `gorm:"type:varchar(64);not null"`
	Timeframe         string              `gorm:"size:8"`
	TargetTrend       string              `gorm:"size:16"`
	Indicators        []string            `gorm:"serializer:json;type:text"`
	LastObservedValue decimal.NullDecimal `gorm:"type:varchar(64)"`
	LastObservedTrend *string             `gorm:"size:16"`
	TriggerCount      uint                `gorm:"not null"`
	LastTriggered     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (alertRecord) TableName() string { return "alerts" }

// triggerRecord is an append-only trigger fact. Owner and symbol are copied
// from the alert at write time so history survives later edits.
type triggerRecord struct {
	ID           string                 `gorm:"primaryKey;size:36"`
	AlertID      string                 `gorm:"index;size:36;not null"`
	OwnerID      string                 `gorm:"index:idx_triggers_owner_time,priority:1;size:64;not null"`
	AssetSymbol  string                 `gorm:"size:32"`
	TriggeredAt  time.Time              `gorm:"index:idx_triggers_owner_time,priority:2;not null"`
	TriggerValue decimal.Decimal        `gorm:"type:varchar(64);not null"`
	Message      string                 `gorm:"type:text"`
	Metadata     map[string]interface{} `gorm:"serializer:json;type:text"`
}

func (triggerRecord) TableName() string { return "alert_triggers" }

func toAlertRecord(a *model.Alert) alertRecord {
	rec := alertRecord{
		ID:            a.ID,
		OwnerID:       a.OwnerID,
		Name:          a.Name,
		Description:   a.Description,
		Priority:      string(a.Priority),
		Status:        string(a.Status),
		IsEnabled:     a.IsEnabled,
		TriggerCount:  a.TriggerCount,
		LastTriggered: a.LastTriggered,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
	applyRule(&rec, a.Rule)
	return rec
}

// applyRule writes the rule definition and its observation into rec
func applyRule(rec *alertRecord, rule model.Rule) {
	rec.Type = string(rule.Type())
	rec.AssetID, rec.AssetSymbol = model.AssetOf(rule)
	rec.Condition, rec.Timeframe, rec.TargetTrend = "", "", ""
	rec.Target = decimal.Zero
	rec.Indicators = nil

	switch r := rule.(type) {
	case *model.PriceThresholdRule:
		rec.Condition = string(r.Condition)
		rec.Target = r.TargetPrice
	case *model.PercentageChangeRule:
		rec.Condition = string(r.Condition)
		rec.Target = r.TargetPercentage
		rec.Timeframe = string(r.Timeframe)
	case *model.TrendSignalRule:
		rec.TargetTrend = string(r.TargetTrend)
		rec.Indicators = append([]string(nil), r.Indicators...)
	case *model.PortfolioChangeRule:
		rec.Condition = string(r.Condition)
		rec.Target = r.TargetPercentage
		rec.Timeframe = string(r.Timeframe)
	}
	rec.LastObservedValue, rec.LastObservedTrend = observationColumns(rule.Observation())
}

func observationColumns(o model.Observation) (decimal.NullDecimal, *string) {
	var value decimal.NullDecimal
	if o.Value != nil {
		value = decimal.NewNullDecimal(*o.Value)
	}
	var trend *string
	if o.Trend != nil {
		s := string(*o.Trend)
		trend = &s
	}
	return value, trend
}

func (rec *alertRecord) toModel() (*model.Alert, error) {
	var rule model.Rule
	switch model.AlertType(rec.Type) {
	case model.AlertTypePriceThreshold:
		rule = &model.PriceThresholdRule{
			AssetID:     rec.AssetID,
			AssetSymbol: rec.AssetSymbol,
			Condition:   model.Condition(rec.Condition),
			TargetPrice: rec.Target,
		}
	case model.AlertTypePercentageChange:
		rule = &model.PercentageChangeRule{
			AssetID:          rec.AssetID,
			AssetSymbol:      rec.AssetSymbol,
			Condition:        model.Condition(rec.Condition),
			TargetPercentage: rec.Target,
			Timeframe:        model.Timeframe(rec.Timeframe),
		}
	case model.AlertTypeTrendSignal:
		rule = &model.TrendSignalRule{
			AssetID:     rec.AssetID,
			AssetSymbol: rec.AssetSymbol,
			TargetTrend: model.Trend(rec.TargetTrend),
			Indicators:  append([]string(nil), rec.Indicators...),
		}
	case model.AlertTypePortfolioChange:
		rule = &model.PortfolioChangeRule{
			Condition:        model.Condition(rec.Condition),
			TargetPercentage: rec.Target,
			Timeframe:        model.Timeframe(rec.Timeframe),
		}
	default:
		return nil, fmt.Errorf("alert %s has unknown type %q", rec.ID, rec.Type)
	}

	var obs model.Observation
	if rec.LastObservedValue.Valid {
		obs = model.ValueObservation(rec.LastObservedValue.Decimal)
	}
	if rec.LastObservedTrend != nil {
		obs.Trend = model.TrendObservation(model.Trend(*rec.LastObservedTrend)).Trend
	}
	rule.Observe(obs)

	return &model.Alert{
		ID:            rec.ID,
		OwnerID:       rec.OwnerID,
		Name:          rec.Name,
		Description:   rec.Description,
		Priority:      model.Priority(rec.Priority),
		Status:        model.AlertStatus(rec.Status),
		IsEnabled:     rec.IsEnabled,
		CreatedAt:     rec.CreatedAt.UTC(),
		UpdatedAt:     rec.UpdatedAt.UTC(),
		LastTriggered: utcPtr(rec.LastTriggered),
		TriggerCount:  rec.TriggerCount,
		Rule:          rule,
	}, nil
}

func (rec *triggerRecord) toModel() *model.AlertTrigger {
	return &model.AlertTrigger{
		ID:           rec.ID,
		AlertID:      rec.AlertID,
		OwnerID:      rec.OwnerID,
		AssetSymbol:  rec.AssetSymbol,
		TriggeredAt:  rec.TriggeredAt.UTC(),
		TriggerValue: rec.TriggerValue,
		Message:      rec.Message,
		Metadata:     rec.Metadata,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
