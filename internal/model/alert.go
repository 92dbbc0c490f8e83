package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// Priority represents how urgently a triggered alert should reach its owner
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Prominent reports whether the priority warrants an interrupting notification
func (p Priority) Prominent() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// AlertStatus represents the lifecycle state of an alert
type AlertStatus string

const (
	AlertStatusActive    AlertStatus = "active"
	AlertStatusTriggered AlertStatus = "triggered"
	AlertStatusPaused    AlertStatus = "paused"
	AlertStatusExpired   AlertStatus = "expired"
)

// Valid reports whether s is a known status
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusActive, AlertStatusTriggered, AlertStatusPaused, AlertStatusExpired:
		return true
	}
	return false
}

// AlertType discriminates the rule variant carried by an alert
type AlertType string

const (
	AlertTypePriceThreshold   AlertType = "price_threshold"
	AlertTypePercentageChange AlertType = "percentage_change"
	AlertTypeTrendSignal      AlertType = "trend_signal"
	AlertTypePortfolioChange  AlertType = "portfolio_change"
)

// Valid reports whether t is a known alert type
func (t AlertType) Valid() bool {
	switch t {
	case AlertTypePriceThreshold, AlertTypePercentageChange, AlertTypeTrendSignal, AlertTypePortfolioChange:
		return true
	}
	return false
}

// Condition is the comparison applied by threshold-style rules
type Condition string

const (
	ConditionAbove        Condition = "above"
	ConditionBelow        Condition = "below"
	ConditionCrossesAbove Condition = "crosses_above"
	ConditionCrossesBelow Condition = "crosses_below"
)

// Valid reports whether c is a known condition
func (c Condition) Valid() bool {
	switch c {
	case ConditionAbove, ConditionBelow, ConditionCrossesAbove, ConditionCrossesBelow:
		return true
	}
	return false
}

// Crossing reports whether the condition compares against the previous observation
func (c Condition) Crossing() bool {
	return c == ConditionCrossesAbove || c == ConditionCrossesBelow
}

// Timeframe is the window a percentage change is measured over
type Timeframe string

const (
	Timeframe1h  Timeframe = "1h"
	Timeframe24h Timeframe = "24h"
	Timeframe7d  Timeframe = "7d"
	Timeframe30d Timeframe = "30d"
)

// Valid reports whether tf is a known timeframe
func (tf Timeframe) Valid() bool {
	switch tf {
	case Timeframe1h, Timeframe24h, Timeframe7d, Timeframe30d:
		return true
	}
	return false
}

// Alert is a user-owned rule evaluated on every engine tick.
// Exactly one Rule variant is attached to each alert.
type Alert struct {
	ID            string      `json:"id"`
	OwnerID       string      `json:"owner_id"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	Priority      Priority    `json:"priority"`
	Status        AlertStatus `json:"status"`
	IsEnabled     bool        `json:"is_enabled"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	LastTriggered *time.Time  `json:"last_triggered,omitempty"`
	TriggerCount  uint        `json:"trigger_count"`
	Rule          Rule        `json:"rule"`
}

// Type returns the discriminator of the attached rule
func (a *Alert) Type() AlertType {
	if a.Rule == nil {
		return ""
	}
	return a.Rule.Type()
}

// Evaluable reports whether the engine should look at the alert this tick
func (a *Alert) Evaluable() bool {
	return a.IsEnabled && a.Status == AlertStatusActive
}

// Validate checks the definition fields of the alert and its rule
func (a *Alert) Validate() error {
	if err := ValidateOwnerID(a.OwnerID); err != nil {
		return err
	}
	if a.Name == "" {
		return errors.New("name is required")
	}
	if a.Priority != "" && !a.Priority.Valid() {
		return fmt.Errorf("unknown priority %q", a.Priority)
	}
	if a.Status != "" && !a.Status.Valid() {
		return fmt.Errorf("unknown status %q", a.Status)
	}
	if a.Rule == nil {
		return errors.New("rule is required")
	}
	return a.Rule.validate()
}

// ErrInvalidOwnerID is returned for owner ids that cannot name a single subject token
var ErrInvalidOwnerID = errors.New("invalid owner id")

const maxOwnerIDLength = 128

// ValidateOwnerID checks that id is usable as a single message subject token
func ValidateOwnerID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: owner id is required", ErrInvalidOwnerID)
	}
	if len(id) > maxOwnerIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidOwnerID, maxOwnerIDLength)
	}
	if strings.ContainsAny(id, ".*>") || strings.IndexFunc(id, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidOwnerID, id)
	}
	return nil
}

// Clone returns a deep copy so callers can mutate runtime fields safely
func (a *Alert) Clone() *Alert {
	c := *a
	if a.LastTriggered != nil {
		t := *a.LastTriggered
		c.LastTriggered = &t
	}
	if a.Rule != nil {
		c.Rule = a.Rule.clone()
	}
	return &c
}

// AlertTrigger is the immutable record that an alert's condition became true
type AlertTrigger struct {
	ID           string                 `json:"id"`
	AlertID      string                 `json:"alert_id"`
	OwnerID      string                 `json:"owner_id"`
	AssetSymbol  string                 `json:"asset_symbol,omitempty"`
	TriggeredAt  time.Time              `json:"triggered_at"`
	TriggerValue decimal.Decimal        `json:"trigger_value"`
	Message      string                 `json:"message"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// AlertStats is a read-side aggregate over an owner's alerts and trigger history
type AlertStats struct {
	OwnerID                  string    `json:"owner_id"`
	TotalAlerts              int64     `json:"total_alerts"`
	ActiveAlerts             int64     `json:"active_alerts"`
	TriggeredToday           int64     `json:"triggered_today"`
	TriggeredThisWeek        int64     `json:"triggered_this_week"`
	MostTriggeredAssetSymbol string    `json:"most_triggered_asset_symbol,omitempty"`
	ComputedAt               time.Time `json:"computed_at"`
}

// ParsePriority converts s to a Priority
func ParsePriority(s string) (Priority, error) {
	if p := Priority(s); p.Valid() {
		return p, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// ParseAlertStatus converts s to an AlertStatus
func ParseAlertStatus(s string) (AlertStatus, error) {
	if st := AlertStatus(s); st.Valid() {
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// ParseAlertType converts s to an AlertType
func ParseAlertType(s string) (AlertType, error) {
	if t := AlertType(s); t.Valid() {
		return t, nil
	}
	return "", fmt.Errorf("unknown alert type %q", s)
}
