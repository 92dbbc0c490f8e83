package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/t77yq/market-watch/internal/model"
)

// CreateAlertRequest is the body of POST /alerts
type CreateAlertRequest struct {
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	Priority    string          `json:"priority"`
	Type        string          `json:"type" binding:"required"`
	Rule        json.RawMessage `json:"rule" binding:"required"`
}

// UpdateAlertRequest is the body of PATCH /alerts/:id
type UpdateAlertRequest struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	Priority    *string         `json:"priority"`
	Status      *string         `json:"status"`
	IsEnabled   *bool           `json:"is_enabled"`
	Rule        json.RawMessage `json:"rule"`
}

// AlertResponse is an alert with its rule type spelled out
type AlertResponse struct {
	*model.Alert
	Type model.AlertType `json:"type"`
}

func newAlertResponse(a *model.Alert) AlertResponse {
	return AlertResponse{Alert: a, Type: a.Type()}
}

func newAlertResponses(alerts []*model.Alert) []AlertResponse {
	out := make([]AlertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, newAlertResponse(a))
	}
	return out
}

// decodeRule decodes raw into the rule variant named by t. Runtime
// observation fields in the body are ignored.
func decodeRule(t model.AlertType, raw json.RawMessage) (model.Rule, error) {
	if len(raw) == 0 {
		return nil, errors.New("rule is required")
	}

	var rule model.Rule
	switch t {
	case model.AlertTypePriceThreshold:
		rule = &model.PriceThresholdRule{}
	case model.AlertTypePercentageChange:
		rule = &model.PercentageChangeRule{}
	case model.AlertTypeTrendSignal:
		rule = &model.TrendSignalRule{}
	case model.AlertTypePortfolioChange:
		rule = &model.PortfolioChangeRule{}
	default:
		return nil, fmt.Errorf("unknown alert type %q", t)
	}

	if err := json.Unmarshal(raw, rule); err != nil {
		return nil, fmt.Errorf("invalid %s rule: %w", t, err)
	}
	rule.Observe(model.Observation{})
	return rule, nil
}
