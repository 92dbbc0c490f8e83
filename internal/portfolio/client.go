package portfolio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/t77yq/market-watch/internal/model"
)

// Valuation is an owner's portfolio value now and at the start of a timeframe
type Valuation struct {
	Current    decimal.Decimal `json:"current"`
	Historical decimal.Decimal `json:"historical"`
}

// Valuer returns portfolio valuations
type Valuer interface {
	Value(ctx context.Context, ownerID string, tf model.Timeframe) (Valuation, error)
}

// Client fetches valuations from the portfolio service over HTTP
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a new portfolio client
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("portfolio-client"),
	}
}

// Value implements Valuer.Value
func (c *Client) Value(ctx context.Context, ownerID string, tf model.Timeframe) (Valuation, error) {
	endpoint := fmt.Sprintf("%s/owners/%s/value?timeframe=%s",
		c.baseURL, url.PathEscape(ownerID), url.QueryEscape(string(tf)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Valuation{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Valuation{}, fmt.Errorf("portfolio request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Portfolio service returned error",
			zap.String("owner_id", ownerID),
			zap.Int("status", resp.StatusCode))
		return Valuation{}, fmt.Errorf("portfolio service returned status %d", resp.StatusCode)
	}

	var v Valuation
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return Valuation{}, fmt.Errorf("failed to decode valuation: %w", err)
	}
	return v, nil
}

// ChangePercent returns the signed change from Historical to Current in percent
func (v Valuation) ChangePercent() (decimal.Decimal, error) {
	if v.Historical.IsZero() {
		return decimal.Zero, fmt.Errorf("historical portfolio value is zero")
	}
	return v.Current.Sub(v.Historical).Div(v.Historical).Mul(decimal.NewFromInt(100)), nil
}
