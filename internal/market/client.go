package market

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

// ClientConfig configures the market data HTTP client
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	APIKeyName string
	VsCurrency string
	Timeout    time.Duration
}

// Client fetches batch market data from a CoinGecko-compatible endpoint
type Client struct {
	config ClientConfig
	http   *http.Client
	logger *zap.Logger
}

// marketRow is one element of the provider's JSON array
type marketRow struct {
	ID                         string              `json:"id"`
	Symbol                     string              `json:"symbol"`
	Name                       string              `json:"name"`
	CurrentPrice               decimal.NullDecimal `json:"current_price"`
	PriceChangePercentage1h    decimal.NullDecimal `json:"price_change_percentage_1h_in_currency"`
	PriceChangePercentage24h   decimal.NullDecimal `json:"price_change_percentage_24h"`
	PriceChangePercentage7d    decimal.NullDecimal `json:"price_change_percentage_7d"`
	PriceChangePercentage7dIn  decimal.NullDecimal `json:"price_change_percentage_7d_in_currency"`
	PriceChangePercentage30d   decimal.NullDecimal `json:"price_change_percentage_30d"`
	PriceChangePercentage30dIn decimal.NullDecimal `json:"price_change_percentage_30d_in_currency"`
	MarketCap                  decimal.NullDecimal `json:"market_cap"`
	TotalVolume                decimal.NullDecimal `json:"total_volume"`
}

// NewClient creates a new market data client
func NewClient(config ClientConfig, logger *zap.Logger) *Client {
	if config.VsCurrency == "" {
		config.VsCurrency = "usd"
	}
	if config.APIKeyName == "" {
		config.APIKeyName = "x-cg-demo-api-key"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		logger: logger.Named("market-client"),
	}
}

// FetchMarkets returns current conditions for the given asset ids
func (c *Client) FetchMarkets(ctx context.Context, assetIDs []string) ([]model.MarketCondition, error) {
	query := url.Values{}
	query.Set("vs_currency", c.config.VsCurrency)
	query.Set("ids", strings.Join(assetIDs, ","))
	query.Set("price_change_percentage", "1h,24h,7d,30d")
	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/coins/markets?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set(c.config.APIKeyName, c.config.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("market request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Market request complete",
		zap.Int("assets", len(assetIDs)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("market provider returned status %d", resp.StatusCode)
	}

	var rows []marketRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode market data: %w", err)
	}

	observedAt := time.Now().UTC()
	conditions := make([]model.MarketCondition, 0, len(rows))
	for _, row := range rows {
		if !row.CurrentPrice.Valid {
			c.logger.Warn("Skipping asset without price", zap.String("asset_id", row.ID))
			continue
		}
		conditions = append(conditions, row.toCondition(observedAt))
	}
	return conditions, nil
}

func (r marketRow) toCondition(observedAt time.Time) model.MarketCondition {
	change7d := firstValid(r.PriceChangePercentage7d, r.PriceChangePercentage7dIn)
	change30d := firstValid(r.PriceChangePercentage30d, r.PriceChangePercentage30dIn)

	cond := model.MarketCondition{
		AssetID:      r.ID,
		Symbol:       strings.ToUpper(r.Symbol),
		Name:         r.Name,
		CurrentPrice: r.CurrentPrice.Decimal,
		Change1h:     r.PriceChangePercentage1h.Decimal,
		HasChange1h:  r.PriceChangePercentage1h.Valid,
		Change24h:    r.PriceChangePercentage24h.Decimal,
		HasChange24h: r.PriceChangePercentage24h.Valid,
		Change7d:     change7d.Decimal,
		HasChange7d:  change7d.Valid,
		Change30d:    change30d.Decimal,
		HasChange30d: change30d.Valid,
		MarketCap:    r.MarketCap.Decimal,
		Volume24h:    r.TotalVolume.Decimal,
		ObservedAt:   observedAt,
	}
	// An asset missing either window stays unclassified
	if cond.Classifiable() {
		cond.Trend = Classify(cond.Change24h, cond.Change7d)
	}
	return cond
}

func firstValid(values ...decimal.NullDecimal) decimal.NullDecimal {
	for _, v := range values {
		if v.Valid {
			return v
		}
	}
	return decimal.NullDecimal{}
}
